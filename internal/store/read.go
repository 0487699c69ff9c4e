package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

// ReadTroupe retrieves a troupe and its lease state.
// Returns ErrNotFound if the troupe does not exist.
func (s *Store) ReadTroupe(ctx context.Context, id string) (*model.Troupe, error) {
	var (
		doc     string
		owner   sql.NullString
		expires sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT doc, lock_owner, lock_expires_at
		FROM troupes
		WHERE id = ?
	`, id).Scan(&doc, &owner, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("troupe %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read troupe %s: %w", id, err)
	}

	var t model.Troupe
	if err := unmarshalDoc("troupe", doc, &t); err != nil {
		return nil, err
	}
	t.ApplyDefaults()
	if owner.Valid {
		t.Lease = &model.Lease{
			Owner:     owner.String,
			ExpiresAt: unixOrZero(expires.Int64),
		}
	}
	return &t, nil
}

// ListTroupeIDs returns every troupe id in ascending order.
func (s *Store) ListTroupeIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM troupes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query troupes: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan troupe id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate troupes: %w", err)
	}
	return ids, nil
}

// ReadEvents returns a troupe's events ordered by start date, then id.
// Returns an empty slice (not nil) if the troupe has no events.
func (s *Store) ReadEvents(ctx context.Context, troupeID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM events
		WHERE troupe_id = ?
		ORDER BY start_date ASC, id COLLATE BINARY ASC
	`, troupeID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []model.Event{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var ev model.Event
		if err := unmarshalDoc("event", doc, &ev); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ReadMembers returns a troupe's members ordered by id.
// Returns an empty slice (not nil) if the troupe has no members.
func (s *Store) ReadMembers(ctx context.Context, troupeID string) ([]model.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM members
		WHERE troupe_id = ?
		ORDER BY id COLLATE BINARY ASC
	`, troupeID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	members := []model.Member{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		var m model.Member
		if err := unmarshalDoc("member", doc, &m); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// ReadBuckets returns a troupe's attendance buckets grouped by member id,
// each group ordered by page.
func (s *Store) ReadBuckets(ctx context.Context, troupeID string) (map[string][]model.AttendanceBucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM attendance_buckets
		WHERE troupe_id = ?
		ORDER BY member_id COLLATE BINARY ASC, page ASC
	`, troupeID)
	if err != nil {
		return nil, fmt.Errorf("query buckets: %w", err)
	}
	defer rows.Close()

	buckets := make(map[string][]model.AttendanceBucket)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		var b model.AttendanceBucket
		if err := unmarshalDoc("bucket", doc, &b); err != nil {
			return nil, err
		}
		buckets[b.MemberID] = append(buckets[b.MemberID], b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate buckets: %w", err)
	}
	return buckets, nil
}

// ReadDashboard returns a troupe's dashboard.
// Returns ErrNotFound if no sync has produced one yet.
func (s *Store) ReadDashboard(ctx context.Context, troupeID string) (*model.Dashboard, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM dashboards WHERE troupe_id = ?
	`, troupeID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dashboard %s: %w", troupeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read dashboard %s: %w", troupeID, err)
	}

	var d model.Dashboard
	if err := unmarshalDoc("dashboard", doc, &d); err != nil {
		return nil, err
	}
	return &d, nil
}
