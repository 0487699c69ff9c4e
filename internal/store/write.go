package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateTroupe inserts or replaces a troupe document.
// Lease columns are never touched by document writes.
func (s *Store) CreateTroupe(ctx context.Context, t *model.Troupe) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("create troupe: %w", err)
	}
	doc, err := marshalDoc("troupe", t)
	if err != nil {
		return fmt.Errorf("create troupe: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO troupes (id, doc, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
	`, t.ID, doc, t.LastUpdated.UnixNano())
	if err != nil {
		return fmt.Errorf("create troupe: %w", err)
	}
	return nil
}

// UpsertEvent writes a single event outside of a sync.
func (s *Store) UpsertEvent(ctx context.Context, ev model.Event) error {
	return upsertEvent(ctx, s.db, ev)
}

// UpsertMember writes a single member outside of a sync.
func (s *Store) UpsertMember(ctx context.Context, m model.Member) error {
	return upsertMember(ctx, s.db, m)
}

// UpsertBucket writes a single attendance bucket outside of a sync.
func (s *Store) UpsertBucket(ctx context.Context, b model.AttendanceBucket) error {
	return upsertBucket(ctx, s.db, b)
}

// updateTroupe replaces a troupe document. A missing row is an invariant
// violation: the troupe was read at the start of the sync.
func updateTroupe(ctx context.Context, ex execer, t *model.Troupe) error {
	doc, err := marshalDoc("troupe", t)
	if err != nil {
		return err
	}
	res, err := ex.ExecContext(ctx, `
		UPDATE troupes SET doc = ?, updated_at = ? WHERE id = ?
	`, doc, t.LastUpdated.UnixNano(), t.ID)
	if err != nil {
		return fmt.Errorf("update troupe %s: %w", t.ID, err)
	}
	return expectOneRow(res, "update troupe "+t.ID)
}

func replaceDashboard(ctx context.Context, ex execer, d *model.Dashboard) error {
	doc, err := marshalDoc("dashboard", d)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO dashboards (troupe_id, doc) VALUES (?, ?)
		ON CONFLICT(troupe_id) DO UPDATE SET doc = excluded.doc
	`, d.TroupeID, doc)
	if err != nil {
		return fmt.Errorf("replace dashboard %s: %w", d.TroupeID, err)
	}
	return nil
}

func upsertEvent(ctx context.Context, ex execer, ev model.Event) error {
	doc, err := marshalDoc("event", ev)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO events (id, troupe_id, source_uri, start_date, doc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_uri = excluded.source_uri,
			start_date = excluded.start_date,
			doc = excluded.doc
	`, ev.ID, ev.TroupeID, ev.SourceURI, ev.StartDate.UnixNano(), doc)
	if err != nil {
		return fmt.Errorf("upsert event %s: %w", ev.ID, err)
	}
	return nil
}

func upsertMember(ctx context.Context, ex execer, m model.Member) error {
	doc, err := marshalDoc("member", m)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO members (id, troupe_id, doc) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET doc = excluded.doc
	`, m.ID, m.TroupeID, doc)
	if err != nil {
		return fmt.Errorf("upsert member %s: %w", m.ID, err)
	}
	return nil
}

func upsertBucket(ctx context.Context, ex execer, b model.AttendanceBucket) error {
	doc, err := marshalDoc("bucket", b)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO attendance_buckets (id, troupe_id, member_id, page, doc)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET page = excluded.page, doc = excluded.doc
	`, b.ID, b.TroupeID, b.MemberID, b.Page, doc)
	if err != nil {
		return fmt.Errorf("upsert bucket %s: %w", b.ID, err)
	}
	return nil
}

func deleteMember(ctx context.Context, ex execer, id string) error {
	res, err := ex.ExecContext(ctx, `DELETE FROM members WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete member %s: %w", id, err)
	}
	return expectOneRow(res, "delete member "+id)
}

func deleteBucket(ctx context.Context, ex execer, id string) error {
	// Buckets of a deleted member may already be gone through the cascade.
	if _, err := ex.ExecContext(ctx, `DELETE FROM attendance_buckets WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete bucket %s: %w", id, err)
	}
	return nil
}

// expectOneRow treats a missing acknowledgment as an invariant violation.
func expectOneRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n != 1 {
		return fmt.Errorf("%s: expected 1 row affected, got %d: %w", op, n, ErrNotFound)
	}
	return nil
}

// unixOrZero converts a stored nanosecond timestamp back to UTC.
func unixOrZero(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
