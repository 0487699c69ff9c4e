package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

// AcquireLease atomically takes the troupe's sync lease for owner.
//
// The lease is granted when no lease is held or the held lease has expired at
// now. Returns ErrLocked when another unexpired lease exists and ErrNotFound
// when the troupe does not exist. No other column is touched.
func (s *Store) AcquireLease(ctx context.Context, troupeID, owner string, now time.Time, ttl time.Duration) (*model.Lease, error) {
	expires := now.Add(ttl)
	res, err := s.db.ExecContext(ctx, `
		UPDATE troupes
		SET lock_owner = ?, lock_expires_at = ?
		WHERE id = ? AND (lock_owner IS NULL OR lock_expires_at <= ?)
	`, owner, expires.UnixNano(), troupeID, now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", troupeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: rows affected: %w", troupeID, err)
	}
	if n == 1 {
		return &model.Lease{Owner: owner, ExpiresAt: expires.UTC()}, nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM troupes WHERE id = ?`, troupeID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("troupe %s: %w", troupeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", troupeID, err)
	}
	return nil, fmt.Errorf("troupe %s: %w", troupeID, ErrLocked)
}

// ReleaseLease clears the lease if owner still holds it.
// Returns ErrLeaseLost if the lease expired and was taken over or cleared.
func (s *Store) ReleaseLease(ctx context.Context, troupeID, owner string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE troupes
		SET lock_owner = NULL, lock_expires_at = NULL
		WHERE id = ? AND lock_owner = ?
	`, troupeID, owner)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", troupeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release lease %s: rows affected: %w", troupeID, err)
	}
	if n == 0 {
		return fmt.Errorf("troupe %s: %w", troupeID, ErrLeaseLost)
	}
	return nil
}

// ForceUnlock clears any lease on the troupe. Operator recovery only.
func (s *Store) ForceUnlock(ctx context.Context, troupeID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE troupes SET lock_owner = NULL, lock_expires_at = NULL WHERE id = ?
	`, troupeID)
	if err != nil {
		return fmt.Errorf("force unlock %s: %w", troupeID, err)
	}
	return expectOneRow(res, "force unlock "+troupeID)
}

// LeaseHeld returns a commit step that fails with ErrLeaseLost unless owner
// still holds the troupe's lease. A sync whose lease was taken over must not
// commit over its successor.
func LeaseHeld(troupeID, owner string) TxFunc {
	return func(ctx context.Context, tx *sql.Tx) error {
		var current sql.NullString
		err := tx.QueryRowContext(ctx, `SELECT lock_owner FROM troupes WHERE id = ?`, troupeID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("troupe %s: %w", troupeID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check lease %s: %w", troupeID, err)
		}
		if !current.Valid || current.String != owner {
			return fmt.Errorf("troupe %s: %w", troupeID, ErrLeaseLost)
		}
		return nil
	}
}
