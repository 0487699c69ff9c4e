package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cloudydaiyz/stringplay-core/internal/model"
)

// ChangeSet is everything one sync writes.
type ChangeSet struct {
	Troupe        *model.Troupe
	Dashboard     *model.Dashboard
	Events        []model.Event
	Members       []model.Member
	DeleteMembers []string
	Buckets       []model.AttendanceBucket
	DeleteBuckets []string
}

// TxFunc runs additional writes inside the commit transaction.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// Commit applies cs and every fn inside one transaction.
//
// Write order respects foreign keys: troupe, dashboard, events, members,
// bucket deletions, member deletions, bucket upserts, then fns (the quota
// ledger increment). Any failure rolls back everything.
func (s *Store) Commit(ctx context.Context, cs ChangeSet, fns ...TxFunc) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if cs.Troupe != nil {
		if err := updateTroupe(ctx, tx, cs.Troupe); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	if cs.Dashboard != nil {
		if err := replaceDashboard(ctx, tx, cs.Dashboard); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, ev := range cs.Events {
		if err := upsertEvent(ctx, tx, ev); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, m := range cs.Members {
		if err := upsertMember(ctx, tx, m); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, id := range cs.DeleteBuckets {
		if err := deleteBucket(ctx, tx, id); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, id := range cs.DeleteMembers {
		if err := deleteMember(ctx, tx, id); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, b := range cs.Buckets {
		if err := upsertBucket(ctx, tx, b); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, fn := range fns {
		if err := fn(ctx, tx); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
