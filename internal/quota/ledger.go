package quota

import (
	"context"
	"database/sql"
	"fmt"
)

// Ledger is the authoritative store of remaining allowances. It shares the
// SQLite database of the record store and owns the limits table.
type Ledger struct {
	db *sql.DB
}

// NewLedger returns a ledger over db.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type bypassKey struct{}

// WithBypass returns a context in which increments for troupeID are never
// refused. Passing enabled=false removes a bypass set by a parent context.
func WithBypass(ctx context.Context, troupeID string, enabled bool) context.Context {
	prev, _ := ctx.Value(bypassKey{}).(map[string]bool)
	next := make(map[string]bool, len(prev)+1)
	for id, on := range prev {
		next[id] = on
	}
	next[troupeID] = enabled
	return context.WithValue(ctx, bypassKey{}, next)
}

// Bypassed reports whether ctx carries a bypass for troupeID.
func Bypassed(ctx context.Context, troupeID string) bool {
	m, _ := ctx.Value(bypassKey{}).(map[string]bool)
	return m[troupeID]
}

// Init seeds the counters for a troupe, replacing existing values for the
// kinds present in limits.
func (l *Ledger) Init(ctx context.Context, troupeID string, limits Limits) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("init limits: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, k := range sortedKinds(limits) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO limits (troupe_id, kind, remaining) VALUES (?, ?, ?)
			ON CONFLICT(troupe_id, kind) DO UPDATE SET remaining = excluded.remaining
		`, troupeID, string(k), limits[k])
		if err != nil {
			return fmt.Errorf("init limits %s/%s: %w", troupeID, k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("init limits: commit: %w", err)
	}
	return nil
}

// Get returns the remaining allowances of a troupe. Kinds never seeded read
// as zero.
func (l *Ledger) Get(ctx context.Context, troupeID string) (Limits, error) {
	return get(ctx, l.db, troupeID)
}

// Within reports whether delta could be applied without any counter going
// negative. Nothing is mutated.
func (l *Ledger) Within(ctx context.Context, troupeID string, delta Limits) (bool, error) {
	if Bypassed(ctx, troupeID) {
		return true, nil
	}
	current, err := l.Get(ctx, troupeID)
	if err != nil {
		return false, err
	}
	_, _, ok := current.Apply(delta)
	return ok, nil
}

// Increment applies delta to the troupe's counters. When tx is non-nil the
// update joins that transaction; otherwise Increment runs its own.
//
// Returns false without mutation if any counter would go negative, unless
// ctx carries a bypass for the troupe.
func (l *Ledger) Increment(ctx context.Context, troupeID string, delta Limits, tx *sql.Tx) (bool, error) {
	if delta.Zero() {
		return true, nil
	}
	if tx != nil {
		return increment(ctx, tx, troupeID, delta)
	}

	own, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("increment limits: begin tx: %w", err)
	}
	defer own.Rollback() // No-op if committed

	ok, err := increment(ctx, own, troupeID, delta)
	if err != nil || !ok {
		return ok, err
	}
	if err := own.Commit(); err != nil {
		return false, fmt.Errorf("increment limits: commit: %w", err)
	}
	return true, nil
}

// Apply is Increment as a transaction step: a refusal becomes an
// *ExceededError so the surrounding transaction rolls back.
func (l *Ledger) Apply(ctx context.Context, troupeID string, delta Limits, tx *sql.Tx) error {
	ok, err := l.Increment(ctx, troupeID, delta, tx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	var q queryer = l.db
	if tx != nil {
		q = tx
	}
	current, err := get(ctx, q, troupeID)
	if err != nil {
		return err
	}
	_, kind, _ := current.Apply(delta)
	return &ExceededError{
		TroupeID:  troupeID,
		Kind:      kind,
		Remaining: current[kind],
		Delta:     delta[kind],
	}
}

func increment(ctx context.Context, q queryer, troupeID string, delta Limits) (bool, error) {
	current, err := get(ctx, q, troupeID)
	if err != nil {
		return false, err
	}
	next, _, ok := current.Apply(delta)
	if !ok && !Bypassed(ctx, troupeID) {
		return false, nil
	}
	for _, k := range sortedKinds(delta) {
		_, err := q.ExecContext(ctx, `
			INSERT INTO limits (troupe_id, kind, remaining) VALUES (?, ?, ?)
			ON CONFLICT(troupe_id, kind) DO UPDATE SET remaining = excluded.remaining
		`, troupeID, string(k), next[k])
		if err != nil {
			return false, fmt.Errorf("increment limits %s/%s: %w", troupeID, k, err)
		}
	}
	return true, nil
}

func get(ctx context.Context, q queryer, troupeID string) (Limits, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT kind, remaining FROM limits
		WHERE troupe_id = ?
		ORDER BY kind COLLATE BINARY ASC
	`, troupeID)
	if err != nil {
		return nil, fmt.Errorf("query limits: %w", err)
	}
	defer rows.Close()

	limits := Limits{}
	for _, k := range Kinds {
		limits[k] = 0
	}
	for rows.Next() {
		var (
			kind      string
			remaining int
		)
		if err := rows.Scan(&kind, &remaining); err != nil {
			return nil, fmt.Errorf("scan limit: %w", err)
		}
		limits[Kind(kind)] = remaining
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate limits: %w", err)
	}
	return limits, nil
}
