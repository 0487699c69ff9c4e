package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cloudydaiyz/stringplay-core/internal/audience"
	"github.com/cloudydaiyz/stringplay-core/internal/discovery"
	"github.com/cloudydaiyz/stringplay-core/internal/logging"
	"github.com/cloudydaiyz/stringplay-core/internal/metrics"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
	"github.com/cloudydaiyz/stringplay-core/internal/reconcile"
	"github.com/cloudydaiyz/stringplay-core/internal/source"
	"github.com/cloudydaiyz/stringplay-core/internal/store"
)

// DefaultLeaseTTL bounds how long a crashed sync can keep a troupe locked.
const DefaultLeaseTTL = 30 * time.Minute

// DefaultConcurrency bounds the number of troupes SyncAll runs at once.
const DefaultConcurrency = 4

// Publisher writes a troupe's record log after a successful sync.
type Publisher interface {
	UpdateLog(ctx context.Context, location string, troupe *model.Troupe, events []model.Event, members []model.Member) error
}

// Engine orchestrates troupe syncs.
//
// Thread-safety: Sync may be called concurrently for different troupes;
// calls for the same troupe are serialized by the store lease, not by the
// engine.
type Engine struct {
	store     *store.Store
	ledger    *quota.Ledger
	drive     source.Drive
	registry  *audience.Registry
	publisher Publisher
	clock     model.Clock
	ids       model.IDGenerator
	log       zerolog.Logger

	leaseTTL            time.Duration
	pageSize            int
	concurrency         int
	delegateConcurrency int
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithClock sets the clock. Default: model.SystemClock.
func WithClock(c model.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithIDGenerator sets the id generator for entities and lease owners.
// Default: model.UUIDv7Generator.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithLeaseTTL sets the lease duration. Default: DefaultLeaseTTL.
func WithLeaseTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.leaseTTL = ttl
	}
}

// WithPageSize sets the attendance bucket capacity. Default: model.MaxPageSize.
func WithPageSize(n int) Option {
	return func(e *Engine) {
		e.pageSize = n
	}
}

// WithConcurrency bounds SyncAll's fan-out. Default: DefaultConcurrency.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		e.concurrency = n
	}
}

// WithDelegateConcurrency bounds audience delegate calls in flight per sync.
// Default: unbounded.
func WithDelegateConcurrency(n int) Option {
	return func(e *Engine) {
		e.delegateConcurrency = n
	}
}

// WithRegistry replaces the default delegate registry.
func WithRegistry(r *audience.Registry) Option {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithPublisher enables record log publication after successful syncs.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// New creates an engine over a store, its quota ledger and a source drive.
func New(s *store.Store, ledger *quota.Ledger, drive source.Drive, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		ledger:      ledger,
		drive:       drive,
		clock:       model.SystemClock{},
		ids:         model.UUIDv7Generator{},
		log:         logging.Component("engine"),
		leaseTTL:    DefaultLeaseTTL,
		pageSize:    model.MaxPageSize,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		e.registry = audience.DefaultRegistry(drive)
	}
	return e
}

// Sync runs one troupe sync. The returned report is never nil; on failure
// the error is a *SyncError and the report carries the same error.
func (e *Engine) Sync(ctx context.Context, troupeID string) (*Report, error) {
	start := e.clock.Now()
	owner := e.ids.Generate()
	r := &Report{
		TroupeID:  troupeID,
		RunID:     owner,
		Phase:     PhaseIdle,
		StartedAt: start,
	}
	log := e.log.With().Str("troupe_id", troupeID).Str("run_id", owner).Logger()

	if _, err := e.store.AcquireLease(ctx, troupeID, owner, start, e.leaseTTL); err != nil {
		switch {
		case errors.Is(err, store.ErrLocked):
			metrics.SyncLockContention.Inc()
			log.Info().Msg("troupe locked by another sync, skipping")
			return e.finish(r, StatusLocked, CodeLocked, err)
		case errors.Is(err, store.ErrNotFound):
			return e.finish(r, StatusFailed, CodeNotFound, err)
		default:
			return e.finish(r, StatusFailed, CodePersistFailed, err)
		}
	}
	r.Phase = PhaseLocked
	log.Info().Msg("sync started")

	defer func() {
		// Release even when the caller has been canceled.
		releaseCtx := context.WithoutCancel(ctx)
		if err := e.store.ReleaseLease(releaseCtx, troupeID, owner); err != nil {
			log.Error().Err(err).Msg("failed to release sync lease")
		}
	}()

	code, err := e.run(ctx, log, r, owner)
	if err != nil {
		log.Error().Err(err).Str("phase", string(r.Phase)).Str("code", string(code)).Msg("sync failed")
		return e.finish(r, StatusFailed, code, err)
	}
	r.Phase = PhaseIdle
	log.Info().
		Int("new_events", r.Stats.NewEvents).
		Int("new_members", r.Stats.NewMembers).
		Int("deleted_members", r.Stats.DeletedMembers).
		Msg("sync succeeded")
	return e.finish(r, StatusSucceeded, "", nil)
}

func (e *Engine) run(ctx context.Context, log zerolog.Logger, r *Report, owner string) (Code, error) {
	troupeID := r.TroupeID
	cutoff := r.StartedAt

	r.Phase = PhaseDiscovering
	troupe, err := e.store.ReadTroupe(ctx, troupeID)
	if err != nil {
		return CodeDiscoveryFailed, err
	}
	events, err := e.store.ReadEvents(ctx, troupeID)
	if err != nil {
		return CodeDiscoveryFailed, err
	}
	members, err := e.store.ReadMembers(ctx, troupeID)
	if err != nil {
		return CodeDiscoveryFailed, err
	}
	buckets, err := e.store.ReadBuckets(ctx, troupeID)
	if err != nil {
		return CodeDiscoveryFailed, err
	}

	proj := quota.Unlimited()
	if !quota.Bypassed(ctx, troupeID) {
		limits, err := e.ledger.Get(ctx, troupeID)
		if err != nil {
			return CodeDiscoveryFailed, err
		}
		proj = quota.NewProjection(limits)
	}

	found, err := discovery.New(e.drive, e.ids).Discover(ctx, discovery.Input{
		Troupe:     troupe,
		Events:     events,
		Projection: proj,
		Now:        cutoff,
	})
	if err != nil {
		return CodeDiscoveryFailed, err
	}

	aud := audience.New(e.registry, e.ids, audience.WithConcurrency(e.delegateConcurrency))
	outcome, err := aud.Discover(ctx, audience.Input{
		Troupe:     troupe,
		Events:     found.Events,
		Members:    members,
		Buckets:    buckets,
		Projection: proj,
		Cutoff:     cutoff,
		Now:        cutoff,
	})
	if err != nil {
		return CodeAudienceFailed, err
	}

	r.Phase = PhasePersisting
	plan, err := reconcile.Build(reconcile.Input{
		Troupe:     troupe,
		Discovery:  found,
		Audience:   outcome,
		Projection: proj,
		Now:        cutoff,
		PageSize:   e.pageSize,
		IDs:        e.ids,
	})
	if err != nil {
		return CodePersistFailed, err
	}
	r.Stats = plan.Stats
	r.QuotaDelta = plan.Delta

	err = e.store.Commit(ctx, plan.ChangeSet,
		store.LeaseHeld(troupeID, owner),
		func(ctx context.Context, tx *sql.Tx) error {
			return e.ledger.Apply(ctx, troupeID, plan.Delta, tx)
		},
	)
	if err != nil {
		if quota.IsExceeded(err) {
			return CodeQuotaExceeded, err
		}
		return CodePersistFailed, err
	}

	if e.publisher != nil {
		e.publish(ctx, log, r, plan.ChangeSet.Troupe, found.Events, outcome)
	}
	return "", nil
}

// publish hands the committed state to the publisher. Failures mark the
// report only.
func (e *Engine) publish(ctx context.Context, log zerolog.Logger, r *Report, troupe *model.Troupe, events []model.Event, outcome *audience.Outcome) {
	members := make([]model.Member, 0, len(outcome.Kept))
	for _, ms := range outcome.Kept {
		members = append(members, ms.Member)
	}
	sort.SliceStable(members, func(i, j int) bool {
		pi, pj := members[i].TotalPoints(), members[j].TotalPoints()
		if pi != pj {
			return pi < pj
		}
		return members[i].ID < members[j].ID
	})

	if err := e.publisher.UpdateLog(ctx, troupe.LogLocation, troupe, events, members); err != nil {
		r.PublishErr = &SyncError{Code: CodePublishFailed, TroupeID: r.TroupeID, Phase: PhasePersisting, Err: err}
		r.PublishError = r.PublishErr.Error()
		log.Warn().Err(err).Str("location", troupe.LogLocation).Msg("record log publication failed")
		return
	}
	r.Published = true
}

func (e *Engine) finish(r *Report, status Status, code Code, err error) (*Report, error) {
	r.Status = status
	r.FinishedAt = e.clock.Now()
	r.Duration = r.FinishedAt.Sub(r.StartedAt)
	metrics.RecordSync(string(status), r.Duration.Seconds())
	if err == nil {
		return r, nil
	}
	se := &SyncError{Code: code, TroupeID: r.TroupeID, Phase: r.Phase, Err: err}
	r.Err = se
	r.Error = se.Error()
	return r, se
}

// SyncAll syncs every troupe concurrently. One troupe's failure does not
// cancel the others; per-troupe outcomes are in the reports, ordered by
// troupe id.
func (e *Engine) SyncAll(ctx context.Context) ([]*Report, error) {
	ids, err := e.store.ListTroupeIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("sync all: %w", err)
	}

	reports := make([]*Report, len(ids))
	var g errgroup.Group
	if e.concurrency > 0 {
		g.SetLimit(e.concurrency)
	}
	var mu sync.Mutex
	failed := 0
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			r, err := e.Sync(ctx, id)
			reports[i] = r
			if err != nil && !IsLocked(err) {
				mu.Lock()
				failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	e.log.Info().Int("troupes", len(ids)).Int("failed", failed).Msg("sync all complete")
	return reports, nil
}

// Unlock force-clears a troupe's lease. Operator recovery only: a sync
// still running under the cleared lease will fail at commit.
func (e *Engine) Unlock(ctx context.Context, troupeID string) error {
	if err := e.store.ForceUnlock(ctx, troupeID); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	e.log.Warn().Str("troupe_id", troupeID).Msg("sync lease force-cleared")
	return nil
}

// Dashboard returns a troupe's last committed dashboard.
func (e *Engine) Dashboard(ctx context.Context, troupeID string) (*model.Dashboard, error) {
	return e.store.ReadDashboard(ctx, troupeID)
}
