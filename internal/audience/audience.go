package audience

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cloudydaiyz/stringplay-core/internal/logging"
	"github.com/cloudydaiyz/stringplay-core/internal/metrics"
	"github.com/cloudydaiyz/stringplay-core/internal/model"
	"github.com/cloudydaiyz/stringplay-core/internal/quota"
)

// Discoverer dispatches events to delegates and finalizes the merged
// member set.
type Discoverer struct {
	registry    *Registry
	ids         model.IDGenerator
	concurrency int
	log         zerolog.Logger
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithConcurrency bounds the number of delegate calls in flight. Zero or
// negative means unbounded.
func WithConcurrency(n int) Option {
	return func(d *Discoverer) {
		d.concurrency = n
	}
}

// New creates a discoverer.
func New(registry *Registry, ids model.IDGenerator, opts ...Option) *Discoverer {
	d := &Discoverer{
		registry: registry,
		ids:      ids,
		log:      logging.Component("audience"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Input is the state audience discovery starts from.
type Input struct {
	Troupe     *model.Troupe
	Events     []model.Event
	Members    []model.Member
	Buckets    map[string][]model.AttendanceBucket
	Projection *quota.Projection
	Cutoff     time.Time
	Now        time.Time
}

// Discover runs every event through its delegate and returns the finalized
// member set. The first delegate failure cancels the remaining calls and is
// returned; mutations already merged are not undone, and the caller must not
// persist them.
func (d *Discoverer) Discover(ctx context.Context, in Input) (*Outcome, error) {
	if err := d.registry.Ready(ctx); err != nil {
		return nil, err
	}

	acc := NewAccumulator(in.Troupe, in.Members, in.Buckets, in.Projection, d.ids, in.Now)

	g, gctx := errgroup.WithContext(ctx)
	if d.concurrency > 0 {
		g.SetLimit(d.concurrency)
	}
	for _, ev := range in.Events {
		ev := ev
		delegate, ok := d.registry.Lookup(ev.SourceKind)
		if !ok {
			continue
		}
		g.Go(func() error {
			err := delegate.DiscoverAudience(gctx, acc, ev, in.Cutoff)
			metrics.RecordDelegateCall(string(ev.SourceKind), err)
			if err != nil {
				return fmt.Errorf("event %s (%s): %w", ev.ID, ev.SourceKind, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := acc.Finalize(in.Events)
	d.log.Debug().
		Str("troupe_id", in.Troupe.ID).
		Int("kept", len(out.Kept)).
		Int("deleted", len(out.Deleted)).
		Int("new", out.NewMembers).
		Int("dropped", out.DroppedMembers).
		Int("quota_skipped", out.QuotaSkipped).
		Msg("audience discovery complete")
	return out, nil
}
