package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/cloudydaiyz/stringplay-core/internal/logging"
	"github.com/cloudydaiyz/stringplay-core/internal/metrics"
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	// Name labels the breaker in logs and metrics.
	Name string

	// RatePerSecond limits outbound calls; zero disables limiting.
	RatePerSecond float64
	Burst         int

	// BreakerFailures consecutive failures open the breaker.
	BreakerFailures uint32

	// BreakerTimeout is how long the breaker stays open before a trial call.
	BreakerTimeout time.Duration
}

// Guard wraps a Drive with a circuit breaker and a rate limiter.
//
// Only attendance reads go through the breaker. A read failure aborts the
// whole sync, so an open breaker fails fast without losing data. Folder
// listings are rate limited but never short-circuited: discovery drops a
// folder whose listing fails, and a breaker opened by one folder (or by
// another troupe sharing the Guard) must not drop healthy ones. Failed
// calls are never retried.
type Guard struct {
	drive   Drive
	cb      *gobreaker.CircuitBreaker[any]
	limiter *rate.Limiter
	name    string
}

// NewGuard wraps drive.
func NewGuard(drive Drive, cfg GuardConfig) *Guard {
	if cfg.Name == "" {
		cfg.Name = "source"
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	metrics.SourceBreakerState.WithLabelValues(cfg.Name).Set(0)
	failures := cfg.BreakerFailures
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			// A missing document is an answer, not an outage.
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("source breaker state transition")
			metrics.SourceBreakerState.WithLabelValues(name).Set(stateToFloat(to))
		},
	})

	return &Guard{drive: drive, cb: cb, limiter: limiter, name: cfg.Name}
}

// State returns the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.cb.State()
}

func (g *Guard) wait(ctx context.Context, op string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		metrics.SourceRequests.WithLabelValues(op, "rejected").Inc()
		return fmt.Errorf("%s: rate limit: %w", op, err)
	}
	return nil
}

func (g *Guard) execute(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	if err := g.wait(ctx, op); err != nil {
		return nil, err
	}
	result, err := g.cb.Execute(fn)
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.SourceRequests.WithLabelValues(op, "rejected").Inc()
		return nil, fmt.Errorf("%s: %s breaker: %w", op, g.name, err)
	case err != nil:
		metrics.SourceRequests.WithLabelValues(op, "failure").Inc()
		return nil, err
	}
	metrics.SourceRequests.WithLabelValues(op, "success").Inc()
	return result, nil
}

// castResult type-asserts a breaker result.
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("source guard: unexpected result type %T", result)
	}
	return typed, nil
}

// ListChildren implements FolderLister. It bypasses the breaker.
func (g *Guard) ListChildren(ctx context.Context, folderID string) ([]Entry, error) {
	const op = "list_children"
	if err := g.wait(ctx, op); err != nil {
		return nil, err
	}
	entries, err := g.drive.ListChildren(ctx, folderID)
	if err != nil {
		metrics.SourceRequests.WithLabelValues(op, "failure").Inc()
		return nil, err
	}
	metrics.SourceRequests.WithLabelValues(op, "success").Inc()
	return entries, nil
}

// FormResponses implements FormReader.
func (g *Guard) FormResponses(ctx context.Context, formID string) ([]FormResponse, error) {
	return castResult[[]FormResponse](g.execute(ctx, "form_responses", func() (any, error) {
		return g.drive.FormResponses(ctx, formID)
	}))
}

// SheetValues implements SheetReader.
func (g *Guard) SheetValues(ctx context.Context, sheetID string) ([][]string, error) {
	return castResult[[][]string](g.execute(ctx, "sheet_values", func() (any, error) {
		return g.drive.SheetValues(ctx, sheetID)
	}))
}

// Document implements DocumentReader.
func (g *Guard) Document(ctx context.Context, documentID string) ([]byte, error) {
	return castResult[[]byte](g.execute(ctx, "document", func() (any, error) {
		return g.drive.Document(ctx, documentID)
	}))
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
