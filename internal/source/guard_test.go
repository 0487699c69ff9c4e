package source

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuardedFixture(t *testing.T, cfg GuardConfig) (*Fixture, *Guard) {
	t.Helper()
	f, err := ParseFixture([]byte(testFixture))
	require.NoError(t, err)
	return f, NewGuard(f, cfg)
}

func TestGuard_PassesThrough(t *testing.T) {
	_, g := newGuardedFixture(t, GuardConfig{Name: "pass"})

	children, err := g.ListChildren(context.Background(), "root")
	require.NoError(t, err)
	assert.Len(t, children, 2)

	empty, err := g.ListChildren(context.Background(), "sub")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestGuard_OpensAfterConsecutiveFailures(t *testing.T) {
	f, g := newGuardedFixture(t, GuardConfig{
		Name:            "trip",
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := g.SheetValues(ctx, "broken")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	calls := f.Calls("sheet-1")
	_, err := g.SheetValues(ctx, "sheet-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Equal(t, calls, f.Calls("sheet-1"), "open breaker must not reach the drive")
}

func TestGuard_ListingFailuresDoNotBlockOtherFolders(t *testing.T) {
	f, g := newGuardedFixture(t, GuardConfig{
		Name:            "listing",
		BreakerFailures: 1,
		BreakerTimeout:  time.Hour,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.ListChildren(ctx, "broken")
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())

	children, err := g.ListChildren(ctx, "root")
	require.NoError(t, err)
	assert.Len(t, children, 2)

	// Even with the breaker open, listings still reach the drive.
	_, err = g.SheetValues(ctx, "broken")
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, g.State())

	calls := f.Calls("sub")
	_, err = g.ListChildren(ctx, "sub")
	require.NoError(t, err)
	assert.Equal(t, calls+1, f.Calls("sub"))
}

func TestGuard_NotFoundDoesNotTrip(t *testing.T) {
	_, g := newGuardedFixture(t, GuardConfig{Name: "missing", BreakerFailures: 1})

	for i := 0; i < 3; i++ {
		_, err := g.Document(context.Background(), "missing-doc")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuard_RateLimitHonorsContext(t *testing.T) {
	_, g := newGuardedFixture(t, GuardConfig{Name: "slow", RatePerSecond: 0.001, Burst: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.SheetValues(ctx, "sheet-1")
	require.NoError(t, err, "first call uses the burst")

	_, err = g.SheetValues(ctx, "sheet-1")
	assert.Error(t, err)
}
