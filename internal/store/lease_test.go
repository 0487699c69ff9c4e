package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireLease_Exclusive(t *testing.T) {
	s := createTestStore(t)
	createTestTroupe(t, s, "t1")
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	lease, err := s.AcquireLease(ctx, "t1", "owner-a", now, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "owner-a", lease.Owner)

	_, err = s.AcquireLease(ctx, "t1", "owner-b", now.Add(30*time.Second), time.Minute)
	assert.ErrorIs(t, err, ErrLocked)

	tr, err := s.ReadTroupe(ctx, "t1")
	require.NoError(t, err)
	require.True(t, tr.Locked())
	assert.Equal(t, "owner-a", tr.Lease.Owner)
	assert.True(t, tr.Lease.ExpiresAt.Equal(now.Add(time.Minute)))
}

func TestAcquireLease_TakesOverExpired(t *testing.T) {
	s := createTestStore(t)
	createTestTroupe(t, s, "t1")
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.AcquireLease(ctx, "t1", "crashed", now, time.Minute)
	require.NoError(t, err)

	lease, err := s.AcquireLease(ctx, "t1", "rescuer", now.Add(time.Minute), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "rescuer", lease.Owner)

	assert.ErrorIs(t, s.ReleaseLease(ctx, "t1", "crashed"), ErrLeaseLost)
	assert.NoError(t, s.ReleaseLease(ctx, "t1", "rescuer"))
}

func TestAcquireLease_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.AcquireLease(context.Background(), "missing", "o", time.Now(), time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseLease_Clears(t *testing.T) {
	s := createTestStore(t)
	createTestTroupe(t, s, "t1")
	ctx := context.Background()

	_, err := s.AcquireLease(ctx, "t1", "o", time.Now(), time.Minute)
	require.NoError(t, err)
	require.NoError(t, s.ReleaseLease(ctx, "t1", "o"))

	tr, err := s.ReadTroupe(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, tr.Locked())
}

func TestForceUnlock(t *testing.T) {
	s := createTestStore(t)
	createTestTroupe(t, s, "t1")
	ctx := context.Background()

	_, err := s.AcquireLease(ctx, "t1", "o", time.Now(), time.Hour)
	require.NoError(t, err)
	require.NoError(t, s.ForceUnlock(ctx, "t1"))

	tr, err := s.ReadTroupe(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, tr.Locked())

	assert.ErrorIs(t, s.ForceUnlock(ctx, "missing"), ErrNotFound)
}

func TestCreateTroupe_PreservesLease(t *testing.T) {
	s := createTestStore(t)
	tr := createTestTroupe(t, s, "t1")
	ctx := context.Background()

	_, err := s.AcquireLease(ctx, "t1", "o", time.Now(), time.Hour)
	require.NoError(t, err)

	tr.Name = "Renamed"
	require.NoError(t, s.CreateTroupe(ctx, tr))

	got, err := s.ReadTroupe(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, got.Locked())
}

func TestLeaseHeld_GuardsCommit(t *testing.T) {
	s := createTestStore(t)
	tr := createTestTroupe(t, s, "t1")
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := s.AcquireLease(ctx, "t1", "stale", now, time.Minute)
	require.NoError(t, err)
	_, err = s.AcquireLease(ctx, "t1", "successor", now.Add(2*time.Minute), time.Minute)
	require.NoError(t, err)

	tr.Name = "Stale write"
	err = s.Commit(ctx, ChangeSet{Troupe: tr}, LeaseHeld("t1", "stale"))
	assert.ErrorIs(t, err, ErrLeaseLost)

	got, err := s.ReadTroupe(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Troupe t1", got.Name)

	tr.Name = "Fresh write"
	assert.NoError(t, s.Commit(ctx, ChangeSet{Troupe: tr}, LeaseHeld("t1", "successor")))
}
