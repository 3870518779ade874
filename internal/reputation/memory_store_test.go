package reputation

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreApplyActivityFailureLeavesStateUnchanged(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedProfile(t, store, alice, 500)

	boom := errors.New("boom")
	_, _, err := store.ApplyActivity(ctx, alice, func(p *Profile) (*ActivityRecord, error) {
		p.ReputationScore = 1
		p.TotalTransactions = 99
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	p, err := store.GetProfile(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), p.ReputationScore)
	assert.Zero(t, p.TotalTransactions)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.TotalActivities)
}

func TestMemoryStoreApplyActivityUnknownUser(t *testing.T) {
	store := NewMemoryStore()
	called := false
	_, _, err := store.ApplyActivity(context.Background(), alice, func(*Profile) (*ActivityRecord, error) {
		called = true
		return &ActivityRecord{}, nil
	})
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.False(t, called)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedProfile(t, store, alice, 500)

	p, err := store.GetProfile(ctx, alice)
	require.NoError(t, err)
	p.ReputationScore = 1

	again, err := store.GetProfile(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), again.ReputationScore)
}

func TestMemoryStoreSnapshotUpsert(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, &Snapshot{User: alice, Score: 500, RiskLevel: 4, Timestamp: 10}))
	require.NoError(t, store.SaveSnapshot(ctx, &Snapshot{User: alice, Score: 510, RiskLevel: 3, Timestamp: 10}))
	require.NoError(t, store.SaveSnapshot(ctx, &Snapshot{User: bob, Score: 100, RiskLevel: 6, Timestamp: 10}))

	snap, err := store.GetSnapshot(ctx, alice, 10)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(510), snap.Score)
	assert.Equal(t, uint64(3), snap.RiskLevel)

	snaps, err := store.QuerySnapshots(ctx, HistoryQuery{User: alice})
	require.NoError(t, err)
	assert.Len(t, snaps, 1)
}

func TestMemoryStoreListUsersInRegistrationOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedProfile(t, store, bob, 500)
	seedProfile(t, store, alice, 500)

	users, err := store.ListUsers(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, bob, users[0])
	assert.Equal(t, alice, users[1])

	users, err = store.ListUsers(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	assert.ErrorIs(t, store.CreateProfile(ctx, &Profile{User: bob}), ErrAlreadyExists)
}
