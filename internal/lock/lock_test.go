package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/nevilshah235/claimledger-sub000/internal/lock"
)

func newTestLock(t *testing.T) *lock.ClaimLock {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return lock.New(client, time.Second)
}

func TestAcquire_SecondHolderIsRejectedWhileHeld(t *testing.T) {
	l := newTestLock(t)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "claim-1", "holder-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Acquire(ctx, "claim-1", "holder-b")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRelease_AllowsReacquisitionByAnotherHolder(t *testing.T) {
	l := newTestLock(t)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "claim-1", "holder-a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "claim-1", "holder-a"))

	ok, err = l.Acquire(ctx, "claim-1", "holder-b")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRelease_DoesNotReleaseAnotherHoldersLock(t *testing.T) {
	l := newTestLock(t)
	ctx := context.Background()

	ok, err := l.Acquire(ctx, "claim-1", "holder-a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "claim-1", "holder-b"))

	ok, err = l.Acquire(ctx, "claim-1", "holder-c")
	require.NoError(t, err)
	require.False(t, ok)
}
