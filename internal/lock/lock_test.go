package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocker(t *testing.T) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client), srv
}

func TestTryLock_ExclusiveUntilReleased(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	token, ok, err := locker.TryLock(ctx, "org:1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = locker.TryLock(ctx, "org:1", time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, locker.Release(ctx, "org:1", token))

	_, ok, err = locker.TryLock(ctx, "org:1", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRelease_IgnoresForeignToken(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "invoice:9", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, locker.Release(ctx, "invoice:9", "someone-else"))
	assert.True(t, srv.Exists(keyPrefix+"invoice:9"))
}

func TestAcquire_TimesOutWhileHeld(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	_, ok, err := locker.TryLock(ctx, "org:2", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	release, err := locker.Acquire(ctx, "org:2", 60*time.Millisecond)
	require.ErrorIs(t, err, ErrNotAcquired)
	require.NotNil(t, release)
}

func TestAcquire_ReleaseFreesKey(t *testing.T) {
	locker, srv := newTestLocker(t)
	ctx := context.Background()

	release, err := locker.Acquire(ctx, "org:3", time.Second)
	require.NoError(t, err)
	assert.True(t, srv.Exists(keyPrefix+"org:3"))

	release()
	assert.False(t, srv.Exists(keyPrefix+"org:3"))
}

func TestNilLockerGrants(t *testing.T) {
	var locker *Locker
	release, err := locker.Acquire(context.Background(), "org:4", time.Second)
	require.NoError(t, err)
	release()

	_, ok, err := locker.TryLock(context.Background(), "org:4", time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
