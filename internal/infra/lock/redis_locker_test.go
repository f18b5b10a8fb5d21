package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisLocker(t *testing.T, ttl time.Duration) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	l := NewRedisLockerWithClient(client, ttl, logrus.NewEntry(logrus.New()))
	l.retryPeriod = 5 * time.Millisecond
	t.Cleanup(func() { l.Close() })
	return l, m
}

func TestRedisLocker_LockSetsKeyWithTTL(t *testing.T) {
	l, m := newTestRedisLocker(t, 10*time.Second)

	unlock, err := l.Lock(context.Background(), "reward:7:3")
	require.NoError(t, err)

	key := keyPrefix + "reward:7:3"
	assert.True(t, m.Exists(key))
	assert.Equal(t, 10*time.Second, m.TTL(key))

	unlock()
	assert.False(t, m.Exists(key))
}

func TestRedisLocker_HeldKeyBlocksUntilContextDone(t *testing.T) {
	l, _ := newTestRedisLocker(t, 10*time.Second)

	unlock, err := l.Lock(context.Background(), "reward:7:3")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "reward:7:3")
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// Other keys are independent.
	other, err := l.Lock(context.Background(), "reward:7:4")
	require.NoError(t, err)
	other()
}

func TestRedisLocker_WaiterAcquiresAfterUnlock(t *testing.T) {
	l, _ := newTestRedisLocker(t, 10*time.Second)

	unlock, err := l.Lock(context.Background(), "reward:7:3")
	require.NoError(t, err)

	acquired := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		second, err := l.Lock(ctx, "reward:7:3")
		if err == nil {
			second()
		}
		acquired <- err
	}()

	time.Sleep(20 * time.Millisecond)
	unlock()
	assert.NoError(t, <-acquired)
}

func TestRedisLocker_ExpiredUnlockKeepsNewHoldersKey(t *testing.T) {
	l, m := newTestRedisLocker(t, time.Second)
	key := keyPrefix + "reward:7:3"

	first, err := l.Lock(context.Background(), "reward:7:3")
	require.NoError(t, err)

	m.FastForward(2 * time.Second)
	require.False(t, m.Exists(key))

	second, err := l.Lock(context.Background(), "reward:7:3")
	require.NoError(t, err)
	held, err := m.Get(key)
	require.NoError(t, err)

	first()
	assert.True(t, m.Exists(key))
	current, err := m.Get(key)
	require.NoError(t, err)
	assert.Equal(t, held, current)

	second()
	assert.False(t, m.Exists(key))
}

func TestRedisLocker_ReleaseSurvivesCancelledContext(t *testing.T) {
	l, m := newTestRedisLocker(t, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	unlock, err := l.Lock(ctx, "reward:7:3")
	require.NoError(t, err)

	cancel()
	unlock()
	assert.False(t, m.Exists(keyPrefix+"reward:7:3"))
}

func TestRedisLocker_RedisErrorIsNotLockContention(t *testing.T) {
	l, m := newTestRedisLocker(t, 10*time.Second)
	m.Close()

	_, err := l.Lock(context.Background(), "reward:7:3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockNotAcquired)
}
