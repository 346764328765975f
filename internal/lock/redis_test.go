package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/go-redis/redis/v7"
	"github.com/stretchr/testify/assert"

	"github.com/odpf/datajobs/internal/lock"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	s, err := miniredis.Run()
	if err != nil {
		panic(err)
	}
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return s, client
}

func TestRedisLocker(t *testing.T) {
	ctx := context.Background()

	t.Run("acquires a free lock", func(t *testing.T) {
		s, client := newRedis(t)
		locker := lock.NewRedisLocker(client)

		acquired, err := locker.TryLock(ctx, "retention", time.Minute)

		assert.Nil(t, err)
		assert.True(t, acquired)
		assert.True(t, s.Exists("datajobs:lock:retention"))
	})
	t.Run("does not acquire a lock held by another replica", func(t *testing.T) {
		_, client := newRedis(t)
		first := lock.NewRedisLocker(client)
		second := lock.NewRedisLocker(client)

		acquired, err := first.TryLock(ctx, "retention", time.Minute)
		assert.Nil(t, err)
		assert.True(t, acquired)

		acquired, err = second.TryLock(ctx, "retention", time.Minute)
		assert.Nil(t, err)
		assert.False(t, acquired)
	})
	t.Run("acquires the lock again after it expired", func(t *testing.T) {
		s, client := newRedis(t)
		first := lock.NewRedisLocker(client)
		second := lock.NewRedisLocker(client)

		_, err := first.TryLock(ctx, "retention", time.Minute)
		assert.Nil(t, err)
		s.FastForward(2 * time.Minute)

		acquired, err := second.TryLock(ctx, "retention", time.Minute)
		assert.Nil(t, err)
		assert.True(t, acquired)
	})
	t.Run("releases the lock on unlock", func(t *testing.T) {
		s, client := newRedis(t)
		locker := lock.NewRedisLocker(client)
		_, err := locker.TryLock(ctx, "retention", time.Minute)
		assert.Nil(t, err)

		err = locker.Unlock(ctx, "retention")

		assert.Nil(t, err)
		assert.False(t, s.Exists("datajobs:lock:retention"))
	})
	t.Run("keeps a lock which was taken over after expiry", func(t *testing.T) {
		s, client := newRedis(t)
		first := lock.NewRedisLocker(client)
		second := lock.NewRedisLocker(client)
		_, err := first.TryLock(ctx, "retention", time.Minute)
		assert.Nil(t, err)
		s.FastForward(2 * time.Minute)
		acquired, err := second.TryLock(ctx, "retention", time.Minute)
		assert.Nil(t, err)
		assert.True(t, acquired)

		err = first.Unlock(ctx, "retention")

		assert.Nil(t, err)
		assert.True(t, s.Exists("datajobs:lock:retention"))
	})
	t.Run("returns error when redis is unreachable", func(t *testing.T) {
		s, client := newRedis(t)
		locker := lock.NewRedisLocker(client)
		s.Close()

		acquired, err := locker.TryLock(ctx, "retention", time.Minute)

		assert.NotNil(t, err)
		assert.False(t, acquired)
	})
}

func TestLocalLocker(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2023, 5, 10, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("rejects a second holder until the lock expires", func(t *testing.T) {
		current := now
		locker := lock.NewLocalLocker(func() time.Time { return current })

		acquired, err := locker.TryLock(ctx, "retention", time.Minute)
		assert.Nil(t, err)
		assert.True(t, acquired)

		acquired, _ = locker.TryLock(ctx, "retention", time.Minute)
		assert.False(t, acquired)

		current = now.Add(2 * time.Minute)
		acquired, _ = locker.TryLock(ctx, "retention", time.Minute)
		assert.True(t, acquired)
	})
	t.Run("can be acquired again after unlock", func(t *testing.T) {
		locker := lock.NewLocalLocker(clock)
		_, err := locker.TryLock(ctx, "retention", time.Minute)
		assert.Nil(t, err)

		assert.Nil(t, locker.Unlock(ctx, "retention"))

		acquired, err := locker.TryLock(ctx, "retention", time.Minute)
		assert.Nil(t, err)
		assert.True(t, acquired)
	})
}
