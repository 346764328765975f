package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v7"
	"github.com/google/uuid"
)

const keyPrefix = "datajobs:lock:"

// deletes the key only while it still holds the token of this replica
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLocker is a named lock shared by all replicas, a held lock expires after its ttl
type RedisLocker struct {
	client *redis.Client

	mu     sync.Mutex
	tokens map[string]string
}

func (r *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	token := uuid.New().String()
	acquired, err := r.client.WithContext(ctx).SetNX(keyPrefix+name, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("unable to acquire lock %s: %w", name, err)
	}
	if !acquired {
		return false, nil
	}

	r.mu.Lock()
	r.tokens[name] = token
	r.mu.Unlock()
	return true, nil
}

// Unlock releases a lock acquired by this locker, a lock taken over by another holder after expiry is kept
func (r *RedisLocker) Unlock(ctx context.Context, name string) error {
	r.mu.Lock()
	token, ok := r.tokens[name]
	delete(r.tokens, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}

	err := r.client.WithContext(ctx).Eval(releaseScript, []string{keyPrefix + name}, token).Err()
	if err != nil {
		return fmt.Errorf("unable to release lock %s: %w", name, err)
	}
	return nil
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{
		client: client,
		tokens: map[string]string{},
	}
}
