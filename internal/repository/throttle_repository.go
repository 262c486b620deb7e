package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryThrottleRepository remembers the last accepted update per account.
type MemoryThrottleRepository struct {
	mu   sync.Mutex
	last map[int64]time.Time
	now  func() time.Time
}

// NewMemoryThrottleRepository constructs an in-memory throttle store.
func NewMemoryThrottleRepository() *MemoryThrottleRepository {
	return &MemoryThrottleRepository{last: make(map[int64]time.Time), now: time.Now}
}

// Allow reports whether accountID may act now, recording the attempt if so.
func (r *MemoryThrottleRepository) Allow(_ context.Context, accountID int64, interval time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if last, ok := r.last[accountID]; ok && now.Sub(last) < interval {
		return false, nil
	}
	r.last[accountID] = now
	return true, nil
}

// Prune forgets accounts idle for longer than maxAge.
func (r *MemoryThrottleRepository) Prune(maxAge time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxAge)
	for id, last := range r.last {
		if last.Before(cutoff) {
			delete(r.last, id)
		}
	}
}

// RedisThrottleRepository shares the throttle window across bot replicas with
// SET NX PX.
type RedisThrottleRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisThrottleRepository constructs a Redis throttle store.
func NewRedisThrottleRepository(client *redis.Client) *RedisThrottleRepository {
	return &RedisThrottleRepository{client: client, prefix: "olympiad:throttle"}
}

func (r *RedisThrottleRepository) Allow(ctx context.Context, accountID int64, interval time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%d", r.prefix, accountID)
	ok, err := r.client.SetNX(ctx, key, 1, interval).Result()
	if err != nil {
		return false, fmt.Errorf("redis throttle %d: %w", accountID, err)
	}
	return ok, nil
}
