package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
)

var errSessionNotFound = appErrors.Clone(appErrors.ErrNotFound, "session not found")

// MemorySessionRepository keeps conversation sessions in memory. Sessions idle
// for longer than ttl are treated as gone and removed by Sweep.
type MemorySessionRepository struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[models.SessionKey]models.Session
	now      func() time.Time
}

// NewMemorySessionRepository constructs a session store. A non-positive ttl
// keeps sessions until they are deleted.
func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	return &MemorySessionRepository{
		ttl:      ttl,
		sessions: make(map[models.SessionKey]models.Session),
		now:      time.Now,
	}
}

func (r *MemorySessionRepository) Get(_ context.Context, key models.SessionKey) (*models.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[key]
	if !ok || r.expired(session) {
		delete(r.sessions, key)
		return nil, errSessionNotFound
	}
	return &session, nil
}

func (r *MemorySessionRepository) Save(_ context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("save session: nil session")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	session.UpdatedAt = r.now()
	r.sessions[session.Key] = *session
	return nil
}

func (r *MemorySessionRepository) Delete(_ context.Context, key models.SessionKey) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, key)
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (r *MemorySessionRepository) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, session := range r.sessions {
		if r.expired(session) {
			delete(r.sessions, key)
			removed++
		}
	}
	return removed
}

func (r *MemorySessionRepository) expired(session models.Session) bool {
	return r.ttl > 0 && r.now().Sub(session.UpdatedAt) > r.ttl
}

// RedisSessionRepository stores sessions as JSON with a sliding TTL so they
// survive restarts when Redis is available.
type RedisSessionRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisSessionRepository constructs a Redis-backed session store.
func NewRedisSessionRepository(client *redis.Client, ttl time.Duration) *RedisSessionRepository {
	return &RedisSessionRepository{client: client, prefix: "olympiad:session", ttl: ttl}
}

func (r *RedisSessionRepository) key(key models.SessionKey) string {
	return fmt.Sprintf("%s:%d:%d", r.prefix, key.AccountID, key.ChatID)
}

func (r *RedisSessionRepository) Get(ctx context.Context, key models.SessionKey) (*models.Session, error) {
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errSessionNotFound
		}
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (r *RedisSessionRepository) Save(ctx context.Context, session *models.Session) error {
	if session == nil {
		return fmt.Errorf("save session: nil session")
	}
	session.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := r.client.Set(ctx, r.key(session.Key), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, key models.SessionKey) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	return nil
}
