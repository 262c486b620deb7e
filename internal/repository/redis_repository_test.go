package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/olympiad-registration-bot/internal/models"
	appErrors "github.com/noah-isme/olympiad-registration-bot/pkg/errors"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return srv, client
}

func TestRedisSessionRepository(t *testing.T) {
	ctx := context.Background()
	srv, client := newMiniredis(t)
	repo := NewRedisSessionRepository(client, time.Hour)
	key := models.SessionKey{AccountID: 10, ChatID: 20}

	_, err := repo.Get(ctx, key)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	session := &models.Session{Key: key, Step: models.StepGrade, Language: models.LanguageUzbek, AttemptID: "a1",
		Draft: models.Draft{GuardianName: "Karimov Aziz", ParticipantSurname: "Karimov"}}
	require.NoError(t, repo.Save(ctx, session))

	got, err := repo.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, models.StepGrade, got.Step)
	assert.Equal(t, "Karimov", got.Draft.ParticipantSurname)

	srv.FastForward(2 * time.Hour)
	_, err = repo.Get(ctx, key)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	require.NoError(t, repo.Save(ctx, session))
	require.NoError(t, repo.Delete(ctx, key))
	_, err = repo.Get(ctx, key)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestMemorySessionRepositoryExpiry(t *testing.T) {
	ctx := context.Background()
	repo := NewMemorySessionRepository(time.Minute)
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	key := models.SessionKey{AccountID: 1, ChatID: 1}
	require.NoError(t, repo.Save(ctx, &models.Session{Key: key, Step: models.StepSchool}))
	_, err := repo.Get(ctx, key)
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, repo.Sweep())
	_, err = repo.Get(ctx, key)
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRedisThrottleRepository(t *testing.T) {
	ctx := context.Background()
	srv, client := newMiniredis(t)
	repo := NewRedisThrottleRepository(client)

	ok, err := repo.Allow(ctx, 7, 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Allow(ctx, 7, 500*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.Allow(ctx, 8, 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)

	srv.FastForward(time.Second)
	ok, err = repo.Allow(ctx, 7, 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryThrottleRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryThrottleRepository()
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return now }

	ok, _ := repo.Allow(ctx, 1, 500*time.Millisecond)
	assert.True(t, ok)
	now = now.Add(100 * time.Millisecond)
	ok, _ = repo.Allow(ctx, 1, 500*time.Millisecond)
	assert.False(t, ok)
	now = now.Add(500 * time.Millisecond)
	ok, _ = repo.Allow(ctx, 1, 500*time.Millisecond)
	assert.True(t, ok)

	now = now.Add(time.Hour)
	repo.Prune(time.Minute)
	assert.Empty(t, repo.last)
}

func TestCacheRepository(t *testing.T) {
	ctx := context.Background()
	_, client := newMiniredis(t)
	repo := NewCacheRepository(client)

	var out models.DetailedStats
	assert.ErrorIs(t, repo.Get(ctx, "stats", &out), appErrors.ErrCacheMiss)

	require.NoError(t, repo.Set(ctx, "stats", models.DetailedStats{Total: 3, Paid: 1}, time.Minute))
	require.NoError(t, repo.Get(ctx, "stats", &out))
	assert.Equal(t, 3, out.Total)

	require.NoError(t, repo.Delete(ctx, "stats"))
	assert.ErrorIs(t, repo.Get(ctx, "stats", &out), appErrors.ErrCacheMiss)

	disabled := NewCacheRepository(nil)
	assert.ErrorIs(t, disabled.Get(ctx, "stats", &out), appErrors.ErrCacheMiss)
	assert.NoError(t, disabled.Set(ctx, "stats", out, time.Minute))
}
