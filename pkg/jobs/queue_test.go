package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePreservesOrderPerKey(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]int{}
	done := make(chan struct{}, 40)

	q := NewQueue("ordered", func(ctx context.Context, job Job) error {
		mu.Lock()
		seen[job.Key] = append(seen[job.Key], job.Payload.(int))
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, QueueConfig{Workers: 4, MaxRetries: -1})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 10; i++ {
		for _, key := range []string{"a", "b", "c", "d"} {
			require.NoError(t, q.Enqueue(Job{ID: fmt.Sprintf("%s-%d", key, i), Key: key, Payload: i}))
		}
	}
	for i := 0; i < 40; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for key, values := range seen {
		assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, values, key)
	}
}

func TestQueueRetriesFailedJob(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	q := NewQueue("retry", func(ctx context.Context, job Job) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts < 3 {
			return errors.New("boom")
		}
		close(done)
		return nil
	}, QueueConfig{MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "j1"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not retried")
	}
	mu.Lock()
	assert.Equal(t, 3, attempts)
	mu.Unlock()
}

func TestQueueRejectsBeforeStart(t *testing.T) {
	q := NewQueue("idle", func(context.Context, Job) error { return nil }, QueueConfig{})
	require.Error(t, q.Enqueue(Job{ID: "x"}))
}

func TestQueueRecoversFromPanic(t *testing.T) {
	done := make(chan struct{})
	calls := 0
	q := NewQueue("panics", func(ctx context.Context, job Job) error {
		calls++
		if calls == 1 {
			panic("bad job")
		}
		close(done)
		return nil
	}, QueueConfig{MaxRetries: -1})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "p1"}))
	require.NoError(t, q.Enqueue(Job{ID: "p2"}))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}
}
