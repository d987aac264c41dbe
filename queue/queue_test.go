/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T, opts ...Option) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	opts = append([]Option{
		WithPrefix("test:"),
		WithPollInterval(time.Second),
		WithCancelCheck(20 * time.Millisecond),
	}, opts...)
	return New(client, opts...), mr
}

// startWorkers runs the pool until the test ends
func startWorkers(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("workers did not stop")
		}
	})
	require.Eventually(t, q.Running, time.Second, 10*time.Millisecond)
}

func waitForState(t *testing.T, q *Queue, key string, want State) *Execution {
	t.Helper()
	var exec *Execution
	require.Eventually(t, func() bool {
		var err error
		exec, err = q.Execution(context.Background(), key)
		return err == nil && exec != nil && exec.State == want
	}, 5*time.Second, 10*time.Millisecond, "execution %s never reached %s", key, want)
	return exec
}

func TestEnqueueAndExecution(t *testing.T) {
	q, mr := setupQueue(t, WithExecutionTTL(time.Hour))
	ctx := context.Background()

	err := q.Enqueue(ctx, "echo", "k1", map[string]any{"x": 1.5}, map[string]string{"base_url": "http://h"})
	require.NoError(t, err)

	exec, err := q.Execution(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, exec)
	assert.Equal(t, "echo", exec.Function)
	assert.Equal(t, StateQueued, exec.State)
	assert.Equal(t, 1.5, exec.Args["x"])
	assert.Equal(t, "http://h", exec.Meta["base_url"])
	assert.False(t, exec.CreatedAt.IsZero())

	assert.True(t, mr.TTL("test:exec:k1") > 0)

	err = q.Enqueue(ctx, "echo", "k1", nil, nil)
	assert.ErrorIs(t, err, ErrDuplicate)

	missing, err := q.Execution(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Pending)
	assert.False(t, stats.Running)
}

func TestWorkerCompletesExecution(t *testing.T) {
	q, _ := setupQueue(t)
	q.Register("echo", func(ctx context.Context, exec *Execution) (any, error) {
		return map[string]any{"echo": exec.Args["msg"], "base_url": exec.Meta["base_url"]}, nil
	})
	startWorkers(t, q)

	require.NoError(t, q.Enqueue(context.Background(), "echo", "k1", map[string]any{"msg": "hi"}, map[string]string{"base_url": "http://h"}))

	exec := waitForState(t, q, "k1", StateCompleted)
	var out map[string]any
	require.NoError(t, exec.Decode(&out))
	assert.Equal(t, "hi", out["echo"])
	assert.Equal(t, "http://h", out["base_url"])
	assert.False(t, exec.StartedAt.IsZero())
	assert.False(t, exec.FinishedAt.IsZero())
}

func TestWorkerRecordsFailure(t *testing.T) {
	q, _ := setupQueue(t)
	q.Register("boom", func(ctx context.Context, exec *Execution) (any, error) {
		return nil, errors.New("kaboom")
	})
	q.Register("panic", func(ctx context.Context, exec *Execution) (any, error) {
		panic("oh no")
	})
	startWorkers(t, q)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "boom", "k1", nil, nil))
	require.NoError(t, q.Enqueue(ctx, "panic", "k2", nil, nil))
	require.NoError(t, q.Enqueue(ctx, "unknown", "k3", nil, nil))

	assert.Equal(t, "kaboom", waitForState(t, q, "k1", StateFailed).Error)
	assert.Contains(t, waitForState(t, q, "k2", StateFailed).Error, "oh no")
	assert.Contains(t, waitForState(t, q, "k3", StateFailed).Error, "no handler registered")
}

func TestCancelQueuedExecution(t *testing.T) {
	q, _ := setupQueue(t)
	var ran atomic.Bool
	q.Register("work", func(ctx context.Context, exec *Execution) (any, error) {
		ran.Store(true)
		return "done", nil
	})

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "work", "k1", nil, nil))
	require.NoError(t, q.Cancel(ctx, "k1"))

	exec, err := q.Execution(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, exec.State)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, stats.Pending)

	startWorkers(t, q)
	time.Sleep(200 * time.Millisecond)
	assert.False(t, ran.Load())
}

func TestCancelRunningExecutionIsNotOverwritten(t *testing.T) {
	q, _ := setupQueue(t)
	started := make(chan struct{})
	q.Register("slow", func(ctx context.Context, exec *Execution) (any, error) {
		close(started)
		<-ctx.Done()
		// A late result must not replace the cancellation
		return "finished anyway", nil
	})
	startWorkers(t, q)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "slow", "k1", nil, nil))
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	waitForState(t, q, "k1", StateRunning)
	require.NoError(t, q.Cancel(ctx, "k1"))

	// Give the worker time to observe the cancellation and try to finish
	time.Sleep(200 * time.Millisecond)
	exec := waitForState(t, q, "k1", StateCancelled)
	assert.Empty(t, exec.Result)
}

func TestCancelTerminalAndMissing(t *testing.T) {
	q, _ := setupQueue(t)
	q.Register("quick", func(ctx context.Context, exec *Execution) (any, error) {
		return 42, nil
	})
	startWorkers(t, q)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "quick", "k1", nil, nil))
	waitForState(t, q, "k1", StateCompleted)

	require.NoError(t, q.Cancel(ctx, "k1"))
	exec, err := q.Execution(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, exec.State)

	assert.ErrorIs(t, q.Cancel(ctx, "missing"), ErrNotFound)
}

func TestReportProgress(t *testing.T) {
	q, _ := setupQueue(t)
	release := make(chan struct{})
	q.Register("progress", func(ctx context.Context, exec *Execution) (any, error) {
		key, ok := ExecutionKey(ctx)
		if !ok || key != exec.Key {
			return nil, errors.New("execution key missing from context")
		}
		ReportProgress(ctx, "halfway")
		<-release
		return "ok", nil
	})
	startWorkers(t, q)

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "progress", "k1", nil, nil))
	require.Eventually(t, func() bool {
		exec, err := q.Execution(ctx, "k1")
		return err == nil && exec != nil && exec.Progress == "halfway"
	}, 5*time.Second, 10*time.Millisecond)

	close(release)
	exec := waitForState(t, q, "k1", StateCompleted)
	assert.Empty(t, exec.Progress, "progress is cleared once the execution finishes")

	// Outside a worker this is a no-op
	ReportProgress(ctx, "ignored")
}

func TestStateTerminal(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed, StateCancelled} {
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []State{StateScheduled, StateQueued, StateRunning, State("weird")} {
		assert.False(t, s.Terminal(), s)
	}
}

func TestRateLimitedWorkersStillRun(t *testing.T) {
	q, _ := setupQueue(t, WithMaxStartsPerSecond(50), WithWorkers(1))
	q.Register("n", func(ctx context.Context, exec *Execution) (any, error) {
		return exec.Key, nil
	})
	startWorkers(t, q)

	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, "n", key, nil, nil))
	}
	for _, key := range []string{"a", "b", "c"} {
		waitForState(t, q, key, StateCompleted)
	}
}

func TestRunTwiceFails(t *testing.T) {
	q, _ := setupQueue(t)
	startWorkers(t, q)
	assert.Error(t, q.Run(context.Background()))
}
