/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// Run starts the worker pool and blocks until ctx is cancelled or a worker
// fails irrecoverably
func (q *Queue) Run(ctx context.Context) error {
	if !q.running.CompareAndSwap(false, true) {
		return fmt.Errorf("queue workers already running")
	}
	defer q.running.Store(false)

	q.logger.Infof("Starting %d queue workers", q.workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		id := i
		g.Go(func() error {
			return q.work(gctx, id)
		})
	}
	err := g.Wait()

	q.logger.Info("Queue workers stopped")
	return err
}

// Running reports whether the worker pool is active
func (q *Queue) Running() bool {
	return q.running.Load()
}

func (q *Queue) work(ctx context.Context, id int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		res, err := q.client.BLPop(ctx, q.pollInterval, q.readyKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			q.logger.Warnf("Worker %d failed to dequeue: %v", id, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(q.pollInterval):
			}
			continue
		}
		if len(res) < 2 {
			continue
		}
		key := res[1]

		if q.limiter != nil {
			if err := q.limiter.Wait(ctx); err != nil {
				// Shutting down; put the key back for the next worker
				if perr := q.client.LPush(context.WithoutCancel(ctx), q.readyKey(), key).Err(); perr != nil {
					q.logger.Errorf("Failed to requeue %s: %v", key, perr)
				}
				return nil
			}
		}

		q.process(ctx, key)
	}
}

// process claims and runs one execution
func (q *Queue) process(ctx context.Context, key string) {
	claimed, err := startScript.Run(ctx, q.client, []string{q.execKey(key)}, formatTime(q.now())).Int()
	if err != nil {
		q.logger.Errorf("Failed to claim %s: %v", key, err)
		return
	}
	if claimed != 1 {
		// Cancelled or expired while waiting
		q.logger.Debugf("Skipping %s: no longer queued", key)
		return
	}

	q.active.Add(1)
	defer q.active.Add(-1)

	exec, err := q.Execution(ctx, key)
	if err != nil || exec == nil {
		q.finish(ctx, key, "", nil, fmt.Errorf("execution record unreadable: %v", err))
		return
	}

	handler, ok := q.handler(exec.Function)
	if !ok {
		q.finish(ctx, key, exec.Function, nil, fmt.Errorf("no handler registered for %q", exec.Function))
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runCtx = context.WithValue(runCtx, progressKey{}, &progressSink{q: q, key: key})

	stop := q.watchCancel(runCtx, key, cancel)
	value, herr := q.invoke(runCtx, handler, exec)
	stop()

	if herr != nil && ctx.Err() != nil {
		herr = fmt.Errorf("worker stopped before execution finished: %w", herr)
	}
	q.finish(ctx, key, exec.Function, value, herr)
}

// invoke runs the handler, turning a panic into an error
func (q *Queue) invoke(ctx context.Context, h Handler, exec *Execution) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorf("Handler for %s panicked: %v\n%s", exec.Key, r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, exec)
}

// watchCancel polls the execution state and cancels the handler context once
// the execution has been cancelled. The returned func stops the watcher.
func (q *Queue) watchCancel(ctx context.Context, key string, cancel context.CancelFunc) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(q.cancelCheck)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				state, err := q.client.HGet(ctx, q.execKey(key), fieldState).Result()
				if err != nil {
					continue
				}
				if State(state) == StateCancelled {
					q.logger.Infof("Execution %s cancelled while running", key)
					cancel()
					return
				}
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// finish stores the outcome unless the execution is already terminal
func (q *Queue) finish(ctx context.Context, key, function string, value any, herr error) {
	writeCtx := context.WithoutCancel(ctx)

	state := StateCompleted
	field := fieldResult
	var payload string
	if herr != nil {
		state = StateFailed
		field = fieldError
		payload = herr.Error()
	} else {
		data, err := json.Marshal(value)
		if err != nil {
			state = StateFailed
			field = fieldError
			payload = fmt.Sprintf("failed to encode result: %v", err)
		} else {
			payload = string(data)
		}
	}

	res, err := finishScript.Run(writeCtx, q.client, []string{q.execKey(key)},
		string(state), field, payload, formatTime(q.now())).Int()
	if err != nil {
		q.logger.Errorf("Failed to record outcome of %s: %v", key, err)
		return
	}

	switch res {
	case 1:
		q.metrics.ExecutionFinished(function, string(state))
		if state == StateFailed {
			q.logger.Warnf("Execution %s failed: %s", key, payload)
		} else {
			q.logger.Debugf("Execution %s completed", key)
		}
	case 0:
		q.metrics.ExecutionFinished(function, string(StateCancelled))
		q.logger.Infof("Execution %s already terminal; outcome discarded", key)
	default:
		q.logger.Warnf("Execution %s expired before it finished", key)
	}
}
