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
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/logging"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/metrics"
)

var (
	// ErrNotFound is returned when an execution key is unknown or expired
	ErrNotFound = errors.New("execution not found")

	// ErrDuplicate is returned when enqueueing an existing key
	ErrDuplicate = errors.New("execution already exists")
)

// Handler runs one execution. The returned value is stored as JSON.
type Handler func(ctx context.Context, exec *Execution) (any, error)

// Queue stores executions in Redis and runs them on a pool of workers
type Queue struct {
	client  redis.Cmdable
	prefix  string
	ttl     time.Duration
	workers int

	pollInterval time.Duration
	cancelCheck  time.Duration
	limiter      *rate.Limiter

	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler

	running atomic.Bool
	active  atomic.Int64
}

// Option configures a Queue
type Option func(*Queue)

// WithPrefix sets the Redis key prefix
func WithPrefix(prefix string) Option {
	return func(q *Queue) {
		q.prefix = prefix
	}
}

// WithExecutionTTL sets how long execution records are kept
func WithExecutionTTL(ttl time.Duration) Option {
	return func(q *Queue) {
		q.ttl = ttl
	}
}

// WithWorkers sets the number of concurrent workers
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithPollInterval sets how long a worker blocks waiting for work
func WithPollInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.pollInterval = d
		}
	}
}

// WithCancelCheck sets how often a running execution is checked for cancellation
func WithCancelCheck(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.cancelCheck = d
		}
	}
}

// WithMaxStartsPerSecond throttles how fast workers start executions; zero disables
func WithMaxStartsPerSecond(perSecond float64) Option {
	return func(q *Queue) {
		if perSecond > 0 {
			burst := int(perSecond)
			if burst < 1 {
				burst = 1
			}
			q.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(q *Queue) {
		q.metrics = m
	}
}

// New creates a queue on client
func New(client redis.Cmdable, opts ...Option) *Queue {
	q := &Queue{
		client:       client,
		prefix:       "atomictoolkit:",
		ttl:          24 * time.Hour,
		workers:      2,
		pollInterval: time.Second,
		cancelCheck:  500 * time.Millisecond,
		logger:       logging.NewNop(),
		now:          time.Now,
		handlers:     make(map[string]Handler),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *Queue) execKey(key string) string {
	return q.prefix + "exec:" + key
}

func (q *Queue) readyKey() string {
	return q.prefix + "queue"
}

// Register binds a handler to a function name
func (q *Queue) Register(function string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[function] = h
}

func (q *Queue) handler(function string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[function]
	return h, ok
}

// ExecutionTTL returns how long execution records are kept
func (q *Queue) ExecutionTTL() time.Duration {
	return q.ttl
}

// Enqueue stores a new execution under key and makes it available to workers
func (q *Queue) Enqueue(ctx context.Context, function, key string, args map[string]any, meta map[string]string) error {
	if args == nil {
		args = map[string]any{}
	}
	if meta == nil {
		meta = map[string]string{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("failed to encode args: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode meta: %w", err)
	}

	created, err := enqueueScript.Run(ctx, q.client,
		[]string{q.execKey(key), q.readyKey()},
		function, string(argsJSON), string(metaJSON), formatTime(q.now()), q.ttl.Milliseconds(), key,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", key, err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, key)
	}

	q.logger.Debugf("Enqueued %s as %s", function, key)
	return nil
}

// Execution loads the current record for key. A missing record yields (nil, nil).
func (q *Queue) Execution(ctx context.Context, key string) (*Execution, error) {
	fields, err := q.client.HGetAll(ctx, q.execKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", key, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return parseExecution(key, fields)
}

// Cancel marks a non-terminal execution cancelled. A running handler sees its
// context cancelled at the next check. Cancelling a terminal execution is a no-op.
func (q *Queue) Cancel(ctx context.Context, key string) error {
	res, err := cancelScript.Run(ctx, q.client,
		[]string{q.execKey(key), q.readyKey()},
		formatTime(q.now()), key,
	).Int()
	if err != nil {
		return fmt.Errorf("failed to cancel %s: %w", key, err)
	}
	switch res {
	case -1:
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	case 1:
		q.logger.Infof("Cancelled execution %s", key)
	}
	return nil
}

// Stats describes the queue for health reporting
type Stats struct {
	Running bool  `json:"running"`
	Workers int   `json:"workers"`
	Active  int64 `json:"active"`
	Pending int64 `json:"pending"`
}

// Stats returns worker state and the ready list length
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	pending, err := q.client.LLen(ctx, q.readyKey()).Result()
	if err != nil {
		return Stats{}, fmt.Errorf("failed to read queue length: %w", err)
	}
	return Stats{
		Running: q.running.Load(),
		Workers: q.workers,
		Active:  q.active.Load(),
		Pending: pending,
	}, nil
}

type progressKey struct{}

type progressSink struct {
	q   *Queue
	key string
}

// ReportProgress records a progress message for the execution running in
// ctx. Outside a worker it does nothing.
func ReportProgress(ctx context.Context, message string) {
	sink, ok := ctx.Value(progressKey{}).(*progressSink)
	if !ok || sink == nil {
		return
	}
	sink.q.setProgress(ctx, sink.key, message)
}

// ExecutionKey returns the key of the execution running in ctx
func ExecutionKey(ctx context.Context) (string, bool) {
	sink, ok := ctx.Value(progressKey{}).(*progressSink)
	if !ok || sink == nil {
		return "", false
	}
	return sink.key, true
}

func (q *Queue) setProgress(ctx context.Context, key, message string) {
	if err := progressScript.Run(ctx, q.client, []string{q.execKey(key)}, message).Err(); err != nil {
		q.logger.Debugf("Failed to record progress for %s: %v", key, err)
	}
}
