/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package tasks turns tool calls into durably tracked background tasks and
// answers the task protocol (get, result, list, cancel) from Redis metadata
// and the work queue's execution records.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/artifacts"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/logging"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/metrics"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/queue"
)

const (
	// PollIntervalMillis is the client poll interval advertised on every task
	PollIntervalMillis = 1000

	// DefaultListLimit applies when tasks/list has no limit
	DefaultListLimit = 50

	// MappingTTLBuffer keeps task metadata alive a little longer than the execution
	MappingTTLBuffer = 15 * time.Minute
)

// Execution metadata keys set at creation
const (
	MetaSessionID = "session_id"
	MetaTaskID    = "task_id"
	MetaBaseURL   = "base_url"
)

// Queue is the part of the work queue the bridge depends on
type Queue interface {
	Enqueue(ctx context.Context, function, key string, args map[string]any, meta map[string]string) error
	Execution(ctx context.Context, key string) (*queue.Execution, error)
	Cancel(ctx context.Context, key string) error
	ExecutionTTL() time.Duration
}

// Notifier delivers the task-created notification to a session
type Notifier interface {
	NotifyTaskCreated(ctx context.Context, sessionID, taskID string) error
}

// Record is the durable task metadata
type Record struct {
	TaskID    string
	TaskKey   string
	CreatedAt time.Time
	TTLMillis *int64
}

// Task is the public description of a task
type Task struct {
	TaskID        string    `json:"taskId"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
	TTL           *int64    `json:"ttl"`
	PollInterval  int       `json:"pollInterval"`
	StatusMessage string    `json:"statusMessage,omitempty"`
}

// CreateMeta carries the optional task parameters of a tool call
type CreateMeta struct {
	TTLMillis *int64
}

// CreateResult is the immediate answer to a task-augmented tool call
type CreateResult struct {
	Content []any          `json:"content"`
	Meta    map[string]any `json:"_meta"`
	Task    Task           `json:"task"`
}

// ListResult is one page of tasks/list
type ListResult struct {
	Tasks      []Task  `json:"tasks"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

// Bridge implements the task protocol. It holds no task state of its own.
type Bridge struct {
	store      redis.Cmdable
	queue      Queue
	prefix     string
	notifier   Notifier
	converters map[string]Converter
	resultPoll time.Duration
	logger     *logging.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Option configures a Bridge
type Option func(*Bridge)

// WithPrefix sets the Redis key prefix for task metadata
func WithPrefix(prefix string) Option {
	return func(b *Bridge) {
		b.prefix = prefix
	}
}

// WithNotifier sets the task-created notifier
func WithNotifier(n Notifier) Option {
	return func(b *Bridge) {
		b.notifier = n
	}
}

// WithConverter overrides the result converter for a task kind
func WithConverter(kind string, c Converter) Option {
	return func(b *Bridge) {
		b.converters[kind] = c
	}
}

// WithResultPoll sets how often tasks/result re-reads a running execution
func WithResultPoll(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.resultPoll = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bridge) {
		b.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) {
		b.now = now
	}
}

// NewBridge creates a bridge storing task metadata in store and work in q
func NewBridge(store redis.Cmdable, q Queue, opts ...Option) *Bridge {
	b := &Bridge{
		store:  store,
		queue:  q,
		prefix: "atomictoolkit:",
		converters: map[string]Converter{
			KindTool:     ConvertToolResult,
			KindPrompt:   ConvertPromptResult,
			KindResource: ConvertResourceResult,
		},
		resultPoll: 250 * time.Millisecond,
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// mappingKey escapes both parts like BuildKey so a crafted taskId cannot
// reach another session's records
func (b *Bridge) mappingKey(sessionID, taskID string) string {
	return b.prefix + "task:" + url.QueryEscape(sessionID) + ":" + url.QueryEscape(taskID)
}

func (b *Bridge) createdKey(sessionID, taskID string) string {
	return b.mappingKey(sessionID, taskID) + ":created_at"
}

func (b *Bridge) metaKey(sessionID, taskID string) string {
	return b.mappingKey(sessionID, taskID) + ":meta"
}

func (b *Bridge) indexKey(sessionID string) string {
	return b.prefix + "tasks:" + url.QueryEscape(sessionID)
}

// session resolves the calling session and checks the bridge can run
func (b *Bridge) session(ctx context.Context) (string, error) {
	sessionID, ok := SessionFromContext(ctx)
	if !ok || b.queue == nil || b.store == nil {
		return "", errNoContext
	}
	return sessionID, nil
}

func (b *Bridge) observe(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		b.logger.Debugf("tasks/%s failed: %v", op, err)
	}
	b.metrics.TaskOperation(op, outcome)
}

// CreateToolTask records a new task for a tool call and enqueues the work
func (b *Bridge) CreateToolTask(ctx context.Context, tool string, args map[string]any, meta CreateMeta) (res *CreateResult, err error) {
	defer func() { b.observe("create", err) }()
	return b.create(ctx, KindTool, tool, args, meta)
}

func (b *Bridge) create(ctx context.Context, kind, component string, args map[string]any, meta CreateMeta) (*CreateResult, error) {
	sessionID, err := b.session(ctx)
	if err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	createdAt := b.now().UTC()
	taskKey := BuildKey(sessionID, taskID, kind, component)

	ttl := b.queue.ExecutionTTL()
	if ttl > 0 {
		ttl += MappingTTLBuffer
	}

	if err := b.storeMetadata(ctx, sessionID, taskID, taskKey, createdAt, ttl, meta.TTLMillis); err != nil {
		return nil, internal("Failed to store task metadata: %v", err)
	}

	if b.notifier != nil {
		if nerr := b.notifier.NotifyTaskCreated(ctx, sessionID, taskID); nerr != nil {
			b.logger.Debugf("Task created notification for %s not delivered: %v", taskID, nerr)
		}
	}

	execMeta := map[string]string{
		MetaSessionID: sessionID,
		MetaTaskID:    taskID,
	}
	if baseURL, ok := artifacts.BaseURLFromContext(ctx); ok {
		execMeta[MetaBaseURL] = baseURL
	}

	function := component
	if kind != KindTool {
		function = kind + ":" + component
	}
	if err := b.queue.Enqueue(ctx, function, taskKey, args, execMeta); err != nil {
		return nil, internal("Failed to enqueue task: %v", err)
	}

	b.logger.Infof("Created task %s for %s %s (session %s)", taskID, kind, component, sessionID)

	task := Task{
		TaskID:        taskID,
		Status:        StatusWorking,
		CreatedAt:     createdAt,
		LastUpdatedAt: createdAt,
		TTL:           meta.TTLMillis,
		PollInterval:  PollIntervalMillis,
	}
	return &CreateResult{
		Content: []any{},
		Meta: map[string]any{
			MetaTask: map[string]any{
				"taskId": taskID,
				"status": string(StatusWorking),
			},
		},
		Task: task,
	}, nil
}

func (b *Bridge) storeMetadata(ctx context.Context, sessionID, taskID, taskKey string, createdAt time.Time, ttl time.Duration, ttlMillis *int64) error {
	_, err := b.store.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, b.mappingKey(sessionID, taskID), taskKey, ttl)
		pipe.Set(ctx, b.createdKey(sessionID, taskID), createdAt.Format(time.RFC3339Nano), ttl)
		if ttlMillis != nil {
			pipe.HSet(ctx, b.metaKey(sessionID, taskID), "ttl_ms", *ttlMillis)
			if ttl > 0 {
				pipe.Expire(ctx, b.metaKey(sessionID, taskID), ttl)
			}
		}
		score := float64(createdAt.UnixNano()) / 1e9
		pipe.ZAdd(ctx, b.indexKey(sessionID), redis.Z{Score: score, Member: taskID})
		if ttl > 0 {
			pipe.Expire(ctx, b.indexKey(sessionID), ttl)
		}
		return nil
	})
	return err
}

// loadRecord reads the metadata of one task in the session
func (b *Bridge) loadRecord(ctx context.Context, sessionID, taskID string) (*Record, error) {
	taskKey, err := b.store.Get(ctx, b.mappingKey(sessionID, taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(taskID)
	}
	if err != nil {
		return nil, internal("Failed to load task %s: %v", taskID, err)
	}

	createdRaw, err := b.store.Get(ctx, b.createdKey(sessionID, taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, notFound(taskID)
	}
	if err != nil {
		return nil, internal("Failed to load task %s: %v", taskID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, createdRaw)
	if err != nil {
		return nil, internal("Corrupt creation time for task %s: %v", taskID, err)
	}

	record := &Record{TaskID: taskID, TaskKey: taskKey, CreatedAt: createdAt}

	meta, err := b.store.HGetAll(ctx, b.metaKey(sessionID, taskID)).Result()
	if err != nil {
		return nil, internal("Failed to load task %s: %v", taskID, err)
	}
	if raw, ok := meta["ttl_ms"]; ok {
		if v, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			record.TTLMillis = &v
		}
	}
	return record, nil
}

// resolve loads the record and execution of a task
func (b *Bridge) resolve(ctx context.Context, params map[string]any) (*Record, *queue.Execution, error) {
	taskID, err := taskIDParam(params)
	if err != nil {
		return nil, nil, err
	}
	sessionID, err := b.session(ctx)
	if err != nil {
		return nil, nil, err
	}
	record, err := b.loadRecord(ctx, sessionID, taskID)
	if err != nil {
		return nil, nil, err
	}
	exec, err := b.queue.Execution(ctx, record.TaskKey)
	if err != nil {
		return nil, nil, internal("Failed to load execution for task %s: %v", taskID, err)
	}
	if exec == nil {
		return nil, nil, internal("Task %s execution not found", taskID)
	}
	return record, exec, nil
}

func (b *Bridge) describe(record *Record, exec *queue.Execution) Task {
	return Task{
		TaskID:        record.TaskID,
		Status:        StatusFor(exec.State),
		CreatedAt:     record.CreatedAt,
		LastUpdatedAt: b.now().UTC(),
		TTL:           record.TTLMillis,
		PollInterval:  PollIntervalMillis,
		StatusMessage: statusMessage(exec),
	}
}

// Get answers tasks/get
func (b *Bridge) Get(ctx context.Context, params map[string]any) (task *Task, err error) {
	defer func() { b.observe("get", err) }()

	record, exec, err := b.resolve(ctx, params)
	if err != nil {
		return nil, err
	}
	t := b.describe(record, exec)
	return &t, nil
}

// Result answers tasks/result. It waits for the execution to finish; a failed
// or cancelled execution yields an error-flagged result rather than an error.
func (b *Bridge) Result(ctx context.Context, params map[string]any) (result map[string]any, err error) {
	defer func() { b.observe("result", err) }()

	record, exec, err := b.resolve(ctx, params)
	if err != nil {
		return nil, err
	}

	for !exec.State.Terminal() && StatusFor(exec.State) == StatusWorking {
		select {
		case <-ctx.Done():
			return nil, internal("Timed out waiting for task %s: %v", record.TaskID, ctx.Err())
		case <-time.After(b.resultPoll):
		}
		exec, err = b.queue.Execution(ctx, record.TaskKey)
		if err != nil {
			return nil, internal("Failed to load execution for task %s: %v", record.TaskID, err)
		}
		if exec == nil {
			return nil, internal("Task %s execution not found", record.TaskID)
		}
	}

	switch exec.State {
	case queue.StateCompleted:
	case queue.StateCancelled:
		return errorResult("Task cancelled", record.TaskID), nil
	default:
		message := exec.Error
		if message == "" {
			message = "Task failed"
		}
		return errorResult(message, record.TaskID), nil
	}

	parts, err := ParseKey(record.TaskKey)
	if err != nil {
		return nil, internal("Internal error: %v", err)
	}
	convert, ok := b.converters[parts.TaskType]
	if !ok {
		return nil, internal("Internal error: Unknown task type: %s", parts.TaskType)
	}

	var value any
	if err := exec.Decode(&value); err != nil {
		return errorResult(fmt.Sprintf("Failed to decode task result: %v", err), record.TaskID), nil
	}
	out, err := convert(value, parts.Component, record.TaskID)
	if err != nil {
		return nil, internal("Internal error: %v", err)
	}
	return out, nil
}

// List answers tasks/list for the calling session
func (b *Bridge) List(ctx context.Context, params map[string]any) (res *ListResult, err error) {
	defer func() { b.observe("list", err) }()

	limit, offset, err := pageParams(params)
	if err != nil {
		return nil, err
	}
	sessionID, err := b.session(ctx)
	if err != nil {
		return nil, err
	}

	index := b.indexKey(sessionID)
	total, err := b.store.ZCard(ctx, index).Result()
	if err != nil {
		return nil, internal("Failed to read task index: %v", err)
	}

	// offset+limit stays below 2*total once limit is clamped and offset < total
	if limit > total {
		limit = total
	}
	var ids []string
	if total > 0 && offset < total {
		ids, err = b.store.ZRange(ctx, index, offset, offset+limit-1).Result()
		if err != nil {
			return nil, internal("Failed to read task index: %v", err)
		}
	}

	result := &ListResult{Tasks: []Task{}}
	for _, taskID := range ids {
		record, lerr := b.loadRecord(ctx, sessionID, taskID)
		if lerr != nil {
			b.logger.Debugf("Skipping stale task %s: %v", taskID, lerr)
			continue
		}
		exec, eerr := b.queue.Execution(ctx, record.TaskKey)
		if eerr != nil || exec == nil {
			b.logger.Debugf("Skipping task %s without execution", taskID)
			continue
		}
		result.Tasks = append(result.Tasks, b.describe(record, exec))
	}

	if offset < total && offset+limit < total {
		next := strconv.FormatInt(offset+limit, 10)
		result.NextCursor = &next
	}
	return result, nil
}

// Cancel answers tasks/cancel. Only non-terminal tasks can be cancelled.
func (b *Bridge) Cancel(ctx context.Context, params map[string]any) (task *Task, err error) {
	defer func() { b.observe("cancel", err) }()

	record, exec, err := b.resolve(ctx, params)
	if err != nil {
		return nil, err
	}
	if exec.State.Terminal() {
		return nil, invalidParams("Task %s is already terminal", record.TaskID)
	}

	if err := b.queue.Cancel(ctx, record.TaskKey); err != nil {
		return nil, internal("Failed to cancel task %s: %v", record.TaskID, err)
	}
	b.logger.Infof("Cancelled task %s", record.TaskID)

	return &Task{
		TaskID:        record.TaskID,
		Status:        StatusCancelled,
		CreatedAt:     record.CreatedAt,
		LastUpdatedAt: b.now().UTC(),
		TTL:           record.TTLMillis,
		PollInterval:  PollIntervalMillis,
		StatusMessage: "Task cancelled",
	}, nil
}

func taskIDParam(params map[string]any) (string, error) {
	id, _ := params["taskId"].(string)
	if strings.TrimSpace(id) == "" {
		return "", invalidParams("Missing required parameter: taskId")
	}
	return id, nil
}

// pageParams reads limit and cursor. Both accept JSON numbers or numeric strings.
func pageParams(params map[string]any) (int64, int64, error) {
	limit := int64(DefaultListLimit)
	if raw, ok := params["limit"]; ok && raw != nil {
		v, err := toInt(raw)
		if err != nil {
			return 0, 0, invalidParams("Invalid cursor or limit")
		}
		limit = v
	}

	var offset int64
	if raw, ok := params["cursor"]; ok && raw != nil && raw != "" {
		v, err := toInt(raw)
		if err != nil {
			return 0, 0, invalidParams("Invalid cursor or limit")
		}
		offset = v
	}

	if limit <= 0 || offset < 0 {
		return 0, 0, invalidParams("Limit must be positive and cursor must be non-negative")
	}
	return limit, offset, nil
}

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("not an integer: %v", n)
		}
		if n < math.MinInt64 || n >= math.MaxInt64 {
			return 0, fmt.Errorf("out of range: %v", n)
		}
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
