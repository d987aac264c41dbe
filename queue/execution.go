/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package queue is a Redis-backed durable work queue. Executions are stored
// as hashes keyed by the caller's key, so their state and result outlive the
// process that enqueued them.
package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// State is the lifecycle state of an execution
type State string

const (
	StateScheduled State = "scheduled"
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Hash fields of an execution record
const (
	fieldFunction   = "function"
	fieldArgs       = "args"
	fieldMeta       = "meta"
	fieldState      = "state"
	fieldProgress   = "progress"
	fieldResult     = "result"
	fieldError      = "error"
	fieldCreatedAt  = "created_at"
	fieldStartedAt  = "started_at"
	fieldFinishedAt = "finished_at"
)

// Execution is a snapshot of one unit of queued work
type Execution struct {
	Key        string
	Function   string
	Args       map[string]any
	Meta       map[string]string
	State      State
	Progress   string
	Result     json.RawMessage
	Error      string
	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Decode unmarshals the stored result into v
func (e *Execution) Decode(v any) error {
	if len(e.Result) == 0 {
		return fmt.Errorf("execution %s has no result", e.Key)
	}
	return json.Unmarshal(e.Result, v)
}

func parseExecution(key string, fields map[string]string) (*Execution, error) {
	exec := &Execution{
		Key:      key,
		Function: fields[fieldFunction],
		State:    State(fields[fieldState]),
		Progress: fields[fieldProgress],
		Error:    fields[fieldError],
	}
	if raw := fields[fieldArgs]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &exec.Args); err != nil {
			return nil, fmt.Errorf("corrupt args for %s: %w", key, err)
		}
	}
	if raw := fields[fieldMeta]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &exec.Meta); err != nil {
			return nil, fmt.Errorf("corrupt meta for %s: %w", key, err)
		}
	}
	if raw := fields[fieldResult]; raw != "" {
		exec.Result = json.RawMessage(raw)
	}
	exec.CreatedAt = parseTime(fields[fieldCreatedAt])
	exec.StartedAt = parseTime(fields[fieldStartedAt])
	exec.FinishedAt = parseTime(fields[fieldFinishedAt])
	return exec, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
