/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package tasks

import "github.com/XirtamEsrevni/mcp-atomictoolkit/queue"

// Status is the public task status
type Status string

const (
	StatusWorking       Status = "working"
	StatusInputRequired Status = "input_required"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusCancelled     Status = "cancelled"
)

var stateToStatus = map[queue.State]Status{
	queue.StateScheduled: StatusWorking,
	queue.StateQueued:    StatusWorking,
	queue.StateRunning:   StatusWorking,
	queue.StateCompleted: StatusCompleted,
	queue.StateFailed:    StatusFailed,
	queue.StateCancelled: StatusCancelled,
}

// StatusFor maps an execution state to the public status. Unknown states are failed.
func StatusFor(state queue.State) Status {
	if s, ok := stateToStatus[state]; ok {
		return s
	}
	return StatusFailed
}

// statusMessage describes failed and cancelled executions, or relays the
// progress text of a task that is still working
func statusMessage(exec *queue.Execution) string {
	switch StatusFor(exec.State) {
	case StatusFailed:
		return "Task failed"
	case StatusCancelled:
		return "Task cancelled"
	case StatusWorking:
		return exec.Progress
	}
	return ""
}
