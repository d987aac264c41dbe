/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package tasks

import (
	"errors"
	"fmt"
)

// JSON-RPC error codes used by the task protocol
const (
	CodeInvalidParams = -32602
	CodeInternal      = -32603
	CodeTaskNotFound  = -32002
)

// Error is a task protocol error, rendered as a JSON-RPC error object
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func invalidParams(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf(format, args...)}
}

func internal(format string, args ...any) *Error {
	return &Error{Code: CodeInternal, Message: fmt.Sprintf(format, args...)}
}

func notFound(taskID string) *Error {
	return &Error{Code: CodeTaskNotFound, Message: fmt.Sprintf("Task %s not found", taskID)}
}

var errNoContext = internal("Background tasks require a running server context")

// AsError converts err into a protocol error; anything unexpected is internal
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var taskErr *Error
	if errors.As(err, &taskErr) {
		return taskErr
	}
	return internal("Internal error: %v", err)
}

// Code returns the protocol code carried by err, or CodeInternal
func Code(err error) int {
	return AsError(err).Code
}
