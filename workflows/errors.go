/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package workflows

import (
	"errors"
	"regexp"
	"strings"
)

// Error types that do not originate in the scientific stack itself
const (
	ErrTypeBackend    = "BackendError"
	ErrTypeTimeout    = "TimeoutError"
	ErrTypeCancelled  = "CancelledError"
	ErrTypeValidation = "ValidationError"
)

// Error is a failed workflow run. Type carries the exception class reported
// by the backend (e.g. RuntimeError) or one of the ErrType constants.
type Error struct {
	Type      string
	Message   string
	Traceback string
	ExitCode  int
	MaxRSSKB  int64
	Err       error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Type
	}
	return e.Type + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError converts any error into a workflow Error
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var wfErr *Error
	if errors.As(err, &wfErr) {
		return wfErr
	}
	return &Error{Type: ErrTypeBackend, Message: err.Error(), Err: err}
}

// IsTimeout reports whether err is a workflow timeout
func IsTimeout(err error) bool {
	var wfErr *Error
	return errors.As(err, &wfErr) && wfErr.Type == ErrTypeTimeout
}

// IsCancelled reports whether err is a cancelled workflow run
func IsCancelled(err error) bool {
	var wfErr *Error
	return errors.As(err, &wfErr) && wfErr.Type == ErrTypeCancelled
}

// exceptionLine matches the closing line of a traceback, e.g. "ValueError: bad input"
var exceptionLine = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_.]*(?:Error|Exception|Exit|Interrupt|Warning)):\s*(.*)$`)

// parseTraceback extracts the exception type and message from the last
// matching line of stderr
func parseTraceback(stderr string) (string, string, bool) {
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if m := exceptionLine.FindStringSubmatch(line); m != nil {
			typ := m[1]
			if idx := strings.LastIndex(typ, "."); idx >= 0 {
				typ = typ[idx+1:]
			}
			return typ, m[2], true
		}
	}
	return "", "", false
}

// lastLines keeps the tail of s
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
