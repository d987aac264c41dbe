/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package tasks

import (
	"fmt"
	"net/url"
	"strings"
)

// Task kinds recorded in a task key
const (
	KindTool     = "tool"
	KindPrompt   = "prompt"
	KindResource = "resource"
)

// KeyParts are the components of a task key
type KeyParts struct {
	SessionID string
	TaskID    string
	TaskType  string
	Component string
}

// BuildKey mints the queue key for a task. It is the only place task keys
// are created; every part is escaped so the separator cannot be forged.
func BuildKey(sessionID, taskID, taskType, component string) string {
	return strings.Join([]string{
		url.QueryEscape(sessionID),
		url.QueryEscape(taskID),
		url.QueryEscape(taskType),
		url.QueryEscape(component),
	}, ":")
}

// ParseKey splits a task key built by BuildKey
func ParseKey(key string) (KeyParts, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 {
		return KeyParts{}, fmt.Errorf("malformed task key %q", key)
	}
	decoded := make([]string, len(parts))
	for i, p := range parts {
		v, err := url.QueryUnescape(p)
		if err != nil {
			return KeyParts{}, fmt.Errorf("malformed task key %q: %w", key, err)
		}
		decoded[i] = v
	}
	return KeyParts{
		SessionID: decoded[0],
		TaskID:    decoded[1],
		TaskType:  decoded[2],
		Component: decoded[3],
	}, nil
}
