/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package tasks

import (
	"encoding/json"
	"fmt"
)

// Meta keys attached to task responses
const (
	MetaTask        = "modelcontextprotocol.io/task"
	MetaRelatedTask = "modelcontextprotocol.io/related-task"
)

// Converter shapes a finished execution's value into the result of its task kind
type Converter func(value any, component, taskID string) (map[string]any, error)

func relatedTask(taskID string) map[string]any {
	return map[string]any{
		MetaRelatedTask: map[string]any{"taskId": taskID},
	}
}

func textContent(text string) map[string]any {
	return map[string]any{"type": "text", "text": text}
}

func asText(value any) (string, error) {
	if s, ok := value.(string); ok {
		return s, nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}
	return string(data), nil
}

// ConvertToolResult renders a tool's return value as a tool call result
func ConvertToolResult(value any, _ string, taskID string) (map[string]any, error) {
	text, err := asText(value)
	if err != nil {
		return nil, err
	}
	result := map[string]any{
		"content": []any{textContent(text)},
		"isError": false,
		"_meta":   relatedTask(taskID),
	}
	if m, ok := value.(map[string]any); ok {
		result["structuredContent"] = m
	}
	return result, nil
}

// ConvertPromptResult renders a prompt's value as a get-prompt result
func ConvertPromptResult(value any, component string, taskID string) (map[string]any, error) {
	result := map[string]any{"_meta": relatedTask(taskID)}
	if m, ok := value.(map[string]any); ok {
		if messages, ok := m["messages"]; ok {
			result["messages"] = messages
			if desc, ok := m["description"]; ok {
				result["description"] = desc
			}
			return result, nil
		}
	}
	text, err := asText(value)
	if err != nil {
		return nil, err
	}
	result["description"] = component
	result["messages"] = []any{
		map[string]any{"role": "user", "content": textContent(text)},
	}
	return result, nil
}

// ConvertResourceResult renders a resource's value as a read-resource result
func ConvertResourceResult(value any, component string, taskID string) (map[string]any, error) {
	text, err := asText(value)
	if err != nil {
		return nil, err
	}
	mimeType := "text/plain"
	if _, ok := value.(string); !ok {
		mimeType = "application/json"
	}
	return map[string]any{
		"contents": []any{
			map[string]any{"uri": component, "mimeType": mimeType, "text": text},
		},
		"_meta": relatedTask(taskID),
	}, nil
}

// errorResult is returned by tasks/result for executions that did not complete
func errorResult(message, taskID string) map[string]any {
	return map[string]any{
		"content": []any{textContent(message)},
		"isError": true,
		"_meta":   relatedTask(taskID),
	}
}
