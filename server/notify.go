/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/tasks"
)

// sessionNotifier delivers task notifications through the MCP server
type sessionNotifier struct {
	mcp *server.MCPServer
}

func (n *sessionNotifier) NotifyTaskCreated(_ context.Context, sessionID, taskID string) error {
	if sessionID == anonymousSession {
		return nil
	}
	return n.mcp.SendNotificationToSpecificClient(sessionID, notificationTaskCreated, map[string]any{
		"taskId": taskID,
		"_meta": map[string]any{
			tasks.MetaRelatedTask: map[string]any{"taskId": taskID},
		},
	})
}
