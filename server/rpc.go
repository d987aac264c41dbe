/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/tasks"
)

const (
	headerSessionID  = "Mcp-Session-Id"
	anonymousSession = "anonymous"
	maxRequestBytes  = 8 << 20

	methodToolsCall   = "tools/call"
	methodTasksGet    = "tasks/get"
	methodTasksResult = "tasks/result"
	methodTasksList   = "tasks/list"
	methodTasksCancel = "tasks/cancel"

	notificationTaskCreated = "notifications/tasks/created"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// toolCallParams is the part of tools/call the task path needs
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	Task      *struct {
		TTL *int64 `json:"ttl"`
	} `json:"task"`
}

// sessionID returns the MCP session of r, or the shared anonymous session
func sessionID(r *http.Request) string {
	if id := r.Header.Get(headerSessionID); id != "" {
		return id
	}
	return anonymousSession
}

// taskIntercept answers the task protocol and task-augmented workflow calls
// from the task bridge. Everything else goes to the MCP transport unchanged.
func (s *Server) taskIntercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		_ = r.Body.Close()
		if err != nil {
			writeJSON(w, http.StatusBadRequest, rpcResponse{
				JSONRPC: "2.0",
				ID:      json.RawMessage("null"),
				Error:   &rpcError{Code: -32700, Message: "Failed to read request body"},
			})
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		var req rpcRequest
		if err := json.Unmarshal(body, &req); err != nil || len(req.ID) == 0 {
			// batches, notifications and malformed bodies are the transport's business
			next.ServeHTTP(w, r)
			return
		}

		ctx := tasks.WithSession(r.Context(), sessionID(r))
		result, handled, err := s.dispatchTaskRequest(ctx, req)
		if !handled {
			next.ServeHTTP(w, r)
			return
		}

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		if err != nil {
			taskErr := tasks.AsError(err)
			resp.Error = &rpcError{Code: taskErr.Code, Message: taskErr.Message}
		} else {
			resp.Result = result
		}
		if id := r.Header.Get(headerSessionID); id != "" {
			w.Header().Set(headerSessionID, id)
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

// dispatchTaskRequest routes one JSON-RPC request to the bridge. handled is
// false when the request is not part of the task protocol.
func (s *Server) dispatchTaskRequest(ctx context.Context, req rpcRequest) (result any, handled bool, err error) {
	switch req.Method {
	case methodTasksGet, methodTasksResult, methodTasksList, methodTasksCancel:
		params := map[string]any{}
		if len(req.Params) > 0 && string(req.Params) != "null" {
			if err := json.Unmarshal(req.Params, &params); err != nil {
				return nil, true, &tasks.Error{Code: tasks.CodeInvalidParams, Message: "Invalid params: " + err.Error()}
			}
		}
		switch req.Method {
		case methodTasksGet:
			result, err = s.bridge.Get(ctx, params)
		case methodTasksResult:
			result, err = s.bridge.Result(ctx, params)
		case methodTasksList:
			result, err = s.bridge.List(ctx, params)
		default:
			result, err = s.bridge.Cancel(ctx, params)
		}
		return result, true, err

	case methodToolsCall:
		var params toolCallParams
		if err := json.Unmarshal(req.Params, &params); err != nil || params.Task == nil {
			return nil, false, nil
		}
		if _, ok := s.dispatcher.Catalogue().Lookup(params.Name); !ok {
			// only workflows run in the background
			return nil, false, nil
		}
		s.logger.Infof("Tool %s called as task", params.Name)
		result, err = s.bridge.CreateToolTask(ctx, params.Name, params.Arguments, tasks.CreateMeta{TTLMillis: params.Task.TTL})
		return result, true, err
	}
	return nil, false, nil
}
