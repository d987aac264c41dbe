/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/artifacts"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/queue"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/tasks"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/workflows"
)

// recentFailureWindow is how many report index lines health looks at
const recentFailureWindow = 20

// Helper function to create JSON tool results safely
func createJSONResult(data interface{}) (*mcp.CallToolResult, error) {
	result, err := mcp.NewToolResultJSON(data)
	if err != nil {
		return mcp.NewToolResultError("Failed to create JSON result"), nil
	}
	return result, nil
}

// logToolCall logs an MCP tool invocation at INFO level
func (s *Server) logToolCall(toolName string, params map[string]string) {
	var parts []string
	for k, v := range params {
		if v != "" {
			parts = append(parts, fmt.Sprintf("%s=%s", k, v))
		}
	}
	if len(parts) == 0 {
		s.logger.Infof("Tool %s called", toolName)
		return
	}
	sort.Strings(parts)
	s.logger.Infof("Tool %s called: %s", toolName, strings.Join(parts, ", "))
}

// structuredResult returns payload as structured content with a JSON text fallback
func structuredResult(payload map[string]any) (*mcp.CallToolResult, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultStructured(payload, string(text)), nil
}

// readOnlyTool creates a tool with read-only annotations
func (s *Server) readOnlyTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	opts = append(opts, mcp.WithToolAnnotation(mcp.ToolAnnotation{
		ReadOnlyHint:    mcp.ToBoolPtr(true),
		DestructiveHint: mcp.ToBoolPtr(false),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}))
	return mcp.NewTool(name, opts...)
}

// workflowTool creates a tool whose input schema comes from the workflow catalogue
func workflowTool(def workflows.Definition) (mcp.Tool, error) {
	schema, err := json.Marshal(def.Schema())
	if err != nil {
		return mcp.Tool{}, fmt.Errorf("failed to encode schema for %s: %w", def.Name, err)
	}
	tool := mcp.NewToolWithRawSchema(def.Name, def.Description, schema)
	tool.Annotations = mcp.ToolAnnotation{
		Title:           def.Title,
		ReadOnlyHint:    mcp.ToBoolPtr(def.ReadOnly),
		DestructiveHint: mcp.ToBoolPtr(false),
		IdempotentHint:  mcp.ToBoolPtr(def.ReadOnly),
		OpenWorldHint:   mcp.ToBoolPtr(false),
	}
	return tool, nil
}

// registerTools registers all MCP tools
func (s *Server) registerTools() error {
	catalogue := s.dispatcher.Catalogue()
	for _, def := range append(catalogue.Definitions(), catalogue.Aliases()...) {
		tool, err := workflowTool(def)
		if err != nil {
			return err
		}
		s.mcpServer.AddTool(tool, s.handleWorkflow(def.Name))
	}

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolHealth,
			mcp.WithDescription("Report service health: Redis connectivity, background worker state, registered artifacts and recent workflow failures."),
		), s.handleHealth)

	s.mcpServer.AddTool(
		s.readOnlyTool(global.ToolArtifactGet,
			mcp.WithDescription("Return metadata and the download URL of a previously generated artifact."),
			mcp.WithString("artifact_id",
				mcp.Description("Artifact id (art_...) from an earlier tool result"),
				mcp.Required(),
			),
		), s.handleArtifactGet)

	return nil
}

// handleWorkflow runs a workflow synchronously within the tool call
func (s *Server) handleWorkflow(name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return structuredResult(s.dispatcher.Call(ctx, name, request.GetArguments()))
	}
}

// registerWorkers installs a queue handler per workflow so task executions
// run through the same dispatcher as direct calls
func (s *Server) registerWorkers() {
	catalogue := s.dispatcher.Catalogue()
	for _, name := range catalogue.Names() {
		s.queue.Register(name, s.runExecution)
	}
	for _, def := range catalogue.Aliases() {
		s.queue.Register(def.Name, s.runExecution)
	}
}

func (s *Server) runExecution(ctx context.Context, exec *queue.Execution) (any, error) {
	if baseURL := exec.Meta[tasks.MetaBaseURL]; baseURL != "" {
		ctx = artifacts.WithBaseURL(ctx, baseURL)
	}
	payload := s.dispatcher.Call(ctx, exec.Function, exec.Args)
	if err := ctx.Err(); err != nil {
		// cancelled by the client or interrupted by shutdown
		return nil, fmt.Errorf("execution interrupted: %w", err)
	}
	return payload, nil
}

func (s *Server) handleHealth(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.logToolCall(global.ToolHealth, nil)
	return createJSONResult(s.health(ctx))
}

func (s *Server) health(ctx context.Context) map[string]any {
	status := "ok"
	redisStatus := "ok"

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.redis.Ping(pingCtx).Err(); err != nil {
		status = "degraded"
		redisStatus = err.Error()
	}

	result := map[string]any{
		"status":    status,
		"name":      global.ProgramName,
		"version":   global.Version,
		"redis":     redisStatus,
		"artifacts": s.store.Len(),
	}

	if stats, err := s.queue.Stats(ctx); err == nil {
		result["queue"] = stats
	} else {
		result["queue"] = map[string]any{"error": err.Error()}
	}

	if recent, err := s.reports.Recent(recentFailureWindow); err == nil {
		result["recent_failures"] = len(recent)
		if len(recent) > 0 {
			result["last_failure"] = recent[0]
		}
	}
	return result
}

func (s *Server) handleArtifactGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := mcp.ParseString(request, "artifact_id", "")

	s.logToolCall(global.ToolArtifactGet, map[string]string{"artifact_id": id})

	if id == "" {
		return mcp.NewToolResultError("artifact_id parameter is required"), nil
	}
	record, ok := s.store.Get(id)
	if !ok || !global.FileExists(record.Path) {
		return mcp.NewToolResultError(fmt.Sprintf("artifact %s not found", id)), nil
	}
	return createJSONResult(s.enricher.Describe(ctx, record.Filename(), record))
}
