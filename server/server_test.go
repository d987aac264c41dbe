/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/artifacts"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/config"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/logging"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/metrics"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/queue"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/tasks"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/workflows"
)

const extxyz = "1\nLattice=\"3.6 0 0 0 3.6 0 0 0 3.6\" Properties=species:S:1:pos:R:3 pbc=\"T T T\"\nCu 0 0 0\n"

// structureBackend writes a structure file for every call
type structureBackend struct {
	dir   string
	calls atomic.Int32
}

func (b *structureBackend) Run(_ context.Context, name string, args map[string]any) (map[string]any, error) {
	b.calls.Add(1)
	path := filepath.Join(b.dir, "structure.extxyz")
	if err := os.WriteFile(path, []byte(extxyz), 0o644); err != nil {
		return nil, err
	}
	return map[string]any{"status": "success", "workflow": name, "structure_filepath": path}, nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		global.ConfigEnvVar,
		global.EnvArtifactBaseURL,
		global.EnvPublicBaseURL,
		global.EnvRedisURL,
		global.EnvPort,
	} {
		t.Setenv(key, "")
	}
}

func newTestServer(t *testing.T, backend workflows.Backend) *Server {
	t.Helper()
	clearEnv(t)

	cfg := config.New(config.WithBaseDir(t.TempDir()))
	require.NoError(t, cfg.Load())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	srv, err := New(cfg, logging.NewNop(),
		WithRedisClient(client),
		WithBackend(backend),
		WithMetrics(metrics.New()),
	)
	require.NoError(t, err)
	return srv
}

func startWorkers(t *testing.T, srv *Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = srv.Queue().Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

type rpcReply struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func rpc(t *testing.T, h http.Handler, session, method string, params any) rpcReply {
	t.Helper()
	return rpcAt(t, h, global.RouteMCP, session, method, params)
}

func rpcAt(t *testing.T, h http.Handler, path, session, method string, params any) rpcReply {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")
	if session != "" {
		req.Header.Set(headerSessionID, session)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var reply rpcReply
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reply), rec.Body.String())
	return reply
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &structureBackend{dir: t.TempDir()})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, global.RouteHealthz, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestArtifactDownload(t *testing.T) {
	srv := newTestServer(t, &structureBackend{dir: t.TempDir()})
	dir := t.TempDir()

	structure := filepath.Join(dir, "cu.extxyz")
	require.NoError(t, os.WriteFile(structure, []byte(extxyz), 0o644))
	structRecord, err := srv.store.Register(structure)
	require.NoError(t, err)

	preview := filepath.Join(dir, "cu_preview.html")
	require.NoError(t, os.WriteFile(preview, []byte("<html></html>"), 0o644))
	previewRecord, err := srv.store.RegisterPreview(preview)
	require.NoError(t, err)

	// HTML written by a workflow is not a generated preview
	page := filepath.Join(dir, "report.html")
	require.NoError(t, os.WriteFile(page, []byte("<script>alert(1)</script>"), 0o644))
	pageRecord, err := srv.store.Register(page)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, artifacts.RelativeURL(structRecord), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, extxyz, rec.Body.String())
	assert.Equal(t, "chemical/x-xyz", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "cu.extxyz")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, artifacts.RelativeURL(previewRecord), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "inline"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, artifacts.RelativeURL(pageRecord), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Disposition"), "attachment"))

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/art_missing/x.xyz", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error":"artifact_not_found","artifact_id":"art_missing"}`, rec.Body.String())

	// A registered artifact whose file is gone is not found either
	require.NoError(t, os.Remove(structure))
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, artifacts.RelativeURL(structRecord), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), structRecord.ID)
}

func TestServerCard(t *testing.T) {
	srv := newTestServer(t, &structureBackend{dir: t.TempDir()})

	req := httptest.NewRequest(http.MethodGet, global.RouteServerCard, nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "sim.example.org")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var card map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &card))
	assert.Equal(t, global.ProgramName, card["name"])
	assert.Equal(t, global.Version, card["version"])
	assert.Equal(t, "https://sim.example.org/artifacts/{artifact_id}/{filename}", card["artifact_download_url_template"])
	assert.Contains(t, card["tools"], global.ToolBuildStructure)
	assert.Contains(t, card["tools"], global.ToolHealth)
	assert.Contains(t, card["artifact_formats"], "extxyz")

	transports := card["transports"].([]any)
	require.Len(t, transports, 2)
	assert.Equal(t, "https://sim.example.org/mcp", transports[0].(map[string]any)["url"])
	assert.Equal(t, "https://sim.example.org/sse/", transports[1].(map[string]any)["url"])
}

func TestPublicBaseURL(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		tls     bool
		want    string
	}{
		{name: "plain", want: "http://example.com"},
		{name: "tls", tls: true, want: "https://example.com"},
		{name: "forwarded proto only", headers: map[string]string{"X-Forwarded-Proto": "https"}, want: "https://example.com"},
		{name: "forwarded host only", headers: map[string]string{"X-Forwarded-Host": "proxy.example"}, want: "http://example.com"},
		{
			name:    "forwarded both",
			headers: map[string]string{"X-Forwarded-Proto": "https", "X-Forwarded-Host": "proxy.example, inner"},
			want:    "https://proxy.example",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if tt.tls {
				req.TLS = &tls.ConnectionState{}
			}
			assert.Equal(t, tt.want, PublicBaseURL(req))
		})
	}
}

func TestToolsListThroughTransport(t *testing.T) {
	srv := newTestServer(t, &structureBackend{dir: t.TempDir()})

	reply := rpc(t, srv.Handler(), "", "tools/list", map[string]any{})
	require.Nil(t, reply.Error)

	var listed struct {
		Tools []struct {
			Name        string         `json:"name"`
			InputSchema map[string]any `json:"inputSchema"`
		} `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &listed))

	byName := map[string]map[string]any{}
	for _, tool := range listed.Tools {
		byName[tool.Name] = tool.InputSchema
	}
	for _, name := range workflows.NewCatalogue().Names() {
		assert.Contains(t, byName, name)
	}
	assert.Contains(t, byName, global.ToolHealth)
	assert.Contains(t, byName, global.ToolArtifactGet)
	assert.Equal(t, []any{"formula"}, byName[global.ToolBuildStructure]["required"])
	for _, def := range workflows.NewCatalogue().Aliases() {
		assert.Contains(t, byName, def.Name)
	}
}

func TestLegacySSERoute(t *testing.T) {
	srv := newTestServer(t, &structureBackend{dir: t.TempDir()})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, global.RouteSSE, nil))
	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, global.RouteSSE+"/", rec.Header().Get("Location"))

	// The compatibility path serves the same transport, task methods included
	reply := rpcAt(t, h, global.RouteSSE+"/", "sess-sse", "tasks/list", map[string]any{})
	require.Nil(t, reply.Error)
	assert.JSONEq(t, `{"tasks":[]}`, string(reply.Result))
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	backend := &structureBackend{dir: t.TempDir()}
	srv := newTestServer(t, backend)
	startWorkers(t, srv)
	h := srv.Handler()

	reply := rpc(t, h, "sess-1", methodToolsCall, map[string]any{
		"name":      global.ToolBuildStructure,
		"arguments": map[string]any{"formula": "Cu"},
		"task":      map[string]any{"ttl": 60000},
	})
	require.Nil(t, reply.Error)

	var created tasks.CreateResult
	require.NoError(t, json.Unmarshal(reply.Result, &created))
	assert.Equal(t, tasks.StatusWorking, created.Task.Status)
	require.NotNil(t, created.Task.TTL)
	assert.Equal(t, int64(60000), *created.Task.TTL)
	taskID := created.Task.TaskID

	require.Eventually(t, func() bool {
		reply := rpc(t, h, "sess-1", methodTasksGet, map[string]any{"taskId": taskID})
		if reply.Error != nil {
			return false
		}
		var task tasks.Task
		return json.Unmarshal(reply.Result, &task) == nil && task.Status == tasks.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)

	reply = rpc(t, h, "sess-1", methodTasksResult, map[string]any{"taskId": taskID})
	require.Nil(t, reply.Error)
	var result struct {
		IsError           bool           `json:"isError"`
		StructuredContent map[string]any `json:"structuredContent"`
		Meta              map[string]any `json:"_meta"`
	}
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	assert.False(t, result.IsError)
	assert.Equal(t, map[string]any{"taskId": taskID}, result.Meta[tasks.MetaRelatedTask])
	assert.Equal(t, "success", result.StructuredContent["status"])

	list := result.StructuredContent[artifacts.KeyArtifacts].([]any)
	require.Len(t, list, 2)
	entry := list[0].(map[string]any)
	assert.Equal(t, "structure", entry["artifact_type"])
	download := entry["download_url"].(string)
	// the creating request's origin is carried into the worker
	assert.True(t, strings.HasPrefix(download, "http://example.com/artifacts/"), download)
	assert.True(t, strings.HasSuffix(download, "/structure.extxyz"), download)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, entry["relative_url"].(string), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, extxyz, rec.Body.String())

	reply = rpc(t, h, "sess-1", methodTasksList, map[string]any{})
	require.Nil(t, reply.Error)
	var page tasks.ListResult
	require.NoError(t, json.Unmarshal(reply.Result, &page))
	require.Len(t, page.Tasks, 1)
	assert.Equal(t, taskID, page.Tasks[0].TaskID)

	reply = rpc(t, h, "sess-1", methodTasksCancel, map[string]any{"taskId": taskID})
	require.NotNil(t, reply.Error)
	assert.Equal(t, tasks.CodeInvalidParams, reply.Error.Code)

	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestTaskProtocolErrors(t *testing.T) {
	srv := newTestServer(t, &structureBackend{dir: t.TempDir()})
	h := srv.Handler()

	reply := rpc(t, h, "sess-1", methodTasksGet, map[string]any{"taskId": "nope"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, tasks.CodeTaskNotFound, reply.Error.Code)

	reply = rpc(t, h, "sess-1", methodTasksGet, map[string]any{})
	require.NotNil(t, reply.Error)
	assert.Equal(t, tasks.CodeInvalidParams, reply.Error.Code)

	reply = rpc(t, h, "sess-1", methodTasksList, map[string]any{"limit": 0})
	require.NotNil(t, reply.Error)
	assert.Equal(t, tasks.CodeInvalidParams, reply.Error.Code)

	reply = rpc(t, h, "", methodTasksList, map[string]any{"cursor": "-1"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, tasks.CodeInvalidParams, reply.Error.Code)
}

func TestCancelQueuedTaskOverHTTP(t *testing.T) {
	backend := &structureBackend{dir: t.TempDir()}
	srv := newTestServer(t, backend)
	h := srv.Handler()

	// no workers: the task stays queued until cancelled
	reply := rpc(t, h, "", methodToolsCall, map[string]any{
		"name":      global.ToolRunMD,
		"arguments": map[string]any{"input_filepath": "cu.extxyz"},
		"task":      map[string]any{},
	})
	require.Nil(t, reply.Error)
	var created tasks.CreateResult
	require.NoError(t, json.Unmarshal(reply.Result, &created))

	reply = rpc(t, h, "", methodTasksCancel, map[string]any{"taskId": created.Task.TaskID})
	require.Nil(t, reply.Error)
	var task tasks.Task
	require.NoError(t, json.Unmarshal(reply.Result, &task))
	assert.Equal(t, tasks.StatusCancelled, task.Status)

	reply = rpc(t, h, anonymousSession, methodTasksGet, map[string]any{"taskId": created.Task.TaskID})
	require.Nil(t, reply.Error)
	require.NoError(t, json.Unmarshal(reply.Result, &task))
	assert.Equal(t, tasks.StatusCancelled, task.Status)
	assert.Equal(t, int32(0), backend.calls.Load())
}

func TestRunExecutionRestoresBaseURL(t *testing.T) {
	srv := newTestServer(t, &structureBackend{dir: t.TempDir()})

	value, err := srv.runExecution(context.Background(), &queue.Execution{
		Function: global.ToolBuildStructure,
		Args:     map[string]any{"formula": "Cu"},
		Meta:     map[string]string{tasks.MetaBaseURL: "https://worker.example"},
	})
	require.NoError(t, err)

	payload := value.(map[string]any)
	list := payload[artifacts.KeyArtifacts].([]map[string]any)
	assert.True(t, strings.HasPrefix(list[0]["download_url"].(string), "https://worker.example/artifacts/"))
}

func TestHealthTool(t *testing.T) {
	srv := newTestServer(t, &structureBackend{dir: t.TempDir()})

	health := srv.health(context.Background())
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "ok", health["redis"])
	assert.Equal(t, 0, health["artifacts"])
	assert.Equal(t, 0, health["recent_failures"])
	stats := health["queue"].(queue.Stats)
	assert.False(t, stats.Running)
}
