/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/artifacts"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
)

const serverDescription = "Atomistic simulation MCP server: structure building, analysis, optimization and molecular dynamics with downloadable artifacts."

// routes builds the HTTP surface
func (s *Server) routes() http.Handler {
	streamable := server.NewStreamableHTTPServer(s.mcpServer,
		server.WithEndpointPath(global.RouteMCP),
		server.WithStateLess(true),
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if baseURL, ok := artifacts.BaseURLFromContext(r.Context()); ok {
				return artifacts.WithBaseURL(ctx, baseURL)
			}
			return ctx
		}),
	)

	mcpHandler := s.taskIntercept(streamable)
	mux := http.NewServeMux()
	mux.Handle(global.RouteMCP, mcpHandler)
	// Legacy clients still connect on /sse; it serves the same transport
	mux.Handle(global.RouteSSE+"/", mcpHandler)
	mux.Handle(global.RouteSSE, http.RedirectHandler(global.RouteSSE+"/", http.StatusTemporaryRedirect))
	mux.HandleFunc("GET "+global.RouteArtifacts+"{id}/{filename}", s.handleArtifactDownload)
	mux.HandleFunc("GET "+global.RouteHealthz, s.handleHealthz)
	mux.HandleFunc("GET "+global.RouteServerCard, s.handleServerCard)
	mux.Handle("GET "+global.RouteMetrics, s.metrics.Handler())
	return s.withBaseURL(mux)
}

// withBaseURL scopes the request's public base URL to its context. A
// configured artifact_base_url takes precedence over request headers.
func (s *Server) withBaseURL(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.ArtifactBaseURL() == "" {
			r = r.WithContext(artifacts.WithBaseURL(r.Context(), PublicBaseURL(r)))
		}
		next.ServeHTTP(w, r)
	})
}

// PublicBaseURL derives the externally visible origin of r, honouring
// reverse proxy headers over the connection's own host
func PublicBaseURL(r *http.Request) string {
	proto := firstHeaderValue(r.Header.Get("X-Forwarded-Proto"))
	host := firstHeaderValue(r.Header.Get("X-Forwarded-Host"))
	if proto != "" && host != "" {
		return proto + "://" + host
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	} else if proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

// firstHeaderValue returns the first entry of a comma separated proxy header
func firstHeaderValue(v string) string {
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	notFound := func() {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error":       "artifact_not_found",
			"artifact_id": id,
		})
	}

	record, ok := s.store.Get(id)
	if !ok {
		notFound()
		return
	}
	f, err := os.Open(record.Path)
	if err != nil {
		s.logger.Debugf("Artifact %s file unavailable: %v", id, err)
		notFound()
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		notFound()
		return
	}

	filename := record.Filename()
	if record.Preview {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": filename}))
	} else {
		w.Header().Set("Content-Type", artifacts.MIMEType(record.Path))
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	}
	http.ServeContent(w, r, filename, info.ModTime(), f)
}

func (s *Server) handleServerCard(w http.ResponseWriter, r *http.Request) {
	base := s.enricher.BaseURL(r.Context())
	if base == "" {
		base = PublicBaseURL(r)
	}

	tools := s.dispatcher.Catalogue().Names()
	tools = append(tools, global.ToolHealth, global.ToolArtifactGet)

	writeJSON(w, http.StatusOK, map[string]any{
		"name":                           global.ProgramName,
		"description":                    serverDescription,
		"version":                        global.Version,
		"tools":                          tools,
		"artifact_formats":               artifacts.SupportedFormats(),
		"artifact_download_url_template": base + global.RouteArtifacts + "{artifact_id}/{filename}",
		"capabilities": map[string]any{
			"tools": map[string]any{"listChanged": true},
			"tasks": map[string]any{
				"list":     map[string]any{},
				"cancel":   map[string]any{},
				"requests": map[string]any{"tools": map[string]any{"call": map[string]any{}}},
			},
		},
		"transports": []map[string]any{
			{"type": "streamable-http", "url": base + global.RouteMCP},
			{"type": "streamable-http", "url": base + global.RouteSSE + "/"},
		},
	})
}
