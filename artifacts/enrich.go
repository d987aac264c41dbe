/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package artifacts

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"sort"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/logging"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/metrics"
)

// Keys added to enriched results
const (
	KeyArtifacts = "artifacts"
	KeyNotes     = "artifact_notes"

	// Notes is the static usage note attached next to the artifact list
	Notes = "Use download_url links to retrieve generated files; binary content is not inlined."

	previewLabelSuffix = "_preview_html"
)

// Enricher registers file paths found in results and attaches download metadata
type Enricher struct {
	store          *Store
	previewDir     string
	defaultBaseURL string
	logger         *logging.Logger
	metrics        *metrics.Metrics
}

// Option configures an Enricher
type Option func(*Enricher)

// WithPreviewDir sets where generated HTML previews are written
func WithPreviewDir(dir string) Option {
	return func(e *Enricher) {
		e.previewDir = dir
	}
}

// WithDefaultBaseURL sets the process-wide base URL used when a request has none
func WithDefaultBaseURL(baseURL string) Option {
	return func(e *Enricher) {
		e.defaultBaseURL = NormalizeBaseURL(baseURL)
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(e *Enricher) {
		e.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Enricher) {
		e.metrics = m
	}
}

// NewEnricher creates an enricher backed by store
func NewEnricher(store *Store, opts ...Option) *Enricher {
	e := &Enricher{
		store:      store,
		previewDir: filepath.Join(os.TempDir(), "atomictoolkit-previews"),
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the backing store
func (e *Enricher) Store() *Store {
	return e.store
}

// BaseURL returns the effective base URL for ctx
func (e *Enricher) BaseURL(ctx context.Context) string {
	return EffectiveBaseURL(ctx, e.defaultBaseURL)
}

// RelativeURL builds the host-independent download path for a record
func RelativeURL(record Record) string {
	return "/artifacts/" + record.ID + "/" + url.PathEscape(record.Filename())
}

// DownloadURL prefixes the relative URL with the effective base URL, if any
func (e *Enricher) DownloadURL(ctx context.Context, record Record) string {
	rel := RelativeURL(record)
	if base := e.BaseURL(ctx); base != "" {
		return base + rel
	}
	return rel
}

type candidate struct {
	label string
	path  string
}

// Enrich scans result for existing, allow-listed files, registers them and
// returns a shallow copy carrying an "artifacts" list and a usage note.
// When nothing qualifies, result itself is returned.
func (e *Enricher) Enrich(ctx context.Context, result map[string]any) map[string]any {
	var found []candidate
	collect(result, "", &found)
	if len(found) == 0 {
		return result
	}

	var entries []map[string]any
	for _, c := range found {
		record, err := e.store.Register(c.path)
		if err != nil {
			// File vanished between the scan and registration
			e.logger.Debugf("Skipping artifact %s: %v", c.path, err)
			continue
		}
		e.metrics.ArtifactRegistered(string(GuessType(record.Path)))
		entries = append(entries, e.Describe(ctx, c.label, record))

		if _, ok := PreviewFormat(record.Path); ok {
			if preview, ok := e.preview(ctx, c.label, record); ok {
				entries = append(entries, preview)
			}
		}
	}

	if len(entries) == 0 {
		return result
	}

	enriched := make(map[string]any, len(result)+2)
	for k, v := range result {
		enriched[k] = v
	}
	enriched[KeyArtifacts] = entries
	enriched[KeyNotes] = Notes
	return enriched
}

// preview generates and registers the HTML viewer for a structure artifact.
// Failures are logged and skipped; the primary artifact is already recorded.
func (e *Enricher) preview(ctx context.Context, label string, source Record) (map[string]any, bool) {
	path, err := writePreview(e.previewDir, source, RelativeURL(source))
	if err != nil {
		e.logger.Warnf("HTML preview for %s failed: %v", source.Path, err)
		return nil, false
	}
	record, err := e.store.RegisterPreview(path)
	if err != nil {
		e.logger.Warnf("HTML preview for %s could not be registered: %v", source.Path, err)
		return nil, false
	}
	e.metrics.ArtifactRegistered(string(TypeHTMLPreview))
	entry := e.Describe(ctx, label+previewLabelSuffix, record)
	entry["artifact_type"] = string(TypeHTMLPreview)
	entry["mimeType"] = "text/html"
	entry["source_artifact_id"] = source.ID
	return entry, true
}

// Describe returns the metadata entry for a registered artifact
func (e *Enricher) Describe(ctx context.Context, label string, record Record) map[string]any {
	entry := map[string]any{
		"label":         label,
		"id":            record.ID,
		"artifact_type": string(GuessType(record.Path)),
		"mimeType":      MIMEType(record.Path),
		"filepath":      record.Path,
		"filename":      record.Filename(),
		"relative_url":  RelativeURL(record),
		"download_url":  e.DownloadURL(ctx, record),
	}
	if info, err := os.Stat(record.Path); err == nil {
		entry["size_bytes"] = info.Size()
	}
	return entry
}

// collect walks maps and sequences. Strings are candidates only as direct map
// values; FileRef values are candidates anywhere. Map keys are visited in
// sorted order so the artifact list is deterministic.
func collect(value any, label string, out *[]candidate) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child := v[k]
			if s, ok := child.(string); ok {
				if isCandidate(s) {
					*out = append(*out, candidate{label: k, path: s})
				}
				continue
			}
			collect(child, k, out)
		}
	case []any:
		for _, item := range v {
			if _, ok := item.(string); ok {
				continue
			}
			collect(item, label, out)
		}
	case []map[string]any:
		for _, item := range v {
			collect(item, label, out)
		}
	case FileRef:
		collectRef(v, label, out)
	case *FileRef:
		if v != nil {
			collectRef(*v, label, out)
		}
	case []FileRef:
		for _, ref := range v {
			collectRef(ref, label, out)
		}
	}
}

func collectRef(ref FileRef, label string, out *[]candidate) {
	if !isCandidate(ref.Path) {
		return
	}
	if ref.Label != "" {
		label = ref.Label
	}
	*out = append(*out, candidate{label: label, path: ref.Path})
}

// isCandidate reports whether value names an existing regular file with an allow-listed suffix
func isCandidate(value string) bool {
	if value == "" {
		return false
	}
	path := global.ExpandHome(value)
	if !global.FileExists(path) {
		return false
	}
	return Allowed(path)
}
