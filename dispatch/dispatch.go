/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package dispatch runs workflow tool calls: it validates arguments, invokes
// the backend, and turns the outcome into an enriched result payload. Failures
// become structured error payloads, never Go errors.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/artifacts"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/logging"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/metrics"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/queue"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/reporting"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/workflows"
)

const (
	StatusOK    = "ok"
	StatusError = "error"

	// NextAction is attached to every error payload
	NextAction = "Do not replace the workflow with hand-written code. Adjust the inputs using the hints and call the same tool again."

	// ReportLabel labels the error report artifact
	ReportLabel = "error_report"
)

// Dispatcher executes workflow tools
type Dispatcher struct {
	catalogue *workflows.Catalogue
	validator *workflows.Validator
	backend   workflows.Backend
	enricher  *artifacts.Enricher
	reports   *reporting.Writer
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithReports persists a report for every failed call
func WithReports(w *reporting.Writer) Option {
	return func(d *Dispatcher) {
		d.reports = w
	}
}

// WithLogger sets the logger
func WithLogger(logger *logging.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// New creates a Dispatcher
func New(catalogue *workflows.Catalogue, backend workflows.Backend, enricher *artifacts.Enricher, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		catalogue: catalogue,
		backend:   backend,
		enricher:  enricher,
		logger:    logging.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.validator = workflows.NewValidator(d.logger)
	return d
}

// Catalogue returns the workflows this dispatcher serves
func (d *Dispatcher) Catalogue() *workflows.Catalogue {
	return d.catalogue
}

// Call runs one workflow tool and returns its result payload
func (d *Dispatcher) Call(ctx context.Context, tool string, args map[string]any) map[string]any {
	start := d.now()
	d.logCall(tool, args)

	def, ok := d.catalogue.Lookup(tool)
	if !ok {
		return d.fail(ctx, tool, args, start, &workflows.Error{
			Type:    workflows.ErrTypeValidation,
			Message: fmt.Sprintf("Unknown tool: %s", tool),
		})
	}

	args = def.ApplyDefaults(args)
	validation, err := d.validator.Validate(def, args)
	if err != nil {
		return d.fail(ctx, tool, args, start, err)
	}
	if !validation.Valid {
		return d.fail(ctx, tool, args, start, &workflows.Error{
			Type:    workflows.ErrTypeValidation,
			Message: strings.Join(validation.Errors, "; "),
		})
	}

	// Backend progress lines land on the queue execution when running as a task
	ctx = workflows.WithProgress(ctx, queue.ReportProgress)

	// Deprecated aliases run their workflow with its remaining defaults
	workflow, runArgs := def.Workflow(), args
	if target, ok := d.catalogue.Lookup(workflow); ok && workflow != def.Name {
		runArgs = target.ApplyDefaults(args)
	}

	result, err := d.backend.Run(ctx, workflow, runArgs)
	if err != nil {
		return d.fail(ctx, tool, args, start, err)
	}

	elapsed := d.now().Sub(start)
	d.metrics.ObserveToolCall(tool, StatusOK, elapsed)
	d.logger.Infof("Tool %s completed in %s", tool, elapsed.Round(time.Millisecond))

	if result == nil {
		result = map[string]any{"status": StatusOK}
	}
	return d.enricher.Enrich(ctx, result)
}

// fail builds the error payload for a failed call
func (d *Dispatcher) fail(ctx context.Context, tool string, args map[string]any, start time.Time, err error) map[string]any {
	wfErr := workflows.AsError(err)
	finished := d.now()
	elapsed := finished.Sub(start)

	d.metrics.ObserveToolCall(tool, StatusError, elapsed)
	if workflows.IsCancelled(wfErr) {
		d.logger.Infof("Tool %s cancelled after %s", tool, elapsed.Round(time.Millisecond))
	} else {
		d.logger.Errorf("Tool %s failed after %s: %s", tool, elapsed.Round(time.Millisecond), wfErr.Error())
	}

	inputs := CompactArgs(args)
	hints := Hints(tool, args, wfErr)
	resources := Snapshot(wfErr.MaxRSSKB)

	payload := map[string]any{
		"status":    StatusError,
		"tool_name": tool,
		"error": map[string]any{
			"type":       wfErr.Type,
			"message":    wfErr.Message,
			"elapsed_ms": elapsed.Milliseconds(),
			"traceback":  wfErr.Traceback,
			"timestamp":  finished.UTC().Format(time.RFC3339),
		},
		"inputs":      inputs,
		"hints":       hints,
		"next_action": NextAction,
		"resources":   resources,
	}

	if d.reports != nil && !workflows.IsCancelled(wfErr) {
		path, werr := d.reports.Write(reporting.Report{
			Tool:      tool,
			Timestamp: finished.UTC(),
			Error: reporting.ErrorInfo{
				Type:      wfErr.Type,
				Message:   wfErr.Message,
				Traceback: wfErr.Traceback,
				ElapsedMS: elapsed.Milliseconds(),
			},
			Inputs:    inputs,
			Hints:     hints,
			Resources: resources,
		})
		if werr != nil {
			d.logger.Warnf("Failed to write error report for %s: %v", tool, werr)
		} else {
			payload["error_report_path"] = artifacts.FileRef{Path: path, Label: ReportLabel}
		}
	}

	return d.enricher.Enrich(ctx, payload)
}

// logCall logs the tool name and its non-empty scalar arguments
func (d *Dispatcher) logCall(tool string, args map[string]any) {
	var parts []string
	for k, v := range args {
		switch val := v.(type) {
		case string:
			if val != "" {
				parts = append(parts, fmt.Sprintf("%s=%s", k, val))
			}
		case bool, float64, int, int64:
			parts = append(parts, fmt.Sprintf("%s=%v", k, val))
		}
	}
	if len(parts) == 0 {
		d.logger.Infof("Tool %s called", tool)
		return
	}
	sort.Strings(parts)
	d.logger.Infof("Tool %s called: %s", tool, strings.Join(parts, ", "))
}

// CompactArgs summarizes large argument values so error payloads stay small
func CompactArgs(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch val := v.(type) {
		case string:
			if len(val) > maxInputChars {
				out[k] = fmt.Sprintf("<str:%d chars>", len(val))
				continue
			}
		case []any:
			if len(val) > maxInputItems {
				out[k] = fmt.Sprintf("<list:%d items>", len(val))
				continue
			}
		case map[string]any:
			if len(val) > maxInputItems {
				out[k] = fmt.Sprintf("<dict:%d keys>", len(val))
				continue
			}
		}
		out[k] = v
	}
	return out
}

const (
	maxInputChars = 200
	maxInputItems = 25
)
