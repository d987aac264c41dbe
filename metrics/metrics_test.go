/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveToolCall("run_md_workflow", "success", 2*time.Second)
	m.ObserveToolCall("run_md_workflow", "error", time.Second)
	m.ObserveToolCall("run_md_workflow", "success", time.Second)
	m.ArtifactRegistered("structure")
	m.TaskOperation("cancel", "ok")
	m.ExecutionFinished("run_md_workflow", "completed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("run_md_workflow", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("run_md_workflow", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.artifactsRegistered.WithLabelValues("structure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.taskOperations.WithLabelValues("cancel", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.queueExecutions.WithLabelValues("run_md_workflow", "completed")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveToolCall("x", "success", time.Second)
		m.ArtifactRegistered("file")
		m.TaskOperation("get", "ok")
		m.ExecutionFinished("x", "failed")
	})
}

func TestHandler(t *testing.T) {
	m := New()
	m.ArtifactRegistered("image")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `atomictoolkit_artifacts_registered_total{type="image"} 1`)
}
