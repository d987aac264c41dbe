/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package reporting

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport(tool string) Report {
	return Report{
		Tool:      tool,
		Timestamp: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Error: ErrorInfo{
			Type:      "RuntimeError",
			Message:   "calculation diverged",
			Traceback: "Traceback (most recent call last): ...",
			ElapsedMS: 1200,
		},
		Inputs: map[string]any{"calculator_name": "emt"},
		Hints:  []string{"try a smaller timestep"},
	}
}

func TestWriteCreatesReport(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, nil)

	path, err := w.Write(sampleReport("run_md_workflow"))
	require.NoError(t, err)

	assert.Equal(t, dir, filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`^run_md_workflow_20260304T050607Z_[0-9a-f]{8}\.json$`), filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got Report
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "run_md_workflow", got.Tool)
	assert.Equal(t, "calculation diverged", got.Error.Message)
	assert.Equal(t, "emt", got.Inputs["calculator_name"])
}

func TestWriteSanitizesToolName(t *testing.T) {
	w := New(t.TempDir(), nil)
	path, err := w.Write(sampleReport("../../evil name"))
	require.NoError(t, err)
	assert.Equal(t, w.Dir(), filepath.Dir(path))
	assert.True(t, strings.HasPrefix(filepath.Base(path), "_evil_name_"))
}

func TestIndexAndRecent(t *testing.T) {
	w := New(t.TempDir(), nil)

	recent, err := w.Recent(5)
	require.NoError(t, err)
	assert.Empty(t, recent)

	for _, tool := range []string{"a", "b", "c"} {
		_, err := w.Write(sampleReport(tool))
		require.NoError(t, err)
	}

	recent, err = w.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Tool)
	assert.Equal(t, "b", recent[1].Tool)
	assert.Equal(t, "RuntimeError", recent[0].ErrorType)
	assert.FileExists(t, recent[0].Path)

	data, err := os.ReadFile(filepath.Join(w.Dir(), indexFileName))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 3)
}

func TestConcurrentWritesKeepIndexLinesIntact(t *testing.T) {
	w := New(t.TempDir(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.Write(sampleReport("single_point_workflow"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	recent, err := w.Recent(100)
	require.NoError(t, err)
	assert.Len(t, recent, 20)
}

func TestRecentNonPositive(t *testing.T) {
	recent, err := New(t.TempDir(), nil).Recent(0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
