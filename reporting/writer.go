/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package reporting persists failed tool invocations as JSON error reports
// and keeps an append-only index of them.
package reporting

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/logging"
)

const (
	indexFileName = "index.jsonl"
	lockFileName  = "index.jsonl.lock"
	timeLayout    = "20060102T150405Z"
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// ErrorInfo describes the failure captured in a report
type ErrorInfo struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Traceback string `json:"traceback,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// Report is one persisted failure
type Report struct {
	Tool      string         `json:"tool_name"`
	Timestamp time.Time      `json:"timestamp"`
	Error     ErrorInfo      `json:"error"`
	Inputs    map[string]any `json:"inputs"`
	Hints     []string       `json:"hints"`
	Resources map[string]any `json:"resources,omitempty"`
}

// IndexEntry is one line of the report index
type IndexEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Tool      string    `json:"tool_name"`
	ErrorType string    `json:"error_type"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}

// Writer stores reports under a single directory
type Writer struct {
	dir    string
	logger *logging.Logger
}

// New creates a Writer rooted at dir
func New(dir string, logger *logging.Logger) *Writer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Writer{dir: dir, logger: logger}
}

// Dir returns the report directory
func (w *Writer) Dir() string {
	return w.dir
}

// Write persists report and appends it to the index. The returned path is
// the report file.
func (w *Writer) Write(report Report) (string, error) {
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}
	report.Timestamp = report.Timestamp.UTC()

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s.json",
		sanitize(report.Tool),
		report.Timestamp.Format(timeLayout),
		strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	path := filepath.Join(w.dir, name)

	if err := global.AtomicWrite(path, data); err != nil {
		return "", err
	}

	entry := IndexEntry{
		Timestamp: report.Timestamp,
		Tool:      report.Tool,
		ErrorType: report.Error.Type,
		Message:   report.Error.Message,
		Path:      path,
	}
	if err := w.appendIndex(entry); err != nil {
		// The report itself is on disk; a missing index line is recoverable
		w.logger.Warnf("Failed to index error report %s: %v", path, err)
	}

	w.logger.Infof("Wrote error report for %s to %s", report.Tool, path)
	return path, nil
}

// Recent returns up to n index entries, newest first
func (w *Writer) Recent(n int) ([]IndexEntry, error) {
	if n <= 0 {
		return []IndexEntry{}, nil
	}

	var entries []IndexEntry
	err := w.withLock(false, func() error {
		data, err := os.ReadFile(filepath.Join(w.dir, indexFileName))
		if os.IsNotExist(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read index: %w", err)
		}

		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var entry IndexEntry
			if err := json.Unmarshal(line, &entry); err != nil {
				w.logger.Debugf("Skipping malformed index line: %v", err)
				continue
			}
			entries = append(entries, entry)
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, err
	}

	out := make([]IndexEntry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (w *Writer) appendIndex(entry IndexEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal index entry: %w", err)
	}
	line = append(line, '\n')

	return w.withLock(true, func() error {
		f, err := os.OpenFile(filepath.Join(w.dir, indexFileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open index: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(line); err != nil {
			return fmt.Errorf("failed to append index: %w", err)
		}
		return nil
	})
}

// withLock runs fn holding the index lock, exclusive or shared
func (w *Writer) withLock(exclusive bool, fn func() error) error {
	if err := global.EnsureDir(w.dir); err != nil {
		return err
	}

	lock := flock.New(filepath.Join(w.dir, lockFileName))
	var err error
	if exclusive {
		err = lock.Lock()
	} else {
		err = lock.RLock()
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.Unlock()

	return fn()
}

func sanitize(name string) string {
	name = unsafeChars.ReplaceAllString(name, "_")
	if name == "" {
		return "unknown"
	}
	return name
}
