/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/logging"
)

// ProgressPrefix marks backend stderr lines that carry progress messages
const ProgressPrefix = "PROGRESS:"

const (
	maxStderrBytes = 1 << 20
	tracebackLines = 60
	waitDelay      = 5 * time.Second
)

// Backend runs a workflow and returns its JSON result
type Backend interface {
	Run(ctx context.Context, name string, args map[string]any) (map[string]any, error)
}

// ProgressFunc receives progress messages emitted by a running workflow
type ProgressFunc func(ctx context.Context, message string)

// CommandBackend runs each workflow as a child process. The workflow name is
// appended to the configured arguments and the JSON arguments are written to
// stdin. A zero exit status means stdout holds the JSON result.
type CommandBackend struct {
	command string
	args    []string
	env     map[string]string
	workDir string
	timeout time.Duration
	logger  *logging.Logger
}

// BackendOption configures a CommandBackend
type BackendOption func(*CommandBackend)

// WithArgs sets the arguments placed before the workflow name
func WithArgs(args ...string) BackendOption {
	return func(b *CommandBackend) {
		b.args = args
	}
}

// WithEnv adds environment variables for the child process
func WithEnv(env map[string]string) BackendOption {
	return func(b *CommandBackend) {
		b.env = env
	}
}

// WithWorkDir sets the child's working directory
func WithWorkDir(dir string) BackendOption {
	return func(b *CommandBackend) {
		b.workDir = dir
	}
}

// WithTimeout bounds each run; zero disables the limit
func WithTimeout(timeout time.Duration) BackendOption {
	return func(b *CommandBackend) {
		b.timeout = timeout
	}
}

// WithBackendLogger sets the logger
func WithBackendLogger(logger *logging.Logger) BackendOption {
	return func(b *CommandBackend) {
		b.logger = logger
	}
}

// NewCommandBackend creates a backend running command
func NewCommandBackend(command string, opts ...BackendOption) *CommandBackend {
	b := &CommandBackend{
		command: command,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type progressKey struct{}

// WithProgress attaches a progress sink to ctx for the backend to report into
func WithProgress(ctx context.Context, fn ProgressFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, fn)
}

func progressFrom(ctx context.Context) ProgressFunc {
	if fn, ok := ctx.Value(progressKey{}).(ProgressFunc); ok {
		return fn
	}
	return nil
}

// Run executes the named workflow
func (b *CommandBackend) Run(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	input, err := json.Marshal(args)
	if err != nil {
		return nil, &Error{Type: ErrTypeBackend, Message: fmt.Sprintf("failed to encode arguments: %v", err), Err: err}
	}

	runCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	cmdArgs := append(append([]string{}, b.args...), name)
	cmd := exec.CommandContext(runCtx, b.command, cmdArgs...)
	cmd.Dir = b.workDir
	cmd.Env = b.environ(name)
	cmd.Stdin = bytes.NewReader(input)
	cmd.WaitDelay = waitDelay

	var stdout bytes.Buffer
	stderr := &stderrWriter{ctx: ctx, progress: progressFrom(ctx)}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	b.logger.Debugf("Executing workflow %s: %s %v", name, b.command, cmdArgs)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	exitCode := 0
	var maxRSS int64
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
		maxRSS = maxRSSKB(cmd.ProcessState)
	}
	stderr.flush()

	if runErr != nil {
		// Deadline and cancellation take precedence over the exit status they caused
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			b.logger.Errorf("Workflow %s timed out after %s", name, b.timeout)
			return nil, &Error{
				Type:      ErrTypeTimeout,
				Message:   fmt.Sprintf("workflow %s timed out after %s", name, b.timeout),
				Traceback: lastLines(stderr.String(), tracebackLines),
				ExitCode:  exitCode,
				MaxRSSKB:  maxRSS,
				Err:       context.DeadlineExceeded,
			}
		}
		if ctx.Err() != nil {
			return nil, &Error{
				Type:     ErrTypeCancelled,
				Message:  fmt.Sprintf("workflow %s was cancelled", name),
				ExitCode: exitCode,
				MaxRSSKB: maxRSS,
				Err:      ctx.Err(),
			}
		}

		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			// The command never ran
			b.logger.Errorf("Workflow backend failed to start: %v", runErr)
			return nil, &Error{
				Type:    ErrTypeBackend,
				Message: fmt.Sprintf("failed to start workflow backend %q: %v", b.command, runErr),
				Err:     runErr,
			}
		}

		wfErr := b.failure(name, stdout.Bytes(), stderr.String(), exitCode)
		wfErr.MaxRSSKB = maxRSS
		b.logger.Warnf("Workflow %s failed after %s (exit %d): %s", name, elapsed, exitCode, wfErr.Error())
		return nil, wfErr
	}

	b.logger.Debugf("Workflow %s finished in %s, %d bytes of output", name, elapsed, stdout.Len())

	var result map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &result); err != nil || result == nil {
		msg := "workflow produced no JSON object on stdout"
		if err != nil {
			msg = fmt.Sprintf("workflow produced invalid JSON output: %v", err)
		}
		return nil, &Error{
			Type:      ErrTypeBackend,
			Message:   msg,
			Traceback: lastLines(stderr.String(), tracebackLines),
			MaxRSSKB:  maxRSS,
			Err:       err,
		}
	}
	return result, nil
}

// failure builds the error for a non-zero exit. A JSON error document on
// stdout wins; otherwise the traceback on stderr is parsed.
func (b *CommandBackend) failure(name string, stdout []byte, stderr string, exitCode int) *Error {
	var doc struct {
		Error *struct {
			Type      string `json:"type"`
			Message   string `json:"message"`
			Traceback string `json:"traceback"`
		} `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &doc); err == nil && doc.Error != nil && doc.Error.Type != "" {
		tb := doc.Error.Traceback
		if tb == "" {
			tb = lastLines(stderr, tracebackLines)
		}
		return &Error{Type: doc.Error.Type, Message: doc.Error.Message, Traceback: tb, ExitCode: exitCode}
	}

	tb := lastLines(stderr, tracebackLines)
	if typ, msg, ok := parseTraceback(stderr); ok {
		return &Error{Type: typ, Message: msg, Traceback: tb, ExitCode: exitCode}
	}
	return &Error{
		Type:      ErrTypeBackend,
		Message:   fmt.Sprintf("workflow %s exited with code %d", name, exitCode),
		Traceback: tb,
		ExitCode:  exitCode,
	}
}

func (b *CommandBackend) environ(name string) []string {
	env := os.Environ()
	keys := make([]string, 0, len(b.env))
	for k := range b.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+b.env[k])
	}
	return append(env, "ATOMICTOOLKIT_WORKFLOW="+name)
}

// stderrWriter captures the tail of stderr and forwards progress lines
type stderrWriter struct {
	ctx      context.Context
	progress ProgressFunc
	buf      bytes.Buffer
	pending  []byte
}

func (w *stderrWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		idx := bytes.IndexByte(w.pending, '\n')
		if idx < 0 {
			break
		}
		w.line(string(w.pending[:idx]))
		w.pending = w.pending[idx+1:]
	}
	return len(p), nil
}

func (w *stderrWriter) flush() {
	if len(w.pending) > 0 {
		w.line(string(w.pending))
		w.pending = nil
	}
}

func (w *stderrWriter) line(line string) {
	if trimmed := strings.TrimSpace(line); strings.HasPrefix(trimmed, ProgressPrefix) {
		if w.progress != nil {
			w.progress(w.ctx, strings.TrimSpace(strings.TrimPrefix(trimmed, ProgressPrefix)))
		}
		return
	}
	w.buf.WriteString(line)
	w.buf.WriteByte('\n')
	if w.buf.Len() > maxStderrBytes {
		tail := append([]byte(nil), w.buf.Bytes()[w.buf.Len()-maxStderrBytes/2:]...)
		w.buf.Reset()
		w.buf.Write(tail)
	}
}

func (w *stderrWriter) String() string {
	return w.buf.String()
}
