/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
)

// Logger provides leveled logging on top of zap
type Logger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
	level zap.AtomicLevel
}

// Options controls where and how log lines are written
type Options struct {
	File   string // empty means stderr
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // "console" or "json"
}

// New creates a new logger. Log files are created (with parent directories) when requested.
func New(opts Options) (*Logger, error) {
	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if strings.EqualFold(opts.Format, "console") {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
	}
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	outputs := []string{"stderr"}
	if opts.File != "" {
		logPath := global.ExpandHome(opts.File)
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		outputs = []string{logPath}
	}

	zapConfig := zap.Config{
		Level:            level,
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]interface{}{"pid": os.Getpid()},
	}

	base, err := zapConfig.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{base: base, sugar: base.Sugar(), level: level}, nil
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	base := zap.NewNop()
	return &Logger{base: base, sugar: base.Sugar(), level: zap.NewAtomicLevel()}
}

// Zap exposes the underlying zap logger for structured fields
func (l *Logger) Zap() *zap.Logger {
	return l.base
}

// With returns a child logger carrying the given key/value pairs
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	sugar := l.sugar.With(keysAndValues...)
	return &Logger{base: sugar.Desugar(), sugar: sugar, level: l.level}
}

// Sync flushes any buffered log data
func (l *Logger) Sync() error {
	return l.base.Sync()
}

// Close flushes the logger; zap owns the underlying sinks
func (l *Logger) Close() error {
	_ = l.base.Sync()
	return nil
}

// SetLevel sets the minimum log level
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(parseLevel(level))
}

// parseLevel maps configuration level names onto zap levels, defaulting to INFO
func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case global.LogLevelDebug:
		return zapcore.DebugLevel
	case global.LogLevelWarn, "WARNING":
		return zapcore.WarnLevel
	case global.LogLevelError:
		return zapcore.ErrorLevel
	case global.LogLevelFatal:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.sugar.Debug(message)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.sugar.Info(message)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.sugar.Warn(message)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.sugar.Error(message)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string) {
	l.sugar.Fatal(message)
}

// Fatalf logs a formatted fatal message and exits
func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.sugar.Fatalf(format, args...)
}
