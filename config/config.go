/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
)

//go:embed default_config.json
var defaultConfig []byte

// setupDefaultConfig creates a default config file from the embedded default_config.json
func setupDefaultConfig(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", filepath.Dir(configPath), err)
	}
	if err := os.WriteFile(configPath, defaultConfig, 0644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", configPath, err)
	}
	return nil
}

// Config provides access to application configuration
type Config struct {
	configPath string      // resolved path to config file
	baseDir    string      // explicit base directory (WithBaseDir), else DefaultBaseDir
	data       *configData // parsed configuration
	firstRun   bool        // true if config was just created
	workDir    string      // resolved backend working directory
	previewDir string      // resolved HTML preview directory
	reportsDir string      // resolved error report directory
}

// configData holds the parsed configuration (internal)
type configData struct {
	Version         int     `json:"version"`
	Listen          string  `json:"listen,omitempty"`
	WorkDir         string  `json:"work_dir,omitempty"`
	PreviewDir      string  `json:"preview_dir,omitempty"`
	ReportsDir      string  `json:"reports_dir,omitempty"`
	ArtifactBaseURL string  `json:"artifact_base_url,omitempty"`
	Redis           Redis   `json:"redis"`
	Queue           Queue   `json:"queue"`
	Backend         Backend `json:"backend"`
	Logging         Logging `json:"logging"`
}

// Redis holds connection settings for the durable task store and work queue
type Redis struct {
	Addr      string `json:"addr"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db,omitempty"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// Queue configures background execution
type Queue struct {
	Workers             int     `json:"workers,omitempty"`
	ExecutionTTLSeconds int     `json:"execution_ttl_seconds,omitempty"`
	PollIntervalMillis  int     `json:"poll_interval_ms,omitempty"`
	CancelCheckMillis   int     `json:"cancel_check_ms,omitempty"`
	MaxStartsPerSecond  float64 `json:"max_starts_per_second,omitempty"`
}

// Backend describes the external process that runs the scientific workflows.
// The workflow name is appended to Args and the arguments are piped as JSON on stdin.
type Backend struct {
	Command        string            `json:"command"`
	Args           []string          `json:"args,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
}

// Logging represents logging configuration
type Logging struct {
	File   string `json:"file"`
	Level  string `json:"level"`
	Format string `json:"format,omitempty"`
}

// Option is a functional option for configuring Config
type Option func(*Config)

// New creates a new Config instance with optional configuration
func New(opts ...Option) *Config {
	c := &Config{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithConfigPath sets an explicit config file path
func WithConfigPath(path string) Option {
	return func(c *Config) {
		c.configPath = path
	}
}

// WithBaseDir overrides the default base directory (~/.atomictoolkit)
func WithBaseDir(dir string) Option {
	return func(c *Config) {
		c.baseDir = dir
	}
}

// Load loads and validates configuration from file.
// If the config file doesn't exist, it is created from the embedded default.
func (c *Config) Load() error {
	configPath, err := c.resolveConfigPath()
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	c.configPath = configPath

	if !global.FileExists(configPath) {
		c.firstRun = true
		if err := setupDefaultConfig(configPath); err != nil {
			return fmt.Errorf("failed to create default config at %s: %w", configPath, err)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	// First pass: detect unknown fields using strict parsing
	var cfg configData
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&cfg); err != nil {
		if !strings.Contains(err.Error(), "unknown field") {
			return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		_, _ = fmt.Fprintf(os.Stderr, "Warning: config file %s: %v\n", configPath, err)
		cfg = configData{}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	c.data = &cfg
	c.applyDefaults()
	if err := c.applyEnv(); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}

	if err := c.validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.normalizePaths(); err != nil {
		return fmt.Errorf("failed to normalize paths: %w", err)
	}

	return nil
}

// resolveConfigPath determines the config file path using precedence rules
func (c *Config) resolveConfigPath() (string, error) {
	// 1. Explicit path (from WithConfigPath option)
	if c.configPath != "" {
		return filepath.Abs(global.ExpandHome(c.configPath))
	}

	// 2. Environment variable
	if envPath := os.Getenv(global.ConfigEnvVar); envPath != "" {
		return filepath.Abs(global.ExpandHome(envPath))
	}

	// 3. Default: base_dir/config.json
	return filepath.Join(c.BaseDir(), global.DefaultConfigFileName), nil
}

// applyDefaults fills every unset field with its default
func (c *Config) applyDefaults() {
	d := c.data
	if d.Listen == "" {
		d.Listen = global.DefaultListen
	}
	if d.WorkDir == "" {
		d.WorkDir = global.DefaultWorkDir
	}
	if d.PreviewDir == "" {
		d.PreviewDir = global.DefaultPreviewDir
	}
	if d.ReportsDir == "" {
		d.ReportsDir = global.DefaultReportsDir
	}
	if d.Redis.Addr == "" {
		d.Redis.Addr = global.DefaultRedisAddr
	}
	if d.Redis.KeyPrefix == "" {
		d.Redis.KeyPrefix = global.DefaultRedisKeyPrefix
	}
	if d.Queue.Workers == 0 {
		d.Queue.Workers = global.DefaultWorkers
	}
	if d.Queue.ExecutionTTLSeconds == 0 {
		d.Queue.ExecutionTTLSeconds = global.DefaultExecutionTTLSeconds
	}
	if d.Queue.PollIntervalMillis == 0 {
		d.Queue.PollIntervalMillis = global.DefaultQueuePollMillis
	}
	if d.Queue.CancelCheckMillis == 0 {
		d.Queue.CancelCheckMillis = global.DefaultCancelCheckMillis
	}
	if d.Backend.Command == "" {
		d.Backend.Command = global.DefaultBackendCommand
		if len(d.Backend.Args) == 0 {
			d.Backend.Args = append([]string(nil), global.DefaultBackendArgs...)
		}
	}
	if d.Logging.Level == "" {
		d.Logging.Level = global.LogLevelInfo
	}
}

// applyEnv applies environment overrides on top of the file configuration
func (c *Config) applyEnv() error {
	if base := os.Getenv(global.EnvArtifactBaseURL); base != "" {
		c.data.ArtifactBaseURL = base
	} else if base := os.Getenv(global.EnvPublicBaseURL); base != "" && c.data.ArtifactBaseURL == "" {
		c.data.ArtifactBaseURL = base
	}

	if port := os.Getenv(global.EnvPort); port != "" {
		if _, err := strconv.Atoi(port); err != nil {
			return fmt.Errorf("%s must be numeric: %q", global.EnvPort, port)
		}
		c.data.Listen = ":" + port
	}

	if raw := os.Getenv(global.EnvRedisURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%s is not a valid redis URL: %q", global.EnvRedisURL, raw)
		}
		c.data.Redis.Addr = u.Host
		if pw, ok := u.User.Password(); ok {
			c.data.Redis.Password = pw
		}
		if db := strings.TrimPrefix(u.Path, "/"); db != "" {
			n, err := strconv.Atoi(db)
			if err != nil {
				return fmt.Errorf("%s database must be numeric: %q", global.EnvRedisURL, db)
			}
			c.data.Redis.DB = n
		}
	}
	return nil
}

// validate validates the configuration
func (c *Config) validate() error {
	if c.data.Version != 1 {
		if c.data.Version < 1 {
			return fmt.Errorf("config version %d is too old (expected 1)", c.data.Version)
		}
		return fmt.Errorf("config version %d is newer than supported (expected 1)", c.data.Version)
	}

	if c.data.Queue.Workers < 0 {
		return fmt.Errorf("queue.workers cannot be negative")
	}
	if c.data.Queue.ExecutionTTLSeconds < 0 {
		return fmt.Errorf("queue.execution_ttl_seconds cannot be negative")
	}
	if c.data.Queue.MaxStartsPerSecond < 0 {
		return fmt.Errorf("queue.max_starts_per_second cannot be negative")
	}

	timeout, err := global.ValidateTimeout(c.data.Backend.TimeoutSeconds)
	if err != nil {
		return fmt.Errorf("backend.%w", err)
	}
	c.data.Backend.TimeoutSeconds = timeout

	if base := c.data.ArtifactBaseURL; base != "" {
		u, err := url.Parse(base)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("artifact_base_url must be an absolute URL: %q", base)
		}
		c.data.ArtifactBaseURL = strings.TrimRight(base, "/")
	}

	return nil
}

// normalizePaths resolves all directories relative to the base directory and creates them
func (c *Config) normalizePaths() error {
	c.workDir = c.resolvePath(c.data.WorkDir)
	c.previewDir = c.resolvePath(c.data.PreviewDir)
	c.reportsDir = c.resolvePath(c.data.ReportsDir)

	for _, dir := range []string{c.workDir, c.previewDir, c.reportsDir} {
		if err := global.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create directory at %s: %w", dir, err)
		}
	}

	if c.data.Logging.File != "" {
		c.data.Logging.File = c.resolvePath(c.data.Logging.File)
	}
	return nil
}

// resolvePath resolves a path relative to the base directory
// - If absolute, returns as-is
// - If starts with ~/, expands home directory
// - Otherwise, joins with the base directory
func (c *Config) resolvePath(path string) string {
	if path == "" {
		return ""
	}
	expanded := global.ExpandHome(path)
	if filepath.IsAbs(expanded) {
		return expanded
	}
	return filepath.Join(c.BaseDir(), expanded)
}

// BaseDir returns the resolved base directory
func (c *Config) BaseDir() string {
	if c.baseDir != "" {
		return global.ExpandHome(c.baseDir)
	}
	return global.ExpandHome(global.DefaultBaseDir)
}

// ConfigPath returns the resolved config file path
func (c *Config) ConfigPath() string {
	return c.configPath
}

// IsFirstRun returns true if the config file was just created
func (c *Config) IsFirstRun() bool {
	return c.firstRun
}

// Listen returns the HTTP listen address
func (c *Config) Listen() string {
	return c.data.Listen
}

// WorkDir returns the backend working directory
func (c *Config) WorkDir() string {
	return c.workDir
}

// PreviewDir returns the directory for generated HTML previews
func (c *Config) PreviewDir() string {
	return c.previewDir
}

// ReportsDir returns the directory for error reports
func (c *Config) ReportsDir() string {
	return c.reportsDir
}

// ArtifactBaseURL returns the process-wide default base URL for download links (may be empty)
func (c *Config) ArtifactBaseURL() string {
	return c.data.ArtifactBaseURL
}

// Redis returns the redis settings
func (c *Config) Redis() Redis {
	return c.data.Redis
}

// Queue returns the queue settings
func (c *Config) Queue() Queue {
	return c.data.Queue
}

// ExecutionTTL returns the lifetime of queue execution records
func (c *Config) ExecutionTTL() time.Duration {
	return time.Duration(c.data.Queue.ExecutionTTLSeconds) * time.Second
}

// Backend returns the backend settings
func (c *Config) Backend() Backend {
	return c.data.Backend
}

// BackendTimeout returns the per-workflow backend timeout
func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.data.Backend.TimeoutSeconds) * time.Second
}

// LogFile returns the log file path (empty for stderr)
func (c *Config) LogFile() string {
	return c.data.Logging.File
}

// LogLevel returns the log level
func (c *Config) LogLevel() string {
	return c.data.Logging.Level
}

// LogFormat returns the log encoding ("json" or "console")
func (c *Config) LogFormat() string {
	return c.data.Logging.Format
}
