/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package global

import "fmt"

//goland:noinspection GoCommentStart
const (
	// Configuration constants
	ConfigEnvVar          = "ATOMICTOOLKIT_CONFIG"
	DefaultBaseDir        = "~/.atomictoolkit"
	DefaultConfigFileName = "config.json"
	DefaultWorkDir        = "work"
	DefaultPreviewDir     = "previews"
	DefaultReportsDir     = "error_reports"
	DefaultListen         = ":8000"

	// Environment overrides
	EnvArtifactBaseURL = "ARTIFACT_BASE_URL"
	EnvPublicBaseURL   = "PUBLIC_BASE_URL"
	EnvRedisURL        = "REDIS_URL"
	EnvPort            = "PORT"

	// MCP Tool Names - Workflows
	ToolBuildStructure    = "build_structure_workflow"
	ToolAnalyzeStructure  = "analyze_structure_workflow"
	ToolWriteStructure    = "write_structure_workflow"
	ToolOptimizeStructure = "optimize_structure_workflow"
	ToolSinglePoint       = "single_point_workflow"
	ToolRunMD             = "run_md_workflow"
	ToolAnalyzeTrajectory = "analyze_trajectory_workflow"
	ToolAutocorrelation   = "autocorrelation_workflow"

	// MCP Tool Names - System
	ToolHealth      = "health"
	ToolArtifactGet = "artifact_get"

	// HTTP routes
	RouteMCP        = "/mcp"
	RouteSSE        = "/sse"
	RouteHealthz    = "/healthz"
	RouteServerCard = "/.well-known/mcp/server-card.json"
	RouteMetrics    = "/metrics"
	RouteArtifacts  = "/artifacts/"

	// Queue defaults
	DefaultWorkers             = 2
	DefaultExecutionTTLSeconds = 24 * 60 * 60
	DefaultQueuePollMillis     = 1000
	DefaultCancelCheckMillis   = 500
	DefaultRedisAddr           = "localhost:6379"
	DefaultRedisKeyPrefix      = "atomictoolkit:"

	// Backend defaults
	DefaultBackendCommand = "python"
	DefaultTimeout        = 3600 // seconds
	MinTimeout            = 1    // seconds
	MaxTimeout            = 7 * 24 * 3600

	// Log Levels
	LogLevelDebug = "DEBUG"
	LogLevelInfo  = "INFO"
	LogLevelWarn  = "WARN"
	LogLevelError = "ERROR"
	LogLevelFatal = "FATAL"
)

// DefaultBackendArgs are appended before the workflow name when invoking the backend
var DefaultBackendArgs = []string{"-m", "mcp_atomictoolkit.cli"}

// ValidateTimeout validates and normalizes a timeout value.
// Returns the validated timeout or an error if out of bounds.
// If timeout is 0, returns DefaultTimeout.
func ValidateTimeout(timeout int) (int, error) {
	if timeout == 0 {
		return DefaultTimeout, nil
	}
	if timeout < MinTimeout {
		return 0, fmt.Errorf("timeout must be at least %d seconds", MinTimeout)
	}
	if timeout > MaxTimeout {
		return 0, fmt.Errorf("timeout must be at most %d seconds", MaxTimeout)
	}
	return timeout, nil
}
