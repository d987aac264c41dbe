/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/config"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/logging"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/server"
)

func main() {
	// Top-level panic recovery
	defer func() {
		if rec := recover(); rec != nil {
			_, _ = fmt.Fprintf(os.Stderr, "FATAL PANIC: %v\n", rec)
			os.Exit(2)
		}
	}()

	var (
		configPath = flag.String("config", "", "Path to configuration file")
		version    = flag.Bool("version", false, "Show version information")
		help       = flag.Bool("help", false, "Show help information")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s\n", global.ProgramName, global.Version)
		return
	}

	if *help {
		showHelp()
		return
	}

	var opts []config.Option
	if *configPath != "" {
		opts = append(opts, config.WithConfigPath(*configPath))
	}
	cfg := config.New(opts...)

	if err := cfg.Load(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		File:   cfg.LogFile(),
		Level:  cfg.LogLevel(),
		Format: cfg.LogFormat(),
	})
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}
	defer func(logger *logging.Logger) {
		// Ensure logs are flushed before exit
		_ = logger.Sync()
		_ = logger.Close()
	}(logger)

	logger.Infof("%s v%s starting", global.ProgramName, global.Version)

	if cfg.IsFirstRun() {
		logger.Infof("First run detected - created default configuration at %s", cfg.ConfigPath())
		logger.Info("Edit the backend and redis sections to match your environment")
	}
	logger.Infof("Work directory: %s", cfg.WorkDir())
	logger.Infof("Redis: %s (prefix %q)", cfg.Redis().Addr, cfg.Redis().KeyPrefix)

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to create server: %v", err)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Fatalf("Server error: %v", err)
	}
}

func showHelp() {
	fmt.Printf(`%s v%s - MCP server for atomistic simulation workflows

USAGE:
    %s [OPTIONS]

OPTIONS:
    --config PATH    Path to configuration file
                     (default: $%s or %s/%s)
    --version        Show version information
    --help           Show this help message

DESCRIPTION:
    Exposes structure building, analysis, optimization, single point and
    molecular dynamics workflows as MCP tools over streamable HTTP. Files
    produced by a workflow are returned as downloadable artifacts.

    Workflow calls may run as background tasks. Task state is kept in Redis
    and survives restarts; workers execute the scientific backend command.

ENDPOINTS:
    /mcp                                MCP streamable HTTP and task protocol
    /artifacts/{id}/{filename}          Artifact download
    /healthz                            Liveness probe
    /.well-known/mcp/server-card.json   Service descriptor
    /metrics                            Prometheus metrics

ENVIRONMENT:
    %s    Path to configuration file (if --config not used)
    %s       Public base URL for artifact links
    %s         Fallback public base URL
    %s               Redis connection URL (redis://[:password@]host:port/db)
    %s                    Listen port
`, global.ProgramName, global.Version,
		global.ProgramName,
		global.ConfigEnvVar, global.DefaultBaseDir, global.DefaultConfigFileName,
		global.ConfigEnvVar,
		global.EnvArtifactBaseURL,
		global.EnvPublicBaseURL,
		global.EnvRedisURL,
		global.EnvPort)
}
