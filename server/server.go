/******************************************************************************
 * Copyright (c) 2025-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/XirtamEsrevni/mcp-atomictoolkit/artifacts"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/config"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/dispatch"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/global"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/logging"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/metrics"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/queue"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/reporting"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/tasks"
	"github.com/XirtamEsrevni/mcp-atomictoolkit/workflows"
)

const shutdownTimeout = 15 * time.Second

// Server wraps the MCP server with our services
type Server struct {
	config     *config.Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	redis      *redis.Client
	ownsRedis  bool
	backend    workflows.Backend
	store      *artifacts.Store
	enricher   *artifacts.Enricher
	reports    *reporting.Writer
	dispatcher *dispatch.Dispatcher
	queue      *queue.Queue
	bridge     *tasks.Bridge
	mcpServer  *server.MCPServer
	handler    http.Handler
}

// Option customizes a Server, mostly for tests
type Option func(*Server)

// WithRedisClient uses an existing Redis client instead of dialing the configured one
func WithRedisClient(client *redis.Client) Option {
	return func(s *Server) {
		s.redis = client
	}
}

// WithBackend replaces the command backend
func WithBackend(b workflows.Backend) Option {
	return func(s *Server) {
		s.backend = b
	}
}

// WithMetrics sets the metrics collectors
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates a new server instance
func New(cfg *config.Config, logger *logging.Logger, opts ...Option) (*Server, error) {
	s := &Server{config: cfg, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}

	redisCfg := cfg.Redis()
	if s.redis == nil {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		s.ownsRedis = true
	}

	if s.backend == nil {
		backendCfg := cfg.Backend()
		s.backend = workflows.NewCommandBackend(backendCfg.Command,
			workflows.WithArgs(backendCfg.Args...),
			workflows.WithEnv(backendCfg.Env),
			workflows.WithWorkDir(cfg.WorkDir()),
			workflows.WithTimeout(cfg.BackendTimeout()),
			workflows.WithBackendLogger(logger),
		)
	}

	s.store = artifacts.NewStore()
	s.enricher = artifacts.NewEnricher(s.store,
		artifacts.WithPreviewDir(cfg.PreviewDir()),
		artifacts.WithDefaultBaseURL(cfg.ArtifactBaseURL()),
		artifacts.WithLogger(logger),
		artifacts.WithMetrics(s.metrics),
	)
	s.reports = reporting.New(cfg.ReportsDir(), logger)
	s.dispatcher = dispatch.New(workflows.NewCatalogue(), s.backend, s.enricher,
		dispatch.WithReports(s.reports),
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(s.metrics),
	)

	queueCfg := cfg.Queue()
	s.queue = queue.New(s.redis,
		queue.WithPrefix(redisCfg.KeyPrefix),
		queue.WithExecutionTTL(cfg.ExecutionTTL()),
		queue.WithWorkers(queueCfg.Workers),
		queue.WithPollInterval(time.Duration(queueCfg.PollIntervalMillis)*time.Millisecond),
		queue.WithCancelCheck(time.Duration(queueCfg.CancelCheckMillis)*time.Millisecond),
		queue.WithMaxStartsPerSecond(queueCfg.MaxStartsPerSecond),
		queue.WithLogger(logger),
		queue.WithMetrics(s.metrics),
	)

	s.mcpServer = server.NewMCPServer(
		global.ProgramName,
		global.Version,
		server.WithToolCapabilities(true),
		server.WithLogging(),
	)

	s.bridge = tasks.NewBridge(s.redis, s.queue,
		tasks.WithPrefix(redisCfg.KeyPrefix),
		tasks.WithNotifier(&sessionNotifier{mcp: s.mcpServer}),
		tasks.WithLogger(logger),
		tasks.WithMetrics(s.metrics),
	)

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	s.registerWorkers()
	s.handler = s.routes()

	return s, nil
}

// Handler returns the HTTP surface of the server
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Queue returns the background work queue
func (s *Server) Queue() *queue.Queue {
	return s.queue
}

// Run serves HTTP and runs the queue workers until a shutdown signal arrives
// or ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer stop()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := s.redis.Ping(pingCtx).Err(); err != nil {
		s.logger.Warnf("Redis at %s is not reachable yet: %v", s.config.Redis().Addr, err)
	}
	cancel()

	httpServer := &http.Server{
		Addr:              s.config.Listen(),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.queue.Run(gctx)
	})
	g.Go(func() error {
		s.logger.Infof("MCP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	if err != nil {
		s.logger.Errorf("Server error: %v", err)
		return err
	}
	s.logger.Info("Server stopped")
	return nil
}

// Close releases the Redis connection when the server opened it
func (s *Server) Close() {
	if s.ownsRedis {
		if err := s.redis.Close(); err != nil {
			s.logger.Warnf("Failed to close Redis client: %v", err)
		}
	}
}
