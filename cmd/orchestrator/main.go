// Package main is the entry point for the draftforge orchestrator server.
// It wires all dependencies together and starts the HTTP server plus the
// background generation driver.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/draftforge/draftforge/internal/checkpoint"
	"github.com/draftforge/draftforge/internal/collab"
	"github.com/draftforge/draftforge/internal/config"
	"github.com/draftforge/draftforge/internal/driver"
	"github.com/draftforge/draftforge/internal/graph"
	"github.com/draftforge/draftforge/internal/observability"
	"github.com/draftforge/draftforge/internal/orchestrator"
	"github.com/draftforge/draftforge/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "draftforge-orchestrator", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// The dependency graph is static per deployment; a malformed graph is
	// a startup failure.
	g, err := graph.Load(cfg.Graph.File)
	if err != nil {
		logger.Error("dependency graph load failed", zap.Error(err))
		return 1
	}
	logger.Info("dependency graph loaded",
		zap.String("file", cfg.Graph.File),
		zap.Int("sections", len(g.Sections())),
		zap.Int("required", len(g.Required())),
	)

	store, storeCloser, err := buildCheckpointStore(ctx, cfg.Checkpoint, logger)
	if err != nil {
		logger.Error("checkpoint store initialization failed", zap.Error(err))
		return 1
	}

	controller := orchestrator.NewController(store, g, logger, metrics)

	generator := collab.NewHTTPGenerator(cfg.Collaborators.Generator)
	evaluator := collab.NewHTTPEvaluator(cfg.Collaborators.Evaluator)
	drv := driver.New(controller, generator, evaluator, cfg.Driver, logger, metrics)
	controller.SetResumer(drv)

	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)

	readiness := observability.ReadinessChecks{
		GraphLoaded: func() bool { return len(g.Sections()) > 0 },
	}
	if hc, ok := store.(observability.HealthChecker); ok {
		readiness.CheckpointStore = hc
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Controller:   controller,
		Metrics:      metrics,
		Readiness:    readiness,
		Authenticate: transport.JWTAuthenticator(cfg.Identity, jwks),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Background driver sweep.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()
	go drv.Run(bgCtx)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("checkpoint_driver", cfg.Checkpoint.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests, then
	// stop the driver so no generation is cut off mid-claim.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	bgCancel()

	if storeCloser != nil {
		storeCloser()
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildCheckpointStore creates the checkpoint store based on config.
func buildCheckpointStore(ctx context.Context, cfg config.CheckpointConfig, logger *zap.Logger) (checkpoint.Store, func(), error) {
	switch cfg.Driver {
	case "memory":
		logger.Info("using in-memory checkpoint store")
		return checkpoint.NewMemoryStore(), nil, nil
	case "postgres":
		dsn := os.Getenv(cfg.DSNEnv)
		if dsn == "" {
			return nil, nil, fmt.Errorf("checkpoint store: %s environment variable not set", cfg.DSNEnv)
		}

		poolCfg, err := pgxpool.ParseConfig(dsn)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpoint store: parse DSN: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("checkpoint store: connect: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("checkpoint store: ping: %w", err)
		}

		return checkpoint.NewPgStore(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported checkpoint driver: %q", cfg.Driver)
	}
}
