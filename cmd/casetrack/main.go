// Package main is the entry point for the casetrack server. It wires the
// workflow engine gateway, the evidence store, and the dataspace connector
// client together and starts the HTTP API.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/thridium/casetrack/internal/camunda"
	"github.com/thridium/casetrack/internal/cases"
	"github.com/thridium/casetrack/internal/config"
	"github.com/thridium/casetrack/internal/correlate"
	"github.com/thridium/casetrack/internal/dataspace"
	"github.com/thridium/casetrack/internal/evidence"
	"github.com/thridium/casetrack/internal/observability"
	"github.com/thridium/casetrack/internal/transport"
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

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "casetrack", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.InitMetrics(registry)

	// Backends.
	engine := camunda.NewClient(cfg.Engine, logger, metrics)
	store := evidence.NewStore(cfg.Evidence)
	connector := dataspace.NewClient(cfg.Dataspace, logger)

	// Case services.
	manager := cases.NewManager(engine, store, cfg.Templates, logger, metrics)
	history := cases.NewHistory(engine.History, store, cfg.Templates, logger)
	ledger := evidence.NewLedger(manager, engine, store, cfg.Evidence, logger, metrics)
	correlator := correlate.NewCorrelator(manager, "uc_3", logger, metrics)

	// Authentication.
	var authenticate func(http.Handler) http.Handler
	if cfg.Identity.JWKSURL != "" || cfg.Identity.InternalToken != "" {
		jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
		authenticate = transport.Authenticator(cfg.Identity, jwks)
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Gatherer:     registry,
		Authenticate: authenticate,
		Ready: observability.HandleReady(observability.ReadinessChecks{
			Engine:        engine,
			EvidenceStore: store,
		}),
		Cases:      manager,
		History:    history,
		Evidence:   ledger,
		Payloads:   store,
		Exchange:   connector,
		Correlator: correlator,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      observability.TracingMiddleware(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("engine", cfg.Engine.BaseURL),
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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.Error("tracing shutdown error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return 0
}
