// jobs-service is the HTTP API server for marketing brief orchestration.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"orca/internal/api"
	"orca/internal/config"
	"orca/internal/gemini"
	"orca/internal/health"
	"orca/internal/imaging"
	"orca/internal/job"
	"orca/internal/logging"
	"orca/internal/observability"
	"orca/internal/orchestration"
	"orca/internal/runner"
	"orca/pkg/circuitbreaker"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	svcCfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{Level: svcCfg.LogLevel, Format: svcCfg.LogFormat})

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	analyzer, checks, err := newAnalyzer(svcCfg.Gemini)
	if err != nil {
		return err
	}

	breakerCfg := circuitbreaker.DefaultConfig()
	images := imaging.New(imaging.Config{
		FetchTimeout: svcCfg.Image.FetchTimeout,
		MaxBytes:     svcCfg.Image.MaxBytes,
		MaxPixels:    svcCfg.Image.MaxPixels,
		Breaker:      &breakerCfg,
	})

	taskRunner := runner.NewMemory(runner.Config{
		Workers:     svcCfg.Runner.Workers,
		BufferSize:  svcCfg.Runner.BufferSize,
		TaskTimeout: svcCfg.Runner.TaskTimeout,
	}, metrics)

	jobs := job.NewManager(job.NewStore())
	controller := orchestration.NewController(jobs, images, analyzer, orchestration.ControllerOptions{
		ImageAnalysis: svcCfg.Image.AnalysisEnabled,
		Metrics:       metrics,
	})
	jobService := orchestration.NewService(jobs, controller, taskRunner, metrics)

	checks = append(checks,
		health.AcceptingCheck("runner", true, taskRunner),
		health.RegistryCheck("image_hosts", false, images.Breakers()),
	)
	healthChecker := health.NewChecker(checks...)

	router := api.NewRouter(api.RouterConfig{
		JobService:    jobService,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		ListLimitMax:  svcCfg.ListLimitMax,
		Version:       version,
	})

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port, "version", version)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		closeRunner(taskRunner, 5*time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Let queued orchestrations finish; cancel whatever is left at the deadline
	slog.Info("Draining orchestration runner")
	closeRunner(taskRunner, 30*time.Second)

	slog.Info("Shutdown complete")
	return nil
}

// newAnalyzer returns the Gemini client when a key is configured, otherwise
// the offline analyzer. The returned checks watch the client's breaker.
func newAnalyzer(cfg config.GeminiConfig) (gemini.Analyzer, []health.Check, error) {
	if cfg.APIKey == "" {
		slog.Warn("No Gemini API key configured, using offline analyzer")
		return gemini.Offline{}, nil, nil
	}

	client, err := gemini.NewClient(gemini.Options{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
		Breaker: circuitbreaker.DefaultConfig(),
	})
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Gemini analyzer configured", "model", client.Model())
	return client, []health.Check{health.BreakerCheck("gemini", false, client.Breaker())}, nil
}

func closeRunner(r *runner.MemoryRunner, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		slog.Warn("Runner shutdown error", "error", err)
	}

	stats := r.Stats()
	slog.Info("Runner stats",
		"succeeded", stats.Succeeded,
		"failed", stats.Failed,
		"panicked", stats.Panicked,
		"dropped", stats.Dropped,
	)
}
