package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/hooplab/pdf-renderer/internal/common/config"
	logutil "github.com/hooplab/pdf-renderer/internal/common/logger"
	"github.com/hooplab/pdf-renderer/internal/common/metricsserver"
	"github.com/hooplab/pdf-renderer/internal/render/chrome"
	"github.com/hooplab/pdf-renderer/internal/render/metrics"
	"github.com/hooplab/pdf-renderer/internal/render/service"
)

func main() {
	configPath := flag.String("c", "configs/pdf-renderer.yaml",
		"Path to configuration file")
	flag.Parse()

	// Bootstrap logger, replaced once the config is loaded
	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	absPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}

	cfg, err := config.LoadConfig(absPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, err := logutil.NewLogger(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	defer logger.Sync()

	logger.Info("PDF renderer starting",
		zap.String("listen", cfg.Server.Listen),
		zap.Int("pool_min", cfg.Pool.Min),
		zap.String("pool_max", cfg.Pool.Max))

	poolConfig := chrome.NewConfigFromPool(
		cfg.Pool.Min,
		cfg.Pool.Max,
		time.Duration(cfg.Pool.AcquireTimeout),
		cfg.Pool.LaunchFlags,
		cfg.Pool.Warmup.URL,
		time.Duration(cfg.Pool.Warmup.Timeout),
		time.Duration(cfg.Pool.ShutdownTimeout),
		cfg.Pool.Restart.AfterCount,
		time.Duration(cfg.Pool.Restart.AfterTime),
	)
	if err := poolConfig.Validate(); err != nil {
		logger.Fatal("Invalid pool configuration", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector(cfg.Metrics.Namespace, logger)

	metricsServer, err := metricsserver.StartMetricsServer(
		cfg.Metrics.Enabled,
		cfg.Metrics.Listen,
		cfg.Metrics.Path,
		metricsCollector,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to start metrics server", zap.Error(err))
	}

	// Warm-up failure is fatal: the service must not report ready with a
	// broken browser environment.
	logger.Info("Initializing browser pool")
	pool, err := chrome.NewPool(poolConfig, metricsCollector, logger)
	if err != nil {
		logger.Fatal("Failed to create browser pool", zap.Error(err))
	}

	logger.Info("Browser pool initialized",
		zap.Int("instances", cfg.Pool.Min),
		zap.Int("max_instances", pool.MaxSize()))

	renderer := chrome.NewRenderer(pool, metricsCollector, logger)

	httpHandler := service.CreateHTTPHandler(renderer, &cfg.Render, metricsCollector, logger)

	// Server timeout derives from render max_timeout plus a safety margin
	serverTimeout := cfg.Render.CalculateServerTimeout()

	server := &fasthttp.Server{
		Handler:      httpHandler,
		ReadTimeout:  serverTimeout,
		WriteTimeout: serverTimeout,
		IdleTimeout:  serverTimeout,
		Name:         "PDFRenderer",
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("listen", cfg.Server.Listen))
		if err := server.ListenAndServe(cfg.Server.Listen); err != nil {
			serverErrCh <- err
		}
	}()

	logger.Info("PDF renderer ready", zap.String("listen", cfg.Server.Listen))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		logger.Error("Server error", zap.Error(err))
	}

	logger.Info("Shutting down gracefully...")

	if metricsServer != nil {
		metricsShutdownCtx, metricsShutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.ShutdownWithContext(metricsShutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", zap.Error(err))
		}
		metricsShutdownCancel()
	}

	// Drain in-flight requests before tearing down the pool they use
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	pool.Shutdown()

	logger.Info("PDF renderer stopped")
}
