package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/inkdash/internal/app"
	"github.com/edgecomet/inkdash/internal/common/config"
	logutil "github.com/edgecomet/inkdash/internal/common/logger"
)

func main() {
	configPath := flag.String("c", "configs/inkdash.yaml", "Path to configuration file")
	flag.Parse()

	// Initialize logger (will be reconfigured from config)
	initialLogger, err := logutil.NewDefaultLogger()
	if err != nil {
		panic(err)
	}

	initialLogger.Info("Loading configuration", zap.String("path", *configPath))

	absPath, err := config.GetConfigPath(*configPath)
	if err != nil {
		initialLogger.Fatal("Invalid config path", zap.Error(err))
	}

	cfg, err := config.Load(absPath)
	if err != nil {
		initialLogger.Fatal("Failed to load configuration", zap.Error(err))
	}

	// INFO level during startup if the configured level is higher
	dynamicLogger, err := logutil.NewLoggerWithStartupOverride(cfg.Log)
	if err != nil {
		initialLogger.Fatal("Failed to create configured logger", zap.Error(err))
	}
	logger := dynamicLogger.Logger

	logger.Info("inkdash starting",
		zap.String("listen", cfg.Server.Listen),
		zap.String("browser_backend", cfg.Browser.Backend),
		zap.String("data_cache", cfg.DataCache.Backend),
		zap.Duration("render_budget", time.Duration(cfg.Render.Budget)))

	application, err := app.New(cfg, logger, app.Options{})
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	if err := application.Start(); err != nil {
		logger.Fatal("Failed to start HTTP server", zap.Error(err))
	}

	logger.Info("inkdash ready", zap.String("listen", cfg.Server.Listen))
	dynamicLogger.SwitchToConfiguredLevel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case err := <-application.Errors():
		logger.Error("Server error", zap.Error(err))
	}

	dynamicLogger.EnsureInfoLevelForShutdown()
	logger.Info("Shutting down gracefully...")

	// In-flight renders may need the full budget.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerWriteTimeout())
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error", zap.Error(err))
	}

	logger.Info("inkdash stopped")
}
