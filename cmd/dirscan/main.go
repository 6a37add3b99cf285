package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dirscan/internal/control"
	"dirscan/internal/core"
	"dirscan/internal/httpapi"
	"dirscan/internal/metrics"
)

const version = "1.0.0"

func newLogger() *zap.Logger {
	level := core.LogLevel()
	if level == "off" {
		return zap.NewNop()
	}

	cfg := zap.NewProductionConfig()
	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func main() {
	logger := newLogger()
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	configPath := os.Getenv("DIRSCAN_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	c, err := core.New(configPath, logger)
	if err != nil {
		log.Fatal("Failed to initialize:", err)
	}
	defer c.Store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A scheduler-start failure is logged but the process continues to
	// serve read-only endpoints.
	if err := c.Start(ctx); err != nil {
		logger.Error("Failed to start scheduler, continuing read-only", zap.Error(err))
	}

	surface := control.New(control.DescriptorMap(c.Config.Scans), c.Executor, c.Scheduler, c.Store, c.Oracle)

	health := metrics.NewHealthChecker(c.Store.DB(), version)
	metrics.StartRuntimeCollector(15 * time.Second)
	defer metrics.StopRuntimeCollector()

	if core.LogLevel() == "off" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := httpapi.NewRouter(httpapi.Deps{
		Surface:    surface,
		ConfigPath: c.ConfigPath,
		AuthSecret: c.Config.Server.AuthSecret,
		StartedAt:  c.StartedAt,
		Health:     health,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:         c.Config.Server.Host + ":" + c.Config.Server.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("Starting scan API server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := c.Shutdown(shutdownCtx); err != nil {
		logger.Error("Core shutdown error", zap.Error(err))
	}

	logger.Info("Server exited")
}
