// Package core wires the scan-orchestration subsystem's components into one
// process-wide aggregate, constructed once by cmd/dirscan's entrypoint.
package core

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dirscan/internal/config"
	"dirscan/internal/history"
	"dirscan/internal/model"
	"dirscan/internal/nasclient"
	"dirscan/internal/progress"
	"dirscan/internal/scanexec"
	"dirscan/internal/scheduler"
)

// Core aggregates every long-lived component: the executor (which holds the
// NAS client factory), the scheduler, the history store, and the progress
// oracle.
type Core struct {
	Config    *config.Config
	Store     *history.Store
	Executor  *scanexec.Executor
	Scheduler *scheduler.Scheduler
	Oracle    *progress.Oracle
	Logger    *zap.Logger

	ConfigPath string
	StartedAt  time.Time
}

// New loads configuration from configPath, opens the history store, and
// wires the executor, oracle, and scheduler around them. It does not start
// the scheduler's dispatch loops; call Start for that.
func New(configPath string, logger *zap.Logger) (*Core, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("core: failed to load config: %w", err)
	}

	store, err := history.Open(cfg.Storage.DBPath, history.Options{MaxHistory: cfg.Storage.MaxHistory})
	if err != nil {
		return nil, fmt.Errorf("core: failed to open history store: %w", err)
	}

	// One retention pass at startup; failures here don't block boot since
	// the store is otherwise usable.
	if deleted, err := store.CleanupOldResults(cfg.Storage.RetentionDays, history.Filters{}, false); err != nil {
		logger.Warn("core: startup retention cleanup failed", zap.Error(err))
	} else if deleted > 0 {
		logger.Info("core: startup retention cleanup", zap.Int64("deleted", deleted))
	}

	factory := nasclient.NewFactory(logger)
	clientFor := func(target model.NasTarget) nasclient.Client {
		// VERIFY_TLS, when set, overrides every scan's own verifyTls.
		if v, ok := VerifyTLSOverride(); ok {
			target.VerifyTLS = v
		}
		return factory.New(target)
	}

	executor := scanexec.New(clientFor, store, scanexec.Config{
		MaxParallelPaths: maxParallelTasksFromEnv(),
		Logger:           logger,
	})

	oracle := progress.New(store)

	sched := scheduler.New(executor, configPath, logger)

	return &Core{
		Config:     cfg,
		Store:      store,
		Executor:   executor,
		Scheduler:  sched,
		Oracle:     oracle,
		Logger:     logger,
		ConfigPath: configPath,
		StartedAt:  time.Now(),
	}, nil
}

// Start begins the scheduler's dispatch and reload loops. A failure here is
// logged by the caller and does not prevent read-only endpoints from
// serving, per the process's exit/failure contract.
func (c *Core) Start(ctx context.Context) error {
	return c.Scheduler.Start(ctx)
}

// Shutdown stops the scheduler (waiting for in-flight runs to observe
// cancellation) and closes the history store.
func (c *Core) Shutdown(ctx context.Context) error {
	c.Scheduler.Stop(ctx)
	return c.Store.Close()
}

func maxParallelTasksFromEnv() int {
	if ExecutionMode() == "sequential" {
		return 1
	}
	return envInt("MAX_PARALLEL_TASKS", 3, 1, 10)
}
