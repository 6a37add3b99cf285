// Package scanexec expands a scan descriptor into its effective path set,
// runs per-path measurements with bounded parallelism via the polling
// engine, and aggregates the outcomes into one ScanResult.
package scanexec

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"dirscan/internal/metrics"
	"dirscan/internal/model"
	"dirscan/internal/nasclient"
	"dirscan/internal/polling"
	"dirscan/pkg/semaphore"
)

// HistoryWriter is the persistence dependency: the executor never talks to
// the store directly beyond this one call.
type HistoryWriter interface {
	AddResult(slug, name string, result model.ScanResult, nasHost string) error
}

// Config tunes one Executor.
type Config struct {
	MaxParallelPaths int
	PollingConfig    polling.Config
	Logger           *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxParallelPaths <= 0 {
		c.MaxParallelPaths = 3
	}
	if c.MaxParallelPaths > 10 {
		c.MaxParallelPaths = 10
	}
	if c.PollingConfig.MaxWait == 0 {
		logger := c.PollingConfig.Logger
		c.PollingConfig = polling.DefaultConfig()
		c.PollingConfig.Logger = logger
	}
}

// Executor runs scan descriptors. It owns the in-flight LiveScanState for
// each slug it is currently running, and enforces the single-in-flight
// invariant plus the post-finish grace window.
type Executor struct {
	clientFactory func(model.NasTarget) nasclient.Client
	store         HistoryWriter
	cfg           Config

	mu    sync.Mutex
	state map[string]*model.LiveScanState
}

// New constructs an Executor. clientFactory builds a fresh NasClient for a
// scan's target; store persists completed results.
func New(clientFactory func(model.NasTarget) nasclient.Client, store HistoryWriter, cfg Config) *Executor {
	cfg.applyDefaults()
	return &Executor{
		clientFactory: clientFactory,
		store:         store,
		cfg:           cfg,
		state:         make(map[string]*model.LiveScanState),
	}
}

// IsRunning reports whether slug is currently running or within its
// post-finish grace window.
func (e *Executor) IsRunning(slug string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[slug]
	if !ok {
		return false
	}
	return st.IsRunning(time.Now())
}

// Snapshot returns a copy of the live state for slug, for read-only REST
// consumption, or nil if the slug has no tracked state.
func (e *Executor) Snapshot(slug string) *model.LiveScanState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.state[slug]
	if !ok {
		return nil
	}
	cp := *st
	cp.PerPath = make(map[string]*model.PathProgress, len(st.PerPath))
	for k, v := range st.PerPath {
		pp := *v
		cp.PerPath[k] = &pp
	}
	return &cp
}

// Run executes one scan descriptor. If another run for the same slug is
// already in-flight (or within its grace window), it returns a transient
// "running" result without doing any work.
func (e *Executor) Run(ctx context.Context, d model.ScanDescriptor) model.ScanResult {
	paths := d.EffectivePaths()
	live := model.NewLiveScanState(d.Slug, paths)

	e.mu.Lock()
	if st, ok := e.state[d.Slug]; ok && st.IsRunning(time.Now()) {
		e.mu.Unlock()
		return model.ScanResult{
			Slug:      d.Slug,
			Name:      d.Name,
			Timestamp: time.Now(),
			Status:    model.StatusRunning,
		}
	}
	e.state[d.Slug] = live
	e.mu.Unlock()
	defer e.finishLive(d.Slug, live)

	started := time.Now()
	metrics.UpdateActiveScans(float64(e.activeCount()))

	client := e.clientFactory(d.Nas)
	if err := client.Login(ctx); err != nil {
		metrics.SetNasHealth(d.Nas.Host, metrics.NasOffline)
		return model.ScanResult{
			Slug:      d.Slug,
			Name:      d.Name,
			Timestamp: time.Now(),
			Status:    model.StatusFailed,
			Error:     err.Error(),
		}
	}
	metrics.SetNasHealth(d.Nas.Host, metrics.NasHealthy)
	defer e.cleanup(client)

	items := e.runPaths(ctx, client, d.Slug, paths, live)

	result := model.ScanResult{
		Slug:      d.Slug,
		Name:      d.Name,
		Timestamp: time.Now(),
		Items:     items,
	}
	if result.AnySucceeded() {
		result.Status = model.StatusCompleted
	} else {
		result.Status = model.StatusFailed
	}
	metrics.RecordScanExecution(d.Slug, string(result.Status), time.Since(started))

	if err := e.store.AddResult(d.Slug, d.Name, result, d.Nas.Host); err != nil && e.cfg.Logger != nil {
		e.cfg.Logger.Warn("failed to persist scan result", zap.String("slug", d.Slug), zap.Error(err))
	}

	return result
}

// activeCount reports how many slugs currently have a truly running (not
// grace-window) state.
func (e *Executor) activeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, st := range e.state {
		if st.Running {
			n++
		}
	}
	return n
}

func (e *Executor) finishLive(slug string, live *model.LiveScanState) {
	now := time.Now()
	e.mu.Lock()
	live.Running = false
	live.FinishedAt = &now
	e.mu.Unlock()
	metrics.UpdateActiveScans(float64(e.activeCount()))
}

func (e *Executor) cleanup(client nasclient.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, taskID := range client.ActiveTaskIDs() {
		_ = client.StopTask(ctx, taskID, true)
	}
	client.Logout(ctx)
}

func (e *Executor) runPaths(ctx context.Context, client nasclient.Client, slug string, paths []string, live *model.LiveScanState) []model.ScanResultItem {
	engine := polling.New(client, e.cfg.PollingConfig)
	sem := semaphore.New(e.cfg.MaxParallelPaths)

	outcomes := make([]model.ScanResultItem, len(paths))
	g, gctx := errgroup.WithContext(context.Background())

	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := sem.Acquire(gctx); err != nil {
				outcomes[i] = model.ScanResultItem{FolderName: path, Success: false, Error: err.Error()}
				return nil
			}
			defer sem.Release()

			outcomes[i] = e.runOnePath(ctx, engine, slug, path, live)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

func (e *Executor) runOnePath(ctx context.Context, engine *polling.Engine, slug, path string, live *model.LiveScanState) model.ScanResultItem {
	start := time.Now()
	result, err := engine.Run(ctx, path, func(p polling.Progress) {
		e.updateProgress(slug, path, p)
	})
	if err != nil {
		e.markPathFinished(slug, path)
		return model.ScanResultItem{FolderName: path, Success: false, Error: err.Error()}
	}
	e.updateProgress(slug, path, polling.Progress{
		NumDir:    result.NumDir,
		NumFile:   result.NumFile,
		TotalSize: result.TotalSizeBytes,
		Waited:    int64(time.Since(start).Seconds()),
		Finished:  true,
	})
	return model.ScanResultItem{
		FolderName:     path,
		Success:        true,
		NumDir:         result.NumDir,
		NumFile:        result.NumFile,
		TotalSizeBytes: result.TotalSizeBytes,
		ElapsedMs:      time.Since(start).Milliseconds(),
	}
}

func (e *Executor) updateProgress(slug, path string, p polling.Progress) {
	e.mu.Lock()
	defer e.mu.Unlock()
	live, ok := e.state[slug]
	if !ok {
		return
	}
	live.CurrentPath = path
	pp, ok := live.PerPath[path]
	if !ok {
		pp = &model.PathProgress{}
		live.PerPath[path] = pp
	}
	pp.NumDir = p.NumDir
	pp.NumFile = p.NumFile
	pp.TotalSize = p.TotalSize
	pp.Waited = p.Waited
	pp.Finished = p.Finished
}

func (e *Executor) markPathFinished(slug, path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	live, ok := e.state[slug]
	if !ok {
		return
	}
	pp, ok := live.PerPath[path]
	if !ok {
		pp = &model.PathProgress{}
		live.PerPath[path] = pp
	}
	pp.Finished = true
}
