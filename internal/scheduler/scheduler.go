// Package scheduler owns the registry of configured scans and dispatches
// executions on cron or fixed-interval triggers, reloading the registry
// from disk periodically and on file-change notification.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/cronexpr"
	"go.uber.org/zap"

	"dirscan/internal/config"
	"dirscan/internal/model"
)

const (
	reloadInterval  = 5 * time.Minute
	watchDebounce   = 250 * time.Millisecond
	misfireGraceSec = 3600
)

// Runner executes one scan and reports whether a slug is presently
// in-flight; satisfied by *scanexec.Executor.
type Runner interface {
	Run(ctx context.Context, d model.ScanDescriptor) model.ScanResult
	IsRunning(slug string) bool
}

// trigger abstracts the cron/duration firing schedule for one job.
type trigger interface {
	next(from time.Time) time.Time
	describe() string
}

type durationTrigger struct {
	interval time.Duration
}

func (t durationTrigger) next(from time.Time) time.Time { return from.Add(t.interval) }
func (t durationTrigger) describe() string               { return "every " + t.interval.String() }

type cronTrigger struct {
	expr *cronexpr.Expression
	raw  string
}

func (t cronTrigger) next(from time.Time) time.Time { return t.expr.Next(from) }
func (t cronTrigger) describe() string               { return "cron(" + t.raw + ")" }

func newTrigger(interval string) (trigger, error) {
	if d, ok := config.ParseIntervalLiteral(interval); ok {
		return durationTrigger{interval: d}, nil
	}
	if config.IsCronExpression(interval) {
		expr, err := cronexpr.Parse(interval)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", interval, err)
		}
		return cronTrigger{expr: expr, raw: interval}, nil
	}
	return nil, fmt.Errorf("interval %q is neither a duration literal nor a cron expression", interval)
}

// job tracks one dispatch loop for one scan descriptor.
type job struct {
	descriptor model.ScanDescriptor
	trigger    trigger
	nextRun    time.Time
	cancel     context.CancelFunc
}

// JobInfo is the read-only view returned by job queries.
type JobInfo struct {
	Slug                string
	NextRun             time.Time
	TriggerDescription  string
	MisfireGraceSeconds int
}

// ReloadDiff summarizes the effect of one Reload call.
type ReloadDiff struct {
	Added   []string
	Removed []string
	Updated []string
}

// Scheduler dispatches scan executions per their configured triggers and
// keeps its job registry in sync with the on-disk configuration.
type Scheduler struct {
	runner     Runner
	configPath string
	logger     *zap.Logger

	mu       sync.Mutex
	jobs     map[string]*job
	warnings []string

	wg       sync.WaitGroup
	stopOnce sync.Once
	watcher  *fsnotify.Watcher
	cancel   context.CancelFunc
}

// New constructs a Scheduler that dispatches onto runner, reading its
// configuration from configPath.
func New(runner Runner, configPath string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:     runner,
		configPath: configPath,
		logger:     logger,
		jobs:       make(map[string]*job),
	}
}

// Start loads the configuration, creates the initial job set, and begins
// the periodic and file-watch reload loops. It returns once the initial
// load completes; reload failures after that are logged, not fatal.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if _, err := s.Reload(); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.reloadLoop(runCtx)

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		s.watcher = watcher
		if werr := watcher.Add(dirOf(s.configPath)); werr == nil {
			s.wg.Add(1)
			go s.watchLoop(runCtx)
		} else {
			s.logger.Warn("scheduler: failed to watch config directory", zap.Error(werr))
			watcher.Close()
			s.watcher = nil
		}
	} else {
		s.logger.Warn("scheduler: failed to start config file watcher", zap.Error(err))
	}

	return nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// Stop cancels every dispatch loop and waits for in-flight runs to observe
// cancellation. It is idempotent.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if s.watcher != nil {
			s.watcher.Close()
		}

		s.mu.Lock()
		for _, j := range s.jobs {
			j.cancel()
		}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
		}
	})
}

func (s *Scheduler) reloadLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(reloadInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reload(); err != nil {
				s.logger.Warn("scheduler: periodic reload failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) watchLoop(ctx context.Context) {
	defer s.wg.Done()
	var debounce *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, func() {
				if _, err := s.Reload(); err != nil {
					s.logger.Warn("scheduler: watch-triggered reload failed", zap.Error(err))
				}
			})
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("scheduler: config watcher error", zap.Error(err))
		}
	}
}

// Reload re-reads the configuration file and diff-applies it against the
// current job registry, keyed by slug.
func (s *Scheduler) Reload() (ReloadDiff, error) {
	cfg, err := config.LoadFromFile(s.configPath)
	if err != nil {
		return ReloadDiff{}, fmt.Errorf("scheduler reload: %w", err)
	}

	desired := make(map[string]model.ScanDescriptor, len(cfg.Scans))
	for _, d := range cfg.Scans {
		if d.Enabled {
			desired[d.Slug] = d
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = cfg.Warnings

	var diff ReloadDiff

	for slug, existing := range s.jobs {
		newDesc, stillWanted := desired[slug]
		if !stillWanted {
			existing.cancel()
			delete(s.jobs, slug)
			diff.Removed = append(diff.Removed, slug)
			continue
		}
		if descriptorChanged(existing.descriptor, newDesc) {
			existing.cancel()
			delete(s.jobs, slug)
			if err := s.createJobLocked(newDesc); err != nil {
				s.logger.Warn("scheduler: failed to re-create updated job", zap.String("slug", slug), zap.Error(err))
				continue
			}
			diff.Updated = append(diff.Updated, slug)
		}
	}

	for slug, d := range desired {
		if _, exists := s.jobs[slug]; exists {
			continue
		}
		if err := s.createJobLocked(d); err != nil {
			s.logger.Warn("scheduler: failed to create job", zap.String("slug", slug), zap.Error(err))
			continue
		}
		diff.Added = append(diff.Added, slug)
	}

	return diff, nil
}

// descriptorChanged reports whether any of the fields that affect job
// identity (shares, folders, paths, interval, nas host/port) differ.
func descriptorChanged(old, cur model.ScanDescriptor) bool {
	if old.Interval != cur.Interval || old.Nas.Host != cur.Nas.Host || old.Nas.Port != cur.Nas.Port {
		return true
	}
	return !stringSliceEqual(old.Shares, cur.Shares) ||
		!stringSliceEqual(old.Folders, cur.Folders) ||
		!stringSliceEqual(old.Paths, cur.Paths)
}

func stringSliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// createJobLocked builds and starts the dispatch goroutine for one
// descriptor. Callers must hold s.mu.
func (s *Scheduler) createJobLocked(d model.ScanDescriptor) error {
	trig, err := newTrigger(d.Interval)
	if err != nil {
		return &model.ConfigError{Field: "interval", Msg: err.Error()}
	}

	jobCtx, cancel := context.WithCancel(context.Background())
	j := &job{descriptor: d, trigger: trig, nextRun: trig.next(time.Now()), cancel: cancel}
	s.jobs[d.Slug] = j

	s.wg.Add(1)
	go s.dispatchLoop(jobCtx, j)
	return nil
}

// dispatchLoop sleeps until the job's next fire time, dispatches (dropping
// the firing if the previous run for this slug is still in-flight, per
// maxInstances=1/coalesce), and recomputes the next fire time.
func (s *Scheduler) dispatchLoop(ctx context.Context, j *job) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		next := j.nextRun
		s.mu.Unlock()

		wait := time.Until(next)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.mu.Lock()
		desc := j.descriptor
		s.mu.Unlock()

		if s.runner.IsRunning(desc.Slug) {
			s.logger.Info("scheduler: firing coalesced, previous run still active", zap.String("slug", desc.Slug))
		} else {
			s.runner.Run(ctx, desc)
		}

		s.mu.Lock()
		j.nextRun = j.trigger.next(time.Now())
		s.mu.Unlock()
	}
}

// GetJobInfo returns the registered job's schedule metadata, or false if
// slug has no active job.
func (s *Scheduler) GetJobInfo(slug string) (JobInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[slug]
	if !ok {
		return JobInfo{}, false
	}
	return JobInfo{
		Slug:                slug,
		NextRun:             j.nextRun,
		TriggerDescription:  j.trigger.describe(),
		MisfireGraceSeconds: misfireGraceSec,
	}, true
}

// GetAllJobs returns every registered job's schedule metadata.
func (s *Scheduler) GetAllJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for slug, j := range s.jobs {
		out = append(out, JobInfo{
			Slug:                slug,
			NextRun:             j.nextRun,
			TriggerDescription:  j.trigger.describe(),
			MisfireGraceSeconds: misfireGraceSec,
		})
	}
	return out
}

// Warnings returns the non-fatal diagnostics from the most recent reload
// (e.g. duplicate slugs dropped).
func (s *Scheduler) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}
