// Package control exposes the query/trigger operations consumed by the REST
// layer, narrowing core.Core down to exactly the surface the transport
// needs: no direct access to the scheduler's internal job map or the
// store's connection.
package control

import (
	"context"
	"time"

	"dirscan/internal/history"
	"dirscan/internal/model"
	"dirscan/internal/progress"
	"dirscan/internal/scanexec"
	"dirscan/internal/scheduler"
)

// ScanSummary is one entry in ListScans: a descriptor view (secret
// scrubbed) plus its live and historical status.
type ScanSummary struct {
	Slug        string     `json:"slug"`
	Name        string     `json:"name"`
	Enabled     bool       `json:"enabled"`
	Interval    string     `json:"interval"`
	NasHost     string     `json:"nasHost"`
	LastRun     *time.Time `json:"lastRun,omitempty"`
	LastStatus  string     `json:"lastStatus,omitempty"`
	NextRun     *time.Time `json:"nextRun,omitempty"`
	IsRunning   bool       `json:"isRunning"`
}

// ScanProgress is the live status of one scan, augmented with the
// ProgressOracle's estimate.
type ScanProgress struct {
	Slug            string   `json:"slug"`
	Running         bool     `json:"running"`
	CurrentPath     string   `json:"currentPath,omitempty"`
	NumDir          int64    `json:"numDir"`
	NumFile         int64    `json:"numFile"`
	TotalSizeBytes  int64    `json:"totalSizeBytes"`
	Waited          int64    `json:"waited"`
	Finished        bool     `json:"finished"`
	PercentComplete *float64 `json:"percentComplete,omitempty"`
}

// TriggerResult reports whether TriggerScan actually started a run.
type TriggerResult struct {
	Triggered bool `json:"triggered"`
}

// ReloadResult mirrors scheduler.ReloadDiff for the REST boundary.
type ReloadResult struct {
	Added    []string `json:"added"`
	Removed  []string `json:"removed"`
	Updated  []string `json:"updated"`
	Warnings []string `json:"warnings,omitempty"`
}

// StorageStats mirrors history.StorageStats for the REST boundary.
type StorageStats = history.StorageStats

// FolderSummary mirrors history.FolderSummary for the REST boundary.
type FolderSummary = history.FolderSummary

// Filters mirrors history.Filters for the REST boundary.
type Filters = history.Filters

// Surface binds the configured scans, the executor, the history store, and
// the progress oracle into the operations the REST layer calls.
type Surface struct {
	scans     map[string]model.ScanDescriptor
	executor  *scanexec.Executor
	scheduler *scheduler.Scheduler
	store     *history.Store
	oracle    *progress.Oracle
}

// New constructs a Surface. scans is the currently-loaded descriptor set,
// keyed by slug; callers refresh it after every successful ReloadConfig.
func New(scans map[string]model.ScanDescriptor, executor *scanexec.Executor, sched *scheduler.Scheduler, store *history.Store, oracle *progress.Oracle) *Surface {
	return &Surface{scans: scans, executor: executor, scheduler: sched, store: store, oracle: oracle}
}

// DescriptorMap keys a loaded descriptor list by slug, the shape New and
// ReloadConfig consume.
func DescriptorMap(scans []model.ScanDescriptor) map[string]model.ScanDescriptor {
	out := make(map[string]model.ScanDescriptor, len(scans))
	for _, d := range scans {
		out[d.Slug] = d
	}
	return out
}

// ErrScanNotFound is returned by operations keyed on a slug that is not in
// the current registry.
type ErrScanNotFound struct {
	Slug string
}

func (e *ErrScanNotFound) Error() string { return "scan not found: " + e.Slug }

// ListScans summarizes every configured scan.
func (s *Surface) ListScans() []ScanSummary {
	out := make([]ScanSummary, 0, len(s.scans))
	for slug, d := range s.scans {
		out = append(out, s.summarize(slug, d))
	}
	return out
}

// GetScan returns the summary for one scan, matched by slug first, then by
// exact name.
func (s *Surface) GetScan(slugOrName string) (ScanSummary, error) {
	if d, ok := s.scans[slugOrName]; ok {
		return s.summarize(slugOrName, d), nil
	}
	for slug, d := range s.scans {
		if d.Name == slugOrName {
			return s.summarize(slug, d), nil
		}
	}
	return ScanSummary{}, &ErrScanNotFound{Slug: slugOrName}
}

func (s *Surface) summarize(slug string, d model.ScanDescriptor) ScanSummary {
	summary := ScanSummary{
		Slug:      slug,
		Name:      d.Name,
		Enabled:   d.Enabled,
		Interval:  d.Interval,
		NasHost:   d.Nas.Host,
		IsRunning: s.executor.IsRunning(slug),
	}
	if latest, err := s.store.GetLatestResult(slug); err == nil && latest != nil {
		ts := latest.Timestamp
		summary.LastRun = &ts
		summary.LastStatus = string(latest.Status)
	}
	if info, ok := s.scheduler.GetJobInfo(slug); ok {
		next := info.NextRun
		summary.NextRun = &next
	}
	return summary
}

// GetScanStatus reports the live running/finished state for one scan.
func (s *Surface) GetScanStatus(slug string) (ScanProgress, error) {
	if _, ok := s.scans[slug]; !ok {
		return ScanProgress{}, &ErrScanNotFound{Slug: slug}
	}
	live := s.executor.Snapshot(slug)
	if live == nil {
		return ScanProgress{Slug: slug}, nil
	}
	numDir, numFile, totalSize, waited, finished := live.Aggregate()
	return ScanProgress{
		Slug:           slug,
		Running:        live.IsRunning(time.Now()),
		CurrentPath:    live.CurrentPath,
		NumDir:         numDir,
		NumFile:        numFile,
		TotalSizeBytes: totalSize,
		Waited:         waited,
		Finished:       finished,
	}, nil
}

// GetScanProgress augments GetScanStatus with the ProgressOracle's
// estimated completion percentage.
func (s *Surface) GetScanProgress(slug string) (ScanProgress, error) {
	status, err := s.GetScanStatus(slug)
	if err != nil {
		return status, err
	}
	live := s.executor.Snapshot(slug)
	if live == nil {
		return status, nil
	}
	pct, err := s.oracle.Estimate(live)
	if err != nil {
		return status, nil
	}
	status.PercentComplete = pct
	return status, nil
}

// GetScanResults returns either just the latest result (latest=true) or
// the full history (latest=false) for slug.
func (s *Surface) GetScanResults(slug string, latest bool) ([]model.ScanResult, error) {
	if _, ok := s.scans[slug]; !ok {
		return nil, &ErrScanNotFound{Slug: slug}
	}
	if latest {
		r, err := s.store.GetLatestResult(slug)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, nil
		}
		return []model.ScanResult{*r}, nil
	}
	return s.store.GetAllResults(slug)
}

// GetScanHistory returns every stored ScanResult for slug, optionally
// restricted to results at or after since.
func (s *Surface) GetScanHistory(slug string, since *time.Time) ([]model.ScanResult, error) {
	if _, ok := s.scans[slug]; !ok {
		return nil, &ErrScanNotFound{Slug: slug}
	}
	if since != nil {
		return s.store.GetResultsSince(slug, *since)
	}
	return s.store.GetAllResults(slug)
}

// TriggerScan enqueues a run for slug unless one is already in-flight (or
// within its grace window). The run proceeds on its own goroutine, detached
// from the caller's request lifetime so a closed HTTP connection does not
// cancel the measurement.
func (s *Surface) TriggerScan(ctx context.Context, slug string) (TriggerResult, error) {
	d, ok := s.scans[slug]
	if !ok {
		return TriggerResult{}, &ErrScanNotFound{Slug: slug}
	}
	if s.executor.IsRunning(slug) {
		return TriggerResult{Triggered: false}, nil
	}
	go s.executor.Run(context.WithoutCancel(ctx), d)
	return TriggerResult{Triggered: true}, nil
}

// ReloadConfig re-reads the configuration and refreshes the surface's own
// scan registry to match the scheduler's new one.
func (s *Surface) ReloadConfig(scans map[string]model.ScanDescriptor) (ReloadResult, error) {
	diff, err := s.scheduler.Reload()
	if err != nil {
		return ReloadResult{}, err
	}
	s.scans = scans
	return ReloadResult{Added: diff.Added, Removed: diff.Removed, Updated: diff.Updated, Warnings: s.scheduler.Warnings()}, nil
}

// Warnings surfaces the scheduler's non-fatal diagnostics (duplicate-slug
// drops, per-scan config errors) for the health endpoint.
func (s *Surface) Warnings() []string {
	return s.scheduler.Warnings()
}

// GetStorageStats reports row counts and the time range covered by the
// history store.
func (s *Surface) GetStorageStats() (StorageStats, error) {
	return s.store.GetStorageStats()
}

// GetAllFolders returns the distinct (nasHost, folderPath) pairs matching
// filters.
func (s *Surface) GetAllFolders(filters Filters) ([]FolderSummary, error) {
	return s.store.GetAllFolders(filters)
}

// CleanupPreview reports how many rows CleanupOldResults would delete,
// without deleting them.
func (s *Surface) CleanupPreview(days int, filters Filters) (int64, error) {
	return s.store.CleanupOldResults(days, filters, true)
}

// Cleanup deletes rows older than days, optionally filtered.
func (s *Surface) Cleanup(days int, filters Filters) (int64, error) {
	return s.store.CleanupOldResults(days, filters, false)
}

// DeleteFolderResults deletes every row matching filters.
func (s *Surface) DeleteFolderResults(filters Filters) (int64, error) {
	return s.store.DeleteFolderResults(filters)
}

// DeleteScanResults deletes all history for one slug.
func (s *Surface) DeleteScanResults(slug string) (int64, error) {
	return s.store.ClearResults(slug)
}

// DeleteAllResults deletes every row in the store.
func (s *Surface) DeleteAllResults() (int64, error) {
	return s.store.DeleteAllResults()
}
