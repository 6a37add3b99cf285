// Package model holds the domain types shared across the scan orchestration
// subsystem: scan descriptors, scan results, history rows, and in-memory
// live-scan and polling state.
package model

import "time"

// SentinelFolderPath marks a history row that records a failed scan with no
// successful path items.
const SentinelFolderPath = "__SCAN_STATUS_MARKER__"

// ScanStatus is the lifecycle status of one ScanResult.
type ScanStatus string

const (
	StatusPending   ScanStatus = "pending"
	StatusRunning   ScanStatus = "running"
	StatusCompleted ScanStatus = "completed"
	StatusFailed    ScanStatus = "failed"
)

// NasTarget identifies the NAS host a ScanDescriptor measures against.
type NasTarget struct {
	Host      string `yaml:"host" json:"host"`
	Port      int    `yaml:"port" json:"port"`
	Username  string `yaml:"username" json:"username"`
	Secret    string `yaml:"secret" json:"-"`
	UseTLS    bool   `yaml:"useTls" json:"useTls"`
	VerifyTLS bool   `yaml:"verifyTls" json:"verifyTls"`
}

// ScanDescriptor is one configured unit of work: a NAS target plus the set of
// paths to measure on a schedule.
type ScanDescriptor struct {
	Name      string    `yaml:"name" json:"name"`
	Slug      string    `yaml:"slug" json:"slug"`
	CreatedAt time.Time `yaml:"createdAt" json:"createdAt"`
	Enabled   bool      `yaml:"enabled" json:"enabled"`

	Nas NasTarget `yaml:"nas" json:"nas"`

	Shares  []string `yaml:"shares,omitempty" json:"shares,omitempty"`
	Paths   []string `yaml:"paths,omitempty" json:"paths,omitempty"`
	Folders []string `yaml:"folders,omitempty" json:"folders,omitempty"`

	Interval string `yaml:"interval" json:"interval"`
}

// EffectivePaths returns the normalized, ordered set of absolute paths this
// descriptor measures: explicit paths first, then share × folder
// combinations. Callers must have already validated the descriptor.
func (d *ScanDescriptor) EffectivePaths() []string {
	out := make([]string, 0, len(d.Paths)+len(d.Shares)*len(d.Folders)+len(d.Shares))
	for _, p := range d.Paths {
		out = append(out, NormalizePath(p))
	}
	if len(d.Folders) > 0 {
		for _, share := range d.Shares {
			for _, folder := range d.Folders {
				out = append(out, NormalizePath(share+"/"+folder))
			}
		}
	} else {
		for _, share := range d.Shares {
			out = append(out, NormalizePath(share))
		}
	}
	return out
}

// ScanResultItem is the outcome for one path within one ScanResult.
type ScanResultItem struct {
	FolderName     string `json:"folderName"`
	Success        bool   `json:"success"`
	NumDir         int64  `json:"numDir,omitempty"`
	NumFile        int64  `json:"numFile,omitempty"`
	TotalSizeBytes int64  `json:"totalSizeBytes,omitempty"`
	ElapsedMs      int64  `json:"elapsedMs,omitempty"`
	Error          string `json:"error,omitempty"`
}

// ScanResult is one execution of one ScanDescriptor.
type ScanResult struct {
	Slug      string           `json:"slug"`
	Name      string           `json:"name"`
	Timestamp time.Time        `json:"timestamp"`
	Status    ScanStatus       `json:"status"`
	Items     []ScanResultItem `json:"items"`
	Error     string           `json:"error,omitempty"`
}

// AnySucceeded reports whether at least one item in the result succeeded.
func (r *ScanResult) AnySucceeded() bool {
	for _, it := range r.Items {
		if it.Success {
			return true
		}
	}
	return false
}

// StoredRecord is one row in the HistoryStore: a single path's outcome at a
// given timestamp, tagged with the owning scan's identity and status.
type StoredRecord struct {
	ID         string
	NasHost    string
	FolderPath string
	Timestamp  time.Time
	Slug       string
	Name       string
	Status     ScanStatus
	ScanError  string

	Success        bool
	NumDir         int64
	NumFile        int64
	TotalSizeBytes int64
	ElapsedMs      int64
	ItemError      string
}

// IsSentinel reports whether this row is the scan-status marker row written
// when every item in a scan failed.
func (r *StoredRecord) IsSentinel() bool {
	return r.FolderPath == SentinelFolderPath
}

// PathProgress is the per-path aggregate tracked while a scan runs.
type PathProgress struct {
	NumDir    int64
	NumFile   int64
	TotalSize int64
	Waited    int64
	Finished  bool
}

// LiveScanState is the in-memory progress record for one running (or
// recently-finished, within the grace window) scan, keyed by slug.
type LiveScanState struct {
	Slug          string
	Running       bool
	FinishedAt    *time.Time
	CurrentPath   string
	ExpectedPaths []string
	PerPath       map[string]*PathProgress
}

// NewLiveScanState initializes an empty tracking record for the given
// expected path set.
func NewLiveScanState(slug string, expectedPaths []string) *LiveScanState {
	perPath := make(map[string]*PathProgress, len(expectedPaths))
	for _, p := range expectedPaths {
		perPath[p] = &PathProgress{}
	}
	return &LiveScanState{
		Slug:          slug,
		Running:       true,
		ExpectedPaths: expectedPaths,
		PerPath:       perPath,
	}
}

// Aggregate sums the per-path fields and reports whether every expected path
// has finished.
func (s *LiveScanState) Aggregate() (numDir, numFile, totalSize, waited int64, finished bool) {
	finished = true
	for _, path := range s.ExpectedPaths {
		pp, ok := s.PerPath[path]
		if !ok {
			finished = false
			continue
		}
		numDir += pp.NumDir
		numFile += pp.NumFile
		totalSize += pp.TotalSize
		if pp.Waited > waited {
			waited = pp.Waited
		}
		if !pp.Finished {
			finished = false
		}
	}
	return
}

// GraceWindow is how long a finished scan continues to report "running" to
// smooth transitions for UI polling clients.
const GraceWindow = 5 * time.Second

// IsRunning reports whether the scan should be considered running, honoring
// the grace window after a real finish.
func (s *LiveScanState) IsRunning(now time.Time) bool {
	if s.Running {
		return true
	}
	if s.FinishedAt == nil {
		return false
	}
	return now.Sub(*s.FinishedAt) < GraceWindow
}

// DirSizeStatus is the NAS's response to a dir-size poll, before
// interpretation by the polling state machine.
type DirSizeStatus struct {
	Finished       bool
	NumDir         int64
	NumFile        int64
	TotalSize      int64
	Progress       *float64
	ProcessedNum   *int64
	Total          *int64
	ProcessingPath string
}

// TaskHandle tracks one remote dir-size task under poll, across the entire
// Starting → terminal lifecycle.
type TaskHandle struct {
	TaskID   string
	Path     string
	StartedAt time.Time

	LastProgress     *float64
	LastProcessedNum *int64
	LastSizeBytes    int64
	LastDirs         int64
	LastFiles        int64

	NoProgressPolls   int
	Error599Count     int
	FailedPolls       int
	CurrentIntervalMs int64
}

// BackgroundTask is one entry returned by NasClient.ListBackgroundTasks.
type BackgroundTask struct {
	TaskID   string
	Finished bool
}
