// Package progress estimates the completion percentage of a running scan
// by comparing its live per-path state against the most recent completed
// baseline for the same paths.
package progress

import (
	"math"

	"dirscan/internal/model"
)

// BaselineSource supplies the most recent completed ScanResult usable as a
// progress baseline.
type BaselineSource interface {
	GetLatestCompletedResult(slug string) (*model.ScanResult, error)
}

// Oracle computes weighted completion percentages.
type Oracle struct {
	baselines BaselineSource
}

// New constructs an Oracle backed by baselines.
func New(baselines BaselineSource) *Oracle {
	return &Oracle{baselines: baselines}
}

type baselineEntry struct {
	size  int64
	dirs  int64
	files int64
}

// Estimate returns the weighted completion percentage for live, or nil if
// no usable baseline exists for its slug.
func (o *Oracle) Estimate(live *model.LiveScanState) (*float64, error) {
	baseline, err := o.baselines.GetLatestCompletedResult(live.Slug)
	if err != nil {
		return nil, err
	}
	if baseline == nil {
		return nil, nil
	}

	byPath := make(map[string]baselineEntry)
	for _, item := range baseline.Items {
		if !item.Success {
			continue
		}
		norm := model.NormalizePath(item.FolderName)
		existing, ok := byPath[norm]
		if !ok || item.TotalSizeBytes > existing.size {
			byPath[norm] = baselineEntry{size: item.TotalSizeBytes, dirs: item.NumDir, files: item.NumFile}
		}
	}

	if len(byPath) == 0 {
		return o.fallback(live, baseline), nil
	}

	var (
		sizeWeighted, dirsWeighted, filesWeighted float64
		totalWeight                               float64
	)

	for path, entry := range byPath {
		pp, seen := live.PerPath[path]
		var curSize, curDirs, curFiles int64
		finished := false
		if seen {
			curSize, curDirs, curFiles, finished = pp.TotalSize, pp.NumDir, pp.NumFile, pp.Finished
		}

		sizePct := ratioPct(curSize, entry.size, finished)
		dirsPct := ratioPct(curDirs, entry.dirs, finished)
		filesPct := ratioPct(curFiles, entry.files, finished)

		weight := weightFor(entry)
		totalWeight += weight
		sizeWeighted += sizePct * weight
		dirsWeighted += dirsPct * weight
		filesWeighted += filesPct * weight
	}

	if totalWeight == 0 {
		return o.fallback(live, baseline), nil
	}

	sizePct := sizeWeighted / totalWeight
	dirsPct := dirsWeighted / totalWeight
	filesPct := filesWeighted / totalWeight

	final := 0.7*sizePct + 0.2*dirsPct + 0.1*filesPct
	rounded := math.Round(final*10) / 10
	return &rounded, nil
}

// ratioPct computes a [0,100]-capped completion ratio. An empty historical
// denominator degrades to 0% while the path is still running, and to 100%
// once it is marked finished.
func ratioPct(current, historical int64, finished bool) float64 {
	if historical <= 0 {
		if finished {
			return 100
		}
		return 0
	}
	pct := float64(current) / float64(historical) * 100
	if pct > 100 {
		pct = 100
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}

// weightFor picks the axis that most informatively represents this path:
// bytes when known, else a coarse folder-count proxy, else file count,
// else a nominal weight of 1 so every path still contributes.
func weightFor(entry baselineEntry) float64 {
	if entry.size > 0 {
		return float64(entry.size)
	}
	if entry.dirs > 0 {
		return float64(entry.dirs) * 1000
	}
	if entry.files > 0 {
		return float64(entry.files)
	}
	return 1
}

// fallback aggregates LiveScanState sums against baseline sums per axis
// when no baseline path could be matched individually.
func (o *Oracle) fallback(live *model.LiveScanState, baseline *model.ScanResult) *float64 {
	var baseSize, baseDirs, baseFiles int64
	for _, item := range baseline.Items {
		if !item.Success {
			continue
		}
		baseSize += item.TotalSizeBytes
		baseDirs += item.NumDir
		baseFiles += item.NumFile
	}

	curDirs, curFiles, curSize, _, finished := live.Aggregate()

	sizePct := ratioPct(curSize, baseSize, finished)
	dirsPct := ratioPct(curDirs, baseDirs, finished)
	filesPct := ratioPct(curFiles, baseFiles, finished)

	final := 0.7*sizePct + 0.2*dirsPct + 0.1*filesPct
	rounded := math.Round(final*10) / 10
	return &rounded
}
