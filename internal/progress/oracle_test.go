package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirscan/internal/model"
)

type fakeBaselines struct {
	result *model.ScanResult
	err    error
}

func (f *fakeBaselines) GetLatestCompletedResult(slug string) (*model.ScanResult, error) {
	return f.result, f.err
}

const gib = 1 << 30
const mib = 1 << 20

func TestEstimate_NoBaseline(t *testing.T) {
	o := New(&fakeBaselines{result: nil})
	live := model.NewLiveScanState("docs", []string{"/a"})

	pct, err := o.Estimate(live)
	require.NoError(t, err)
	assert.Nil(t, pct)
}

func TestEstimate_WeightedBySize(t *testing.T) {
	baseline := &model.ScanResult{
		Items: []model.ScanResultItem{
			{FolderName: "/a", Success: true, TotalSizeBytes: 10 * gib, NumDir: 100, NumFile: 1000},
			{FolderName: "/b", Success: true, TotalSizeBytes: 1 * mib, NumDir: 10, NumFile: 50},
		},
	}
	o := New(&fakeBaselines{result: baseline})

	live := model.NewLiveScanState("docs", []string{"/a", "/b"})
	live.PerPath["/a"] = &model.PathProgress{TotalSize: 5 * gib, NumDir: 50, NumFile: 500}
	live.PerPath["/b"] = &model.PathProgress{TotalSize: 1 * mib, NumDir: 10, NumFile: 50, Finished: true}

	pct, err := o.Estimate(live)
	require.NoError(t, err)
	require.NotNil(t, pct)
	assert.InDelta(t, 50.0, *pct, 2.0)
}

func TestEstimate_EmptyBaselineItemsFallsBack(t *testing.T) {
	baseline := &model.ScanResult{Items: []model.ScanResultItem{{FolderName: "/a", Success: false}}}
	o := New(&fakeBaselines{result: baseline})

	live := model.NewLiveScanState("docs", []string{"/a"})
	pct, err := o.Estimate(live)
	require.NoError(t, err)
	require.NotNil(t, pct)
	assert.Equal(t, 0.0, *pct)
}

func TestRatioPct_CapsAndDegrades(t *testing.T) {
	assert.Equal(t, 100.0, ratioPct(50, 0, true))
	assert.Equal(t, 0.0, ratioPct(50, 0, false))
	assert.Equal(t, 100.0, ratioPct(200, 100, false))
	assert.Equal(t, 50.0, ratioPct(50, 100, false))
}

func TestWeightFor(t *testing.T) {
	assert.Equal(t, float64(1000), weightFor(baselineEntry{size: 0, dirs: 1, files: 0}))
	assert.Equal(t, float64(5), weightFor(baselineEntry{size: 0, dirs: 0, files: 5}))
	assert.Equal(t, float64(1), weightFor(baselineEntry{}))
}
