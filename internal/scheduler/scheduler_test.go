package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirscan/internal/model"
)

type fakeRunner struct {
	mu      sync.Mutex
	running map[string]bool
	runs    int
}

func (f *fakeRunner) Run(ctx context.Context, d model.ScanDescriptor) model.ScanResult {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	return model.ScanResult{Slug: d.Slug, Status: model.StatusCompleted}
}

func (f *fakeRunner) IsRunning(slug string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running[slug]
}

func writeConfig(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

const baseScan = `
scans:
  - name: docs
    enabled: true
    interval: 1h
    nas:
      host: nas1.local
    paths:
      - /homes/docs
`

func TestReload_AddsEnabledJob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, baseScan)

	s := New(&fakeRunner{running: map[string]bool{}}, path, nil)
	t.Cleanup(func() { s.Stop(context.Background()) })
	diff, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, diff.Added)

	info, ok := s.GetJobInfo("docs")
	require.True(t, ok)
	assert.Contains(t, info.TriggerDescription, "every")
}

func TestReload_DisablingRemovesJob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, baseScan)

	s := New(&fakeRunner{running: map[string]bool{}}, path, nil)
	t.Cleanup(func() { s.Stop(context.Background()) })
	_, err := s.Reload()
	require.NoError(t, err)

	writeConfig(t, path, `
scans:
  - name: docs
    enabled: false
    interval: 1h
    nas:
      host: nas1.local
    paths:
      - /homes/docs
`)
	diff, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, diff.Removed)

	_, ok := s.GetJobInfo("docs")
	assert.False(t, ok)
}

func TestReload_IntervalChangeRecreatesJob(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, baseScan)

	s := New(&fakeRunner{running: map[string]bool{}}, path, nil)
	t.Cleanup(func() { s.Stop(context.Background()) })
	_, err := s.Reload()
	require.NoError(t, err)

	writeConfig(t, path, `
scans:
  - name: docs
    enabled: true
    interval: 2h
    nas:
      host: nas1.local
    paths:
      - /homes/docs
`)
	diff, err := s.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, diff.Updated)
}

func TestReload_UnrelatedFieldChangeIsIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, baseScan)

	s := New(&fakeRunner{running: map[string]bool{}}, path, nil)
	t.Cleanup(func() { s.Stop(context.Background()) })
	_, err := s.Reload()
	require.NoError(t, err)

	// Name is not part of job identity; changing createdAt-equivalent
	// metadata alone should produce no diff once the slug is explicit.
	writeConfig(t, path, `
scans:
  - name: Docs Share
    slug: docs
    enabled: true
    interval: 1h
    nas:
      host: nas1.local
    paths:
      - /homes/docs
`)
	diff, err := s.Reload()
	require.NoError(t, err)
	assert.Empty(t, diff.Added)
	assert.Empty(t, diff.Removed)
	assert.Empty(t, diff.Updated)
}

func TestGetJobInfo_UnknownSlug(t *testing.T) {
	s := New(&fakeRunner{running: map[string]bool{}}, "/nonexistent.yaml", nil)
	_, ok := s.GetJobInfo("missing")
	assert.False(t, ok)
}

func TestDispatchLoop_DispatchesOnFire(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, `
scans:
  - name: docs
    enabled: true
    interval: 1s
    nas:
      host: nas1.local
    paths:
      - /homes/docs
`)

	runner := &fakeRunner{running: map[string]bool{}}
	s := New(runner, path, nil)
	_, err := s.Reload()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return runner.runs >= 1
	}, 3*time.Second, 10*time.Millisecond)

	s.Stop(context.Background())
}

func TestDispatchLoop_CoalescesWhileRunning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, `
scans:
  - name: docs
    enabled: true
    interval: 1s
    nas:
      host: nas1.local
    paths:
      - /homes/docs
`)

	runner := &fakeRunner{running: map[string]bool{"docs": true}}
	s := New(runner, path, nil)
	_, err := s.Reload()
	require.NoError(t, err)

	time.Sleep(1200 * time.Millisecond)
	s.Stop(context.Background())

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 0, runner.runs)
}
