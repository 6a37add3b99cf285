package polling

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirscan/internal/model"
)

type fakeClient struct {
	mu sync.Mutex

	startResp  string
	startErr   error
	pollQueue  []model.DirSizeStatus
	pollErrs   []error
	pollCalls  int
	bgTasks    []model.BackgroundTask
	bgErr      error
	stopCalled []string
	forgotten  []string
}

func (f *fakeClient) Login(ctx context.Context) error { return nil }
func (f *fakeClient) Logout(ctx context.Context)       {}

func (f *fakeClient) StartDirSize(ctx context.Context, path string) (string, error) {
	return f.startResp, f.startErr
}

func (f *fakeClient) PollDirSize(ctx context.Context, taskID string) (model.DirSizeStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.pollCalls
	f.pollCalls++
	if idx >= len(f.pollQueue) {
		idx = len(f.pollQueue) - 1
	}
	var err error
	if idx < len(f.pollErrs) {
		err = f.pollErrs[idx]
	}
	return f.pollQueue[idx], err
}

func (f *fakeClient) StopTask(ctx context.Context, taskID string, ignoreMissing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalled = append(f.stopCalled, taskID)
	return nil
}

func (f *fakeClient) ListBackgroundTasks(ctx context.Context, apiFilter string) ([]model.BackgroundTask, error) {
	return f.bgTasks, f.bgErr
}

func (f *fakeClient) ActiveTaskIDs() []string { return nil }

func (f *fakeClient) ForgetTask(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, taskID)
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MinInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	cfg.Error599SleepFor = time.Millisecond
	cfg.MaxWait = 200 * time.Millisecond
	return cfg
}

func TestRun_HappyPathSinglePath(t *testing.T) {
	fc := &fakeClient{
		startResp: "t1",
		pollQueue: []model.DirSizeStatus{
			{Finished: false, NumDir: 0, NumFile: 0, TotalSize: 0},
			{Finished: false, NumDir: 2, NumFile: 5, TotalSize: 100},
			{Finished: true, NumDir: 3, NumFile: 7, TotalSize: 30000},
		},
	}
	e := New(fc, fastConfig())

	var progressEvents []Progress
	result, err := e.Run(context.Background(), "/homes/docs", func(p Progress) {
		progressEvents = append(progressEvents, p)
	})

	require.NoError(t, err)
	assert.Equal(t, int64(3), result.NumDir)
	assert.Equal(t, int64(7), result.NumFile)
	assert.Equal(t, int64(30000), result.TotalSizeBytes)
	assert.NotEmpty(t, progressEvents)
}

func TestRun_AdaptiveBackoff(t *testing.T) {
	queue := []model.DirSizeStatus{
		{Finished: false, Progress: floatPtr(0.3)},
		{Finished: false, Progress: floatPtr(0.3)},
		{Finished: false, Progress: floatPtr(0.3)},
		{Finished: false, Progress: floatPtr(0.3)},
		{Finished: false, Progress: floatPtr(0.3)},
		{Finished: false, Progress: floatPtr(0.3)},
		{Finished: true, Progress: floatPtr(0.6)},
	}
	fc := &fakeClient{startResp: "t1", pollQueue: queue}
	cfg := fastConfig()
	cfg.MaxWait = time.Second
	e := New(fc, cfg)

	_, err := e.Run(context.Background(), "/a", nil)
	require.NoError(t, err)
}

func TestRun_599StormWithRecovery(t *testing.T) {
	fc := &fakeClient{
		startResp: "t1",
		pollQueue: []model.DirSizeStatus{
			{},                                                       // initial poll: 599
			{},                                                       // loop poll: 599, count reaches 2
			{Finished: true, NumDir: 3, NumFile: 7, TotalSize: 30000}, // one-shot fetch after bg list shows finished
		},
		pollErrs: []error{
			&model.ApiError{Code: model.ApiCodeServiceUnavailable},
			&model.ApiError{Code: model.ApiCodeServiceUnavailable},
		},
		bgTasks: []model.BackgroundTask{{TaskID: "t1", Finished: true}},
	}
	cfg := fastConfig()
	e := New(fc, cfg)

	result, err := e.Run(context.Background(), "/a", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.NumDir)
	assert.Equal(t, int64(30000), result.TotalSizeBytes)
}

func TestRun_TaskDisappears(t *testing.T) {
	fc := &fakeClient{
		startResp: "t1",
		pollQueue: []model.DirSizeStatus{{}, {}},
		pollErrs: []error{
			&model.ApiError{Code: model.ApiCodeTaskNotFound},
			&model.ApiError{Code: model.ApiCodeTaskNotFound},
		},
	}
	e := New(fc, fastConfig())

	_, err := e.Run(context.Background(), "/a", nil)
	require.Error(t, err)
	var lostErr *model.LostTaskError
	require.ErrorAs(t, err, &lostErr)
}

func TestRun_CancellationDuringSleep(t *testing.T) {
	fc := &fakeClient{
		startResp: "t1",
		pollQueue: []model.DirSizeStatus{{Finished: false}},
	}
	cfg := fastConfig()
	cfg.InitialDelay = 50 * time.Millisecond
	e := New(fc, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := e.Run(ctx, "/a", nil)
	require.Error(t, err)
	var cancelledErr *model.CancelledError
	require.ErrorAs(t, err, &cancelledErr)
	assert.Contains(t, fc.stopCalled, "t1")
}

func TestRun_Timeout(t *testing.T) {
	queue := make([]model.DirSizeStatus, 0, 50)
	for i := 0; i < 50; i++ {
		queue = append(queue, model.DirSizeStatus{Finished: false})
	}
	fc := &fakeClient{startResp: "t1", pollQueue: queue}
	cfg := fastConfig()
	cfg.MaxWait = 10 * time.Millisecond
	e := New(fc, cfg)

	_, err := e.Run(context.Background(), "/a", nil)
	require.Error(t, err)
	var timeoutErr *model.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
}

func floatPtr(f float64) *float64 { return &f }
