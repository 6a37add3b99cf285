// Package polling drives one remote dir-size task from start through
// adaptive progress polling to a terminal outcome: finished, lost, timed
// out, or cancelled.
package polling

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"dirscan/internal/metrics"
	"dirscan/internal/model"
	"dirscan/internal/nasclient"
)

// Result is the successful outcome of one Engine.Run call.
type Result struct {
	NumDir         int64
	NumFile        int64
	TotalSizeBytes int64
	ElapsedMs      int64
}

// Progress is the record handed to the caller's progress callback on every
// successful, not-yet-finished poll. It is a small fixed shape, never an
// arbitrary map.
type Progress struct {
	NumDir    int64
	NumFile   int64
	TotalSize int64
	Waited    int64
	Finished  bool
}

// ProgressFunc is invoked synchronously from the poll loop; it must not
// block for arbitrary time since it runs on the polling goroutine.
type ProgressFunc func(Progress)

// Config tunes one Engine instance. All fields are design constants, not
// meant to be overridden per scan.
type Config struct {
	MinInterval      time.Duration
	MaxInterval      time.Duration
	InitialDelay     time.Duration
	Error599SleepFor time.Duration
	MaxWait          time.Duration
	Max599Errors     int
	MaxFailedPolls   int

	Logger *zap.Logger
}

// DefaultConfig returns the constants specified for the polling state
// machine: 2s/10s adaptive interval bounds, a 3s initial delay, a 5s pause
// after a 599, a 300s overall budget, and the 3/5 error-escalation
// thresholds.
func DefaultConfig() Config {
	return Config{
		MinInterval:      2 * time.Second,
		MaxInterval:      10 * time.Second,
		InitialDelay:     3 * time.Second,
		Error599SleepFor: 5 * time.Second,
		MaxWait:          300 * time.Second,
		Max599Errors:     3,
		MaxFailedPolls:   5,
	}
}

// Engine drives one NasClient's dir-size task lifecycle. It holds no
// back-reference to its caller; all cross-component communication is
// through the injected Client interface and the Progress callback.
type Engine struct {
	client nasclient.Client
	cfg    Config
}

// New constructs an Engine bound to one NasClient.
func New(client nasclient.Client, cfg Config) *Engine {
	return &Engine{client: client, cfg: cfg}
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run starts a dir-size task for path and polls it to a terminal outcome.
// ctx carries cancellation: it is checked before and after every sleep and
// before every poll. On cancellation, the engine best-effort calls StopTask
// with ignoreMissing=true and returns a *model.CancelledError.
func (e *Engine) Run(ctx context.Context, path string, onProgress ProgressFunc) (Result, error) {
	start := time.Now()

	taskID, err := e.client.StartDirSize(ctx, path)
	if err != nil {
		return Result{}, err
	}

	handle := &model.TaskHandle{
		TaskID:            taskID,
		Path:              path,
		StartedAt:         start,
		CurrentIntervalMs: e.cfg.MinInterval.Milliseconds(),
	}

	if cancelled(ctx) {
		e.cancelTask(ctx, handle)
		return Result{}, &model.CancelledError{TaskID: taskID}
	}

	if err := e.sleep(ctx, e.cfg.InitialDelay); err != nil {
		e.cancelTask(ctx, handle)
		return Result{}, &model.CancelledError{TaskID: taskID}
	}
	if cancelled(ctx) {
		e.cancelTask(ctx, handle)
		return Result{}, &model.CancelledError{TaskID: taskID}
	}

	waited := e.cfg.InitialDelay
	status, pollErr := e.client.PollDirSize(ctx, taskID)
	if pollErr == nil && status.Finished {
		return e.finish(handle, status, start), nil
	}
	if apiErr, ok := pollErr.(*model.ApiError); ok && apiErr.Code == model.ApiCodeTaskNotFound {
		if err := e.sleep(ctx, 2*time.Second); err != nil {
			e.cancelTask(ctx, handle)
			return Result{}, &model.CancelledError{TaskID: taskID}
		}
		waited += 2 * time.Second
		retryStatus, retryErr := e.client.PollDirSize(ctx, taskID)
		if retryErr == nil && retryStatus.Finished {
			return e.finish(handle, retryStatus, start), nil
		}
		e.client.ForgetTask(taskID)
		return Result{}, &model.LostTaskError{TaskID: taskID}
	}
	if apiErr, ok := pollErr.(*model.ApiError); ok && apiErr.Code == model.ApiCodeServiceUnavailable {
		handle.Error599Count = 1
	} else if pollErr == nil {
		handle.LastDirs = status.NumDir
		handle.LastFiles = status.NumFile
		handle.LastSizeBytes = status.TotalSize
		handle.LastProgress = status.Progress
		if onProgress != nil {
			onProgress(*progressFromStatus(status, waited))
		}
	}

	return e.pollLoop(ctx, handle, waited, onProgress)
}

func cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func (e *Engine) cancelTask(ctx context.Context, handle *model.TaskHandle) {
	e.client.ForgetTask(handle.TaskID)
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = e.client.StopTask(stopCtx, handle.TaskID, true)
}

func (e *Engine) finish(handle *model.TaskHandle, status model.DirSizeStatus, start time.Time) Result {
	e.client.ForgetTask(handle.TaskID)
	return Result{
		NumDir:         status.NumDir,
		NumFile:        status.NumFile,
		TotalSizeBytes: status.TotalSize,
		ElapsedMs:      time.Since(start).Milliseconds(),
	}
}

func (e *Engine) pollLoop(ctx context.Context, handle *model.TaskHandle, waited time.Duration, onProgress ProgressFunc) (Result, error) {
	currentInterval := e.cfg.MinInterval

	for waited < e.cfg.MaxWait {
		if cancelled(ctx) {
			e.cancelTask(ctx, handle)
			return Result{}, &model.CancelledError{TaskID: handle.TaskID}
		}

		sleepFor := currentInterval
		if handle.Error599Count > 0 {
			sleepFor = e.cfg.Error599SleepFor
		}
		if err := e.sleep(ctx, sleepFor); err != nil {
			e.cancelTask(ctx, handle)
			return Result{}, &model.CancelledError{TaskID: handle.TaskID}
		}
		waited += sleepFor

		if cancelled(ctx) {
			e.cancelTask(ctx, handle)
			return Result{}, &model.CancelledError{TaskID: handle.TaskID}
		}

		if waited >= e.cfg.MaxWait {
			status, err := e.client.PollDirSize(ctx, handle.TaskID)
			if err == nil && status.Finished {
				return e.finish(handle, status, handle.StartedAt), nil
			}
			e.client.ForgetTask(handle.TaskID)
			return Result{}, &model.TimeoutError{TaskID: handle.TaskID, Waited: int64(waited.Seconds())}
		}

		status, pollErr := e.client.PollDirSize(ctx, handle.TaskID)
		recordPollOutcome(status, pollErr)

		if pollErr == nil {
			if status.Finished {
				return e.finish(handle, status, handle.StartedAt), nil
			}
			handle.FailedPolls = 0
			handle.Error599Count = 0
			currentInterval = e.adaptInterval(handle, status, currentInterval)
			handle.CurrentIntervalMs = currentInterval.Milliseconds()
			if onProgress != nil {
				onProgress(*progressFromStatus(status, waited))
			}
			continue
		}

		result, outcome := e.classifyError(ctx, handle, pollErr, waited)
		switch outcome {
		case outcomeContinue:
			continue
		case outcomeFinished:
			return result, nil
		case outcomeLost:
			e.client.ForgetTask(handle.TaskID)
			return Result{}, &model.LostTaskError{TaskID: handle.TaskID}
		}
	}

	e.client.ForgetTask(handle.TaskID)
	return Result{}, &model.TimeoutError{TaskID: handle.TaskID, Waited: int64(waited.Seconds())}
}

type pollOutcome int

const (
	outcomeContinue pollOutcome = iota
	outcomeFinished
	outcomeLost
)

func (e *Engine) classifyError(ctx context.Context, handle *model.TaskHandle, pollErr error, waited time.Duration) (Result, pollOutcome) {
	apiErr, isAPI := pollErr.(*model.ApiError)

	if isAPI && apiErr.Code == model.ApiCodeTaskNotFound {
		return Result{}, outcomeLost
	}

	if isAPI && apiErr.Code == model.ApiCodeServiceUnavailable {
		handle.Error599Count++
		handle.FailedPolls = 0

		if handle.Error599Count == 2 {
			tasks, err := e.client.ListBackgroundTasks(ctx, "SYNO.FileStation.DirSize")
			if err == nil {
				if found, present := findTask(tasks, handle.TaskID); present {
					if found.Finished {
						status, perr := e.client.PollDirSize(ctx, handle.TaskID)
						if perr == nil && status.Finished {
							return e.finish(handle, status, handle.StartedAt), outcomeFinished
						}
						return Result{}, outcomeLost
					}
					handle.Error599Count = 0
					_ = e.sleep(ctx, 3*time.Second)
				}
			}
		}

		if handle.Error599Count >= e.cfg.Max599Errors {
			tasks, err := e.client.ListBackgroundTasks(ctx, "SYNO.FileStation.DirSize")
			if err != nil {
				return Result{}, outcomeLost
			}
			found, present := findTask(tasks, handle.TaskID)
			if !present {
				status, perr := e.client.PollDirSize(ctx, handle.TaskID)
				if perr == nil && status.Finished {
					return e.finish(handle, status, handle.StartedAt), outcomeFinished
				}
				return Result{}, outcomeLost
			}
			if found.Finished {
				status, perr := e.client.PollDirSize(ctx, handle.TaskID)
				if perr == nil && status.Finished {
					return e.finish(handle, status, handle.StartedAt), outcomeFinished
				}
				return Result{}, outcomeLost
			}
			handle.Error599Count = 0
		}
		return Result{}, outcomeContinue
	}

	// Any other ApiError: continue, do not count toward the 599 policy.
	if isAPI {
		handle.Error599Count = 0
		return Result{}, outcomeContinue
	}

	// Transport failure or nil response.
	handle.FailedPolls++
	if handle.FailedPolls >= e.cfg.MaxFailedPolls {
		tasks, err := e.client.ListBackgroundTasks(ctx, "SYNO.FileStation.DirSize")
		if err != nil || !taskPresent(tasks, handle.TaskID) {
			return Result{}, outcomeLost
		}
		handle.FailedPolls = 0
	}
	return Result{}, outcomeContinue
}

func recordPollOutcome(status model.DirSizeStatus, pollErr error) {
	if pollErr == nil {
		if status.Finished {
			metrics.RecordPoll("finished")
		} else {
			metrics.RecordPoll("progress")
		}
		return
	}
	metrics.RecordPoll("error")
	if apiErr, ok := pollErr.(*model.ApiError); ok {
		metrics.RecordPollError(strconv.Itoa(apiErr.Code))
	}
}

func taskPresent(tasks []model.BackgroundTask, taskID string) bool {
	_, ok := findTask(tasks, taskID)
	return ok
}

func findTask(tasks []model.BackgroundTask, taskID string) (model.BackgroundTask, bool) {
	for _, t := range tasks {
		if t.TaskID == taskID {
			return t, true
		}
	}
	return model.BackgroundTask{}, false
}

func progressFromStatus(status model.DirSizeStatus, waited time.Duration) *Progress {
	return &Progress{
		NumDir:    status.NumDir,
		NumFile:   status.NumFile,
		TotalSize: status.TotalSize,
		Waited:    int64(waited.Seconds()),
		Finished:  status.Finished,
	}
}

// adaptInterval implements the progress-detection and interval-adjustment
// rule: any strict increase in progress/processedNum/numDir/numFile/
// totalSize since the previous poll resets the interval to MinInterval;
// from the third consecutive no-progress poll on, each such poll grows it
// by a fixed 2s, capped at MaxInterval.
func (e *Engine) adaptInterval(handle *model.TaskHandle, status model.DirSizeStatus, current time.Duration) time.Duration {
	progressDetected := false

	if status.Progress != nil && handle.LastProgress != nil {
		if *status.Progress > *handle.LastProgress {
			progressDetected = true
		}
	}
	if !progressDetected && status.ProcessedNum != nil && handle.LastProcessedNum != nil {
		if *status.ProcessedNum > *handle.LastProcessedNum {
			progressDetected = true
		}
	}
	if !progressDetected {
		if status.NumDir > handle.LastDirs || status.NumFile > handle.LastFiles || status.TotalSize > handle.LastSizeBytes {
			progressDetected = true
		}
	}

	handle.LastDirs = status.NumDir
	handle.LastFiles = status.NumFile
	handle.LastSizeBytes = status.TotalSize
	if status.Progress != nil {
		handle.LastProgress = status.Progress
	}
	if status.ProcessedNum != nil {
		handle.LastProcessedNum = status.ProcessedNum
	}

	if progressDetected {
		handle.NoProgressPolls = 0
		return e.cfg.MinInterval
	}

	handle.NoProgressPolls++
	if handle.NoProgressPolls >= 3 {
		next := current + 2*time.Second
		if next > e.cfg.MaxInterval {
			next = e.cfg.MaxInterval
		}
		return next
	}
	return current
}
