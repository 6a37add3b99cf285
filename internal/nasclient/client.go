// Package nasclient implements an authenticated, rate-limited adapter
// against one NAS host's versioned RPC-style HTTP API: login, the dir-size
// task lifecycle, and the background-task listing used to adjudicate lost
// tasks.
package nasclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"dirscan/internal/model"
	"dirscan/internal/recovery"
)

// Client is the contract the polling engine and scan executor depend on.
// It is implemented by *HTTPClient; tests substitute a fake.
type Client interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context)
	StartDirSize(ctx context.Context, path string) (string, error)
	PollDirSize(ctx context.Context, taskID string) (model.DirSizeStatus, error)
	StopTask(ctx context.Context, taskID string, ignoreMissing bool) error
	ListBackgroundTasks(ctx context.Context, apiFilter string) ([]model.BackgroundTask, error)
	ActiveTaskIDs() []string
	ForgetTask(taskID string)
}

// Config tunes one NAS connection.
type Config struct {
	Host      string
	Port      int
	Username  string
	Secret    string
	UseTLS    bool
	VerifyTLS bool

	MinCallSpacing time.Duration
	RequestTimeout time.Duration
	Logger         *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.MinCallSpacing <= 0 {
		c.MinCallSpacing = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 60 * time.Second
	}
}

// HTTPClient is the production Client: one instance per configured NAS
// target, holding the session id and the rate limiter that paces outgoing
// calls regardless of which endpoint they hit.
type HTTPClient struct {
	cfg Config

	httpClient *http.Client
	limiter    *rate.Limiter

	mu  sync.Mutex
	sid string

	activeMu    sync.Mutex
	activeTasks map[string]struct{}
}

// New constructs an HTTPClient for one NAS target.
func New(cfg Config) *HTTPClient {
	cfg.applyDefaults()
	transport := &http.Transport{}
	if cfg.UseTLS && !cfg.VerifyTLS {
		transport.TLSClientConfig = insecureTLSConfig()
	}
	return &HTTPClient{
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.RequestTimeout, Transport: transport},
		limiter:     rate.NewLimiter(rate.Every(cfg.MinCallSpacing), 1),
		activeTasks: make(map[string]struct{}),
	}
}

func (c *HTTPClient) baseURL() string {
	scheme := "http"
	if c.cfg.UseTLS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d/webapi/entry.cgi", scheme, c.cfg.Host, c.cfg.Port)
}

// Login authenticates against the NAS and stores the resulting session id
// for use by subsequent calls.
func (c *HTTPClient) Login(ctx context.Context) error {
	resp, err := c.Call(ctx, "SYNO.API.Auth", "login", "6", map[string]string{
		"account": c.cfg.Username,
		"passwd":  c.cfg.Secret,
		"session": "FileStation",
		"format":  "sid",
	})
	if err != nil {
		return &model.AuthError{Host: c.cfg.Host, Err: err}
	}
	sid, _ := resp["sid"].(string)
	if sid == "" {
		return &model.AuthError{Host: c.cfg.Host, Err: fmt.Errorf("login response carried no sid")}
	}
	c.mu.Lock()
	c.sid = sid
	c.mu.Unlock()
	return nil
}

// Logout invalidates the session. It is idempotent: a failure here is
// logged, never returned, since the caller has no remaining recourse.
func (c *HTTPClient) Logout(ctx context.Context) {
	c.mu.Lock()
	sid := c.sid
	c.sid = ""
	c.mu.Unlock()
	if sid == "" {
		return
	}
	_, err := c.callWithSID(ctx, "SYNO.API.Auth", "logout", "6", nil, sid, false)
	if err != nil && c.cfg.Logger != nil {
		c.cfg.Logger.Warn("nas logout failed", zap.String("host", c.cfg.Host), zap.Error(err))
	}
}

// Call issues one authenticated RPC, enforcing minimum inter-call spacing
// and retrying transient conditions per the NAS client contract: codes 429
// and 503 and transport timeouts retry at most twice, honoring Retry-After
// when present; codes 400/401/403/404 are terminal; 160 and 599 are
// returned to the caller for semantic classification by the polling engine.
func (c *HTTPClient) Call(ctx context.Context, api, method, version string, params map[string]string) (map[string]interface{}, error) {
	c.mu.Lock()
	sid := c.sid
	c.mu.Unlock()
	return c.callWithSID(ctx, api, method, version, params, sid, true)
}

func (c *HTTPClient) callWithSID(ctx context.Context, api, method, version string, params map[string]string, sid string, retry bool) (map[string]interface{}, error) {
	retryCfg := recovery.RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
		Logger:        c.cfg.Logger,
	}
	if retry {
		retryCfg.MaxAttempts = 3
	}

	var result map[string]interface{}
	err := recovery.Retry(ctx, retryCfg, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		resp, callErr := c.doCall(ctx, api, method, version, params, sid)
		if callErr != nil {
			if isTransient(callErr) {
				return recovery.NewRetryableError(callErr, true)
			}
			return recovery.NewRetryableError(callErr, false)
		}
		result = resp
		return nil
	})
	if err != nil {
		if re, ok := err.(recovery.RetryableError); ok {
			return nil, re.Err
		}
		return nil, err
	}
	return result, nil
}

func (c *HTTPClient) doCall(ctx context.Context, api, method, version string, params map[string]string, sid string) (map[string]interface{}, error) {
	q := url.Values{}
	q.Set("api", api)
	q.Set("method", method)
	q.Set("version", version)
	if sid != "" {
		q.Set("_sid", sid)
	}
	for k, v := range params {
		q.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &model.TransportError{Op: api + "." + method, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &model.TransportError{Op: api + "." + method, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &model.TransportError{Op: api + "." + method, Err: err}
	}

	var envelope struct {
		Success bool                   `json:"success"`
		Data    map[string]interface{} `json:"data"`
		Error   struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &model.TransportError{Op: api + "." + method, Err: err}
	}

	if !envelope.Success {
		code := envelope.Error.Code
		if code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if secs, perr := strconv.Atoi(ra); perr == nil {
					time.Sleep(time.Duration(secs) * time.Second)
				}
			}
		}
		return nil, &model.ApiError{Code: code, Op: api + "." + method}
	}

	return envelope.Data, nil
}

// isTransient scopes the internal retry budget to 429/503 API codes and
// transport timeouts; other transport failures (refused connection, DNS)
// surface immediately for the polling engine's failedPolls policy.
func isTransient(err error) bool {
	switch e := err.(type) {
	case *model.ApiError:
		return e.Retryable()
	case *model.TransportError:
		var netErr net.Error
		if errors.As(e.Err, &netErr) && netErr.Timeout() {
			return true
		}
		return errors.Is(e.Err, context.DeadlineExceeded)
	default:
		return false
	}
}

// StartDirSize starts an asynchronous directory-size task on the NAS and
// returns its taskId.
func (c *HTTPClient) StartDirSize(ctx context.Context, path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", &model.ConfigError{Field: "path", Msg: "must be absolute"}
	}
	norm := model.NormalizePath(path)
	resp, err := c.Call(ctx, "SYNO.FileStation.DirSize", "start", "2", map[string]string{"path": norm})
	if err != nil {
		return "", err
	}
	taskID, _ := resp["taskid"].(string)
	if strings.TrimSpace(taskID) == "" {
		return "", &model.ApiError{Code: 0, Op: "DirSize.start"}
	}
	c.trackTask(taskID)
	return taskID, nil
}

// PollDirSize issues one status check for taskID.
func (c *HTTPClient) PollDirSize(ctx context.Context, taskID string) (model.DirSizeStatus, error) {
	resp, err := c.Call(ctx, "SYNO.FileStation.DirSize", "status", "2", map[string]string{
		"taskid": `"` + taskID + `"`,
	})
	if err != nil {
		return model.DirSizeStatus{}, err
	}
	return parseDirSizeStatus(resp), nil
}

func parseDirSizeStatus(data map[string]interface{}) model.DirSizeStatus {
	st := model.DirSizeStatus{
		Finished:       model.IsFinished(data["finished"]),
		NumDir:         toInt64(data["num_dir"]),
		NumFile:        toInt64(data["num_file"]),
		TotalSize:      toInt64(data["total_size"]),
		ProcessingPath: toString(data["processing_path"]),
	}
	if p, ok := data["progress"].(float64); ok {
		st.Progress = &p
	}
	if n, ok := data["processed_num"]; ok {
		v := toInt64(n)
		st.ProcessedNum = &v
	}
	if t, ok := data["total"]; ok {
		v := toInt64(t)
		st.Total = &v
	}
	return st
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

// StopTask best-effort cancels a remote task. When ignoreMissing is true, a
// 599 response (the NAS no longer knows the task) is treated as success.
func (c *HTTPClient) StopTask(ctx context.Context, taskID string, ignoreMissing bool) error {
	_, err := c.Call(ctx, "SYNO.FileStation.DirSize", "stop", "2", map[string]string{
		"taskid": `"` + taskID + `"`,
	})
	c.untrackTask(taskID)
	if err == nil {
		return nil
	}
	if ignoreMissing {
		if apiErr, ok := err.(*model.ApiError); ok && apiErr.Code == model.ApiCodeServiceUnavailable {
			return nil
		}
	}
	return err
}

// ListBackgroundTasks lists the NAS's currently known background tasks,
// optionally filtered by originating API.
func (c *HTTPClient) ListBackgroundTasks(ctx context.Context, apiFilter string) ([]model.BackgroundTask, error) {
	params := map[string]string{}
	if apiFilter != "" {
		params["api_filter"] = apiFilter
	}
	resp, err := c.Call(ctx, "SYNO.FileStation.BackgroundTask", "list", "3", params)
	if err != nil {
		return nil, err
	}
	rawTasks, _ := resp["tasks"].([]interface{})
	out := make([]model.BackgroundTask, 0, len(rawTasks))
	for _, rt := range rawTasks {
		m, ok := rt.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, model.BackgroundTask{
			TaskID:   toString(m["taskid"]),
			Finished: model.IsFinished(m["finished"]),
		})
	}
	return out, nil
}

func (c *HTTPClient) trackTask(taskID string) {
	c.activeMu.Lock()
	c.activeTasks[taskID] = struct{}{}
	c.activeMu.Unlock()
}

func (c *HTTPClient) untrackTask(taskID string) {
	c.ForgetTask(taskID)
}

// ForgetTask removes taskID from the active-task set. The polling engine
// calls this on every terminal outcome (Finished, LostTask, Timeout,
// Cancelled), not only on an explicit StopTask.
func (c *HTTPClient) ForgetTask(taskID string) {
	c.activeMu.Lock()
	delete(c.activeTasks, taskID)
	c.activeMu.Unlock()
}

// ActiveTaskIDs returns a snapshot of taskIds started but not yet removed
// via StopTask, a finished poll, or a terminal polling-engine outcome. Used
// for best-effort shutdown cleanup.
func (c *HTTPClient) ActiveTaskIDs() []string {
	c.activeMu.Lock()
	defer c.activeMu.Unlock()
	out := make([]string, 0, len(c.activeTasks))
	for id := range c.activeTasks {
		out = append(out, id)
	}
	return out
}
