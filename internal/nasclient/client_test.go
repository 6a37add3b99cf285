package nasclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dirscan/internal/model"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	c := New(Config{
		Host:           host,
		Port:           port,
		Username:       "admin",
		Secret:         "secret",
		MinCallSpacing: 0,
	})
	return c, srv
}

func TestLogin_Success(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "SYNO.API.Auth", r.URL.Query().Get("api"))
		fmt.Fprint(w, `{"success":true,"data":{"sid":"abc123"}}`)
	})
	defer srv.Close()

	err := c.Login(context.Background())
	require.NoError(t, err)
	c.mu.Lock()
	sid := c.sid
	c.mu.Unlock()
	assert.Equal(t, "abc123", sid)
}

func TestLogin_Failure(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":{"code":400}}`)
	})
	defer srv.Close()

	err := c.Login(context.Background())
	require.Error(t, err)
	var authErr *model.AuthError
	require.ErrorAs(t, err, &authErr)
	assert.NotEmpty(t, authErr.Host)
}

func TestStartDirSize_RejectsRelativePath(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("should not reach server for a relative path")
	})
	defer srv.Close()

	_, err := c.StartDirSize(context.Background(), "relative/path")
	require.Error(t, err)
}

func TestStartDirSize_Success(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "start", r.URL.Query().Get("method"))
		fmt.Fprint(w, `{"success":true,"data":{"taskid":"t1"}}`)
	})
	defer srv.Close()

	taskID, err := c.StartDirSize(context.Background(), "/homes/docs")
	require.NoError(t, err)
	assert.Equal(t, "t1", taskID)
	assert.Contains(t, c.ActiveTaskIDs(), "t1")
}

func TestPollDirSize_ParsesFields(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{"finished":false,"num_dir":2,"num_file":5,"total_size":100,"progress":0.3,"processed_num":7,"total":20,"processing_path":"/homes/docs/a"}}`)
	})
	defer srv.Close()

	status, err := c.PollDirSize(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, status.Finished)
	assert.Equal(t, int64(2), status.NumDir)
	assert.Equal(t, int64(5), status.NumFile)
	assert.Equal(t, int64(100), status.TotalSize)
	require.NotNil(t, status.Progress)
	assert.InDelta(t, 0.3, *status.Progress, 0.0001)
	require.NotNil(t, status.ProcessedNum)
	assert.Equal(t, int64(7), *status.ProcessedNum)
	assert.Equal(t, "/homes/docs/a", status.ProcessingPath)
}

func TestPollDirSize_Finished(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{"finished":"true","num_dir":3,"num_file":7,"total_size":30000}}`)
	})
	defer srv.Close()

	status, err := c.PollDirSize(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, status.Finished)
}

func TestPollDirSize_ApiError160(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":{"code":160}}`)
	})
	defer srv.Close()

	_, err := c.PollDirSize(context.Background(), "t1")
	require.Error(t, err)
}

func TestStopTask_IgnoreMissing(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":{"code":599}}`)
	})
	defer srv.Close()
	c.trackTask("t1")

	err := c.StopTask(context.Background(), "t1", true)
	assert.NoError(t, err)
	assert.NotContains(t, c.ActiveTaskIDs(), "t1")
}

func TestStopTask_PropagatesOtherErrors(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"error":{"code":400}}`)
	})
	defer srv.Close()

	err := c.StopTask(context.Background(), "t1", true)
	assert.Error(t, err)
}

func TestListBackgroundTasks(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{"tasks":[{"taskid":"t1","finished":true},{"taskid":"t2","finished":false}]}}`)
	})
	defer srv.Close()

	tasks, err := c.ListBackgroundTasks(context.Background(), "SYNO.FileStation.DirSize")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].TaskID)
	assert.True(t, tasks[0].Finished)
	assert.False(t, tasks[1].Finished)
}

func TestForgetTask(t *testing.T) {
	c := New(Config{Host: "example", Port: 5000, MinCallSpacing: 0})
	c.trackTask("t1")
	assert.Contains(t, c.ActiveTaskIDs(), "t1")
	c.ForgetTask("t1")
	assert.NotContains(t, c.ActiveTaskIDs(), "t1")
}
