package httpapi

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"dirscan/internal/control"
	"dirscan/internal/metrics"
)

const (
	wsPushInterval = time.Second
	wsWriteTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The control surface is same-origin-agnostic; the bearer guard on
	// mutating endpoints is the actual security boundary.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ProgressSocket streams GetScanProgress snapshots to websocket clients
// while a scan runs, sending one final frame once it finishes.
type ProgressSocket struct {
	surface *control.Surface
	logger  *zap.Logger
	conns   atomic.Int64
}

func NewProgressSocket(surface *control.Surface, logger *zap.Logger) *ProgressSocket {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressSocket{surface: surface, logger: logger}
}

func (ps *ProgressSocket) Serve(c *gin.Context) {
	slug := c.Param("slug")
	if _, err := ps.surface.GetScanStatus(slug); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ps.logger.Warn("websocket upgrade failed", zap.String("slug", slug), zap.Error(err))
		return
	}
	defer conn.Close()

	metrics.UpdateWebSocketConnections(float64(ps.conns.Add(1)))
	defer func() {
		metrics.UpdateWebSocketConnections(float64(ps.conns.Add(-1)))
	}()

	// Reader pump: the client never sends data frames; reading surfaces
	// close frames and connection drops.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPushInterval)
	defer ticker.Stop()

	for {
		progress, err := ps.surface.GetScanProgress(slug)
		if err != nil {
			return
		}

		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(progress); err != nil {
			return
		}
		metrics.RecordWebSocketMessage("sent")

		if !progress.Running {
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "scan finished"))
			return
		}

		select {
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
