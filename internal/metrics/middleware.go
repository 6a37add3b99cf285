package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// GinMiddleware records request count, duration, and in-flight connection
// gauges for every route except the Prometheus scrape endpoint itself.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		HTTPActiveConnections.Inc()
		start := time.Now()

		c.Next()

		HTTPActiveConnections.Dec()
		duration := time.Since(start)

		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := normalizePath(c)

		HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
		HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	}
}

// normalizePath labels metrics by the matched route pattern (e.g.
// "/api/v1/scans/:slug") rather than the raw path, keeping slug values out
// of the label space. Unmatched routes fall back to the raw path.
func normalizePath(c *gin.Context) string {
	if fp := c.FullPath(); fp != "" {
		return fp
	}
	return c.Request.URL.Path
}
