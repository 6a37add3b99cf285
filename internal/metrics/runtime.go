package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPActiveConnections tracks the number of currently active HTTP
	// connections.
	HTTPActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirscan",
		Subsystem: "http",
		Name:      "active_connections",
		Help:      "Number of currently active HTTP connections.",
	})

	// WebSocketConnections tracks the number of active progress-stream
	// WebSocket connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirscan",
		Subsystem: "websocket",
		Name:      "connections",
		Help:      "Number of active WebSocket connections.",
	})

	// NasHealthStatus tracks the reachability of each configured NAS host.
	// Values: 1 = healthy, 0.5 = degraded, 0 = offline.
	NasHealthStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "dirscan",
		Subsystem: "nas",
		Name:      "health_status",
		Help:      "Health status of configured NAS hosts (1=healthy, 0.5=degraded, 0=offline).",
	}, []string{"host"})

	// GoroutineCount tracks the number of goroutines.
	GoroutineCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirscan",
		Subsystem: "runtime",
		Name:      "goroutines",
		Help:      "Number of goroutines currently running.",
	})

	// MemoryAlloc tracks the bytes of allocated heap objects.
	MemoryAlloc = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirscan",
		Subsystem: "runtime",
		Name:      "memory_alloc_bytes",
		Help:      "Bytes of allocated heap objects.",
	})

	// MemorySys tracks the total bytes of memory obtained from the OS.
	MemorySys = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirscan",
		Subsystem: "runtime",
		Name:      "memory_sys_bytes",
		Help:      "Total bytes of memory obtained from the OS.",
	})

	// MemoryHeapInuse tracks bytes in in-use heap spans.
	MemoryHeapInuse = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "dirscan",
		Subsystem: "runtime",
		Name:      "memory_heap_inuse_bytes",
		Help:      "Bytes in in-use heap spans.",
	})
)

var (
	collectorOnce sync.Once
	stopChan      chan struct{}
)

// StartRuntimeCollector starts a background goroutine that periodically
// collects runtime metrics (goroutines, memory). Call StopRuntimeCollector
// to stop it during shutdown.
func StartRuntimeCollector(interval time.Duration) {
	collectorOnce.Do(func() {
		stopChan = make(chan struct{})
		go collectRuntimeMetrics(interval, stopChan)
	})
}

// StopRuntimeCollector stops the background runtime metrics collector.
func StopRuntimeCollector() {
	if stopChan != nil {
		close(stopChan)
	}
}

func collectRuntimeMetrics(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	updateRuntimeMetrics()

	for {
		select {
		case <-ticker.C:
			updateRuntimeMetrics()
		case <-stop:
			return
		}
	}
}

func updateRuntimeMetrics() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	GoroutineCount.Set(float64(runtime.NumGoroutine()))
	MemoryAlloc.Set(float64(memStats.Alloc))
	MemorySys.Set(float64(memStats.Sys))
	MemoryHeapInuse.Set(float64(memStats.HeapInuse))
}

// NAS health status constants.
const (
	NasHealthy  = 1.0
	NasDegraded = 0.5
	NasOffline  = 0.0
)

// SetNasHealth sets the health status for a NAS host.
func SetNasHealth(host string, status float64) {
	NasHealthStatus.WithLabelValues(host).Set(status)
}
