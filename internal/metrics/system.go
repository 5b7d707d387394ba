package metrics

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// SystemTracker reports host and process figures for a long-running watch.
type SystemTracker struct {
	startTime      time.Time
	root           string
	requestCount   atomic.Uint64
	errorCount     atomic.Uint64
	totalLatencyMs atomic.Uint64
}

// NewSystemTracker creates a tracker whose disk figures describe the volume
// holding root.
func NewSystemTracker(root string) *SystemTracker {
	return &SystemTracker{
		startTime: time.Now(),
		root:      root,
	}
}

// UsageStats is used/total/free for memory or a disk.
type UsageStats struct {
	UsedPercent float64 `json:"used_percent"`
	UsedBytes   uint64  `json:"used_bytes"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
}

// RequestStats represents request tracking statistics
type RequestStats struct {
	TotalRequests  uint64  `json:"total_requests"`
	TotalErrors    uint64  `json:"total_errors"`
	AverageLatency float64 `json:"average_latency_ms"`
}

// SystemSnapshot is everything Snapshot collects. Memory and Disk are nil
// when the host refuses to report them.
type SystemSnapshot struct {
	Uptime      int64         `json:"uptime_seconds"`
	GoRoutines  int           `json:"goroutines"`
	HeapAllocMB float64       `json:"heap_alloc_mb"`
	GCRuns      uint32        `json:"gc_runs"`
	Memory      *UsageStats   `json:"memory,omitempty"`
	Disk        *UsageStats   `json:"disk,omitempty"`
	Requests    *RequestStats `json:"requests"`
}

// GetUptime returns the tracker's uptime in seconds
func (st *SystemTracker) GetUptime() int64 {
	return int64(time.Since(st.startTime).Seconds())
}

// GetMemoryUsage returns current host memory usage
func (st *SystemTracker) GetMemoryUsage() (*UsageStats, error) {
	memInfo, err := mem.VirtualMemory()
	if err != nil {
		return nil, err
	}

	return &UsageStats{
		UsedPercent: memInfo.UsedPercent,
		UsedBytes:   memInfo.Used,
		TotalBytes:  memInfo.Total,
		FreeBytes:   memInfo.Free,
	}, nil
}

// GetDiskUsage returns usage of the volume holding the watched root
func (st *SystemTracker) GetDiskUsage() (*UsageStats, error) {
	diskInfo, err := disk.Usage(st.root)
	if err != nil {
		return nil, err
	}

	return &UsageStats{
		UsedPercent: diskInfo.UsedPercent,
		UsedBytes:   diskInfo.Used,
		TotalBytes:  diskInfo.Total,
		FreeBytes:   diskInfo.Free,
	}, nil
}

// GetRequestStats returns request tracking statistics
func (st *SystemTracker) GetRequestStats() *RequestStats {
	totalRequests := st.requestCount.Load()
	totalLatency := st.totalLatencyMs.Load()

	var avgLatency float64
	if totalRequests > 0 {
		avgLatency = float64(totalLatency) / float64(totalRequests)
	}

	return &RequestStats{
		TotalRequests:  totalRequests,
		TotalErrors:    st.errorCount.Load(),
		AverageLatency: avgLatency,
	}
}

// RecordRequest records a request with its latency
func (st *SystemTracker) RecordRequest(latencyMs uint64, isError bool) {
	st.requestCount.Add(1)
	st.totalLatencyMs.Add(latencyMs)
	if isError {
		st.errorCount.Add(1)
	}
}

// Snapshot collects the current figures.
func (st *SystemTracker) Snapshot() *SystemSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := &SystemSnapshot{
		Uptime:      st.GetUptime(),
		GoRoutines:  runtime.NumGoroutine(),
		HeapAllocMB: float64(ms.HeapAlloc) / 1024 / 1024,
		GCRuns:      ms.NumGC,
		Requests:    st.GetRequestStats(),
	}
	if m, err := st.GetMemoryUsage(); err == nil {
		snap.Memory = m
	}
	if d, err := st.GetDiskUsage(); err == nil {
		snap.Disk = d
	}
	return snap
}
