package async

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/teranos/jobpulse/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring
type SystemMetrics struct {
	WorkersActive int     `json:"workersActive"`
	WorkersTotal  int     `json:"workersTotal"`
	JobsProcessed int     `json:"jobsProcessed"`
	UptimeSeconds int64   `json:"uptimeSeconds"`
	MemoryUsedGB  float64 `json:"memoryUsedGb"`
	MemoryTotalGB float64 `json:"memoryTotalGb"`
	MemoryPercent float64 `json:"memoryPercent"`
}

// memoryPerWorkerGB is a rough upper bound for one import run holding a
// feed body, its parsed records and an upsert batch in memory
const memoryPerWorkerGB = 0.25

// getMemoryStats returns total and available memory in bytes
func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for the available memory
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryBuffer = 1.0 // GB left for the rest of the host

	if availableGB < memoryBuffer {
		return 1
	}
	recommended := int((availableGB - memoryBuffer) / memoryPerWorkerGB)
	if recommended < 1 {
		return 1
	}
	if recommended > 64 {
		return 64
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	wp.mu.Lock()
	defer wp.mu.Unlock()

	var uptime int64
	if wp.running {
		uptime = int64(time.Since(wp.startTime).Seconds())
	}

	return SystemMetrics{
		WorkersActive: wp.activeWorkers,
		WorkersTotal:  wp.workers,
		JobsProcessed: wp.jobsProcessed,
		UptimeSeconds: uptime,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
	}
}

// checkMemoryPressure returns a warning when the configured worker count is
// above what available memory comfortably supports
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.workers > recommended {
		return fmt.Sprintf(
			"Worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB). "+
				"Consider reducing pulse.workers.",
			wp.workers, recommended, totalGB-availableGB, totalGB)
	}
	return ""
}
