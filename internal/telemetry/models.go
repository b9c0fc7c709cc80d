package telemetry

import (
	"time"
)

// Throughput is an inbound/outbound network rate in bytes per second.
type Throughput struct {
	InBytesPerSec  float64 `json:"inBytesPerSec"`
	OutBytesPerSec float64 `json:"outBytesPerSec"`
}

// Process is one entry of a collector's process list snapshot.
type Process struct {
	PID        int     `json:"pid"`
	Name       string  `json:"name"`
	CPUPercent float64 `json:"cpuPercent,omitempty"`
	MemPercent float64 `json:"memPercent,omitempty"`
}

// Sample is one telemetry report from a collector. Samples are append-only
// and ordered by their own timestamp, not by arrival order.
type Sample struct {
	CollectorID string     `json:"collectorId,omitempty"`
	CPUUsage    float64    `json:"cpuUsage"`
	MemoryUsage float64    `json:"memoryUsage"`
	DiskUsage   float64    `json:"diskUsage"`
	Network     Throughput `json:"networkThroughput"`
	Processes   []Process  `json:"processes,omitempty"`
	Timestamp   time.Time  `json:"timestamp"`
}

// Valid checks the percentage fields are within 0-100.
func (s *Sample) Valid() bool {
	for _, v := range []float64{s.CPUUsage, s.MemoryUsage, s.DiskUsage} {
		if v < 0 || v > 100 {
			return false
		}
	}
	return true
}
