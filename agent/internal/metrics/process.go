package metrics

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessHealth describes the agent process itself.
type ProcessHealth struct {
	Status        string  `json:"status"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryMB      float64 `json:"memory_mb"`
	MemoryPercent float64 `json:"memory_percent"`
}

// HealthCollector reads process health with a short cache.
type HealthCollector struct {
	startTime time.Time
	ttl       time.Duration

	mu      sync.Mutex
	cached  *ProcessHealth
	expires time.Time
}

// NewHealthCollector creates a collector caching readings for ttl.
func NewHealthCollector(ttl time.Duration) *HealthCollector {
	return &HealthCollector{startTime: time.Now(), ttl: ttl}
}

// Health returns the current process health.
func (c *HealthCollector) Health() ProcessHealth {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Now().Before(c.expires) {
		return *c.cached
	}

	h := ProcessHealth{
		Status:        "healthy",
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: int64(time.Since(c.startTime).Seconds()),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if cpu, err := proc.CPUPercent(); err == nil {
			h.CPUPercent = cpu
		}
		if mem, err := proc.MemoryInfo(); err == nil {
			h.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
		if pct, err := proc.MemoryPercent(); err == nil {
			h.MemoryPercent = float64(pct)
		}
	}

	if h.MemoryPercent > 90 || h.CPUPercent > 90 {
		h.Status = "degraded"
	}

	c.cached = &h
	c.expires = time.Now().Add(c.ttl)
	return h
}
