package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/pilot-net/netcheck/pkg/types"
)

// SystemExecutor reads local CPU, memory and OS facts.
type SystemExecutor struct {
	// Sample is the CPU measurement window. Default: 200ms
	Sample time.Duration
}

// NewSystemExecutor creates a system info executor.
func NewSystemExecutor() *SystemExecutor {
	return &SystemExecutor{Sample: 200 * time.Millisecond}
}

// Type returns the executor type identifier.
func (e *SystemExecutor) Type() string {
	return "sysinfo"
}

// Capabilities returns what this executor needs.
func (e *SystemExecutor) Capabilities() Capabilities {
	return Capabilities{}
}

// Execute reads system info. target is ignored.
func (e *SystemExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	start := time.Now()
	info, err := e.Read(ctx)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), info.HostName, start, true, info), nil
}

// Read takes one reading.
func (e *SystemExecutor) Read(ctx context.Context) (*types.SystemInfo, error) {
	percents, err := cpu.PercentWithContext(ctx, e.Sample, false)
	if err != nil {
		return nil, fmt.Errorf("cpu usage: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("memory usage: %w", err)
	}
	hi, err := host.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("host info: %w", err)
	}

	info := &types.SystemInfo{
		OSName:      hi.Platform,
		OSVersion:   hi.PlatformVersion,
		HostName:    hi.Hostname,
		MemoryUsed:  vm.Used,
		MemoryTotal: vm.Total,
	}
	if info.OSName == "" {
		info.OSName = hi.OS
	}
	if len(percents) > 0 {
		info.CPUUsage = roundTo(percents[0], 1)
	}
	return info, nil
}
