package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pilot-net/netcheck/pkg/types"
)

// PortScanExecutor connects to every port of a range with bounded concurrency.
type PortScanExecutor struct {
	// Workers bounds concurrent connects. Default: 100
	Workers int

	tcp    *TCPExecutor
	logger *slog.Logger
}

// PortScanParams selects the inclusive port range for Execute.
type PortScanParams struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// NewPortScanExecutor creates a scanner. timeout bounds each connect and
// defaults to 500ms.
func NewPortScanExecutor(timeout time.Duration, workers int, logger *slog.Logger) *PortScanExecutor {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if workers <= 0 {
		workers = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PortScanExecutor{
		Workers: workers,
		tcp:     NewTCPExecutor(timeout),
		logger:  logger,
	}
}

// Type returns the executor type identifier.
func (e *PortScanExecutor) Type() string {
	return "portscan"
}

// Capabilities returns what this executor needs.
func (e *PortScanExecutor) Capabilities() Capabilities {
	return Capabilities{}
}

// Execute scans params.Start..params.End on target.Host. Without params it
// scans the well-known ports.
func (e *PortScanExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	params, err := parseParams(target.Params, PortScanParams{Start: 1, End: 1024})
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := e.Scan(ctx, target.Host, params.Start, params.End, nil)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), target.Host, start, true, res), nil
}

// Scan connects to every port in [first, last]. Each open port is also sent
// on events when events is non-nil; the caller owns and closes the channel.
// Open ports are returned ascending.
func (e *PortScanExecutor) Scan(ctx context.Context, host string, first, last int, events chan<- types.TCPResult) (*types.PortScanResult, error) {
	if first < 1 || last > 65535 || first > last {
		return nil, fmt.Errorf("%w: port range %d-%d", ErrInvalidParams, first, last)
	}

	e.logger.Info("starting port scan",
		"host", host,
		"start", first,
		"end", last,
		"workers", e.Workers,
	)

	begin := time.Now()
	sem := semaphore.NewWeighted(int64(e.Workers))
	var (
		mu   sync.Mutex
		open []int
		wg   sync.WaitGroup
	)

	for port := first; port <= last; port++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			defer sem.Release(1)

			res, err := e.tcp.Check(ctx, host, port)
			if err != nil || res.Status != types.PortOpen {
				return
			}
			mu.Lock()
			open = append(open, port)
			mu.Unlock()
			if events != nil {
				select {
				case events <- *res:
				case <-ctx.Done():
				}
			}
		}(port)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sort.Ints(open)
	if open == nil {
		open = []int{}
	}
	return &types.PortScanResult{
		Host:         host,
		OpenPorts:    open,
		ScannedCount: last - first + 1,
		DurationMs:   time.Since(begin).Milliseconds(),
	}, nil
}
