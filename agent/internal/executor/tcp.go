package executor

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/pilot-net/netcheck/pkg/types"
)

// TCPExecutor checks whether a TCP port accepts connections.
type TCPExecutor struct {
	// Timeout bounds one connect attempt. Default: 2s
	Timeout time.Duration
}

// NewTCPExecutor creates a TCP executor.
func NewTCPExecutor(timeout time.Duration) *TCPExecutor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &TCPExecutor{Timeout: timeout}
}

// Type returns the executor type identifier.
func (e *TCPExecutor) Type() string {
	return "tcp"
}

// Capabilities returns what this executor needs.
func (e *TCPExecutor) Capabilities() Capabilities {
	return Capabilities{}
}

// Execute checks target.Host:target.Port.
func (e *TCPExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	start := time.Now()
	res, err := e.Check(ctx, target.Host, target.Port)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), net.JoinHostPort(target.Host, strconv.Itoa(target.Port)), start, res.Status == types.PortOpen, res), nil
}

// Check dials host:port once. Refused, unreachable and timed-out connects all
// report Closed; only a cancelled context is an error.
func (e *TCPExecutor) Check(ctx context.Context, host string, port int) (*types.TCPResult, error) {
	dialer := net.Dialer{Timeout: e.Timeout}
	addr := net.JoinHostPort(host, strconv.Itoa(port))

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &types.TCPResult{Host: host, Port: port, Status: types.PortClosed}, nil
	}
	elapsed := time.Since(start)
	conn.Close()

	return &types.TCPResult{
		Host:      host,
		Port:      port,
		Status:    types.PortOpen,
		LatencyMs: types.Float64(roundTo(durationMs(elapsed), 2)),
	}, nil
}
