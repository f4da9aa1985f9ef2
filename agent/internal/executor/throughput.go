package executor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pilot-net/netcheck/pkg/types"
)

// throughputChunk is the size of each write in the flood.
const throughputChunk = 8 << 10

// ThroughputExecutor measures upload speed by flooding a TCP connection.
type ThroughputExecutor struct {
	// DialTimeout bounds the initial connect. Default: 5s
	DialTimeout time.Duration
}

// NewThroughputExecutor creates a throughput executor.
func NewThroughputExecutor() *ThroughputExecutor {
	return &ThroughputExecutor{DialTimeout: 5 * time.Second}
}

// ThroughputParams are generic-execution params for the speed executor.
type ThroughputParams struct {
	DurationSec int `json:"duration_sec,omitempty"`
}

// Type returns the executor type identifier.
func (e *ThroughputExecutor) Type() string {
	return "speed"
}

// Capabilities returns what this executor needs.
func (e *ThroughputExecutor) Capabilities() Capabilities {
	return Capabilities{}
}

// Execute floods target.Host:target.Port.
func (e *ThroughputExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	params, err := parseParams(target.Params, ThroughputParams{DurationSec: 5})
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := e.Upload(ctx, target.Host, target.Port, time.Duration(params.DurationSec)*time.Second)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), net.JoinHostPort(target.Host, strconv.Itoa(target.Port)), start, res.Status == types.PingSuccess, res), nil
}

// Upload writes zero-filled chunks to host:port for duration and reports the
// achieved rate. A failed connect is reported in Status, not as an error.
func (e *ThroughputExecutor) Upload(ctx context.Context, host string, port int, duration time.Duration) (*types.ThroughputResult, error) {
	if duration <= 0 {
		return nil, errors.New("duration must be positive")
	}

	dialer := net.Dialer{Timeout: e.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return &types.ThroughputResult{Status: fmt.Sprintf("Connect Failed: %v", err)}, nil
	}
	defer conn.Close()

	start := time.Now()
	deadline := start.Add(duration)
	_ = conn.SetWriteDeadline(deadline)

	chunk := make([]byte, throughputChunk)
	var total uint64
	for time.Now().Before(deadline) && ctx.Err() == nil {
		n, err := conn.Write(chunk)
		total += uint64(n)
		if err != nil {
			break
		}
	}

	elapsed := time.Since(start)
	mbps := 0.0
	if elapsed > 0 {
		mbps = float64(total*8) / elapsed.Seconds() / 1_000_000
	}

	return &types.ThroughputResult{
		BytesTransferred: total,
		DurationMs:       elapsed.Milliseconds(),
		Mbps:             roundTo(mbps, 2),
		Status:           types.PingSuccess,
	}, nil
}
