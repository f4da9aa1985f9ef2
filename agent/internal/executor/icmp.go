// Package executor - ICMP echo probes using pro-bing.
//
// pro-bing sends echoes from inside the process, so no ping binary is needed.
// Unprivileged mode uses UDP ICMP sockets; on Linux that requires
// net.ipv4.ping_group_range to include the running group. Privileged mode
// uses raw sockets and needs root or CAP_NET_RAW.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	probing "github.com/prometheus-community/pro-bing"

	"github.com/pilot-net/netcheck/pkg/types"
)

// pingFunc sends count echoes to host and returns the round-trip times of the
// answered echoes.
type pingFunc func(ctx context.Context, host string, count int, interval, timeout time.Duration) ([]time.Duration, error)

// ICMPExecutor runs single pings and jitter bursts.
type ICMPExecutor struct {
	// Privileged switches pro-bing to raw sockets.
	Privileged bool

	// Timeout is how long to wait for a single echo reply. Default: 1s
	Timeout time.Duration

	// Interval is the gap between echoes of a burst. Default: 200ms
	Interval time.Duration

	logger *slog.Logger
	ping   pingFunc
}

// NewICMPExecutor creates an ICMP executor with sensible defaults.
func NewICMPExecutor(privileged bool, logger *slog.Logger) *ICMPExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &ICMPExecutor{
		Privileged: privileged,
		Timeout:    time.Second,
		Interval:   200 * time.Millisecond,
		logger:     logger,
	}
	e.ping = e.proBingPing
	return e
}

// ICMPParams are generic-execution params for the ping executor.
type ICMPParams struct {
	Count int `json:"count,omitempty"`
}

// Type returns the executor type identifier.
func (e *ICMPExecutor) Type() string {
	return "ping"
}

// Capabilities returns what this executor needs.
func (e *ICMPExecutor) Capabilities() Capabilities {
	return Capabilities{RequiresRoot: e.Privileged}
}

// Execute runs one ping, or a short burst when params ask for it.
func (e *ICMPExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	params, err := parseParams(target.Params, ICMPParams{Count: 1})
	if err != nil {
		return nil, err
	}
	start := time.Now()
	if params.Count > 1 {
		res, err := e.JitterTest(ctx, target.Host, params.Count)
		if err != nil {
			return nil, err
		}
		return newResult(e.Type(), target.Host, start, res.PacketLoss < 100, res), nil
	}
	res, err := e.Ping(ctx, target.Host)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), target.Host, start, res.Status == types.PingSuccess, res), nil
}

// Ping sends a single echo. A missing reply is a Timeout result, not an error.
func (e *ICMPExecutor) Ping(ctx context.Context, host string) (*types.PingResult, error) {
	rtts, err := e.ping(ctx, host, 1, e.Interval, e.Timeout)
	if err != nil {
		return nil, err
	}
	if len(rtts) == 0 {
		return &types.PingResult{Host: host, Status: types.PingTimeout}, nil
	}
	return &types.PingResult{
		Host:      host,
		Status:    types.PingSuccess,
		LatencyMs: types.Float64(roundTo(durationMs(rtts[0]), 2)),
	}, nil
}

// JitterTest sends samples echoes and summarizes them.
func (e *ICMPExecutor) JitterTest(ctx context.Context, host string, samples int) (*types.JitterResult, error) {
	if samples <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", samples)
	}
	rtts, err := e.ping(ctx, host, samples, e.Interval, e.Timeout)
	if err != nil {
		return nil, err
	}
	ms := make([]float64, len(rtts))
	for i, d := range rtts {
		ms[i] = durationMs(d)
	}
	res := summarizeJitter(host, ms, samples)
	e.logger.Debug("jitter test complete",
		"host", host,
		"received", len(ms),
		"samples", samples,
		"jitter_ms", res.Jitter,
	)
	return &res, nil
}

// summarizeJitter computes average latency, population standard deviation and
// loss for a burst of samples, of which only the answered ones are in rtts.
func summarizeJitter(host string, rtts []float64, samples int) types.JitterResult {
	received := len(rtts)
	if received > samples {
		received = samples
		rtts = rtts[:samples]
	}
	if received == 0 {
		return types.JitterResult{
			Host:        host,
			PacketLoss:  100,
			Details:     "100% Packet Loss",
			SampleCount: samples,
		}
	}

	sum := 0.0
	for _, v := range rtts {
		sum += v
	}
	avg := sum / float64(received)

	sumSquares := 0.0
	for _, v := range rtts {
		diff := v - avg
		sumSquares += diff * diff
	}
	jitter := math.Sqrt(sumSquares / float64(received))

	return types.JitterResult{
		Host:        host,
		AvgLatency:  roundTo(avg, 2),
		Jitter:      roundTo(jitter, 2),
		PacketLoss:  roundTo(float64(samples-received)/float64(samples)*100, 2),
		Details:     fmt.Sprintf("Recv: %d/%d, Jitter: %.2fms", received, samples, jitter),
		SampleCount: samples,
	}
}

// proBingPing runs one pro-bing session and returns the recorded RTTs.
func (e *ICMPExecutor) proBingPing(ctx context.Context, host string, count int, interval, timeout time.Duration) ([]time.Duration, error) {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		return nil, fmt.Errorf("create pinger: %w", err)
	}

	pinger.Count = count
	pinger.Interval = interval
	pinger.Timeout = time.Duration(count-1)*interval + timeout
	pinger.RecordRtts = true
	pinger.SetPrivileged(e.Privileged)

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case runErr := <-done:
		if runErr != nil {
			return nil, fmt.Errorf("ping %s: %w", host, runErr)
		}
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return nil, ctx.Err()
	}

	return pinger.Statistics().Rtts, nil
}

// JitterExecutor exposes the jitter burst as its own generic probe type.
type JitterExecutor struct {
	icmp    *ICMPExecutor
	samples int
}

// NewJitterExecutor wraps icmp with a default sample count.
func NewJitterExecutor(icmp *ICMPExecutor, samples int) *JitterExecutor {
	if samples <= 0 {
		samples = 20
	}
	return &JitterExecutor{icmp: icmp, samples: samples}
}

// JitterParams are generic-execution params for the jitter executor.
type JitterParams struct {
	Samples int `json:"samples,omitempty"`
}

// Type returns the executor type identifier.
func (e *JitterExecutor) Type() string {
	return "jitter"
}

// Capabilities returns what this executor needs.
func (e *JitterExecutor) Capabilities() Capabilities {
	return e.icmp.Capabilities()
}

// Execute runs one jitter burst.
func (e *JitterExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	params, err := parseParams(target.Params, JitterParams{Samples: e.samples})
	if err != nil {
		return nil, err
	}
	start := time.Now()
	res, err := e.icmp.JitterTest(ctx, target.Host, params.Samples)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), target.Host, start, res.PacketLoss < 100, res), nil
}
