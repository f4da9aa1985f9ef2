// Package executor - path discovery using the system traceroute.
//
// traceroute is run with numeric output and its stdout is parsed line by line
// so each hop can be streamed to the caller as soon as it is printed:
//
//	traceroute to 8.8.8.8 (8.8.8.8), 15 hops max, 60 byte packets
//	 1  192.168.1.1  1.234 ms  1.100 ms  1.050 ms
//	 2  * * *
//	 3  10.0.0.1  5.120 ms *  5.310 ms
//
// Windows tracert output ("  1    <1 ms    <1 ms    <1 ms  192.168.1.1") is
// accepted by the same parser. A line with no answering address becomes a
// hop with the "*" sentinel.
//
// # Installation
//
//	Ubuntu/Debian: apt-get install traceroute
//	RHEL/CentOS:   yum install traceroute
package executor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pilot-net/netcheck/pkg/types"
)

// TraceExecutor runs traceroute and streams hops.
type TraceExecutor struct {
	// TraceroutePath is the path to the traceroute binary. Default: "traceroute"
	TraceroutePath string

	// MaxHops caps the path length. Default: 15
	MaxHops int

	logger *slog.Logger
}

// NewTraceExecutor creates a trace executor.
func NewTraceExecutor(path string, maxHops int, logger *slog.Logger) *TraceExecutor {
	if path == "" {
		path = "traceroute"
		if runtime.GOOS == "windows" {
			path = "tracert"
		}
	}
	if maxHops <= 0 {
		maxHops = 15
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TraceExecutor{
		TraceroutePath: path,
		MaxHops:        maxHops,
		logger:         logger,
	}
}

// Type returns the executor type identifier.
func (e *TraceExecutor) Type() string {
	return "trace"
}

// Capabilities returns what this executor needs.
func (e *TraceExecutor) Capabilities() Capabilities {
	return Capabilities{Dependencies: []string{e.TraceroutePath}}
}

// Execute runs a full trace to target.Host.
func (e *TraceExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	start := time.Now()
	hops, err := e.Trace(ctx, target.Host, nil)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), target.Host, start, len(hops) > 0, hops), nil
}

// Trace runs traceroute to host, sending each hop on events (if non-nil) as
// it is parsed, and returns every hop once the process exits.
func (e *TraceExecutor) Trace(ctx context.Context, host string, events chan<- types.TraceHop) ([]types.TraceHop, error) {
	var args []string
	if runtime.GOOS == "windows" {
		args = []string{"-h", strconv.Itoa(e.MaxHops), "-d", host}
	} else {
		args = []string{"-n", "-m", strconv.Itoa(e.MaxHops), host}
	}

	cmd := exec.CommandContext(ctx, e.TraceroutePath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("traceroute pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start traceroute: %w", err)
	}

	e.logger.Debug("traceroute started", "host", host, "max_hops", e.MaxHops)
	hops := streamTrace(ctx, stdout, events)

	waitErr := cmd.Wait()
	if err := ctx.Err(); err != nil {
		return hops, err
	}
	if waitErr != nil && len(hops) == 0 {
		return nil, fmt.Errorf("traceroute failed: %w", waitErr)
	}
	return hops, nil
}

// streamTrace parses hop lines from r until EOF, forwarding each to events.
func streamTrace(ctx context.Context, r io.Reader, events chan<- types.TraceHop) []types.TraceHop {
	var hops []types.TraceHop
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		hop, ok := parseTraceLine(scanner.Text())
		if !ok {
			continue
		}
		hops = append(hops, hop)
		if events != nil {
			select {
			case events <- hop:
			case <-ctx.Done():
				return hops
			}
		}
	}
	return hops
}

// parseTraceLine parses one traceroute or tracert hop line.
func parseTraceLine(line string) (types.TraceHop, bool) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return types.TraceHop{}, false
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return types.TraceHop{}, false
	}

	hop := types.TraceHop{Hop: n, IP: types.HopTimeoutIP, Status: types.PingTimeout}
	for i := 1; i < len(fields); i++ {
		f := strings.Trim(fields[i], "[]()")
		if ip := net.ParseIP(f); ip != nil && hop.IP == types.HopTimeoutIP {
			hop.IP = ip.String()
			continue
		}
		if hop.LatencyMs != nil {
			continue
		}
		// "1.234 ms", "<1 ms", "12ms"
		v := strings.TrimPrefix(strings.TrimSuffix(f, "ms"), "<")
		ms, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		if strings.HasSuffix(f, "ms") || (i+1 < len(fields) && fields[i+1] == "ms") {
			hop.LatencyMs = types.Float64(ms)
		}
	}

	if hop.IP != types.HopTimeoutIP {
		hop.Status = types.PingSuccess
	}
	return hop, true
}
