// Package executor - path MTU check using the system ping binary.
//
// pro-bing cannot set the don't-fragment bit, so the MTU check shells out to
// ping with DF set and walks down a fixed list of payload sizes. The first
// size that gets a reply wins; MTU is payload + 28 (IPv4 + ICMP headers).
//
// # Installation
//
//	Ubuntu/Debian: apt-get install iputils-ping
//	RHEL/CentOS:   yum install iputils
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/pilot-net/netcheck/pkg/types"
)

// mtuPayloads are tried in order, largest first.
var mtuPayloads = []int{1472, 1400, 1300, 1200, 500}

// icmpOverhead is the IPv4 + ICMP header size added to the payload.
const icmpOverhead = 28

// commandFunc runs an external command and returns its stdout.
type commandFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// runCommand is the production commandFunc. Non-zero exits still return output.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	if stdout.Len() > 0 {
		return stdout.Bytes(), nil
	}
	return nil, err
}

// MTUExecutor probes the largest unfragmented packet toward a host.
type MTUExecutor struct {
	// PingPath is the path to the ping binary. Default: "ping"
	PingPath string

	// Timeout bounds each size attempt. Default: 2s
	Timeout time.Duration

	run commandFunc
}

// NewMTUExecutor creates an MTU executor.
func NewMTUExecutor(pingPath string) *MTUExecutor {
	if pingPath == "" {
		pingPath = "ping"
	}
	return &MTUExecutor{
		PingPath: pingPath,
		Timeout:  2 * time.Second,
		run:      runCommand,
	}
}

// Type returns the executor type identifier.
func (e *MTUExecutor) Type() string {
	return "mtu"
}

// Capabilities returns what this executor needs.
func (e *MTUExecutor) Capabilities() Capabilities {
	return Capabilities{Dependencies: []string{e.PingPath}}
}

// Execute runs the MTU walk against target.Host.
func (e *MTUExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	start := time.Now()
	res, err := e.Check(ctx, target.Host)
	if err != nil {
		return nil, err
	}
	return newResult(e.Type(), target.Host, start, res.Status == types.MTUPass, res), nil
}

// Check walks down the payload sizes until one passes unfragmented.
func (e *MTUExecutor) Check(ctx context.Context, host string) (*types.MTUResult, error) {
	for _, size := range mtuPayloads {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.Timeout)
		out, _ := e.run(attemptCtx, e.PingPath, dfPingArgs(size, host)...)
		cancel()

		if mtuReplyOK(out) {
			mtu := size + icmpOverhead
			return &types.MTUResult{
				Host:    host,
				MTU:     mtu,
				Status:  types.MTUPass,
				Details: fmt.Sprintf("Max: %d bytes", mtu),
			}, nil
		}
	}
	return &types.MTUResult{Host: host, Status: types.MTUFail, Details: "Blocked/Unknown"}, nil
}

// dfPingArgs builds a single-echo ping with the don't-fragment bit set.
func dfPingArgs(size int, host string) []string {
	s := strconv.Itoa(size)
	switch runtime.GOOS {
	case "windows":
		return []string{"-n", "1", "-f", "-l", s, host}
	case "darwin", "freebsd":
		return []string{"-c", "1", "-D", "-s", s, host}
	default:
		return []string{"-c", "1", "-W", "1", "-M", "do", "-s", s, host}
	}
}

// mtuReplyOK reports whether ping output shows a reply without a
// fragmentation complaint.
func mtuReplyOK(out []byte) bool {
	lower := bytes.ToLower(out)
	for _, marker := range []string{"fragment", "frag needed", "too large", "too long"} {
		if bytes.Contains(lower, []byte(marker)) {
			return false
		}
	}
	return bytes.Contains(out, []byte("bytes from")) || bytes.Contains(out, []byte("Reply from"))
}
