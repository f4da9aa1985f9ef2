package executor

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pilot-net/netcheck/pkg/types"
)

func TestTCPExecutor_Check(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	openPort := ln.Addr().(*net.TCPAddr).Port

	// Grab a port and release it so nothing is listening there.
	tmp, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	closedPort := tmp.Addr().(*net.TCPAddr).Port
	tmp.Close()

	e := NewTCPExecutor(time.Second)

	res, err := e.Check(context.Background(), "127.0.0.1", openPort)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != types.PortOpen {
		t.Errorf("expected Open, got %s", res.Status)
	}
	if res.LatencyMs == nil {
		t.Error("open port should report latency")
	}

	res, err = e.Check(context.Background(), "127.0.0.1", closedPort)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != types.PortClosed {
		t.Errorf("expected Closed, got %s", res.Status)
	}
	if res.LatencyMs != nil {
		t.Error("closed port should not report latency")
	}
}

func TestTCPExecutor_DefaultTimeout(t *testing.T) {
	if got := NewTCPExecutor(0).Timeout; got != 2*time.Second {
		t.Errorf("default timeout: got %v, want 2s", got)
	}
}

func TestTCPExecutor_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewTCPExecutor(time.Second).Check(ctx, "127.0.0.1", 9); err == nil {
		t.Error("expected error for cancelled context")
	}
}
