package executor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// MockExecutor is a test executor for unit tests.
type MockExecutor struct {
	TypeName    string
	Caps        Capabilities
	ExecuteFunc func(ctx context.Context, target ProbeTarget) (*Result, error)
}

func (m *MockExecutor) Type() string {
	return m.TypeName
}

func (m *MockExecutor) Capabilities() Capabilities {
	return m.Caps
}

func (m *MockExecutor) Execute(ctx context.Context, target ProbeTarget) (*Result, error) {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, target)
	}
	return &Result{
		Type:      m.TypeName,
		Target:    target.Host,
		Timestamp: time.Now(),
		Success:   true,
		Payload:   json.RawMessage(`{}`),
	}, nil
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()

	exec := &MockExecutor{TypeName: "test_ping"}

	// First registration should succeed
	err := r.Register(exec)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	// Duplicate registration should fail
	err = r.Register(exec)
	if err == nil {
		t.Fatal("expected error for duplicate registration")
	}
}

func TestRegistry_MissingDependency(t *testing.T) {
	r := NewRegistry()
	r.lookPath = func(name string) (string, error) {
		if name == "traceroute" {
			return "", errors.New("not found")
		}
		return "/usr/bin/" + name, nil
	}

	err := r.Register(&MockExecutor{
		TypeName: "trace",
		Caps:     Capabilities{Dependencies: []string{"traceroute"}},
	})
	if err == nil {
		t.Fatal("expected error for missing dependency")
	}
	if _, ok := r.Get("trace"); ok {
		t.Error("executor with missing dependency should not be registered")
	}

	if err := r.Register(&MockExecutor{
		TypeName: "mtu",
		Caps:     Capabilities{Dependencies: []string{"ping"}},
	}); err != nil {
		t.Fatalf("expected ping dependency to resolve: %v", err)
	}
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry()

	exec := &MockExecutor{TypeName: "test_ping"}
	r.Register(exec)

	// Should find registered executor
	found, ok := r.Get("test_ping")
	if !ok {
		t.Fatal("expected to find executor")
	}
	if found.Type() != "test_ping" {
		t.Fatalf("wrong executor type: %s", found.Type())
	}

	// Should not find unregistered executor
	_, ok = r.Get("nonexistent")
	if ok {
		t.Fatal("should not find nonexistent executor")
	}
}

func TestRegistry_List(t *testing.T) {
	r := NewRegistry()

	r.Register(&MockExecutor{TypeName: "ping"})
	r.Register(&MockExecutor{TypeName: "mtu"})
	r.Register(&MockExecutor{TypeName: "tcp"})

	names := r.List()
	want := []string{"mtu", "ping", "tcp"}
	if len(names) != len(want) {
		t.Fatalf("expected %d executors, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("position %d: got %s, want %s", i, names[i], want[i])
		}
	}
}

func TestRegistry_ListCapabilities(t *testing.T) {
	r := NewRegistry()
	r.lookPath = func(name string) (string, error) { return name, nil }

	r.Register(&MockExecutor{
		TypeName: "ping",
		Caps:     Capabilities{RequiresRoot: true},
	})
	r.Register(&MockExecutor{
		TypeName: "trace",
		Caps:     Capabilities{Dependencies: []string{"traceroute"}},
	})

	caps := r.ListCapabilities()
	if len(caps) != 2 {
		t.Fatalf("expected 2 capabilities, got %d", len(caps))
	}

	if !caps["ping"].RequiresRoot {
		t.Error("ping should require root")
	}
	if deps := caps["trace"].Dependencies; len(deps) != 1 || deps[0] != "traceroute" {
		t.Errorf("wrong trace dependencies: %v", deps)
	}
}

func TestMockExecutor_Execute(t *testing.T) {
	exec := &MockExecutor{
		TypeName: "test",
		ExecuteFunc: func(ctx context.Context, target ProbeTarget) (*Result, error) {
			return newResult("test", target.Host, time.Now(), true, map[string]float64{"latency_ms": 12.5}), nil
		},
	}

	result, err := exec.Execute(context.Background(), ProbeTarget{
		Host:    "8.8.8.8",
		Timeout: time.Second,
	})

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Target != "8.8.8.8" {
		t.Errorf("wrong target: %s", result.Target)
	}
	if !result.Success {
		t.Error("expected success")
	}

	// Verify payload
	payload, err := UnmarshalPayload[map[string]float64](result.Payload)
	if err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if payload["latency_ms"] != 12.5 {
		t.Errorf("wrong latency: %f", payload["latency_ms"])
	}
}

func TestParseParams(t *testing.T) {
	got, err := parseParams(nil, JitterParams{Samples: 20})
	if err != nil || got.Samples != 20 {
		t.Fatalf("empty params should keep defaults, got %+v, %v", got, err)
	}

	got, err = parseParams(json.RawMessage(`{"samples":5}`), JitterParams{Samples: 20})
	if err != nil || got.Samples != 5 {
		t.Fatalf("expected override to 5, got %+v, %v", got, err)
	}

	if _, err := parseParams(json.RawMessage(`{"samples":`), JitterParams{}); err == nil {
		t.Fatal("expected error for malformed params")
	}
}

func TestRoundTo(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{12.345, 12.35},
		{12.344, 12.34},
		{0, 0},
		{7.1, 7.1},
	}
	for _, tt := range tests {
		if got := roundTo(tt.in, 2); got != tt.want {
			t.Errorf("roundTo(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLocal_UnavailableProbe(t *testing.T) {
	l := &Local{registry: NewRegistry()}

	_, err := l.MTUCheck(context.Background(), "8.8.8.8")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	_, err = l.Execute(context.Background(), "trace", ProbeTarget{Host: "8.8.8.8"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from Execute, got %v", err)
	}
}
