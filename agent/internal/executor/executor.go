// Package executor implements the probe gateway: the boundary between the
// diagnostic core and real network I/O.
//
// # Design Principles
//
// 1. Interface Segregation: Every probe is a small Executor with a typed method
// 2. Capability Declaration: Executors declare the binaries and privileges they need
// 3. Graceful Degradation: Missing dependencies are detected at registration, not at run time
// 4. Generic Access: Any executor can also be driven by name through Execute
//
// # Adding New Executors
//
// To add a new probe type:
//
//  1. Create a new file (e.g., http.go) implementing the Executor interface
//  2. Add a typed method returning one of the pkg/types result records
//  3. Register it in NewLocal
//
// Example:
//
//	type HTTPExecutor struct { /* ... */ }
//	func (e *HTTPExecutor) Type() string { return "http" }
//	func (e *HTTPExecutor) Execute(ctx, target) (*Result, error) { /* ... */ }
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/pilot-net/netcheck/pkg/types"
)

// ErrUnavailable is returned when a probe's executor could not be registered,
// usually because an external binary is missing.
var ErrUnavailable = errors.New("probe unavailable")

// ErrInvalidParams is returned when a generic probe request cannot be decoded
// or names impossible values.
var ErrInvalidParams = errors.New("invalid params")

// Gateway is the probe contract the diagnostic core depends on.
// Every call may fail; callers classify failures, they never retry.
type Gateway interface {
	Ping(ctx context.Context, host string) (*types.PingResult, error)
	JitterTest(ctx context.Context, host string, samples int) (*types.JitterResult, error)
	TCPCheck(ctx context.Context, host string, port int) (*types.TCPResult, error)
	MTUCheck(ctx context.Context, host string) (*types.MTUResult, error)
	NATCheck(ctx context.Context) (*types.NATResult, error)

	// DiscoverDevices sweeps the local subnet. Each device found is also sent
	// on events when events is non-nil; the caller owns and closes the channel.
	DiscoverDevices(ctx context.Context, events chan<- types.LanDevice) ([]types.LanDevice, error)

	// PathTrace discovers the path to host. Each hop is also sent on events
	// as soon as it is known; the caller owns and closes the channel.
	PathTrace(ctx context.Context, host string, events chan<- types.TraceHop) ([]types.TraceHop, error)

	GeoLookup(ctx context.Context, ip string) (*types.GeoInfo, error)
	SystemInfo(ctx context.Context) (*types.SystemInfo, error)
}

// Executor is the interface all probe types implement.
type Executor interface {
	// Type returns the unique identifier for this executor (e.g., "ping")
	Type() string

	// Capabilities returns what this executor needs
	Capabilities() Capabilities

	// Execute runs the probe generically, for tooling that drives probes by name
	Execute(ctx context.Context, target ProbeTarget) (*Result, error)
}

// Capabilities describes an executor's requirements.
type Capabilities struct {
	// RequiresRoot indicates the executor needs elevated privileges (raw sockets)
	RequiresRoot bool

	// Dependencies lists external binaries required (e.g., ["traceroute"])
	Dependencies []string
}

// ProbeTarget contains everything needed to run one generic probe.
type ProbeTarget struct {
	Host    string          `json:"host"`
	Port    int             `json:"port,omitempty"`
	Timeout time.Duration   `json:"timeout,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"` // Executor-specific params
}

// Result is the outcome of a generic probe execution.
type Result struct {
	Type      string          `json:"type"`
	Target    string          `json:"target"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  time.Duration   `json:"duration"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	Payload   json.RawMessage `json:"payload"` // One of the pkg/types result records
}

// newResult wraps a typed payload into a Result.
func newResult(typ, target string, start time.Time, success bool, payload any) *Result {
	return &Result{
		Type:      typ,
		Target:    target,
		Timestamp: start,
		Duration:  time.Since(start),
		Success:   success,
		Payload:   MarshalPayload(payload),
	}
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry manages available executors.
type Registry struct {
	executors map[string]Executor
	mu        sync.RWMutex

	// lookPath resolves external dependencies. Tests replace it.
	lookPath func(string) (string, error)
}

// NewRegistry creates a new executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
		lookPath:  exec.LookPath,
	}
}

// Register adds an executor to the registry.
// Returns an error if dependencies are missing or executor already registered.
func (r *Registry) Register(e Executor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	typ := e.Type()
	if _, exists := r.executors[typ]; exists {
		return fmt.Errorf("executor already registered: %s", typ)
	}

	// Verify dependencies are available
	caps := e.Capabilities()
	for _, dep := range caps.Dependencies {
		if _, err := r.lookPath(dep); err != nil {
			return fmt.Errorf("executor %s missing dependency: %s", typ, dep)
		}
	}

	r.executors[typ] = e
	return nil
}

// Get returns an executor by type.
func (r *Registry) Get(typ string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[typ]
	return e, ok
}

// List returns all registered executor types, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for t := range r.executors {
		names = append(names, t)
	}
	sort.Strings(names)
	return names
}

// ListCapabilities returns capabilities for all registered executors.
func (r *Registry) ListCapabilities() map[string]Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	caps := make(map[string]Capabilities, len(r.executors))
	for t, e := range r.executors {
		caps[t] = e.Capabilities()
	}
	return caps
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// MarshalPayload converts a typed payload to json.RawMessage.
func MarshalPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// This shouldn't happen with our types, but fallback to empty object
		return json.RawMessage(`{}`)
	}
	return data
}

// UnmarshalPayload extracts a typed payload from json.RawMessage.
func UnmarshalPayload[T any](data json.RawMessage) (T, error) {
	var v T
	err := json.Unmarshal(data, &v)
	return v, err
}

// parseParams decodes executor params, leaving defaults in place when raw is empty.
func parseParams[T any](raw json.RawMessage, defaults T) (T, error) {
	if len(raw) == 0 {
		return defaults, nil
	}
	if err := json.Unmarshal(raw, &defaults); err != nil {
		return defaults, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return defaults, nil
}

// roundTo rounds v to the given number of decimals.
func roundTo(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// durationMs converts a duration to fractional milliseconds.
func durationMs(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}
