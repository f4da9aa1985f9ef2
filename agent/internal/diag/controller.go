// Package diag runs a vendor profile's diagnostic sweep.
//
// # Run Sequence
//
// A run walks a fixed sequence of steps, skipping the optional ones the
// profile does not enable:
//  1. Initializing: clear the log, record which profile runs
//  2. NatCheck (alg_test_enabled): classify the local NAT
//  3. ConnectivitySweep: one jitter probe per icmp/udp target, one port
//     check per tcp port, in declaration order
//  4. IsolationCheck (lan_isolation_check): count devices on the LAN
//  5. MtuCheck (mtu_check): path MTU toward the first target
//  6. Completed: record the end of the cycle
//
// Probes run strictly one at a time. A failing probe becomes a FAIL entry and
// the run carries on. Anything escaping a step (a panic, or the run context
// ending between steps) records a single harness FAIL entry and ends the run.
//
// # Observers
//
// The log and live gauges are the only observable state. Snapshot returns
// copies; Subscribe streams each change as it happens.
package diag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/netcheck/pkg/types"
)

// ErrRunInProgress is returned when a run is requested while one is active.
var ErrRunInProgress = errors.New("diagnostic run already in progress")

// errEmptyResult stands in for a probe that returned neither result nor error.
var errEmptyResult = errors.New("probe returned no result")

// State is a step of the run sequence.
type State string

const (
	StateIdle              State = "idle"
	StateInitializing      State = "initializing"
	StateNatCheck          State = "nat_check"
	StateConnectivitySweep State = "connectivity_sweep"
	StateIsolationCheck    State = "isolation_check"
	StateMtuCheck          State = "mtu_check"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

const (
	systemTarget    = "System"
	harnessErrorMsg = "Critical Harness Error"
)

// Prober is the slice of the probe gateway a run needs.
type Prober interface {
	JitterTest(ctx context.Context, host string, samples int) (*types.JitterResult, error)
	TCPCheck(ctx context.Context, host string, port int) (*types.TCPResult, error)
	MTUCheck(ctx context.Context, host string) (*types.MTUResult, error)
	NATCheck(ctx context.Context) (*types.NATResult, error)
	DiscoverDevices(ctx context.Context, events chan<- types.LanDevice) ([]types.LanDevice, error)
}

// MetricsSink receives live run updates. Implementations must not block.
type MetricsSink interface {
	RecordEntry(profile string, entry types.TestResultLog)
	RecordGauges(profile string, g types.Gauges)
	RecordRun(profile string, outcome State, duration time.Duration)
}

// Config holds controller settings.
type Config struct {
	JitterSamples   int           // Default: 20
	Thresholds      Thresholds    // Default: jitter < 50ms, loss < 5%
	MTUFallbackHost string        // Default: 8.8.8.8
	ProbeTimeout    time.Duration // Per probe call. Default: 2m
}

// Update is one change pushed to subscribers.
type Update struct {
	State   State                `json:"state"`
	Running bool                 `json:"running"`
	Profile string               `json:"profile,omitempty"`
	Entry   *types.TestResultLog `json:"entry,omitempty"`
	Gauges  types.Gauges         `json:"gauges"`
}

// Snapshot is a read-only copy of the controller.
type Snapshot struct {
	State       State                 `json:"state"`
	Outcome     State                 `json:"outcome,omitempty"`
	Running     bool                  `json:"running"`
	ProfileID   string                `json:"profile_id,omitempty"`
	ProfileName string                `json:"profile_name,omitempty"`
	StartedAt   time.Time             `json:"started_at"`
	FinishedAt  time.Time             `json:"finished_at"`
	Logs        []types.TestResultLog `json:"logs"`
	Summary     types.Summary         `json:"summary"`
	Gauges      types.Gauges          `json:"gauges"`
}

// Controller sequences diagnostic runs. At most one run is active at a time.
type Controller struct {
	prober     Prober
	logger     *slog.Logger
	sink       MetricsSink
	samples    int
	thresholds Thresholds
	mtuHost    string
	timeout    time.Duration
	now        func() time.Time
	newID      func() string

	mu       sync.RWMutex
	state    State
	outcome  State
	running  bool
	profile  types.VendorProfile
	logs     []types.TestResultLog
	gauges   types.Gauges
	started  time.Time
	finished time.Time
	done     chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int
}

// NewController creates a controller. sink may be nil.
func NewController(prober Prober, cfg Config, sink MetricsSink, logger *slog.Logger) *Controller {
	if cfg.JitterSamples <= 0 {
		cfg.JitterSamples = 20
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.MTUFallbackHost == "" {
		cfg.MTUFallbackHost = "8.8.8.8"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	done := make(chan struct{})
	close(done)
	return &Controller{
		prober:     prober,
		logger:     logger.With("component", "diag"),
		sink:       sink,
		samples:    cfg.JitterSamples,
		thresholds: cfg.Thresholds,
		mtuHost:    cfg.MTUFallbackHost,
		timeout:    cfg.ProbeTimeout,
		now:        time.Now,
		newID:      uuid.NewString,
		state:      StateIdle,
		done:       done,
		subs:       make(map[int]chan Update),
	}
}

// Run executes profile and blocks until the run ends.
func (c *Controller) Run(ctx context.Context, profile types.VendorProfile) error {
	if err := c.begin(profile); err != nil {
		return err
	}
	c.execute(ctx, profile)
	return nil
}

// Start executes profile in the background. Done reports when it ends.
func (c *Controller) Start(ctx context.Context, profile types.VendorProfile) error {
	if err := c.begin(profile); err != nil {
		return err
	}
	go c.execute(ctx, profile)
	return nil
}

// Running reports whether a run is active.
func (c *Controller) Running() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Done is closed when the latest run has ended.
func (c *Controller) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.done
}

// Logs returns a copy of the current log.
func (c *Controller) Logs() []types.TestResultLog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return types.CloneLogs(c.logs)
}

// Snapshot returns a copy of the controller state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	logs := types.CloneLogs(c.logs)
	if logs == nil {
		logs = []types.TestResultLog{}
	}
	return Snapshot{
		State:       c.state,
		Outcome:     c.outcome,
		Running:     c.running,
		ProfileID:   c.profile.ID,
		ProfileName: c.profile.Name,
		StartedAt:   c.started,
		FinishedAt:  c.finished,
		Logs:        logs,
		Summary:     types.Summarize(c.logs),
		Gauges:      c.gauges.Clone(),
	}
}

// Subscribe returns a channel of live updates and a func that unsubscribes.
// Slow subscribers miss updates rather than stall the run.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 64)

	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, id)
			c.subMu.Unlock()
			close(ch)
		})
	}
}

func (c *Controller) publish(u Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// begin claims the run slot.
func (c *Controller) begin(profile types.VendorProfile) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrRunInProgress
	}
	c.running = true
	c.profile = profile.Clone()
	c.outcome = ""
	c.started = c.now()
	c.finished = time.Time{}
	c.done = make(chan struct{})
	return nil
}

// step is one optional stage of the run sequence.
type step struct {
	state   State
	enabled bool
	run     func(ctx context.Context, p types.VendorProfile)
}

func (c *Controller) execute(ctx context.Context, p types.VendorProfile) {
	outcome := StateCompleted
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("diagnostic run panicked", "profile", p.ID, "panic", r)
			c.harnessFailure()
			outcome = StateFailed
		}
		c.finish(p, outcome)
	}()

	c.logger.Info("diagnostic run started", "profile", p.ID)
	c.setState(StateInitializing)
	c.resetLog()
	c.appendEntry(systemTarget, types.KindPing, types.StatusPass,
		fmt.Sprintf("Initializing %s Protocol...", p.Name), nil)

	steps := []step{
		{StateNatCheck, p.ALGTestEnabled, c.natCheck},
		{StateConnectivitySweep, true, c.connectivitySweep},
		{StateIsolationCheck, p.LANIsolationCheck, c.isolationCheck},
		{StateMtuCheck, p.MTUCheck, c.mtuCheck},
	}
	for _, s := range steps {
		if !s.enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			c.logger.Warn("diagnostic run aborted", "profile", p.ID, "state", s.state, "error", err)
			c.harnessFailure()
			outcome = StateFailed
			return
		}
		c.setState(s.state)
		s.run(ctx, p)
	}

	c.appendEntry(systemTarget, types.KindPing, types.StatusPass, "Diagnostic Cycle Complete.", nil)
}

func (c *Controller) harnessFailure() {
	c.appendEntry(systemTarget, types.KindPing, types.StatusFail, harnessErrorMsg, nil)
	c.setState(StateFailed)
}

// finish records the outcome and returns the controller to idle.
func (c *Controller) finish(p types.VendorProfile, outcome State) {
	c.mu.Lock()
	c.outcome = outcome
	c.finished = c.now()
	duration := c.finished.Sub(c.started)
	summary := types.Summarize(c.logs)
	gauges := c.gauges.Clone()
	c.state = StateIdle
	c.running = false
	done := c.done
	c.mu.Unlock()

	close(done)
	c.publish(Update{State: outcome, Running: false, Profile: p.ID, Gauges: gauges})
	if c.sink != nil {
		c.sink.RecordRun(p.ID, outcome, duration)
	}
	c.logger.Info("diagnostic run finished",
		"profile", p.ID,
		"outcome", outcome,
		"duration", duration,
		"pass", summary.Pass,
		"fail", summary.Fail,
		"warn", summary.Warn)
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	id := c.profile.ID
	gauges := c.gauges.Clone()
	c.mu.Unlock()

	c.publish(Update{State: s, Running: true, Profile: id, Gauges: gauges})
}

func (c *Controller) resetLog() {
	c.mu.Lock()
	c.logs = nil
	c.gauges = types.Gauges{}
	c.mu.Unlock()
}

func (c *Controller) appendEntry(target string, kind types.ProbeKind, status types.Status, details string, latency *float64) {
	entry := types.TestResultLog{
		ID:        c.newID(),
		Timestamp: c.now(),
		Target:    target,
		Kind:      kind,
		Status:    status,
		Details:   details,
	}
	if latency != nil {
		entry.LatencyMs = types.Float64(*latency)
	}

	c.mu.Lock()
	c.logs = append(c.logs, entry)
	state := c.state
	id := c.profile.ID
	gauges := c.gauges.Clone()
	c.mu.Unlock()

	c.logger.Debug("result logged",
		"target", target,
		"type", kind,
		"status", status,
		"details", details)

	published := types.CloneLogs([]types.TestResultLog{entry})[0]
	c.publish(Update{State: state, Running: true, Profile: id, Entry: &published, Gauges: gauges})
	if c.sink != nil {
		c.sink.RecordEntry(id, entry)
	}
}

func (c *Controller) setGauges(res *types.JitterResult) {
	g := types.Gauges{
		LatencyMs:   types.Float64(res.AvgLatency),
		JitterMs:    types.Float64(res.Jitter),
		LossPercent: types.Float64(res.PacketLoss),
	}

	c.mu.Lock()
	c.gauges = g
	id := c.profile.ID
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.RecordGauges(id, g.Clone())
	}
}

// probeCtx bounds a single probe call.
func (c *Controller) probeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Controller) natCheck(ctx context.Context, _ types.VendorProfile) {
	pctx, cancel := c.probeCtx(ctx)
	defer cancel()

	res, err := c.prober.NATCheck(pctx)
	if err == nil && res == nil {
		err = errEmptyResult
	}
	if err != nil {
		c.appendEntry("STUN", types.KindNAT, types.StatusFail, fmt.Sprintf("STUN Failed: %v", err), nil)
		return
	}
	c.appendEntry("STUN Check", types.KindNAT, classifyNAT(res),
		fmt.Sprintf("%s: %s", res.NATType, res.PublicIP), nil)
}

func (c *Controller) connectivitySweep(ctx context.Context, p types.VendorProfile) {
	th := c.thresholds.For(p)
	for _, t := range p.ConnectivityTargets {
		if t.UsesJitterProbe() {
			c.jitterProbe(ctx, t.Address, th)
			continue
		}
		for _, port := range t.Ports {
			c.portProbe(ctx, t.Address, port)
		}
	}
}

func (c *Controller) jitterProbe(ctx context.Context, host string, th Thresholds) {
	pctx, cancel := c.probeCtx(ctx)
	defer cancel()

	res, err := c.prober.JitterTest(pctx, host, c.samples)
	if err == nil && res == nil {
		err = errEmptyResult
	}
	if err != nil {
		c.appendEntry(host, types.KindJitter, types.StatusFail, fmt.Sprintf("Error: %v", err), nil)
		return
	}
	c.setGauges(res)
	c.appendEntry(host, types.KindJitter, classifyJitter(res, th), jitterDetails(res), &res.AvgLatency)
}

func (c *Controller) portProbe(ctx context.Context, host string, port int) {
	pctx, cancel := c.probeCtx(ctx)
	defer cancel()

	target := fmt.Sprintf("%s:%d", host, port)
	res, err := c.prober.TCPCheck(pctx, host, port)
	if err == nil && res == nil {
		err = errEmptyResult
	}
	if err != nil {
		c.appendEntry(target, types.KindTCP, types.StatusFail, fmt.Sprintf("Error: %v", err), nil)
		return
	}
	status, details := classifyPort(res)
	c.appendEntry(target, types.KindTCP, status, details, res.LatencyMs)
}

func (c *Controller) isolationCheck(ctx context.Context, _ types.VendorProfile) {
	pctx, cancel := c.probeCtx(ctx)
	defer cancel()

	devices, err := c.prober.DiscoverDevices(pctx, nil)
	if err != nil {
		c.appendEntry("LAN", types.KindScan, types.StatusFail, fmt.Sprintf("Scan Error: %v", err), nil)
		return
	}
	status, details := classifyIsolation(len(devices))
	c.appendEntry("LAN", types.KindScan, status, details, nil)
}

func (c *Controller) mtuCheck(ctx context.Context, p types.VendorProfile) {
	host := c.mtuHost
	if len(p.ConnectivityTargets) > 0 {
		host = p.ConnectivityTargets[0].Address
	}

	pctx, cancel := c.probeCtx(ctx)
	defer cancel()

	res, err := c.prober.MTUCheck(pctx, host)
	if err == nil && res == nil {
		err = errEmptyResult
	}
	if err != nil {
		c.appendEntry(host, types.KindMTU, types.StatusFail, fmt.Sprintf("MTU Error: %v", err), nil)
		return
	}
	c.appendEntry(host, types.KindMTU, classifyMTU(res), res.Details, nil)
}
