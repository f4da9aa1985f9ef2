package diag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/netcheck/pkg/types"
)

// fakeProber answers every probe successfully unless a hook overrides it.
type fakeProber struct {
	mu       sync.Mutex
	calls    []string
	inFlight int
	maxPar   int

	jitter  func(host string) (*types.JitterResult, error)
	tcp     func(host string, port int) (*types.TCPResult, error)
	mtu     func(host string) (*types.MTUResult, error)
	nat     func() (*types.NATResult, error)
	devices func() ([]types.LanDevice, error)
}

func (f *fakeProber) enter(call string) func() {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.inFlight++
	if f.inFlight > f.maxPar {
		f.maxPar = f.inFlight
	}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}
}

func (f *fakeProber) JitterTest(ctx context.Context, host string, samples int) (*types.JitterResult, error) {
	defer f.enter(fmt.Sprintf("jitter %s %d", host, samples))()
	if f.jitter != nil {
		return f.jitter(host)
	}
	return &types.JitterResult{Host: host, AvgLatency: 12.5, Jitter: 1.25, PacketLoss: 0, SampleCount: samples}, nil
}

func (f *fakeProber) TCPCheck(ctx context.Context, host string, port int) (*types.TCPResult, error) {
	defer f.enter(fmt.Sprintf("tcp %s:%d", host, port))()
	if f.tcp != nil {
		return f.tcp(host, port)
	}
	return &types.TCPResult{Host: host, Port: port, Status: types.PortOpen, LatencyMs: types.Float64(3)}, nil
}

func (f *fakeProber) MTUCheck(ctx context.Context, host string) (*types.MTUResult, error) {
	defer f.enter("mtu " + host)()
	if f.mtu != nil {
		return f.mtu(host)
	}
	return &types.MTUResult{Host: host, MTU: 1500, Status: types.MTUPass, Details: "Max: 1500 bytes"}, nil
}

func (f *fakeProber) NATCheck(ctx context.Context) (*types.NATResult, error) {
	defer f.enter("nat")()
	if f.nat != nil {
		return f.nat()
	}
	return &types.NATResult{NATType: "Endpoint-Independent", PublicIP: "203.0.113.7"}, nil
}

func (f *fakeProber) DiscoverDevices(ctx context.Context, events chan<- types.LanDevice) ([]types.LanDevice, error) {
	defer f.enter("scan")()
	if f.devices != nil {
		return f.devices()
	}
	return devices(2), nil
}

func (f *fakeProber) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeSink records everything the controller reports.
type fakeSink struct {
	mu       sync.Mutex
	entries  []types.TestResultLog
	gauges   []types.Gauges
	outcomes []State
}

func (s *fakeSink) RecordEntry(profile string, e types.TestResultLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *fakeSink) RecordGauges(profile string, g types.Gauges) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gauges = append(s.gauges, g)
}

func (s *fakeSink) RecordRun(profile string, outcome State, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
}

func devices(n int) []types.LanDevice {
	out := make([]types.LanDevice, n)
	for i := range out {
		out[i] = types.LanDevice{IP: fmt.Sprintf("192.168.1.%d", i+1), Status: types.DeviceOnline}
	}
	return out
}

func newTestController(p Prober, sink MetricsSink) *Controller {
	return NewController(p, Config{}, sink, nil)
}

func runProfile(t *testing.T, c *Controller, p types.VendorProfile) []types.TestResultLog {
	t.Helper()
	require.NoError(t, c.Run(context.Background(), p))
	return c.Logs()
}

func icmp(addr string) types.ConnectivityTarget {
	return types.ConnectivityTarget{Address: addr, Protocol: types.ProtocolICMP}
}

func tcp(addr string, ports ...int) types.ConnectivityTarget {
	return types.ConnectivityTarget{Address: addr, Protocol: types.ProtocolTCP, Ports: ports}
}

func TestController_EntryCount(t *testing.T) {
	tests := []struct {
		name    string
		profile types.VendorProfile
		want    int
	}{
		{
			name:    "no targets",
			profile: types.VendorProfile{ID: "empty", Name: "Empty"},
			want:    2,
		},
		{
			name: "icmp and tcp",
			profile: types.VendorProfile{ID: "mix", Name: "Mix", ConnectivityTargets: []types.ConnectivityTarget{
				icmp("1.1.1.1"),
				{Address: "2.2.2.2"}, // unspecified protocol
				{Address: "3.3.3.3", Protocol: types.ProtocolUDP},
				tcp("4.4.4.4", 443, 8443, 5061),
				tcp("5.5.5.5", 80),
			}},
			want: 2 + 3 + 4,
		},
		{
			name: "all optional steps",
			profile: types.VendorProfile{
				ID: "full", Name: "Full",
				ConnectivityTargets: []types.ConnectivityTarget{icmp("1.1.1.1"), tcp("4.4.4.4", 443, 80)},
				ALGTestEnabled:      true,
				LANIsolationCheck:   true,
				MTUCheck:            true,
			},
			want: 2 + 1 + 2 + 3,
		},
		{
			name:    "tcp without ports",
			profile: types.VendorProfile{ID: "bare", Name: "Bare", ConnectivityTargets: []types.ConnectivityTarget{tcp("4.4.4.4")}},
			want:    2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logs := runProfile(t, newTestController(&fakeProber{}, nil), tt.profile)
			assert.Len(t, logs, tt.want)
			assert.Equal(t, types.StatusPass, logs[0].Status)
			assert.Equal(t, "Initializing "+tt.profile.Name+" Protocol...", logs[0].Details)
			assert.Equal(t, "Diagnostic Cycle Complete.", logs[len(logs)-1].Details)
		})
	}
}

func TestController_SequenceAndDetails(t *testing.T) {
	p := types.VendorProfile{
		ID: "seq", Name: "Sequence",
		ConnectivityTargets: []types.ConnectivityTarget{icmp("1.1.1.1"), tcp("4.4.4.4", 443, 80)},
		ALGTestEnabled:      true,
		LANIsolationCheck:   true,
		MTUCheck:            true,
	}
	prober := &fakeProber{}
	logs := runProfile(t, newTestController(prober, nil), p)

	assert.Equal(t, []string{"nat", "jitter 1.1.1.1 20", "tcp 4.4.4.4:443", "tcp 4.4.4.4:80", "scan", "mtu 1.1.1.1"}, prober.Calls())
	assert.Equal(t, 1, prober.maxPar, "probes must never overlap")

	require.Len(t, logs, 8)
	want := []struct {
		target  string
		kind    types.ProbeKind
		details string
	}{
		{"System", types.KindPing, "Initializing Sequence Protocol..."},
		{"STUN Check", types.KindNAT, "Endpoint-Independent: 203.0.113.7"},
		{"1.1.1.1", types.KindJitter, "Avg: 12.5ms, Jitter: 1.25ms, Loss: 0%"},
		{"4.4.4.4:443", types.KindTCP, "Open (3ms)"},
		{"4.4.4.4:80", types.KindTCP, "Open (3ms)"},
		{"LAN", types.KindScan, "Isolation Verified (Minimal Traffic)"},
		{"1.1.1.1", types.KindMTU, "Max: 1500 bytes"},
		{"System", types.KindPing, "Diagnostic Cycle Complete."},
	}
	ids := make(map[string]bool)
	for i, w := range want {
		assert.Equal(t, w.target, logs[i].Target, "entry %d", i)
		assert.Equal(t, w.kind, logs[i].Kind, "entry %d", i)
		assert.Equal(t, w.details, logs[i].Details, "entry %d", i)
		assert.Equal(t, types.StatusPass, logs[i].Status, "entry %d", i)
		assert.False(t, ids[logs[i].ID], "duplicate id")
		ids[logs[i].ID] = true
		if i > 0 {
			assert.False(t, logs[i].Timestamp.Before(logs[i-1].Timestamp))
		}
	}
	require.NotNil(t, logs[2].LatencyMs)
	assert.Equal(t, 12.5, *logs[2].LatencyMs)
	require.NotNil(t, logs[3].LatencyMs)
	assert.Equal(t, 3.0, *logs[3].LatencyMs)
}

func TestController_NATClassification(t *testing.T) {
	tests := []struct {
		natType string
		want    types.Status
	}{
		{"Unknown", types.StatusFail},
		{"Error", types.StatusFail},
		{"Symmetric", types.StatusPass},
		{"Open Internet", types.StatusPass},
	}
	for _, tt := range tests {
		t.Run(tt.natType, func(t *testing.T) {
			prober := &fakeProber{nat: func() (*types.NATResult, error) {
				return &types.NATResult{NATType: tt.natType, PublicIP: "198.51.100.1"}, nil
			}}
			logs := runProfile(t, newTestController(prober, nil), types.VendorProfile{ID: "n", Name: "N", ALGTestEnabled: true})
			require.Len(t, logs, 3)
			assert.Equal(t, tt.want, logs[1].Status)
			assert.Equal(t, tt.natType+": 198.51.100.1", logs[1].Details)
		})
	}

	t.Run("probe failure", func(t *testing.T) {
		prober := &fakeProber{nat: func() (*types.NATResult, error) { return nil, errors.New("no route") }}
		logs := runProfile(t, newTestController(prober, nil), types.VendorProfile{ID: "n", Name: "N", ALGTestEnabled: true})
		require.Len(t, logs, 3)
		assert.Equal(t, "STUN", logs[1].Target)
		assert.Equal(t, types.StatusFail, logs[1].Status)
		assert.Equal(t, "STUN Failed: no route", logs[1].Details)
	})
}

func TestController_IsolationCheck(t *testing.T) {
	tests := []struct {
		name    string
		devices func() ([]types.LanDevice, error)
		status  types.Status
		details string
	}{
		{"two devices", func() ([]types.LanDevice, error) { return devices(2), nil }, types.StatusPass, "Isolation Verified (Minimal Traffic)"},
		{"five devices", func() ([]types.LanDevice, error) { return devices(5), nil }, types.StatusWarn, "Isolation Fail: 5 Active Devices Found"},
		{"scan error", func() ([]types.LanDevice, error) { return nil, errors.New("no interface") }, types.StatusFail, "Scan Error: no interface"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prober := &fakeProber{devices: tt.devices}
			logs := runProfile(t, newTestController(prober, nil), types.VendorProfile{ID: "i", Name: "I", LANIsolationCheck: true})
			require.Len(t, logs, 3, "every isolation outcome is logged")
			assert.Equal(t, "LAN", logs[1].Target)
			assert.Equal(t, types.KindScan, logs[1].Kind)
			assert.Equal(t, tt.status, logs[1].Status)
			assert.Equal(t, tt.details, logs[1].Details)
		})
	}
}

func TestController_JitterThresholds(t *testing.T) {
	reading := &types.JitterResult{AvgLatency: 40, Jitter: 35, PacketLoss: 3}
	prober := &fakeProber{jitter: func(string) (*types.JitterResult, error) { return reading, nil }}

	plain := types.VendorProfile{ID: "plain", Name: "Plain", ConnectivityTargets: []types.ConnectivityTarget{icmp("1.1.1.1")}}
	logs := runProfile(t, newTestController(prober, nil), plain)
	assert.Equal(t, types.StatusPass, logs[1].Status, "defaults are jitter < 50 and loss < 5")

	strict := plain
	strict.MediaQualityThresholds = &types.MediaQualityThresholds{JitterMs: types.Float64(30), PacketLossPercent: types.Float64(2)}
	logs = runProfile(t, newTestController(prober, nil), strict)
	assert.Equal(t, types.StatusFail, logs[1].Status, "declared thresholds apply")

	lossOnly := plain
	lossOnly.MediaQualityThresholds = &types.MediaQualityThresholds{PacketLossPercent: types.Float64(10)}
	logs = runProfile(t, newTestController(prober, nil), lossOnly)
	assert.Equal(t, types.StatusPass, logs[1].Status, "undeclared jitter falls back to default")
}

func TestThresholds_Boundaries(t *testing.T) {
	th := DefaultThresholds()
	assert.Equal(t, types.StatusFail, classifyJitter(&types.JitterResult{Jitter: 50, PacketLoss: 0}, th))
	assert.Equal(t, types.StatusFail, classifyJitter(&types.JitterResult{Jitter: 0, PacketLoss: 5}, th))
	assert.Equal(t, types.StatusPass, classifyJitter(&types.JitterResult{Jitter: 49.99, PacketLoss: 4.99}, th))
}

func TestController_ProbeFailuresAreIsolated(t *testing.T) {
	prober := &fakeProber{
		jitter: func(host string) (*types.JitterResult, error) {
			if host == "1.1.1.1" {
				return nil, errors.New("permission denied")
			}
			return &types.JitterResult{AvgLatency: 20, Jitter: 2, PacketLoss: 0}, nil
		},
		tcp: func(host string, port int) (*types.TCPResult, error) {
			if port == 443 {
				return nil, nil
			}
			return &types.TCPResult{Host: host, Port: port, Status: types.PortClosed}, nil
		},
		mtu: func(string) (*types.MTUResult, error) { return nil, errors.New("ping not found") },
	}
	p := types.VendorProfile{
		ID: "f", Name: "F",
		ConnectivityTargets: []types.ConnectivityTarget{icmp("1.1.1.1"), icmp("8.8.4.4"), tcp("4.4.4.4", 443, 80)},
		MTUCheck:            true,
	}
	c := newTestController(prober, nil)
	logs := runProfile(t, c, p)

	require.Len(t, logs, 7)
	assert.Equal(t, types.StatusFail, logs[1].Status)
	assert.Equal(t, "Error: permission denied", logs[1].Details)
	assert.Equal(t, types.StatusPass, logs[2].Status)
	assert.Equal(t, types.StatusFail, logs[3].Status)
	assert.Contains(t, logs[3].Details, "Error: ")
	assert.Equal(t, types.StatusFail, logs[4].Status)
	assert.Equal(t, "Closed", logs[4].Details)
	assert.Equal(t, "MTU Error: ping not found", logs[5].Details)
	assert.Equal(t, "Diagnostic Cycle Complete.", logs[6].Details)
	assert.Equal(t, StateCompleted, c.Snapshot().Outcome)
}

func TestController_MTU(t *testing.T) {
	var gotHost string
	prober := &fakeProber{mtu: func(host string) (*types.MTUResult, error) {
		gotHost = host
		return &types.MTUResult{Host: host, Status: types.MTUFail, Details: "Blocked/Unknown"}, nil
	}}
	logs := runProfile(t, newTestController(prober, nil), types.VendorProfile{ID: "m", Name: "M", MTUCheck: true})

	assert.Equal(t, "8.8.8.8", gotHost, "no targets falls back to a public address")
	require.Len(t, logs, 3)
	assert.Equal(t, types.StatusWarn, logs[1].Status)
	assert.Equal(t, "Blocked/Unknown", logs[1].Details)
}

func TestController_GaugesFollowJitter(t *testing.T) {
	prober := &fakeProber{jitter: func(host string) (*types.JitterResult, error) {
		return &types.JitterResult{AvgLatency: 80, Jitter: 90, PacketLoss: 25}, nil
	}}
	sink := &fakeSink{}
	c := newTestController(prober, sink)
	logs := runProfile(t, c, types.VendorProfile{ID: "g", Name: "G", ConnectivityTargets: []types.ConnectivityTarget{icmp("1.1.1.1")}})

	assert.Equal(t, types.StatusFail, logs[1].Status)
	g := c.Snapshot().Gauges
	require.NotNil(t, g.LatencyMs)
	assert.Equal(t, 80.0, *g.LatencyMs)
	assert.Equal(t, 90.0, *g.JitterMs)
	assert.Equal(t, 25.0, *g.LossPercent)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Len(t, sink.entries, 3)
	assert.Len(t, sink.gauges, 1)
	assert.Equal(t, []State{StateCompleted}, sink.outcomes)
}

func TestController_HarnessFailureOnPanic(t *testing.T) {
	prober := &fakeProber{jitter: func(string) (*types.JitterResult, error) { panic("nil map write") }}
	sink := &fakeSink{}
	c := newTestController(prober, sink)
	p := types.VendorProfile{
		ID: "h", Name: "H",
		ConnectivityTargets: []types.ConnectivityTarget{icmp("1.1.1.1"), icmp("8.8.8.8")},
		MTUCheck:            true,
	}
	logs := runProfile(t, c, p)

	require.Len(t, logs, 2)
	assert.Equal(t, types.StatusFail, logs[1].Status)
	assert.Equal(t, "Critical Harness Error", logs[1].Details)

	snap := c.Snapshot()
	assert.False(t, snap.Running)
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, StateFailed, snap.Outcome)
	assert.Equal(t, []State{StateFailed}, sink.outcomes)
}

func TestController_HarnessFailureOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	prober := &fakeProber{}
	c := newTestController(prober, nil)
	require.NoError(t, c.Run(ctx, types.VendorProfile{ID: "c", Name: "C", ConnectivityTargets: []types.ConnectivityTarget{icmp("1.1.1.1")}}))

	logs := c.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, "Critical Harness Error", logs[1].Details)
	assert.Empty(t, prober.Calls())
}

func TestController_SingleActiveRun(t *testing.T) {
	release := make(chan struct{})
	prober := &fakeProber{jitter: func(string) (*types.JitterResult, error) {
		<-release
		return &types.JitterResult{AvgLatency: 1}, nil
	}}
	c := newTestController(prober, nil)
	p := types.VendorProfile{ID: "r", Name: "R", ConnectivityTargets: []types.ConnectivityTarget{icmp("1.1.1.1")}}

	require.NoError(t, c.Start(context.Background(), p))
	assert.True(t, c.Running())
	assert.ErrorIs(t, c.Start(context.Background(), p), ErrRunInProgress)
	assert.ErrorIs(t, c.Run(context.Background(), p), ErrRunInProgress)

	close(release)
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish")
	}
	assert.False(t, c.Running())
	assert.Len(t, c.Logs(), 3)

	require.NoError(t, c.Run(context.Background(), p), "a finished run frees the slot")
}

func TestController_NewRunClearsLog(t *testing.T) {
	c := newTestController(&fakeProber{}, nil)
	p := types.VendorProfile{ID: "x", Name: "X", ConnectivityTargets: []types.ConnectivityTarget{icmp("1.1.1.1")}}

	first := runProfile(t, c, p)
	second := runProfile(t, c, p)
	assert.Len(t, second, len(first))
	assert.NotEqual(t, first[0].ID, second[0].ID)
}

func TestController_SnapshotIsCopy(t *testing.T) {
	c := newTestController(&fakeProber{}, nil)
	runProfile(t, c, types.VendorProfile{ID: "s", Name: "S", ConnectivityTargets: []types.ConnectivityTarget{icmp("1.1.1.1")}})

	snap := c.Snapshot()
	snap.Logs[0].Details = "tampered"
	*snap.Logs[1].LatencyMs = -1
	*snap.Gauges.JitterMs = -1

	again := c.Snapshot()
	assert.Equal(t, "Initializing S Protocol...", again.Logs[0].Details)
	assert.Equal(t, 12.5, *again.Logs[1].LatencyMs)
	assert.Equal(t, 1.25, *again.Gauges.JitterMs)
	assert.Equal(t, types.Summary{Pass: 3}, again.Summary)
}

func TestController_Subscribe(t *testing.T) {
	c := newTestController(&fakeProber{}, nil)
	updates, unsubscribe := c.Subscribe()
	defer unsubscribe()

	runProfile(t, c, types.VendorProfile{ID: "sub", Name: "Sub", ConnectivityTargets: []types.ConnectivityTarget{tcp("4.4.4.4", 443)}})

	var entries []string
	var states []State
	timeout := time.After(time.Second)
	for done := false; !done; {
		select {
		case u := <-updates:
			if u.Entry != nil {
				entries = append(entries, u.Entry.Target)
			} else {
				states = append(states, u.State)
			}
			if !u.Running {
				done = true
			}
		case <-timeout:
			t.Fatal("missing final update")
		}
	}

	assert.Equal(t, []string{"System", "4.4.4.4:443", "System"}, entries)
	assert.Equal(t, []State{StateInitializing, StateConnectivitySweep, StateCompleted}, states)

	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
}
