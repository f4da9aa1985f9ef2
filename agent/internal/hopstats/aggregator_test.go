package hopstats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilot-net/netcheck/pkg/types"
)

// fakeProber scripts a trace and answers pings from a function.
type fakeProber struct {
	hops     []types.TraceHop
	traceErr error
	hold     chan struct{} // when set, PathTrace blocks until closed or ctx ends

	mu       sync.Mutex
	pingFn   func(ip string) (*types.PingResult, error)
	geoFn    func(ip string) (*types.GeoInfo, error)
	geoCalls map[string]int
	pings    int
}

func newFakeProber(hops ...types.TraceHop) *fakeProber {
	return &fakeProber{
		hops:     hops,
		geoCalls: make(map[string]int),
		pingFn: func(ip string) (*types.PingResult, error) {
			return &types.PingResult{Host: ip, Status: types.PingSuccess, LatencyMs: types.Float64(10)}, nil
		},
	}
}

func (f *fakeProber) PathTrace(ctx context.Context, host string, events chan<- types.TraceHop) ([]types.TraceHop, error) {
	for _, h := range f.hops {
		select {
		case events <- h:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.hold != nil {
		select {
		case <-f.hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.hops, f.traceErr
}

func (f *fakeProber) Ping(ctx context.Context, host string) (*types.PingResult, error) {
	f.mu.Lock()
	f.pings++
	fn := f.pingFn
	f.mu.Unlock()
	return fn(host)
}

func (f *fakeProber) GeoLookup(ctx context.Context, ip string) (*types.GeoInfo, error) {
	f.mu.Lock()
	f.geoCalls[ip]++
	fn := f.geoFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ip)
	}
	return &types.GeoInfo{Status: "success", City: "Testville", Query: ip}, nil
}

func (f *fakeProber) geoCount(ip string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.geoCalls[ip]
}

func (f *fakeProber) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func geoInFlight(a *Aggregator, ip string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.geoPending[ip]
}

func (f *fakeProber) setPing(fn func(ip string) (*types.PingResult, error)) {
	f.mu.Lock()
	f.pingFn = fn
	f.mu.Unlock()
}

func hop(n int, ip string) types.TraceHop {
	return types.TraceHop{Hop: n, IP: ip}
}

func newTestAggregator(p Prober) *Aggregator {
	return New(p, Config{RefreshInterval: 5 * time.Millisecond, HistorySize: 20}, nil)
}

func TestApply_SampleSequence(t *testing.T) {
	h := &types.HopStats{Hop: 1, IP: "10.0.0.1"}

	Apply(h, types.Float64(10), "t1", 20)
	assert.Equal(t, 10.0, h.Avg)
	require.NotNil(t, h.Best)
	assert.Equal(t, 10.0, *h.Best)
	assert.Equal(t, 10.0, h.Worst)
	assert.Equal(t, 10.0, h.Last)

	Apply(h, nil, "t2", 20)
	assert.Equal(t, 5.0, h.Avg)
	assert.Equal(t, 1, h.Lost)
	assert.Equal(t, 50.0, h.LossPct)
	assert.Equal(t, 0.0, h.Last)
	assert.Equal(t, 10.0, *h.Best)

	Apply(h, types.Float64(30), "t3", 20)
	assert.InDelta(t, 13.333, h.Avg, 0.001)
	assert.Equal(t, 10.0, *h.Best)
	assert.Equal(t, 30.0, h.Worst)
	assert.Equal(t, 3, h.Sent)
	assert.Len(t, h.History, 3)
	assert.Equal(t, types.HopSample{Label: "t2", LatencyMs: 0}, h.History[1])
}

func TestApply_BestUnsetUntilAnswered(t *testing.T) {
	h := &types.HopStats{Hop: 1, IP: "10.0.0.1"}

	Apply(h, nil, "t1", 20)
	Apply(h, nil, "t2", 20)
	assert.Nil(t, h.Best, "best must stay unset while only timeouts arrive")
	assert.Equal(t, 100.0, h.LossPct)

	Apply(h, types.Float64(42), "t3", 20)
	require.NotNil(t, h.Best)
	assert.Equal(t, 42.0, *h.Best)
}

func TestApply_HistoryBounded(t *testing.T) {
	h := &types.HopStats{Hop: 1}
	for i := 0; i < 25; i++ {
		Apply(h, types.Float64(float64(i)), "t", 20)
	}
	require.Len(t, h.History, 20)
	assert.Equal(t, 5.0, h.History[0].LatencyMs, "oldest samples are dropped first")
	assert.Equal(t, 24.0, h.History[19].LatencyMs)
}

func TestApply_LossPctExact(t *testing.T) {
	h := &types.HopStats{Hop: 1}
	pattern := []bool{true, false, false, true, false, true, true, false, false, false, true}
	for i, lost := range pattern {
		if lost {
			Apply(h, nil, "t", 20)
		} else {
			Apply(h, types.Float64(float64(i+1)), "t", 20)
		}
		assert.Equal(t, float64(h.Lost)/float64(h.Sent)*100, h.LossPct, "after sample %d", i)
	}
	assert.Equal(t, 0.0, LossPct(0, 0))
}

func TestAggregator_DiscoveryOrderAndIdempotence(t *testing.T) {
	p := newFakeProber(
		hop(3, "10.0.0.3"),
		hop(1, "10.0.0.1"),
		hop(2, types.HopTimeoutIP),
		hop(1, "10.9.9.9"), // duplicate hop number
	)
	p.hold = make(chan struct{})
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	defer a.Stop()

	require.Eventually(t, func() bool {
		return len(a.Snapshot().Hops) == 3
	}, time.Second, time.Millisecond)

	snap := a.Snapshot()
	require.Len(t, snap.Hops, 3)
	assert.Equal(t, 1, snap.Hops[0].Hop)
	assert.Equal(t, "10.0.0.1", snap.Hops[0].IP, "first event for a hop wins")
	assert.Equal(t, 2, snap.Hops[1].Hop)
	assert.Equal(t, 3, snap.Hops[2].Hop)
	assert.Nil(t, snap.Hops[0].Best)
	assert.Equal(t, 0, snap.Hops[0].Sent)
}

func TestAggregator_RefreshAfterDiscovery(t *testing.T) {
	p := newFakeProber(hop(1, "10.0.0.1"), hop(2, types.HopTimeoutIP), hop(3, "10.0.0.3"))
	p.setPing(func(ip string) (*types.PingResult, error) {
		if ip == "10.0.0.3" {
			return &types.PingResult{Host: ip, Status: types.PingTimeout}, nil
		}
		return &types.PingResult{Host: ip, Status: types.PingSuccess, LatencyMs: types.Float64(7)}, nil
	})
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	require.Eventually(t, func() bool {
		return a.Snapshot().Ticks >= 3
	}, 2*time.Second, time.Millisecond)
	a.Stop()
	<-a.Done()

	snap := a.Snapshot()
	assert.False(t, snap.Running)
	require.Len(t, snap.Hops, 3)

	first := snap.Hops[0]
	assert.GreaterOrEqual(t, first.Sent, 3)
	assert.Equal(t, 0, first.Lost)
	assert.Equal(t, 7.0, first.Avg)

	sentinel := snap.Hops[1]
	assert.Equal(t, 0, sentinel.Sent, "sentinel hops are never probed")

	last := snap.Hops[2]
	assert.Equal(t, last.Sent, last.Lost)
	assert.Equal(t, 100.0, last.LossPct)
	assert.Nil(t, last.Best)

	assert.Equal(t, first.Sent, last.Sent, "every probeable hop is sampled once per tick")
	assert.Equal(t, snap.Ticks, first.Sent)
	for _, h := range snap.Hops {
		assert.Equal(t, LossPct(h.Sent, h.Lost), h.LossPct)
	}
}

func TestAggregator_ProbeErrorLeavesHopUntouched(t *testing.T) {
	p := newFakeProber(hop(1, "10.0.0.1"), hop(2, "10.0.0.2"))
	p.setPing(func(ip string) (*types.PingResult, error) {
		if ip == "10.0.0.2" {
			return nil, errors.New("socket error")
		}
		return &types.PingResult{Host: ip, Status: types.PingSuccess, LatencyMs: types.Float64(5)}, nil
	})
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	require.Eventually(t, func() bool {
		return a.Snapshot().Ticks >= 2
	}, 2*time.Second, time.Millisecond)
	a.Stop()

	snap := a.Snapshot()
	assert.GreaterOrEqual(t, snap.Hops[0].Sent, 2)
	assert.Equal(t, 0, snap.Hops[1].Sent)
	assert.Equal(t, 0, snap.Hops[1].Lost)
	assert.Empty(t, snap.Hops[1].History)
}

func TestAggregator_GeoOncePerAddress(t *testing.T) {
	p := newFakeProber(
		hop(1, "10.0.0.1"),
		hop(2, "10.0.0.1"), // same router answering twice
		hop(3, types.HopTimedOutTag),
		hop(4, "10.0.0.4"),
	)
	p.hold = make(chan struct{})
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	defer a.Stop()

	require.Eventually(t, func() bool {
		return len(a.Geo()) == 2
	}, time.Second, time.Millisecond)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, 1, p.geoCalls["10.0.0.1"])
	assert.Equal(t, 1, p.geoCalls["10.0.0.4"])
	assert.Zero(t, p.geoCalls[types.HopTimedOutTag])
	assert.Equal(t, "Testville", a.Geo()["10.0.0.4"].City)
}

func TestAggregator_StartWhileRunning(t *testing.T) {
	p := newFakeProber(hop(1, "10.0.0.1"))
	p.hold = make(chan struct{})
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	assert.ErrorIs(t, a.Start(context.Background(), "1.1.1.1"), ErrSessionActive)
	a.Stop()
	<-a.Done()

	require.NoError(t, a.Start(context.Background(), "1.1.1.1"))
	assert.Equal(t, "1.1.1.1", a.Snapshot().Host)
	a.Stop()
}

func TestAggregator_RestartClearsHops(t *testing.T) {
	p := newFakeProber(hop(1, "10.0.0.1"), hop(2, "10.0.0.2"))
	p.hold = make(chan struct{})
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	require.Eventually(t, func() bool { return len(a.Snapshot().Hops) == 2 }, time.Second, time.Millisecond)
	a.Stop()
	<-a.Done()

	p.hops = []types.TraceHop{hop(1, "192.168.0.1")}
	require.NoError(t, a.Start(context.Background(), "1.1.1.1"))
	defer a.Stop()
	require.Eventually(t, func() bool {
		s := a.Snapshot()
		return len(s.Hops) == 1 && s.Hops[0].IP == "192.168.0.1"
	}, time.Second, time.Millisecond)
}

func TestAggregator_StopDiscardsInFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	p := newFakeProber(hop(1, "10.0.0.1"))
	p.setPing(func(ip string) (*types.PingResult, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return &types.PingResult{Host: ip, Status: types.PingSuccess, LatencyMs: types.Float64(1)}, nil
	})
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	<-entered
	a.Stop()
	close(release)
	<-a.Done()

	snap := a.Snapshot()
	require.Len(t, snap.Hops, 1)
	assert.Equal(t, 0, snap.Hops[0].Sent, "results of a stopped session are discarded")
}

func TestAggregator_NoHopsEndsSession(t *testing.T) {
	p := newFakeProber()
	p.traceErr = errors.New("traceroute: unknown host")
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "nowhere.invalid"))
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("session with no hops should end on its own")
	}
	snap := a.Snapshot()
	assert.False(t, snap.Running)
	assert.Contains(t, snap.Error, "unknown host")
}

func TestAggregator_SnapshotIsCopy(t *testing.T) {
	p := newFakeProber(hop(1, "10.0.0.1"))
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	require.Eventually(t, func() bool { return a.Snapshot().Ticks >= 1 }, time.Second, time.Millisecond)
	a.Stop()
	<-a.Done()

	snap := a.Snapshot()
	*snap.Hops[0].Best = -1
	snap.Hops[0].History[0].LatencyMs = -1

	again := a.Snapshot()
	assert.Equal(t, 10.0, *again.Hops[0].Best)
	assert.Equal(t, 10.0, again.Hops[0].History[0].LatencyMs)
}

func TestAggregator_GeoRetriedAfterFailure(t *testing.T) {
	p := newFakeProber(hop(1, "10.0.0.1"))
	p.hold = make(chan struct{})
	failures := 1
	p.geoFn = func(ip string) (*types.GeoInfo, error) {
		if failures > 0 {
			failures--
			return nil, errors.New("rate: Wait(n=1) would exceed context deadline")
		}
		return &types.GeoInfo{Status: "success", City: "Denver", Query: ip}, nil
	}
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	require.Eventually(t, func() bool {
		return p.geoCount("10.0.0.1") == 1 && !geoInFlight(a, "10.0.0.1")
	}, time.Second, time.Millisecond)
	assert.Empty(t, a.Geo(), "failed lookups are not cached")
	a.Stop()
	<-a.Done()

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	defer a.Stop()
	require.Eventually(t, func() bool {
		return a.Geo()["10.0.0.1"].City == "Denver"
	}, time.Second, time.Millisecond)
	assert.Equal(t, 2, p.geoCount("10.0.0.1"))
}

func TestAggregator_GeoLookupsSerialized(t *testing.T) {
	var (
		mu       sync.Mutex
		inFlight int
		maxSeen  int
	)
	p := newFakeProber(hop(1, "10.0.0.1"), hop(2, "10.0.0.2"), hop(3, "10.0.0.3"), hop(4, "10.0.0.4"))
	p.hold = make(chan struct{})
	p.geoFn = func(ip string) (*types.GeoInfo, error) {
		mu.Lock()
		inFlight++
		maxSeen = max(maxSeen, inFlight)
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return &types.GeoInfo{Status: "success", Query: ip}, nil
	}
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	defer a.Stop()
	require.Eventually(t, func() bool { return len(a.Geo()) == 4 }, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxSeen)
}

func TestAggregator_NoRefreshDuringDiscovery(t *testing.T) {
	p := newFakeProber(hop(1, "10.0.0.1"), hop(2, "10.0.0.2"))
	p.hold = make(chan struct{})
	a := newTestAggregator(p)

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	defer a.Stop()
	require.Eventually(t, func() bool { return len(a.Snapshot().Hops) == 2 }, time.Second, time.Millisecond)

	// Ten refresh intervals pass while the trace is still streaming.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, p.pingCount())
	assert.Zero(t, a.Snapshot().Ticks)

	close(p.hold)
	require.Eventually(t, func() bool { return a.Snapshot().Ticks >= 1 }, time.Second, time.Millisecond)
	assert.Positive(t, p.pingCount())
}

func TestAggregator_TicksNeverOverlap(t *testing.T) {
	type entry struct{ before, after int }
	var (
		mu       sync.Mutex
		inFlight = map[string]int{}
		maxSeen  = map[string]int{}
		batches  []entry
	)
	p := newFakeProber(hop(1, "10.0.0.1"), hop(2, "10.0.0.2"))
	a := newTestAggregator(p)
	p.setPing(func(ip string) (*types.PingResult, error) {
		mu.Lock()
		inFlight[ip]++
		maxSeen[ip] = max(maxSeen[ip], inFlight[ip])
		mu.Unlock()

		before := a.Snapshot().Ticks
		time.Sleep(30 * time.Millisecond) // six refresh intervals
		after := a.Snapshot().Ticks

		mu.Lock()
		inFlight[ip]--
		if ip == "10.0.0.1" {
			batches = append(batches, entry{before, after})
		}
		mu.Unlock()
		return &types.PingResult{Host: ip, Status: types.PingSuccess, LatencyMs: types.Float64(3)}, nil
	})

	require.NoError(t, a.Start(context.Background(), "8.8.8.8"))
	require.Eventually(t, func() bool { return a.Snapshot().Ticks >= 3 }, 2*time.Second, time.Millisecond)
	a.Stop()
	<-a.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, maxSeen["10.0.0.1"])
	assert.Equal(t, 1, maxSeen["10.0.0.2"])
	require.GreaterOrEqual(t, len(batches), 3)
	for i, b := range batches {
		assert.Equal(t, i, b.before, "batch %d starts after the previous tick is folded", i)
		assert.Equal(t, i, b.after, "tick %d advances only once the batch completes", i)
	}
}
