// Package hopstats maintains live per-hop latency and loss statistics for a
// traced network path.
//
// A session has two phases. First the path-discovery stream is consumed and
// every new hop number gets a record. Once discovery completes, a refresh
// loop pings every hop with a real address, waits for the whole batch, folds
// the results in, and sleeps one interval before the next batch. Ticks never
// overlap.
//
// Observers only ever see copies through Snapshot.
package hopstats

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pilot-net/netcheck/pkg/types"
)

// ErrSessionActive is returned by Start while a session is running.
var ErrSessionActive = errors.New("trace session already running")

// Prober is the slice of the probe gateway a session needs.
type Prober interface {
	Ping(ctx context.Context, host string) (*types.PingResult, error)
	PathTrace(ctx context.Context, host string, events chan<- types.TraceHop) ([]types.TraceHop, error)
	GeoLookup(ctx context.Context, ip string) (*types.GeoInfo, error)
}

// Config holds aggregator settings.
type Config struct {
	RefreshInterval time.Duration // Default: 1s
	HistorySize     int           // Default: 20
	GeoTimeout      time.Duration // Default: 10s
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	Host    string                   `json:"host"`
	Running bool                     `json:"running"`
	Ticks   int                      `json:"ticks"`
	Hops    []types.HopStats         `json:"hops"`
	Geo     map[string]types.GeoInfo `json:"geo"`
	Error   string                   `json:"error,omitempty"`
}

// Aggregator owns the hop table of one trace session at a time.
type Aggregator struct {
	prober      Prober
	logger      *slog.Logger
	interval    time.Duration
	historySize int
	geoTimeout  time.Duration
	now         func() time.Time

	// geoMu serializes lookups so each one waits on the rate limiter alone.
	geoMu sync.Mutex

	mu         sync.RWMutex
	host       string
	hops       map[int]*types.HopStats
	order      []int
	geo        map[string]types.GeoInfo
	geoPending map[string]bool
	running    bool
	gen        uint64
	ticks      int
	lastErr    error
	cancel     context.CancelFunc
	done       chan struct{}
}

// New creates an aggregator.
func New(prober Prober, cfg Config, logger *slog.Logger) *Aggregator {
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 20
	}
	if cfg.GeoTimeout <= 0 {
		cfg.GeoTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	done := make(chan struct{})
	close(done)
	return &Aggregator{
		prober:      prober,
		logger:      logger.With("component", "hopstats"),
		interval:    cfg.RefreshInterval,
		historySize: cfg.HistorySize,
		geoTimeout:  cfg.GeoTimeout,
		now:         time.Now,
		hops:        make(map[int]*types.HopStats),
		geo:         make(map[string]types.GeoInfo),
		geoPending:  make(map[string]bool),
		done:        done,
	}
}

// Start clears the hop table and begins a session toward host. The session
// runs until Stop, until ctx is cancelled, or until discovery finds no hops.
func (a *Aggregator) Start(ctx context.Context, host string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return ErrSessionActive
	}

	a.gen++
	a.host = host
	a.hops = make(map[int]*types.HopStats)
	a.order = nil
	a.ticks = 0
	a.lastErr = nil
	a.running = true

	sessCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	a.logger.Info("trace session started", "host", host, "session", a.gen)
	go a.run(sessCtx, a.gen, host, a.done)
	return nil
}

// Stop ends the current session. Probes already dispatched finish, but their
// results are discarded.
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return
	}
	a.running = false
	a.cancel()
	a.logger.Info("trace session stopped", "host", a.host, "session", a.gen)
}

// Running reports whether a session is active.
func (a *Aggregator) Running() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// Done is closed when the current session's goroutine has exited.
func (a *Aggregator) Done() <-chan struct{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.done
}

// Snapshot returns a copy of the session with hops ascending by hop number.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := Snapshot{
		Host:    a.host,
		Running: a.running,
		Ticks:   a.ticks,
		Hops:    make([]types.HopStats, 0, len(a.order)),
		Geo:     a.geoCopy(),
	}
	for _, n := range a.order {
		s.Hops = append(s.Hops, a.hops[n].Clone())
	}
	if a.lastErr != nil {
		s.Error = a.lastErr.Error()
	}
	return s
}

// Geo returns the geolocation cache keyed by address.
func (a *Aggregator) Geo() map[string]types.GeoInfo {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.geoCopy()
}

func (a *Aggregator) geoCopy() map[string]types.GeoInfo {
	out := make(map[string]types.GeoInfo, len(a.geo))
	for k, v := range a.geo {
		out[k] = v
	}
	return out
}

// current reports whether gen is still the running session. Caller holds mu.
func (a *Aggregator) current(gen uint64) bool {
	return a.running && a.gen == gen
}

// run drives one session: discovery, then refresh ticks.
func (a *Aggregator) run(ctx context.Context, gen uint64, host string, done chan struct{}) {
	defer close(done)
	defer func() {
		a.mu.Lock()
		if a.gen == gen && a.running {
			a.running = false
			a.cancel()
		}
		a.mu.Unlock()
	}()

	events := make(chan types.TraceHop, 16)
	traceErr := make(chan error, 1)
	go func() {
		defer close(events)
		_, err := a.prober.PathTrace(ctx, host, events)
		traceErr <- err
	}()

	for ev := range events {
		a.observe(ctx, gen, ev)
	}
	if err := <-traceErr; err != nil && ctx.Err() == nil {
		a.logger.Warn("path discovery failed", "host", host, "error", err)
		a.mu.Lock()
		if a.gen == gen {
			a.lastErr = err
		}
		a.mu.Unlock()
	}

	a.refreshLoop(ctx, gen)
}

// observe records one discovery event. Repeated hop numbers are ignored.
func (a *Aggregator) observe(ctx context.Context, gen uint64, ev types.TraceHop) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.current(gen) {
		return
	}
	if _, exists := a.hops[ev.Hop]; exists {
		return
	}

	a.hops[ev.Hop] = &types.HopStats{Hop: ev.Hop, IP: ev.IP, History: []types.HopSample{}}
	i := sort.SearchInts(a.order, ev.Hop)
	a.order = append(a.order, 0)
	copy(a.order[i+1:], a.order[i:])
	a.order[i] = ev.Hop

	if !types.IsProbeableAddress(ev.IP) || a.geoPending[ev.IP] {
		return
	}
	if _, cached := a.geo[ev.IP]; cached {
		return
	}
	a.geoPending[ev.IP] = true
	go a.locate(ctx, ev.IP)
}

// locate resolves ip and caches a successful answer. A failed lookup leaves
// the address uncached so a later session asks again. The lookup outlives a
// stopped session so the cache still fills.
func (a *Aggregator) locate(ctx context.Context, ip string) {
	a.geoMu.Lock()
	defer a.geoMu.Unlock()

	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.geoTimeout)
	defer cancel()
	info, err := a.prober.GeoLookup(lookupCtx, ip)

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.geoPending, ip)
	if err != nil {
		a.logger.Debug("geo lookup failed", "ip", ip, "error", err)
		return
	}
	if info != nil {
		a.geo[ip] = *info
	}
}

// hopTarget is one hop to ping in a refresh tick.
type hopTarget struct {
	hop int
	ip  string
}

// refreshLoop pings all hops once per tick until the session ends.
func (a *Aggregator) refreshLoop(ctx context.Context, gen uint64) {
	timer := time.NewTimer(a.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		a.mu.RLock()
		if !a.current(gen) || len(a.order) == 0 {
			a.mu.RUnlock()
			return
		}
		targets := make([]hopTarget, 0, len(a.order))
		for _, n := range a.order {
			if ip := a.hops[n].IP; types.IsProbeableAddress(ip) {
				targets = append(targets, hopTarget{hop: n, ip: ip})
			}
		}
		a.mu.RUnlock()

		if len(targets) > 0 {
			a.tick(ctx, gen, targets)
		}
		timer.Reset(a.interval)
	}
}

// tick pings every target in parallel, waits for all, then folds the results
// if the session is still current.
func (a *Aggregator) tick(ctx context.Context, gen uint64, targets []hopTarget) {
	probeCtx := context.WithoutCancel(ctx)
	results := make([]*types.PingResult, len(targets))
	errs := make([]error, len(targets))

	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			results[i], errs[i] = a.prober.Ping(probeCtx, t.ip)
			return nil
		})
	}
	g.Wait()

	label := a.now().Format("15:04:05")

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.current(gen) {
		return
	}
	for i, t := range targets {
		if errs[i] != nil || results[i] == nil {
			a.logger.Debug("hop probe failed", "hop", t.hop, "ip", t.ip, "error", errs[i])
			continue
		}
		var latency *float64
		if results[i].Status == types.PingSuccess && results[i].LatencyMs != nil {
			latency = results[i].LatencyMs
		}
		Apply(a.hops[t.hop], latency, label, a.historySize)
	}
	a.ticks++
}

// Apply folds one refresh sample into h. latency is nil for a timeout.
func Apply(h *types.HopStats, latency *float64, label string, historySize int) {
	prevSent := h.Sent
	h.Sent++

	measured := 0.0
	if latency == nil {
		h.Lost++
		h.Last = 0
	} else {
		measured = *latency
		h.Last = measured
		if h.Best == nil || measured < *h.Best {
			h.Best = types.Float64(measured)
		}
		if measured > h.Worst {
			h.Worst = measured
		}
	}

	h.LossPct = LossPct(h.Sent, h.Lost)

	if prevSent == 0 {
		h.Avg = measured
	} else {
		h.Avg = (h.Avg*float64(prevSent) + measured) / float64(h.Sent)
	}

	h.History = append(h.History, types.HopSample{Label: label, LatencyMs: measured})
	if historySize > 0 && len(h.History) > historySize {
		h.History = append([]types.HopSample(nil), h.History[len(h.History)-historySize:]...)
	}
}

// LossPct is lost/sent as a percentage, 0 when nothing was sent.
func LossPct(sent, lost int) float64 {
	if sent == 0 {
		return 0
	}
	return float64(lost) / float64(sent) * 100
}
