package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pilot-net/netcheck/pkg/types"
)

// Options configures the local gateway's executors.
type Options struct {
	Privileged       bool
	PingTimeout      time.Duration
	BurstInterval    time.Duration
	JitterSamples    int
	TCPTimeout       time.Duration
	PingPath         string
	TraceroutePath   string
	MaxHops          int
	DiscoveryWorkers int
	PortScanTimeout  time.Duration
	PortScanWorkers  int
	STUNServers      []string
	DNSServer        string
	Geo              GeoConfig
}

// Local is the Gateway backed by this machine's network stack.
type Local struct {
	registry *Registry
	logger   *slog.Logger

	icmp      *ICMPExecutor
	tcp       *TCPExecutor
	portscan  *PortScanExecutor
	mtu       *MTUExecutor
	nat       *NATExecutor
	discovery *DiscoveryExecutor
	trace     *TraceExecutor
	geo       *GeoExecutor
	dns       *DNSExecutor
	speed     *ThroughputExecutor
	system    *SystemExecutor
}

var _ Gateway = (*Local)(nil)

// NewLocal builds every executor and registers those whose dependencies are
// present. Missing dependencies are logged; the matching probes then return
// ErrUnavailable.
func NewLocal(opts Options, logger *slog.Logger) (*Local, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "gateway")

	geo, err := NewGeoExecutor(opts.Geo, logger)
	if err != nil {
		return nil, err
	}

	icmp := NewICMPExecutor(opts.Privileged, logger)
	if opts.PingTimeout > 0 {
		icmp.Timeout = opts.PingTimeout
	}
	if opts.BurstInterval > 0 {
		icmp.Interval = opts.BurstInterval
	}

	l := &Local{
		registry:  NewRegistry(),
		logger:    logger,
		icmp:      icmp,
		tcp:       NewTCPExecutor(opts.TCPTimeout),
		portscan:  NewPortScanExecutor(opts.PortScanTimeout, opts.PortScanWorkers, logger),
		mtu:       NewMTUExecutor(opts.PingPath),
		nat:       NewNATExecutor(opts.STUNServers, logger),
		discovery: NewDiscoveryExecutor(icmp, opts.DiscoveryWorkers, logger),
		trace:     NewTraceExecutor(opts.TraceroutePath, opts.MaxHops, logger),
		geo:       geo,
		dns:       NewDNSExecutor(opts.DNSServer),
		speed:     NewThroughputExecutor(),
		system:    NewSystemExecutor(),
	}

	for _, e := range []Executor{
		l.icmp,
		NewJitterExecutor(l.icmp, opts.JitterSamples),
		l.tcp,
		l.portscan,
		l.mtu,
		l.nat,
		l.discovery,
		l.trace,
		l.geo,
		l.dns,
		l.speed,
		l.system,
	} {
		if err := l.registry.Register(e); err != nil {
			logger.Warn("probe disabled", "type", e.Type(), "error", err)
		}
	}

	logger.Info("probe gateway ready", "probes", l.registry.List())
	return l, nil
}

// Probes lists the registered probe types with their requirements.
func (l *Local) Probes() map[string]Capabilities {
	return l.registry.ListCapabilities()
}

// Close releases executor resources.
func (l *Local) Close() error {
	return l.geo.Close()
}

// Execute runs a registered executor by type name. An unknown or disabled
// type returns ErrUnavailable.
func (l *Local) Execute(ctx context.Context, typ string, target ProbeTarget) (*Result, error) {
	e, ok := l.registry.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, typ)
	}
	return e.Execute(ctx, target)
}

// require fails when typ is not registered.
func (l *Local) require(typ string) error {
	if _, ok := l.registry.Get(typ); !ok {
		return fmt.Errorf("%w: %s", ErrUnavailable, typ)
	}
	return nil
}

// Ping sends one echo to host.
func (l *Local) Ping(ctx context.Context, host string) (*types.PingResult, error) {
	if err := l.require("ping"); err != nil {
		return nil, err
	}
	return l.icmp.Ping(ctx, host)
}

// JitterTest sends samples echoes to host.
func (l *Local) JitterTest(ctx context.Context, host string, samples int) (*types.JitterResult, error) {
	if err := l.require("jitter"); err != nil {
		return nil, err
	}
	return l.icmp.JitterTest(ctx, host, samples)
}

// TCPCheck connects once to host:port.
func (l *Local) TCPCheck(ctx context.Context, host string, port int) (*types.TCPResult, error) {
	if err := l.require("tcp"); err != nil {
		return nil, err
	}
	return l.tcp.Check(ctx, host, port)
}

// PortScan connects to every port of [first, last] on host.
func (l *Local) PortScan(ctx context.Context, host string, first, last int, events chan<- types.TCPResult) (*types.PortScanResult, error) {
	if err := l.require("portscan"); err != nil {
		return nil, err
	}
	return l.portscan.Scan(ctx, host, first, last, events)
}

// MTUCheck finds the largest unfragmented packet toward host.
func (l *Local) MTUCheck(ctx context.Context, host string) (*types.MTUResult, error) {
	if err := l.require("mtu"); err != nil {
		return nil, err
	}
	return l.mtu.Check(ctx, host)
}

// NATCheck classifies the local NAT.
func (l *Local) NATCheck(ctx context.Context) (*types.NATResult, error) {
	if err := l.require("nat"); err != nil {
		return nil, err
	}
	return l.nat.Check(ctx)
}

// DiscoverDevices sweeps the local subnet.
func (l *Local) DiscoverDevices(ctx context.Context, events chan<- types.LanDevice) ([]types.LanDevice, error) {
	if err := l.require("scan"); err != nil {
		return nil, err
	}
	return l.discovery.Discover(ctx, events)
}

// PathTrace streams the path to host.
func (l *Local) PathTrace(ctx context.Context, host string, events chan<- types.TraceHop) ([]types.TraceHop, error) {
	if err := l.require("trace"); err != nil {
		return nil, err
	}
	return l.trace.Trace(ctx, host, events)
}

// GeoLookup locates ip.
func (l *Local) GeoLookup(ctx context.Context, ip string) (*types.GeoInfo, error) {
	if err := l.require("geo"); err != nil {
		return nil, err
	}
	return l.geo.Lookup(ctx, ip)
}

// SystemInfo reads local resource usage.
func (l *Local) SystemInfo(ctx context.Context) (*types.SystemInfo, error) {
	if err := l.require("sysinfo"); err != nil {
		return nil, err
	}
	return l.system.Read(ctx)
}

// DNSLookup resolves name for one record type.
func (l *Local) DNSLookup(ctx context.Context, name, recordType string) ([]types.DNSRecord, error) {
	if err := l.require("dns"); err != nil {
		return nil, err
	}
	return l.dns.Lookup(ctx, name, recordType)
}

// Throughput floods host:port for duration.
func (l *Local) Throughput(ctx context.Context, host string, port int, duration time.Duration) (*types.ThroughputResult, error) {
	if err := l.require("speed"); err != nil {
		return nil, err
	}
	return l.speed.Upload(ctx, host, port, duration)
}
