// Package agent wires netcheck's components together.
//
// # Lifecycle
//
//  1. Load configuration
//  2. Build the probe gateway and profile catalog
//  3. Open the report store
//  4. Build the diagnostic controller, hop aggregator and system poller
//  5. Serve the observer API (serve mode only)
//  6. Run until shutdown signal
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pilot-net/netcheck/agent/internal/api"
	"github.com/pilot-net/netcheck/agent/internal/config"
	"github.com/pilot-net/netcheck/agent/internal/diag"
	"github.com/pilot-net/netcheck/agent/internal/executor"
	"github.com/pilot-net/netcheck/agent/internal/hopstats"
	"github.com/pilot-net/netcheck/agent/internal/kv"
	"github.com/pilot-net/netcheck/agent/internal/metrics"
	"github.com/pilot-net/netcheck/agent/internal/profiles"
	"github.com/pilot-net/netcheck/agent/internal/report"
	"github.com/pilot-net/netcheck/agent/internal/sysinfo"
	"github.com/pilot-net/netcheck/pkg/types"
)

// Version is set at build time.
var Version = "dev"

// App holds every long-lived component.
type App struct {
	Config     *config.Config
	Profiles   *profiles.Registry
	Gateway    *executor.Local
	Store      kv.Store
	Reports    *report.Assembler
	Metrics    *metrics.Recorder
	Health     *metrics.HealthCollector
	Controller *diag.Controller
	Hops       *hopstats.Aggregator
	System     *sysinfo.Poller

	logger *slog.Logger
}

// NewLogger builds the slog logger described by cfg.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// New creates an app from a validated configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(cfg.Log, nil)
	}

	reg, err := LoadProfiles(cfg)
	if err != nil {
		return nil, err
	}

	gw, err := NewGateway(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := kv.Open(ctx, kv.Config{
		Backend:     cfg.Storage.Backend,
		SQLitePath:  cfg.Storage.SQLitePath,
		RedisURL:    cfg.Storage.RedisURL,
		PostgresURL: cfg.Storage.PostgresURL,
	}, logger)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("opening report store: %w", err)
	}

	rec := metrics.NewRecorder(Version)

	ctrl := diag.NewController(gw, diag.Config{
		JitterSamples: cfg.Probing.JitterSamples,
		Thresholds: diag.Thresholds{
			JitterMs:    cfg.Diagnostics.DefaultJitterMs,
			LossPercent: cfg.Diagnostics.DefaultLossPercent,
		},
		MTUFallbackHost: cfg.Diagnostics.MTUFallbackHost,
		ProbeTimeout:    cfg.Diagnostics.ProbeTimeout,
	}, rec, logger)

	hops := hopstats.New(gw, hopstats.Config{
		RefreshInterval: cfg.Trace.RefreshInterval,
		HistorySize:     cfg.Trace.HistorySize,
		GeoTimeout:      cfg.Trace.GeoTimeout,
	}, logger)
	rec.WatchHops(func() (string, []types.HopStats) {
		snap := hops.Snapshot()
		return snap.Host, snap.Hops
	})

	poller, err := sysinfo.NewPoller(gw, sysinfo.Config{
		Interval:    cfg.System.PollInterval,
		HistorySize: cfg.System.HistorySize,
	}, logger)
	if err != nil {
		store.Close()
		gw.Close()
		return nil, err
	}

	return &App{
		Config:     cfg,
		Profiles:   reg,
		Gateway:    gw,
		Store:      store,
		Reports:    report.NewAssembler(store, logger),
		Metrics:    rec,
		Health:     metrics.NewHealthCollector(5 * time.Second),
		Controller: ctrl,
		Hops:       hops,
		System:     poller,
		logger:     logger,
	}, nil
}

// LoadProfiles builds the profile catalog, including profiles_file if set.
func LoadProfiles(cfg *config.Config) (*profiles.Registry, error) {
	if cfg.ProfilesFile == "" {
		return profiles.NewRegistry()
	}
	reg, err := profiles.LoadFile(cfg.ProfilesFile)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	return reg, nil
}

// NewGateway builds the local probe gateway from cfg.
func NewGateway(cfg *config.Config, logger *slog.Logger) (*executor.Local, error) {
	gw, err := executor.NewLocal(gatewayOptions(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("creating probe gateway: %w", err)
	}
	return gw, nil
}

func gatewayOptions(cfg *config.Config) executor.Options {
	return executor.Options{
		Privileged:       cfg.Probing.Privileged,
		PingTimeout:      cfg.Probing.PingTimeout,
		BurstInterval:    cfg.Probing.BurstInterval,
		JitterSamples:    cfg.Probing.JitterSamples,
		TCPTimeout:       cfg.Probing.TCPTimeout,
		PingPath:         cfg.Probing.PingPath,
		TraceroutePath:   cfg.Probing.TraceroutePath,
		MaxHops:          cfg.Trace.MaxHops,
		DiscoveryWorkers: cfg.Probing.DiscoveryWorkers,
		PortScanTimeout:  cfg.Probing.PortScanTimeout,
		PortScanWorkers:  cfg.Probing.PortScanWorkers,
		STUNServers:      cfg.Probing.STUNServers,
		DNSServer:        cfg.Probing.DNSServer,
		Geo: executor.GeoConfig{
			Provider:  cfg.Geo.Provider,
			BaseURL:   cfg.Geo.BaseURL,
			RateLimit: cfg.Geo.RateLimit,
			Timeout:   cfg.Geo.Timeout,
			MMDBPath:  cfg.Geo.MMDBPath,
		},
	}
}

// Profile resolves id, falling back to the configured default profile and
// then to the catalog default.
func (a *App) Profile(id string) (types.VendorProfile, error) {
	if id == "" {
		id = a.Config.Diagnostics.DefaultProfile
	}
	if id == "" {
		return a.Profiles.Default(), nil
	}
	return a.Profiles.Get(id)
}

// Serve runs the observer API and system poller until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	if err := a.System.Start(ctx); err != nil {
		return err
	}
	defer a.System.Stop()

	srv := &http.Server{
		Addr: a.Config.Server.Listen,
		Handler: api.NewServer(ctx, api.Deps{
			Runner:   a.Controller,
			Tracer:   a.Hops,
			Reports:  a.Reports,
			Catalog:  a.Profiles,
			Probes:   a.Gateway,
			System:   a.System,
			Metrics:  a.Metrics.Handler(),
			Health:   a.Health,
			Version:  Version,
			AuthHash: a.Config.Server.TokenHash,
		}, a.logger),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("observer api listening",
			"addr", srv.Addr,
			"auth", a.Config.Server.TokenHash != "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Hops.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases the store and gateway.
func (a *App) Close() error {
	a.Hops.Stop()
	return errors.Join(a.Store.Close(), a.Gateway.Close())
}
