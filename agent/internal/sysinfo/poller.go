// Package sysinfo polls local machine resource usage on a fixed cadence.
package sysinfo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/pilot-net/netcheck/pkg/types"
)

// Reader returns one system reading.
type Reader interface {
	SystemInfo(ctx context.Context) (*types.SystemInfo, error)
}

// Reading is a timestamped system reading.
type Reading struct {
	Time time.Time        `json:"time"`
	Info types.SystemInfo `json:"info"`
}

// Config holds poller settings.
type Config struct {
	Interval    time.Duration // Default: 5s
	HistorySize int           // Default: 60
}

// Poller keeps the latest readings in memory.
type Poller struct {
	reader    Reader
	logger    *slog.Logger
	interval  time.Duration
	size      int
	scheduler gocron.Scheduler

	mu      sync.RWMutex
	history []Reading
	lastErr error
	running bool
}

// NewPoller creates a poller. Call Start to begin polling.
func NewPoller(reader Reader, cfg Config, logger *slog.Logger) (*Poller, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 60
	}
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Poller{
		reader:    reader,
		logger:    logger.With("component", "sysinfo"),
		interval:  cfg.Interval,
		size:      cfg.HistorySize,
		scheduler: s,
	}, nil
}

// Start schedules polling, beginning immediately. Readings stop when ctx
// ends or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("poller is already running")
	}

	_, err := p.scheduler.NewJob(
		gocron.DurationJob(p.interval),
		gocron.NewTask(func() {
			p.poll(ctx)
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return fmt.Errorf("failed to create poll job: %w", err)
	}

	p.scheduler.Start()
	p.running = true
	p.logger.Debug("system polling started", "interval", p.interval)
	return nil
}

// Stop shuts the scheduler down.
func (p *Poller) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false
	if err := p.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	return nil
}

// Latest returns the newest reading, if any.
func (p *Poller) Latest() (Reading, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.history) == 0 {
		return Reading{}, false
	}
	return p.history[len(p.history)-1], true
}

// History returns the retained readings, oldest first.
func (p *Poller) History() []Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Reading(nil), p.history...)
}

// Err returns the error of the most recent poll, nil if it succeeded.
func (p *Poller) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

func (p *Poller) poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	pctx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	info, err := p.reader.SystemInfo(pctx)
	if err == nil && info == nil {
		err = fmt.Errorf("empty system reading")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErr = err
	if err != nil {
		p.logger.Warn("system poll failed", "error", err)
		return
	}
	p.history = append(p.history, Reading{Time: time.Now(), Info: *info})
	if len(p.history) > p.size {
		p.history = append([]Reading(nil), p.history[len(p.history)-p.size:]...)
	}
}
