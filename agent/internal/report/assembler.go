// Package report turns finished diagnostic logs into saved reports.
//
// The whole report list lives as one JSON array under a single key and is
// rewritten in full on every save or clear, most recent first.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/netcheck/agent/internal/kv"
	"github.com/pilot-net/netcheck/pkg/types"
)

// StorageKey is the key the report list is stored under.
const StorageKey = "net_reports"

var (
	// ErrEmptyLog is returned when saving a log with no entries.
	ErrEmptyLog = errors.New("no log entries to save")
	// ErrNotFound is returned by Get for an unknown report id.
	ErrNotFound = errors.New("report not found")
)

// Assembler saves and lists reports.
type Assembler struct {
	store  kv.Store
	logger *slog.Logger
	now    func() time.Time
	newID  func() string

	// serializes read-modify-write of the list
	mu sync.Mutex
}

// NewAssembler creates an assembler backed by store.
func NewAssembler(store kv.Store, logger *slog.Logger) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assembler{
		store:  store,
		logger: logger.With("component", "report"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Build creates a report from logs without persisting it. The report holds
// its own copy of the entries.
func (a *Assembler) Build(profileName string, logs []types.TestResultLog) types.SavedReport {
	return types.SavedReport{
		ID:          a.newID(),
		Timestamp:   a.now(),
		ProfileName: profileName,
		Logs:        types.CloneLogs(logs),
		Summary:     types.Summarize(logs),
	}
}

// Save builds a report from logs and prepends it to the stored list.
func (a *Assembler) Save(ctx context.Context, profileName string, logs []types.TestResultLog) (*types.SavedReport, error) {
	if len(logs) == 0 {
		return nil, ErrEmptyLog
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reports, err := a.load(ctx)
	if err != nil {
		return nil, err
	}

	r := a.Build(profileName, logs)
	reports = append([]types.SavedReport{r}, reports...)
	if err := a.persist(ctx, reports); err != nil {
		return nil, err
	}

	a.logger.Info("report saved",
		"id", r.ID,
		"profile", profileName,
		"pass", r.Summary.Pass,
		"fail", r.Summary.Fail,
		"warn", r.Summary.Warn)
	return &r, nil
}

// List returns all saved reports, most recent first.
func (a *Assembler) List(ctx context.Context) ([]types.SavedReport, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load(ctx)
}

// Get returns the report with the given id.
func (a *Assembler) Get(ctx context.Context, id string) (*types.SavedReport, error) {
	reports, err := a.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range reports {
		if reports[i].ID == id {
			return &reports[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Clear discards every saved report.
func (a *Assembler) Clear(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.store.Delete(ctx, StorageKey); err != nil {
		return fmt.Errorf("clearing reports: %w", err)
	}
	a.logger.Info("reports cleared")
	return nil
}

func (a *Assembler) load(ctx context.Context) ([]types.SavedReport, error) {
	data, err := a.store.Get(ctx, StorageKey)
	if errors.Is(err, kv.ErrNotFound) {
		return []types.SavedReport{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading reports: %w", err)
	}

	var reports []types.SavedReport
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("decoding reports: %w", err)
	}
	if reports == nil {
		reports = []types.SavedReport{}
	}
	return reports, nil
}

func (a *Assembler) persist(ctx context.Context, reports []types.SavedReport) error {
	data, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("encoding reports: %w", err)
	}
	if err := a.store.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("storing reports: %w", err)
	}
	return nil
}
