package types

import "time"

// =============================================================================
// RESULT LOG
// =============================================================================

// ProbeKind tags which probe produced a log entry.
type ProbeKind string

const (
	KindPing   ProbeKind = "PING"
	KindTCP    ProbeKind = "TCP"
	KindJitter ProbeKind = "JITTER"
	KindMTU    ProbeKind = "MTU"
	KindNAT    ProbeKind = "NAT"
	KindDNS    ProbeKind = "DNS"
	KindTrace  ProbeKind = "TRACE"
	KindScan   ProbeKind = "SCAN"
	KindSpeed  ProbeKind = "SPEED"
)

// Status is the classification of one log entry.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusWarn Status = "WARN"
)

// TestResultLog is one classified line of a diagnostic run.
// Entries are append-only; insertion order is chronological and report order.
type TestResultLog struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Target    string    `json:"target"`
	Kind      ProbeKind `json:"type"`
	Status    Status    `json:"status"`
	Details   string    `json:"details"`
	LatencyMs *float64  `json:"latency,omitempty"`
}

// Summary counts log entries by status.
type Summary struct {
	Pass int `json:"pass"`
	Fail int `json:"fail"`
	Warn int `json:"warn"`
}

// Total returns the number of counted entries.
func (s Summary) Total() int {
	return s.Pass + s.Fail + s.Warn
}

// Summarize counts the statuses of logs in one pass.
func Summarize(logs []TestResultLog) Summary {
	var s Summary
	for _, l := range logs {
		switch l.Status {
		case StatusPass:
			s.Pass++
		case StatusFail:
			s.Fail++
		case StatusWarn:
			s.Warn++
		}
	}
	return s
}

// CloneLogs returns an independent copy of logs, including latency pointers.
func CloneLogs(logs []TestResultLog) []TestResultLog {
	if logs == nil {
		return nil
	}
	out := make([]TestResultLog, len(logs))
	for i, l := range logs {
		if l.LatencyMs != nil {
			v := *l.LatencyMs
			l.LatencyMs = &v
		}
		out[i] = l
	}
	return out
}

// =============================================================================
// SAVED REPORT
// =============================================================================

// SavedReport is an immutable snapshot of a finished run's log.
type SavedReport struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	ProfileName string          `json:"profileName"`
	Logs        []TestResultLog `json:"logs"`
	Summary     Summary         `json:"summary"`
}

// =============================================================================
// LIVE GAUGES
// =============================================================================

// Gauges are the live quality readings updated by the connectivity sweep.
// Nil means no reading yet.
type Gauges struct {
	LatencyMs   *float64 `json:"latency_ms"`
	JitterMs    *float64 `json:"jitter_ms"`
	LossPercent *float64 `json:"loss_percent"`
}

// Clone returns a copy that shares no pointers with g.
func (g Gauges) Clone() Gauges {
	out := Gauges{}
	if g.LatencyMs != nil {
		out.LatencyMs = Float64(*g.LatencyMs)
	}
	if g.JitterMs != nil {
		out.JitterMs = Float64(*g.JitterMs)
	}
	if g.LossPercent != nil {
		out.LossPercent = Float64(*g.LossPercent)
	}
	return out
}
