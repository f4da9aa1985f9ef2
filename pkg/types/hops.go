package types

// =============================================================================
// HOP STATISTICS
// =============================================================================

// HopSample is one refresh reading kept in a hop's bounded history.
// Latency is 0 for a timed-out sample.
type HopSample struct {
	Label     string  `json:"time"`
	LatencyMs float64 `json:"latency"`
}

// HopStats is the running picture of one hop of a traced path.
//
// Invariants:
//   - LossPct == Lost / Sent * 100 for Sent > 0, else 0
//   - Best is nil until the first answered sample, then the minimum answered latency
//   - Worst is the maximum latency observed
type HopStats struct {
	Hop     int         `json:"hop"`
	IP      string      `json:"ip"`
	Sent    int         `json:"sent"`
	Lost    int         `json:"lost"`
	LossPct float64     `json:"lossPct"`
	Last    float64     `json:"last"`
	Best    *float64    `json:"best"`
	Worst   float64     `json:"worst"`
	Avg     float64     `json:"avg"`
	History []HopSample `json:"history"`
}

// Received returns the number of answered samples.
func (h HopStats) Received() int {
	return h.Sent - h.Lost
}

// Clone returns a copy sharing no memory with h.
func (h HopStats) Clone() HopStats {
	out := h
	if h.Best != nil {
		out.Best = Float64(*h.Best)
	}
	out.History = append([]HopSample(nil), h.History...)
	return out
}
