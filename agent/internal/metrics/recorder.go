// Package metrics exports live diagnostic readings in Prometheus format and
// reports the agent's own process health.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pilot-net/netcheck/agent/internal/diag"
	"github.com/pilot-net/netcheck/pkg/types"
)

const namespace = "netcheck"

// Recorder receives controller updates and exposes them as metrics.
// It satisfies diag.MetricsSink.
type Recorder struct {
	registry *prometheus.Registry

	entries     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	latency     *prometheus.GaugeVec
	jitter      *prometheus.GaugeVec
	loss        *prometheus.GaugeVec
	info        *prometheus.GaugeVec
}

var _ diag.MetricsSink = (*Recorder)(nil)

// NewRecorder creates a recorder with its own registry.
func NewRecorder(version string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		entries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "log_entries_total",
				Help:      "Diagnostic log entries by probe type and status",
			},
			[]string{"profile", "type", "status"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Finished diagnostic runs by outcome",
			},
			[]string{"profile", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Diagnostic run duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"profile"},
		),
		latency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "latency_ms",
				Help:      "Last average latency from the connectivity sweep",
			},
			[]string{"profile"},
		),
		jitter: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jitter_ms",
				Help:      "Last jitter reading from the connectivity sweep",
			},
			[]string{"profile"},
		),
		loss: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "packet_loss_percent",
				Help:      "Last packet loss reading from the connectivity sweep",
			},
			[]string{"profile"},
		),
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "build_info",
				Help:      "Agent build information",
			},
			[]string{"version"},
		),
	}

	r.registry.MustRegister(
		r.entries, r.runs, r.runDuration,
		r.latency, r.jitter, r.loss, r.info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.info.WithLabelValues(version).Set(1)
	return r
}

// RecordEntry counts one log entry.
func (r *Recorder) RecordEntry(profile string, e types.TestResultLog) {
	r.entries.WithLabelValues(profile, string(e.Kind), string(e.Status)).Inc()
}

// RecordGauges sets the live gauges that have a reading.
func (r *Recorder) RecordGauges(profile string, g types.Gauges) {
	if g.LatencyMs != nil {
		r.latency.WithLabelValues(profile).Set(*g.LatencyMs)
	}
	if g.JitterMs != nil {
		r.jitter.WithLabelValues(profile).Set(*g.JitterMs)
	}
	if g.LossPercent != nil {
		r.loss.WithLabelValues(profile).Set(*g.LossPercent)
	}
}

// RecordRun counts a finished run.
func (r *Recorder) RecordRun(profile string, outcome diag.State, d time.Duration) {
	r.runs.WithLabelValues(profile, string(outcome)).Inc()
	r.runDuration.WithLabelValues(profile).Observe(d.Seconds())
}

// WatchHops exports per-hop statistics read from snapshot at scrape time.
func (r *Recorder) WatchHops(snapshot func() (host string, hops []types.HopStats)) {
	r.registry.MustRegister(&hopCollector{snapshot: snapshot})
}

// Handler serves the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

var (
	hopLossDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "hop", "loss_percent"),
		"Packet loss per traced hop",
		[]string{"host", "hop", "ip"}, nil,
	)
	hopAvgDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "hop", "avg_latency_ms"),
		"Average latency per traced hop",
		[]string{"host", "hop", "ip"}, nil,
	)
	hopSentDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "hop", "probes_sent_total"),
		"Refresh probes sent per traced hop",
		[]string{"host", "hop", "ip"}, nil,
	)
)

// hopCollector turns an aggregator snapshot into metrics on every scrape.
type hopCollector struct {
	snapshot func() (string, []types.HopStats)
}

func (c *hopCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- hopLossDesc
	ch <- hopAvgDesc
	ch <- hopSentDesc
}

func (c *hopCollector) Collect(ch chan<- prometheus.Metric) {
	host, hops := c.snapshot()
	for _, h := range hops {
		if !types.IsProbeableAddress(h.IP) {
			continue
		}
		labels := []string{host, strconv.Itoa(h.Hop), h.IP}
		ch <- prometheus.MustNewConstMetric(hopLossDesc, prometheus.GaugeValue, h.LossPct, labels...)
		ch <- prometheus.MustNewConstMetric(hopAvgDesc, prometheus.GaugeValue, h.Avg, labels...)
		ch <- prometheus.MustNewConstMetric(hopSentDesc, prometheus.CounterValue, float64(h.Sent), labels...)
	}
}
