// Package metrics provides Prometheus metrics for the trading loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "sol_autotrader"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Loop metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Decision metrics
	IntentsTotal *prometheus.CounterVec
	EntriesTotal *prometheus.CounterVec
	ExitsTotal   *prometheus.CounterVec

	// State gauges
	GuardPaused   prometheus.Gauge
	DrawdownPct   prometheus.Gauge
	EquitySol     prometheus.Gauge
	OpenPositions prometheus.Gauge

	// Execution metrics
	EQS          prometheus.Histogram
	QuoteLatency prometheus.Histogram
}

// New creates a Metrics instance registered on its own registry, along with
// the Go runtime and process collectors.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		CyclesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "cycles_total",
			Help:      "Total number of tick cycles by status",
		}, []string{"status"}),
		CycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "loop",
			Name:      "cycle_duration_seconds",
			Help:      "Tick cycle duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		IntentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "intents_total",
			Help:      "Total number of trade intents by outcome",
		}, []string{"outcome"}),
		EntriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "entries_total",
			Help:      "Total number of entry attempts by outcome",
		}, []string{"outcome"}),
		ExitsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "exits_total",
			Help:      "Total number of position exits by reason",
		}, []string{"reason"}),

		GuardPaused: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "paused",
			Help:      "1 when the performance guard pause is active",
		}),
		DrawdownPct: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "drawdown_ratio",
			Help:      "Current drawdown from the equity peak",
		}),
		EquitySol: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "portfolio",
			Name:      "equity_sol",
			Help:      "Current equity in SOL",
		}),
		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "open",
			Help:      "Number of open positions",
		}),

		EQS: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "quality_score",
			Help:      "Execution quality score of planned entries",
			Buckets:   prometheus.LinearBuckets(0, 10, 11),
		}),
		QuoteLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "quote_latency_seconds",
			Help:      "Aggregator quote round-trip latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Registry returns the registry backing these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCycle records one tick.
func (m *Metrics) RecordCycle(status string, d time.Duration) {
	m.CyclesTotal.WithLabelValues(status).Inc()
	m.CycleDuration.Observe(d.Seconds())
}

// RecordIntent counts an intent by how it ended.
func (m *Metrics) RecordIntent(outcome string) {
	m.IntentsTotal.WithLabelValues(outcome).Inc()
}

// RecordEntry counts an entry by execution status.
func (m *Metrics) RecordEntry(outcome string) {
	m.EntriesTotal.WithLabelValues(outcome).Inc()
}

// RecordExit counts a closed position by exit reason.
func (m *Metrics) RecordExit(reason string) {
	m.ExitsTotal.WithLabelValues(reason).Inc()
}

// RecordEQS observes the quality score of a planned entry.
func (m *Metrics) RecordEQS(eqs float64) {
	m.EQS.Observe(eqs)
}

// ObserveQuoteLatency records one aggregator quote round trip.
func (m *Metrics) ObserveQuoteLatency(d time.Duration) {
	m.QuoteLatency.Observe(d.Seconds())
}

// UpdateState sets the point-in-time gauges.
func (m *Metrics) UpdateState(equitySol, drawdownPct float64, guardPaused bool, openPositions int) {
	m.EquitySol.Set(equitySol)
	m.DrawdownPct.Set(drawdownPct)
	m.OpenPositions.Set(float64(openPositions))
	if guardPaused {
		m.GuardPaused.Set(1)
	} else {
		m.GuardPaused.Set(0)
	}
}
