// Package obsv hosts the Prometheus metrics registry for the analytic
// core: cycle, cache, signal, state, portfolio, and notification
// collectors.
package obsv

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus metric the analytic core emits.
type Metrics struct {
	// CycleDuration is the end-to-end scheduler cycle latency.
	CycleDuration *prometheus.HistogramVec

	// StepDuration is per-component latency within a cycle (bar fetch,
	// indicator compute, classify, detect, coordinate, generate).
	StepDuration *prometheus.HistogramVec

	// CacheHitRatio mirrors the calculation cache's hit rate as a gauge.
	CacheHitRatio prometheus.Gauge
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheEvictions prometheus.Counter

	// SignalsEmitted counts emitted signals by action and symbol.
	SignalsEmitted *prometheus.CounterVec

	// StateSwitches counts market-state transitions by (from, to).
	StateSwitches *prometheus.CounterVec

	// CycleStatus counts cycle outcomes by status (COMPLETED/PARTIAL/FAILED).
	CycleStatus *prometheus.CounterVec

	// PortfolioEquity is the live-or-backtest portfolio's current equity.
	PortfolioEquity prometheus.Gauge

	// OpenPositions is the current count of open portfolio positions.
	OpenPositions prometheus.Gauge

	// NotificationDropped counts notification items dropped by sink
	// overflow.
	NotificationDropped *prometheus.CounterVec
}

// NewMetrics constructs a Metrics struct with every collector registered
// against reg. Callers typically pass prometheus.NewRegistry() so tests can
// use an isolated registry rather than the global default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dgcore_cycle_duration_seconds",
			Help:    "Duration of each scheduler cycle in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		}, []string{"status"}),

		StepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dgcore_step_duration_seconds",
			Help:    "Duration of each pipeline step in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step", "result"}),

		CacheHitRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dgcore_cache_hit_ratio",
			Help: "Current calculation cache hit ratio (0.0 to 1.0)",
		}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dgcore_cache_hits_total",
			Help: "Total calculation cache hits by kind",
		}, []string{"kind"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dgcore_cache_misses_total",
			Help: "Total calculation cache misses by kind",
		}, []string{"kind"}),
		CacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dgcore_cache_evictions_total",
			Help: "Total calculation cache LRU evictions",
		}),

		SignalsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dgcore_signals_emitted_total",
			Help: "Total signals emitted by action",
		}, []string{"action", "symbol"}),

		StateSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dgcore_state_switches_total",
			Help: "Total market-state transitions",
		}, []string{"from", "to"}),

		CycleStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dgcore_cycle_status_total",
			Help: "Total scheduler cycles by outcome status",
		}, []string{"status"}),

		PortfolioEquity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dgcore_portfolio_equity",
			Help: "Current total portfolio equity",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dgcore_open_positions",
			Help: "Current count of open portfolio positions",
		}),

		NotificationDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dgcore_notification_dropped_total",
			Help: "Total notification items dropped by sink overflow",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.CycleDuration, m.StepDuration,
		m.CacheHitRatio, m.CacheHits, m.CacheMisses, m.CacheEvictions,
		m.SignalsEmitted, m.StateSwitches, m.CycleStatus,
		m.PortfolioEquity, m.OpenPositions, m.NotificationDropped,
	)
	return m
}
