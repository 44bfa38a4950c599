package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "epanomaly"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// detection engine.
type Metrics struct {
	// Per-site detection metrics.
	SitesScored  *prometheus.CounterVec   // labels: detector, status={Yes,No,Insufficient data}
	SiteDuration *prometheus.HistogramVec // labels: detector
	TaskPanics   *prometheus.CounterVec   // labels: detector

	// Run metrics.
	RunDuration *prometheus.HistogramVec // labels: detector
	PoolWorkers prometheus.Gauge

	// Residual scoring metrics.
	DegradedFits *prometheus.CounterVec // labels: frequency={daily,hourly}, reason={degenerate_basis,singular_fit,missing_day}
	HourlyDays   *prometheus.CounterVec // labels: basis={canonical,rebuilt}
	CacheWrites  *prometheus.CounterVec // labels: frequency, outcome={success,error}
	RefitRunning prometheus.Gauge

	// Verdict delivery metrics.
	VerdictCache      *prometheus.CounterVec // labels: result={hit,miss}
	VerdictsPublished *prometheus.CounterVec // labels: sink, outcome={success,error}
}

// NewMetrics creates and registers all engine metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)

	prometheus.MustRegister(
		m.SitesScored,
		m.SiteDuration,
		m.TaskPanics,
		m.RunDuration,
		m.PoolWorkers,
		m.DegradedFits,
		m.HourlyDays,
		m.CacheWrites,
		m.RefitRunning,
		m.VerdictCache,
		m.VerdictsPublished,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

// NewUnregisteredMetrics creates Metrics that no registry exports, for
// one-shot commands that still drive the engine.
func NewUnregisteredMetrics() *Metrics {
	return newMetrics(true)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		SitesScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sites_scored_total",
			Help:      help("Sites scored by detector and verdict status."),
		}, []string{"detector", "status"}),
		SiteDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "site_duration_seconds",
			Help:      help("Duration of a single site detection."),
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"detector"}),
		TaskPanics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_panics_total",
			Help:      help("Site tasks that panicked and were replaced by a fallback verdict."),
		}, []string{"detector"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      help("Duration of a detection run across every site of a variable."),
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"detector"}),
		PoolWorkers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_workers",
			Help:      help("Configured size of the site worker pool."),
		}),
		DegradedFits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_fits_total",
			Help:      help("Spline fits that produced missing scores."),
		}, []string{"frequency", "reason"}),
		HourlyDays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hourly_days_total",
			Help:      help("Hourly days fit, by whether the shared full-day basis was used."),
		}, []string{"basis"}),
		CacheWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      help("Write-through updates of per-site series files."),
		}, []string{"frequency", "outcome"}),
		RefitRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "refit_running",
			Help:      help("1 while a scheduled residual refit is in progress."),
		}),
		VerdictCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdict_cache_total",
			Help:      help("Verdict table cache lookups by result."),
		}, []string{"result"}),
		VerdictsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_published_total",
			Help:      help("Verdict runs delivered to sinks by sink and outcome."),
		}, []string{"sink", "outcome"}),
	}
}
