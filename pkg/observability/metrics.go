package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Scheduler metrics
	SchedulerRunsTotal     *prometheus.CounterVec
	SchedulerRunDuration   prometheus.Histogram
	AllocationsSelected    prometheus.Counter
	AllocationsPushedTotal *prometheus.CounterVec
	NotificationsSentTotal *prometheus.CounterVec
	WatchdogRestartsTotal  prometheus.Counter

	// Access metrics
	AccessChecksTotal *prometheus.CounterVec
	GrantCacheHits    prometheus.Counter
	GrantCacheMisses  prometheus.Counter
	GrantChangesTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		SchedulerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldnote_scheduler_runs_total",
				Help: "Total number of allocation push runs",
			},
			[]string{"status"},
		),
		SchedulerRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fieldnote_scheduler_run_duration_seconds",
				Help:    "Allocation push run duration in seconds",
				Buckets: []float64{.05, .1, .5, 1, 5, 10, 30, 60},
			},
		),
		AllocationsSelected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fieldnote_allocations_selected_total",
				Help: "Total number of allocations selected as due for a push",
			},
		),
		AllocationsPushedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldnote_allocations_pushed_total",
				Help: "Allocations processed by outcome",
			},
			[]string{"outcome"},
		),
		NotificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldnote_notifications_sent_total",
				Help: "Push notifications by delivery result",
			},
			[]string{"result"},
		),
		WatchdogRestartsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fieldnote_watchdog_restarts_total",
				Help: "Number of times the watchdog restarted a missing job",
			},
		),
		AccessChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldnote_access_checks_total",
				Help: "Access checks by resource kind and result",
			},
			[]string{"kind", "result"},
		),
		GrantCacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fieldnote_grant_cache_hits_total",
				Help: "Grant cache hits",
			},
		),
		GrantCacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "fieldnote_grant_cache_misses_total",
				Help: "Grant cache misses",
			},
		),
		GrantChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fieldnote_grant_changes_total",
				Help: "Grant mutations by operation",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.SchedulerRunsTotal,
		m.SchedulerRunDuration,
		m.AllocationsSelected,
		m.AllocationsPushedTotal,
		m.NotificationsSentTotal,
		m.WatchdogRestartsTotal,
		m.AccessChecksTotal,
		m.GrantCacheHits,
		m.GrantCacheMisses,
		m.GrantChangesTotal,
	)

	return m
}

// NewUnregisteredMetrics returns metrics bound to a throwaway registry.
// Useful for tests and one-shot CLI commands.
func NewUnregisteredMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// Handler returns the Prometheus scrape handler for the given gatherer
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
