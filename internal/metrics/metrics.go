// Package metrics exposes expansion, conflict and refresh activity to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Refresh and conflict-check result labels.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultConflict = "conflict"
	ResultClear    = "clear"
	ResultInvalid  = "invalid"
)

// Recorder is what the agenda and web layers report to.
type Recorder interface {
	ObserveWorkingSet(occurrences, truncatedSeeds int)
	SetConflictingEvents(n int)
	ObserveRefresh(result string, d time.Duration)
	ObserveConflictCheck(result string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) ObserveWorkingSet(int, int) {}
func (Nop) SetConflictingEvents(int) {}
func (Nop) ObserveRefresh(string, time.Duration) {}
func (Nop) ObserveConflictCheck(string) {}

// Collector is the Prometheus-backed Recorder.
type Collector struct {
	occurrences     prometheus.Counter
	truncated       prometheus.Counter
	conflicting     prometheus.Gauge
	refreshes       *prometheus.CounterVec
	refreshDuration prometheus.Histogram
	checks          *prometheus.CounterVec
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		occurrences: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dayplan_occurrences_expanded_total",
			Help: "Occurrences produced by recurrence expansion.",
		}),
		truncated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dayplan_seeds_truncated_total",
			Help: "Seeds whose expansion hit the per-seed occurrence cap.",
		}),
		conflicting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dayplan_conflicting_events",
			Help: "Timed events in the current snapshot that overlap at least one other event.",
		}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dayplan_refresh_total",
			Help: "Snapshot rebuilds by result.",
		}, []string{"result"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dayplan_refresh_duration_seconds",
			Help:    "Time spent rebuilding the snapshot.",
			Buckets: prometheus.DefBuckets,
		}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dayplan_conflict_checks_total",
			Help: "Candidate conflict checks by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.occurrences,
		c.truncated,
		c.conflicting,
		c.refreshes,
		c.refreshDuration,
		c.checks,
	)
	return c
}

func (c *Collector) ObserveWorkingSet(occurrences, truncatedSeeds int) {
	c.occurrences.Add(float64(occurrences))
	c.truncated.Add(float64(truncatedSeeds))
}

func (c *Collector) SetConflictingEvents(n int) {
	c.conflicting.Set(float64(n))
}

func (c *Collector) ObserveRefresh(result string, d time.Duration) {
	c.refreshes.WithLabelValues(result).Inc()
	c.refreshDuration.Observe(d.Seconds())
}

func (c *Collector) ObserveConflictCheck(result string) {
	c.checks.WithLabelValues(result).Inc()
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
