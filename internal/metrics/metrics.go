// Package metrics holds the Prometheus collectors for the decision engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoeq_decisions_total",
			Help: "Total number of EQ decisions by winning source",
		},
		[]string{"source"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoeq_cache_lookups_total",
			Help: "Prediction cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "autoeq_stage_duration_seconds",
			Help:    "Duration of each resolver stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	DSPCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoeq_dsp_commands_total",
			Help: "Hardware DSP preset commands by result",
		},
		[]string{"result"},
	)

	ProfileWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoeq_profile_writes_total",
			Help: "Listener profile persist attempts by result",
		},
		[]string{"result"},
	)

	Announcements = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "autoeq_announcements_total",
			Help: "Voice announcements by outcome",
		},
		[]string{"outcome"}, // "spoken", "cooldown", "low_confidence", "error"
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "autoeq_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "autoeq_cache_entries",
			Help: "Current number of cached predictions",
		},
	)
)

// RecordDecision counts a decision by its source tag.
func RecordDecision(source string) {
	Decisions.WithLabelValues(source).Inc()
}

// RecordCacheLookup counts a cache hit or miss.
func RecordCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}

// ObserveStage records how long a resolver stage took.
func ObserveStage(stage string, d time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func RecordDSPCommand(ok bool) {
	DSPCommands.WithLabelValues(result(ok)).Inc()
}

func RecordProfileWrite(err error) {
	ProfileWrites.WithLabelValues(result(err == nil)).Inc()
}

func RecordAnnouncement(outcome string) {
	Announcements.WithLabelValues(outcome).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// RecordBreakerState exports a circuit breaker's state.
func RecordBreakerState(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}

func SetCacheEntries(n int) {
	CacheEntries.Set(float64(n))
}
