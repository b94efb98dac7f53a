package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	schedules = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmstacks",
			Subsystem: "scheduler",
			Name:      "occurrences_scheduled_total",
			Help:      "Number of occurrences successfully scheduled, by backend.",
		}, []string{"backend"},
	)
	scheduleFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmstacks",
			Subsystem: "scheduler",
			Name:      "occurrence_failures_total",
			Help:      "Number of per-occurrence schedule failures (non-fatal to siblings).",
		}, []string{"backend"},
	)
	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmstacks",
			Subsystem: "scheduler",
			Name:      "cancellations_total",
			Help:      "Number of cancel-all calls per backend.",
		}, []string{"backend"},
	)
	fires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmstacks",
			Subsystem: "scheduler",
			Name:      "fires_total",
			Help:      "Number of occurrences that fired.",
		}, []string{"backend"},
	)
	activitiesLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "alarmstacks",
			Subsystem: "liveactivity",
			Name:      "live",
			Help:      "Current number of live activity records.",
		},
	)
	prearmAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmstacks",
			Subsystem: "liveactivity",
			Name:      "prearm_attempts_total",
			Help:      "Number of prearm attempts that fired.",
		}, []string{"stack"},
	)
	cooldownSkips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmstacks",
			Subsystem: "liveactivity",
			Name:      "cooldown_skips_total",
			Help:      "Prearm attempts skipped because the manager was cooling down.",
		}, []string{"stack"},
	)
	activityFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmstacks",
			Subsystem: "liveactivity",
			Name:      "request_failures_total",
			Help:      "Activity create requests that failed after the retry.",
		}, []string{"stack"},
	)
	activityEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "alarmstacks",
			Subsystem: "liveactivity",
			Name:      "cap_evictions_total",
			Help:      "Records force-ended to satisfy the concurrency cap.",
		}, []string{"stack"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{schedules, scheduleFailures, cancellations, fires,
		activitiesLive, prearmAttempts, cooldownSkips, activityFailures, activityEvictions}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the
// DefaultGatherer. The caller is responsible for wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

func IncScheduled(backend string)       { schedules.WithLabelValues(backend).Inc() }
func IncScheduleFailure(backend string) { scheduleFailures.WithLabelValues(backend).Inc() }
func IncCancelAll(backend string)       { cancellations.WithLabelValues(backend).Inc() }
func IncFired(backend string)           { fires.WithLabelValues(backend).Inc() }
func SetActivitiesLive(n int)           { activitiesLive.Set(float64(n)) }
func IncPrearmAttempt(stack string)     { prearmAttempts.WithLabelValues(stack).Inc() }
func IncCooldownSkip(stack string)      { cooldownSkips.WithLabelValues(stack).Inc() }
func IncActivityFailure(stack string)   { activityFailures.WithLabelValues(stack).Inc() }
func IncActivityEviction(stack string)  { activityEvictions.WithLabelValues(stack).Inc() }
