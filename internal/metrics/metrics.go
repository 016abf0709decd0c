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

	reconcilePasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "reconcile",
			Name:      "passes_total",
			Help:      "Number of completed reconciliation passes.",
		},
	)
	reconcilePassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "warden",
			Subsystem: "reconcile",
			Name:      "pass_duration_seconds",
			Help:      "Wall-clock duration of reconciliation passes.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	reconcileCategories = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "reconcile",
			Name:      "categories_total",
			Help:      "Verification outcomes per category across all passes.",
		}, []string{"category"},
	)
	reconcileActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "reconcile",
			Name:      "actions_total",
			Help:      "Corrective actions executed, by action kind.",
		}, []string{"action"},
	)
	reconcileActionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "reconcile",
			Name:      "action_failures_total",
			Help:      "Corrective actions that returned an error, by action kind.",
		}, []string{"action"},
	)
	serviceUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "up",
			Help:      "Whether the service process is running and owns its port (1) or not (0).",
		}, []string{"name"},
	)
	serviceHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "healthy",
			Help:      "Last health probe result per service (1 healthy, 0 otherwise).",
		}, []string{"name"},
	)
	serviceHealthFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "service",
			Name:      "health_failures",
			Help:      "Consecutive failed health probes per service.",
		}, []string{"name"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Lifecycle events published on the bus, by kind.",
		}, []string{"kind"},
	)
	eventsDropped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped by subscriber queues since start (sampled).",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		reconcilePasses, reconcilePassDuration, reconcileCategories,
		reconcileActions, reconcileActionFailures,
		serviceUp, serviceHealthy, serviceHealthFailures,
		eventsPublished, eventsDropped,
	}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncPass() {
	if regOK.Load() {
		reconcilePasses.Inc()
	}
}

func ObservePassDuration(seconds float64) {
	if regOK.Load() {
		reconcilePassDuration.Observe(seconds)
	}
}

func IncCategory(category string) {
	if regOK.Load() {
		reconcileCategories.WithLabelValues(category).Inc()
	}
}

func IncAction(action string) {
	if regOK.Load() {
		reconcileActions.WithLabelValues(action).Inc()
	}
}

func IncActionFailure(action string) {
	if regOK.Load() {
		reconcileActionFailures.WithLabelValues(action).Inc()
	}
}

func SetServiceUp(name string, up bool) {
	if regOK.Load() {
		v := 0.0
		if up {
			v = 1.0
		}
		serviceUp.WithLabelValues(name).Set(v)
	}
}

func SetServiceHealthy(name string, healthy bool) {
	if regOK.Load() {
		v := 0.0
		if healthy {
			v = 1.0
		}
		serviceHealthy.WithLabelValues(name).Set(v)
	}
}

func SetHealthFailures(name string, n int) {
	if regOK.Load() {
		serviceHealthFailures.WithLabelValues(name).Set(float64(n))
	}
}

func IncEvent(kind string) {
	if regOK.Load() {
		eventsPublished.WithLabelValues(kind).Inc()
	}
}

func SetEventsDropped(n uint64) {
	if regOK.Load() {
		eventsDropped.Set(float64(n))
	}
}

// ForgetService removes per-service gauge series, typically after a
// service record is deleted during cleanup.
func ForgetService(name string) {
	if regOK.Load() {
		serviceUp.DeleteLabelValues(name)
		serviceHealthy.DeleteLabelValues(name)
		serviceHealthFailures.DeleteLabelValues(name)
	}
}
