package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds all Prometheus metrics for the application.
// A nil *Collector is valid and records nothing.
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	Fetches     *prometheus.CounterVec

	// Mutation metrics
	Mutations        *prometheus.CounterVec
	PendingMutations prometheus.Gauge

	// Remote store metrics
	RemoteOperations *prometheus.CounterVec
	RemoteDuration   *prometheus.HistogramVec
	BreakerState     *prometheus.GaugeVec
}

// NewCollector creates a collector with its own registry, so several
// collectors (one per test, say) never clash on registration.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		CacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Loads served from a fresh cached collection",
			},
		),
		CacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Loads that needed a remote fetch",
			},
		),
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_fetches_total",
				Help:      "Collection fetches by outcome",
			},
			[]string{"outcome"},
		),
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Optimistic mutations by final state",
			},
			[]string{"state"},
		),
		PendingMutations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "mutations_pending",
				Help:      "Optimistic mutations waiting for the remote store",
			},
		),
		RemoteOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_operations_total",
				Help:      "Remote store calls by operation and status",
			},
			[]string{"operation", "status"},
		),
		RemoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_operation_duration_seconds",
				Help:      "Remote store call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.CacheHits,
		c.CacheMisses,
		c.Fetches,
		c.Mutations,
		c.PendingMutations,
		c.RemoteOperations,
		c.RemoteDuration,
		c.BreakerState,
	)

	return c
}

// CacheHit records a load answered from cache.
func (c *Collector) CacheHit() {
	if c == nil {
		return
	}
	c.CacheHits.Inc()
}

// CacheMiss records a load that needed a fetch.
func (c *Collector) CacheMiss() {
	if c == nil {
		return
	}
	c.CacheMisses.Inc()
}

// RecordFetch records a fetch outcome: success, error or canceled.
func (c *Collector) RecordFetch(outcome string) {
	if c == nil {
		return
	}
	c.Fetches.WithLabelValues(outcome).Inc()
}

// MutationStarted tracks a new pending mutation.
func (c *Collector) MutationStarted() {
	if c == nil {
		return
	}
	c.PendingMutations.Inc()
}

// MutationSettled records the final state of a mutation.
func (c *Collector) MutationSettled(state string) {
	if c == nil {
		return
	}
	c.PendingMutations.Dec()
	c.Mutations.WithLabelValues(state).Inc()
}

// RecordRemote records one remote store call.
func (c *Collector) RecordRemote(operation string, duration time.Duration, err error) {
	if c == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.RemoteOperations.WithLabelValues(operation, status).Inc()
	c.RemoteDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBreakerState publishes a circuit breaker state.
func (c *Collector) SetBreakerState(name string, state float64) {
	if c == nil {
		return
	}
	c.BreakerState.WithLabelValues(name).Set(state)
}

// RecordHTTP records one served request.
func (c *Collector) RecordHTTP(method, route, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, status).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
