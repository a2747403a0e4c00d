// Package metrics exposes eventwire's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eventwire/eventwire/pkg/models"
)

// Metrics holds the collectors on a private registry. A nil *Metrics is a
// valid no-op.
type Metrics struct {
	registry *prometheus.Registry

	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	tokens      *prometheus.CounterVec
	retries     *prometheus.CounterVec
	cache       *prometheus.CounterVec
	posts       *prometheus.CounterVec
	deliveries  *prometheus.CounterVec
	lastRun     prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.invocations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventwire",
		Name:      "invocations_total",
		Help:      "Language-model invocations by provider, model and outcome",
	}, []string{"provider", "model", "outcome"})
	m.latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "eventwire",
		Name:      "invocation_duration_seconds",
		Help:      "Wall time of a resilient invocation including backoff",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
	}, []string{"provider"})
	m.tokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventwire",
		Name:      "tokens_total",
		Help:      "Tokens reported by backends",
	}, []string{"provider", "kind"})
	m.retries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventwire",
		Name:      "rate_limit_retries_total",
		Help:      "Backoff sleeps taken after a rate-limit response",
	}, []string{"provider"})
	m.cache = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventwire",
		Name:      "cache_lookups_total",
		Help:      "Classification cache lookups by result",
	}, []string{"result"})
	m.posts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventwire",
		Name:      "posts_total",
		Help:      "Feed posts seen by the pipeline, by result",
	}, []string{"result"})
	m.deliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "eventwire",
		Name:      "deliveries_total",
		Help:      "Digest messages sent to subscribers by status",
	}, []string{"status"})
	m.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "eventwire",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last completed pipeline pass",
	})

	m.registry.MustRegister(
		m.invocations, m.latency, m.tokens, m.retries,
		m.cache, m.posts, m.deliveries, m.lastRun,
	)
	return m
}

// Registry returns the underlying registry, or nil for a nil Metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveInvocation records the end of one resilient invocation.
func (m *Metrics) ObserveInvocation(provider, model string, outcome models.Outcome, elapsed time.Duration, usage models.Usage) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(provider, model, string(outcome)).Inc()
	m.latency.WithLabelValues(provider).Observe(elapsed.Seconds())
	if usage.PromptTokens > 0 {
		m.tokens.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		m.tokens.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
	}
}

// ObserveRetry counts one backoff sleep.
func (m *Metrics) ObserveRetry(provider string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(provider).Inc()
}

// CacheLookup counts a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cache.WithLabelValues("hit").Inc()
	} else {
		m.cache.WithLabelValues("miss").Inc()
	}
}

// Post counts a post by pipeline result: "event", "not_event", "cached" or "empty".
func (m *Metrics) Post(result string) {
	if m == nil {
		return
	}
	m.posts.WithLabelValues(result).Inc()
}

// Delivery counts one send to a subscriber.
func (m *Metrics) Delivery(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.deliveries.WithLabelValues("ok").Inc()
	} else {
		m.deliveries.WithLabelValues("failed").Inc()
	}
}

// RunCompleted stamps the last pipeline pass.
func (m *Metrics) RunCompleted(at time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(at.Unix()))
}
