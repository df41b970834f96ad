// Package metrics exposes the proxy's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "entra_proxy"

type Metrics struct {
	registry *prometheus.Registry

	flowSteps         *prometheus.CounterVec
	providerExchanges *prometheus.CounterVec
	providerLatency   prometheus.Histogram
	sweptEntries      prometheus.Counter
	rateLimited       prometheus.Counter
}

// New registers the proxy collectors plus the Go and process collectors on a
// fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		flowSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_steps_total",
			Help:      "OAuth flow requests by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		providerExchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_token_exchanges_total",
			Help:      "Token exchanges forwarded to the provider by response status",
		}, []string{"status"}),
		providerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_token_exchange_seconds",
			Help:      "Latency of token exchanges against the provider",
			Buckets:   prometheus.DefBuckets,
		}),
		sweptEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "swept_entries_total",
			Help:      "Expired store entries reclaimed by the sweeper",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Requests rejected by the per-client rate limiter",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.flowSteps,
		m.providerExchanges,
		m.providerLatency,
		m.sweptEntries,
		m.rateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          m.registry,
		Timeout:           10 * time.Second,
	})
}

// FlowStep counts one request to endpoint that ended with outcome, which is
// either "ok" or an OAuth error code.
func (m *Metrics) FlowStep(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.flowSteps.WithLabelValues(endpoint, outcome).Inc()
}

// ProviderExchange records the status and latency of a provider token call.
// status is "error" when no response was received.
func (m *Metrics) ProviderExchange(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerExchanges.WithLabelValues(status).Inc()
	m.providerLatency.Observe(elapsed.Seconds())
}

func (m *Metrics) Swept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweptEntries.Add(float64(n))
}

func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
