// Package metrics provides Prometheus metrics for chatvault
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for chatvault
type Metrics struct {
	registry *prometheus.Registry

	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Exchange metrics
	ExchangesTotal        *prometheus.CounterVec
	ExchangeDuration      prometheus.Histogram
	EvictedExchangesTotal prometheus.Counter

	// Search metrics
	SearchQueriesTotal prometheus.Counter
	SearchResultsTotal prometheus.Counter

	// Title generation
	TitleJobsTotal *prometheus.CounterVec
}

// New creates all metrics on a private registry so tests can build several.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatvault_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	m.ExchangesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatvault_exchanges_total",
			Help: "Total number of exchanges by outcome",
		},
		[]string{"outcome"},
	)

	m.ExchangeDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatvault_exchange_duration_seconds",
			Help:    "Duration of exchanges including the provider call",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	m.EvictedExchangesTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "chatvault_context_evictions_total",
			Help: "Total number of exchanges evicted from live context",
		},
	)

	m.SearchQueriesTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "chatvault_search_queries_total",
			Help: "Total number of history searches",
		},
	)

	m.SearchResultsTotal = f.NewCounter(
		prometheus.CounterOpts{
			Name: "chatvault_search_results_total",
			Help: "Total number of search results returned",
		},
	)

	m.TitleJobsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatvault_title_jobs_total",
			Help: "Total number of title generation attempts by outcome",
		},
		[]string{"outcome"},
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveExchange records one finished exchange.
func (m *Metrics) ObserveExchange(outcome string, duration time.Duration) {
	m.ExchangesTotal.WithLabelValues(outcome).Inc()
	m.ExchangeDuration.Observe(duration.Seconds())
}

// ObserveEviction records exchanges dropped from a live context.
func (m *Metrics) ObserveEviction(n int) {
	if n > 0 {
		m.EvictedExchangesTotal.Add(float64(n))
	}
}

// ObserveTitle records one title generation attempt.
func (m *Metrics) ObserveTitle(outcome string) {
	m.TitleJobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveSearch records a search query
func (m *Metrics) ObserveSearch(resultCount int) {
	m.SearchQueriesTotal.Inc()
	m.SearchResultsTotal.Add(float64(resultCount))
}
