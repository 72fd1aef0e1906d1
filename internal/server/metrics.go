package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// metrics are registered on a per-server registry and exposed on /metrics.
type metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	analyses        *prometheus.CounterVec
	findings        *prometheus.CounterVec
	failures        *prometheus.CounterVec
	analysisLatency prometheus.Histogram
	cacheHits       prometheus.Counter
	rateLimited     prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pii_sentinel_http_requests_total",
				Help: "HTTP requests by route and status code",
			},
			[]string{"route", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pii_sentinel_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
		analyses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pii_sentinel_analyses_total",
				Help: "Completed analyses by risk level",
			},
			[]string{"risk_level"},
		),
		findings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pii_sentinel_findings_total",
				Help: "Findings by category",
			},
			[]string{"category"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pii_sentinel_analysis_failures_total",
				Help: "Failed analyses by reason",
			},
			[]string{"reason"},
		),
		analysisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pii_sentinel_analysis_duration_seconds",
			Help:    "End-to-end analysis latency including cache lookups",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10, 30},
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pii_sentinel_cache_hits_total",
			Help: "Analyses served from the cache",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pii_sentinel_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.requestDuration,
		m.analyses,
		m.findings,
		m.failures,
		m.analysisLatency,
		m.cacheHits,
		m.rateLimited,
	)
	return m
}

func (m *metrics) observeAnalysis(a *privacy.Analysis, cached bool, seconds float64) {
	m.analyses.WithLabelValues(string(a.RiskLevel)).Inc()
	for c, n := range a.CategoryCounts() {
		m.findings.WithLabelValues(string(c)).Add(float64(n))
	}
	if cached {
		m.cacheHits.Inc()
	}
	m.analysisLatency.Observe(seconds)
}
