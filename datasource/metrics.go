package datasource

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Self-instrumentation. Grafana scrapes plugin processes through the usual
// collectors, so these land next to the SDK's own go_* metrics.
var (
	upstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "promsource",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency of requests to the Prometheus HTTP API.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"endpoint"})

	upstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promsource",
		Subsystem: "upstream",
		Name:      "request_errors_total",
		Help:      "Requests to the Prometheus HTTP API that failed, by endpoint.",
	}, []string{"endpoint"})

	suggestionCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "promsource",
		Subsystem: "suggest",
		Name:      "cache_requests_total",
		Help:      "Metric-name and label-value suggestion lookups, by cache outcome.",
	}, []string{"outcome"})
)
