package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts compile cache lookups by result (hit, miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esquery_compile_cache_lookups_total",
			Help: "Total number of compile cache lookups",
		},
		[]string{"result"},
	)
	// DispatchTotal counts engine requests by operation and outcome.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esquery_dispatch_total",
			Help: "Total number of requests sent to the search engine",
		},
		[]string{"operation", "status"},
	)
	// DispatchDuration is the latency of engine requests.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "esquery_dispatch_duration_seconds",
			Help:    "Search engine request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	// RequestTotal counts HTTP API requests.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esquery_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	// RequestDuration is the latency of HTTP API requests.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "esquery_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	// ReindexDocuments counts reindexed documents by outcome.
	ReindexDocuments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esquery_reindex_documents_total",
			Help: "Total number of documents processed by reindex runs",
		},
		[]string{"status"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveCacheLookup matches esquery.CachingCompilerOptions.OnLookup.
func ObserveCacheLookup(hit bool) {
	if hit {
		CacheLookups.WithLabelValues("hit").Inc()
		return
	}
	CacheLookups.WithLabelValues("miss").Inc()
}

// ObserveDispatch matches esquery.ConnectionOptions.OnDispatch.
func ObserveDispatch(op string, elapsed time.Duration, err error) {
	DispatchTotal.WithLabelValues(op, status(err)).Inc()
	DispatchDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveRequest records one HTTP request.
func ObserveRequest(method, path string, code int, elapsed time.Duration) {
	RequestTotal.WithLabelValues(method, path, strconv.Itoa(code)).Inc()
	RequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}

// ObserveReindex matches reindex.Options.OnDocument.
func ObserveReindex(err error) {
	ReindexDocuments.WithLabelValues(status(err)).Inc()
}
