package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ClientRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragdesk_client_requests_total",
			Help: "Backend requests issued by the API client",
		},
		[]string{"method", "outcome"},
	)

	ClientRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ragdesk_client_request_duration_seconds",
			Help:    "Backend request latency observed by the API client",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method"},
	)

	QueryCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragdesk_query_cache_hits_total",
			Help: "Query reads served from fresh cached data",
		},
	)

	QueryCacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragdesk_query_cache_misses_total",
			Help: "Query reads that had to start or join a fetch",
		},
	)

	QueryDedupJoins = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragdesk_query_dedup_joins_total",
			Help: "Query reads that joined an in-flight fetch instead of issuing a request",
		},
	)

	QueryRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragdesk_query_retries_total",
			Help: "Query fetch attempts retried after a network error",
		},
	)

	QueryInvalidations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ragdesk_query_invalidations_total",
			Help: "Cache entries invalidated by mutations or explicit calls",
		},
	)

	ServerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragdesk_server_requests_total",
			Help: "Requests handled by the reference backend",
		},
		[]string{"method", "route", "status"},
	)

	DocumentsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ragdesk_documents_ingested_total",
			Help: "Documents run through ingestion, by final status",
		},
		[]string{"status"},
	)
)

var initOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(ClientRequests)
		prometheus.MustRegister(ClientRequestDuration)
		prometheus.MustRegister(QueryCacheHits)
		prometheus.MustRegister(QueryCacheMisses)
		prometheus.MustRegister(QueryDedupJoins)
		prometheus.MustRegister(QueryRetries)
		prometheus.MustRegister(QueryInvalidations)
		prometheus.MustRegister(ServerRequests)
		prometheus.MustRegister(DocumentsIngested)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
