package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(oracleRequestsTotal, cacheRequestsTotal) }

var (
	oracleRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_oracle_requests_total",
			Help: "Upstream price oracle calls by result.",
		},
		[]string{"result"}, // ok|error
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Tracks cache hits and misses for various caches.",
		},
		[]string{"cache", "result"}, // e.g., cache="price", result="hit"
	)
)

func IncOracleRequest(result string) {
	oracleRequestsTotal.WithLabelValues(norm(result)).Inc()
}

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}
