// Package metrics exposes the Prometheus registry the client packages
// register into, and an HTTP handler for it.
//
// Metrics are defined next to the code that updates them (retry,
// pagination, ratelimit, cache, client) via promauto; this package only
// serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered in Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Retry Metrics (pkg/retry):
//   - acct_retries_total{kind} (Counter): retries scheduled by error kind
//   - acct_retry_backoff_seconds{kind} (Histogram): backoff slept before a retry
//   - acct_retry_exhausted_total{kind} (Counter): operations that gave up on a retryable error
//
// Pagination Metrics (pkg/pagination):
//   - acct_pages_fetched_total{stream} (Counter): pages fetched per stream
//   - acct_stream_items_total{stream} (Counter): items yielded per stream
//   - acct_stream_errors_total{stream, kind} (Counter): streams ended by an error
//
// Rate Limit Metrics (pkg/ratelimit):
//   - acct_ratelimit_wait_seconds (Histogram): time spent waiting for a local token
//   - acct_quota_remaining (Gauge): requests left in the server quota window
//   - acct_quota_blocks_total (Counter): requests held back on an exhausted quota
//   - acct_quota_throttles_total (Counter): requests delayed on a low quota
//
// Cache Metrics (pkg/cache):
//   - acct_cache_hits_total{layer="redis"} (Counter)
//   - acct_cache_misses_total (Counter)
//   - acct_cache_size_bytes{layer="redis"} (Gauge)
//   - acct_cache_not_modified_total (Counter)
//   - acct_cache_errors_total{operation} (Counter)
//
// Request Metrics (pkg/client):
//   - acct_requests_total{endpoint, status} (Counter)
//   - acct_request_duration_seconds{endpoint} (Histogram)
//   - acct_errors_total{kind} (Counter)
//
// Example Prometheus Queries:
//
//   # Retry rate by kind
//   sum by (kind) (rate(acct_retries_total[5m]))
//
//   # Quota headroom
//   acct_quota_remaining < 20
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(acct_request_duration_seconds_bucket[5m]))
