// Package metrics - счётчики Prometheus панели и обработчик /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signdesk"

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method"})

	CacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "Response cache lookups by result (hit|miss|expired|error).",
	}, []string{"result"})

	CacheInvalidations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_invalidations_total",
		Help:      "Prefix or full invalidations of the response cache.",
	})

	CMSRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cms_requests_total",
		Help:      "Remote CMS API calls by method and outcome status.",
	}, []string{"method", "status"})

	CMSRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cms_retries_total",
		Help:      "Retried CMS API attempts.",
	})

	BreakerState = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cms_breaker_state",
		Help:      "CMS circuit breaker state: 0 closed, 1 half-open, 2 open.",
	})

	LoginFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "login_failures_total",
		Help:      "Failed admin logins by reason.",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(
		HTTPRequests,
		HTTPDuration,
		CacheLookups,
		CacheInvalidations,
		CMSRequests,
		CMSRetries,
		BreakerState,
		LoginFailures,
	)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
