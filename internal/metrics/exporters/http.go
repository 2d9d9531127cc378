// Package exporters provides HTTP and SSE exporters for metrics.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler serves every promauto-registered collector plus the Go and
// process collectors of the default registry, one scrape at a time.
func HTTPHandler() http.Handler {
	handler := promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		MaxRequestsInFlight: 1,
		EnableOpenMetrics:   true,
	})
	return promhttp.InstrumentMetricHandler(prometheus.DefaultRegisterer, handler)
}
