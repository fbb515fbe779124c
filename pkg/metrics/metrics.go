// Package metrics exposes Prometheus collectors for the converter service.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audioconv_http_requests_total",
		Help: "Total HTTP requests processed.",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audioconv_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// HTTPRequestsInFlight gauges concurrently running requests.
	HTTPRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audioconv_http_requests_in_flight",
		Help: "In-flight HTTP requests.",
	})

	// ConversionsTotal counts terminal conversion outcomes by source kind.
	ConversionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audioconv_conversions_total",
		Help: "Conversion outcomes by source and result.",
	}, []string{"source", "outcome"})

	// EngineDuration observes external engine run time.
	EngineDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audioconv_engine_duration_seconds",
		Help:    "External engine invocation duration.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"engine"})

	// ActiveInvocations gauges currently running external engine processes.
	ActiveInvocations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audioconv_engine_active_invocations",
		Help: "Currently running external engine processes.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request metrics, skipping scrape and probe paths.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/metrics") || strings.HasPrefix(r.URL.Path, "/health") {
			next.ServeHTTP(w, r)
			return
		}

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)

		HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
