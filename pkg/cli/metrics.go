package cli

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "defiscore_http_requests_total",
		Help: "HTTP requests served, by handler and status code.",
	}, []string{"handler", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "defiscore_http_request_duration_seconds",
		Help:    "HTTP request latency, by handler.",
		Buckets: prometheus.DefBuckets,
	}, []string{"handler"})

	scoredWallets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "defiscore_scored_wallets",
		Help: "Wallets in the latest score run.",
	})
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument wraps a handler with request count and latency metrics.
func instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next(rec, r)

		requestCounter.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		requestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}
