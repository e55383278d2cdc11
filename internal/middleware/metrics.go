package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "endpoint"},
	)

	imageWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexicon_image_writes_total",
			Help: "Total number of database image uploads",
		},
		[]string{"status"},
	)

	imageBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lexicon_image_bytes",
			Help: "Size of the stored database image in bytes",
		},
	)
)

// Metrics collects Prometheus metrics for each request.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}

		httpRequestsTotal.WithLabelValues(c.Request.Method, endpoint, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).Observe(duration)
	}
}

// RecordImageWrite records an image upload outcome and, on success, the
// stored size.
func RecordImageWrite(ok bool, bytes int) {
	status := "success"
	if !ok {
		status = "error"
	}
	imageWritesTotal.WithLabelValues(status).Inc()
	if ok {
		imageBytes.Set(float64(bytes))
	}
}
