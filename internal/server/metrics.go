package server

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// requestMetrics counts and times every request passing through the engine.
func requestMetrics(reg prometheus.Registerer) gin.HandlerFunc {
	factory := promauto.With(reg)

	requests := factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shop",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method and status code.",
	}, []string{"method", "code"})

	duration := factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shop",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method"})

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		requests.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		duration.WithLabelValues(c.Request.Method).Observe(time.Since(start).Seconds())
	}
}
