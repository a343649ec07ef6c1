package docstore

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records per-collection operation counts and latencies.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the store collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "shop",
			Subsystem: "docstore",
			Name:      "operations_total",
			Help:      "Record store operations by collection, operation and result.",
		}, []string{"collection", "op", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "shop",
			Subsystem: "docstore",
			Name:      "operation_duration_seconds",
			Help:      "Record store operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"collection", "op"}),
	}
}

func (m *Metrics) observe(collection, op string, start time.Time, err error) {
	if m == nil {
		return
	}

	m.ops.WithLabelValues(collection, op, resultLabel(err)).Inc()
	m.duration.WithLabelValues(collection, op).Observe(time.Since(start).Seconds())
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate"
	case errors.Is(err, ErrMissingID), errors.Is(err, ErrInvalidID):
		return "invalid"
	default:
		return "error"
	}
}
