package etcdstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics records per-operation counters and latencies. A nil *metrics
// records nothing.
type metrics struct {
	ops      *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		ops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "etcdstore",
				Name:      "operations_total",
				Help:      "Total number of session store operations by result.",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "etcdstore",
				Name:      "operation_duration_seconds",
				Help:      "Duration of session store operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"op"},
		),
	}

	for _, c := range []prometheus.Collector{m.ops, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ops.WithLabelValues(op, result).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
