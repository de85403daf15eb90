package loader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - Prometheus-метрики загрузчика
type Metrics struct {
	loads    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics создаёт метрики и регистрирует их в reg (если не nil)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "terrain",
			Subsystem: "loader",
			Name:      "loads_total",
			Help:      "Число загрузок баз вокселей по результату.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "terrain",
			Subsystem: "loader",
			Name:      "load_duration_seconds",
			Help:      "Длительность загрузки базы вокселей.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.loads, m.duration)
	}
	return m
}

func (m *Metrics) observe(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.duration.Observe(elapsed.Seconds())
	}
}
