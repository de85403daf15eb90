package scheduler

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics - Prometheus-метрики обновления ландшафта
type Metrics struct {
	cellsRegenerated prometheus.Counter
	ticksSkipped     prometheus.Counter
	ticksForced      prometheus.Counter
	lagFraction      prometheus.Gauge
	dirtyCells       prometheus.Gauge
	batchDuration    prometheus.Histogram
}

// NewMetrics создаёт метрики и регистрирует их в reg (если не nil)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cellsRegenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "cells_regenerated_total",
			Help:      "Общее число перегенерированных ячеек.",
		}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "ticks_skipped_total",
			Help:      "Тиков без обновления ячеек из-за отставания симуляции.",
		}),
		ticksForced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "terrain",
			Name:      "ticks_forced_total",
			Help:      "Тиков с принудительным обновлением при отставании.",
		}),
		lagFraction: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain",
			Name:      "lag_fraction",
			Help:      "Отставание симуляции в долях тика.",
		}),
		dirtyCells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "terrain",
			Name:      "dirty_cells",
			Help:      "Количество ячеек, ожидающих перегенерации.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "terrain",
			Name:      "batch_duration_seconds",
			Help:      "Длительность батча перегенерации.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.cellsRegenerated, m.ticksSkipped, m.ticksForced,
			m.lagFraction, m.dirtyCells, m.batchDuration)
	}
	return m
}

// SetDirtyCells обновляет gauge грязных ячеек
func (m *Metrics) SetDirtyCells(n int) {
	if m == nil {
		return
	}
	m.dirtyCells.Set(float64(n))
}

func (m *Metrics) observePlan(d Decision) {
	if m == nil {
		return
	}
	m.lagFraction.Set(d.LagFraction)
	if d.Skipped {
		m.ticksSkipped.Inc()
	}
	if d.Forced {
		m.ticksForced.Inc()
	}
}

func (m *Metrics) observeBatch(n int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.cellsRegenerated.Add(float64(n))
	m.batchDuration.Observe(elapsed.Seconds())
}
