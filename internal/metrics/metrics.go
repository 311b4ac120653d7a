// Package metrics exposes the gate server's Prometheus instrumentation.
// All methods are nil-safe: calls on a nil *Metrics are no-ops, so the
// server runs unchanged with metrics disabled.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the gate server collectors.
type Metrics struct {
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter

	// PacketsIn / PacketsOut count frames by opcode name.
	PacketsIn  *prometheus.CounterVec
	PacketsOut *prometheus.CounterVec

	// HandlerDuration observes handler wall time by opcode name.
	HandlerDuration *prometheus.HistogramVec

	// Rejects counts middleware short-circuits by stage name.
	Rejects *prometheus.CounterVec

	QueueDrops prometheus.Counter
}

// New creates and registers the collectors with reg. A nil reg creates the
// collectors unregistered (useful for tests).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "orion",
			Subsystem: "gate",
			Name:      "connections_active",
			Help:      "Number of currently registered connections",
		}),
		ConnectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "gate",
			Name:      "connections_total",
			Help:      "Total number of accepted connections",
		}),
		PacketsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "gate",
			Name:      "packets_in_total",
			Help:      "Total frames received, by opcode",
		}, []string{"opcode"}),
		PacketsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "gate",
			Name:      "packets_out_total",
			Help:      "Total frames sent, by opcode",
		}, []string{"opcode"}),
		HandlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "orion",
			Subsystem: "gate",
			Name:      "handler_duration_seconds",
			Help:      "Handler execution time, by opcode",
			Buckets:   prometheus.DefBuckets,
		}, []string{"opcode"}),
		Rejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "gate",
			Name:      "rejects_total",
			Help:      "Middleware rejections, by stage",
		}, []string{"stage"}),
		QueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "orion",
			Subsystem: "gate",
			Name:      "queue_drops_total",
			Help:      "Dispatch queue overflow drops",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ConnectionsActive,
			m.ConnectionsTotal,
			m.PacketsIn,
			m.PacketsOut,
			m.HandlerDuration,
			m.Rejects,
			m.QueueDrops,
		)
	}

	return m
}

// ConnOpened records an accepted and registered connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// ConnClosed records an unregistered connection.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.ConnectionsActive.Dec()
}

// PacketIn records one received frame.
func (m *Metrics) PacketIn(opcode string) {
	if m == nil {
		return
	}
	m.PacketsIn.WithLabelValues(opcode).Inc()
}

// PacketOut records one sent frame.
func (m *Metrics) PacketOut(opcode string) {
	if m == nil {
		return
	}
	m.PacketsOut.WithLabelValues(opcode).Inc()
}

// ObserveHandler records one handler execution.
func (m *Metrics) ObserveHandler(opcode string, d time.Duration) {
	if m == nil {
		return
	}
	m.HandlerDuration.WithLabelValues(opcode).Observe(d.Seconds())
}

// Reject records a middleware short-circuit.
func (m *Metrics) Reject(stage string) {
	if m == nil {
		return
	}
	m.Rejects.WithLabelValues(stage).Inc()
}

// QueueDrop records a dispatch queue overflow drop.
func (m *Metrics) QueueDrop() {
	if m == nil {
		return
	}
	m.QueueDrops.Inc()
}
