// Package metrics exposes Prometheus collectors for the scan pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector the daemon updates. A nil *Metrics is valid
// and records nothing, so packages can take one optionally.
type Metrics struct {
	scans          *prometheus.CounterVec
	arbitrations   *prometheus.CounterVec
	lateAcks       prometheus.Counter
	serialPorts    prometheus.Gauge
	wsClients      prometheus.Gauge
	directLatency  prometheus.Histogram
	directFailures prometheus.Counter
	inventory      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanbridge_scans_total",
			Help: "Barcodes published on the scan bus, by capture source.",
		}, []string{"source"}),
		arbitrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanbridge_arbitrations_total",
			Help: "Resolved scans, by outcome (interactive or direct).",
		}, []string{"outcome"}),
		lateAcks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanbridge_late_acks_total",
			Help: "Acknowledgments that arrived after the scan was already claimed.",
		}),
		serialPorts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanbridge_serial_ports_connected",
			Help: "Serial reader sessions currently open.",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanbridge_ws_clients",
			Help: "Interactive sessions connected over WebSocket.",
		}),
		directLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanbridge_direct_process_seconds",
			Help:    "Time spent in the direct processor per scan.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		directFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanbridge_direct_failures_total",
			Help: "Direct processor invocations that returned an error.",
		}),
		inventory: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanbridge_inventory_updates_total",
			Help: "Inventory updates applied, by change type.",
		}, []string{"change_type"}),
	}
	if reg != nil {
		reg.MustRegister(m.scans, m.arbitrations, m.lateAcks, m.serialPorts,
			m.wsClients, m.directLatency, m.directFailures, m.inventory)
	}
	return m
}

func (m *Metrics) ScanPublished(source string) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(source).Inc()
}

func (m *Metrics) Resolved(outcome string) {
	if m == nil {
		return
	}
	m.arbitrations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LateAck() {
	if m == nil {
		return
	}
	m.lateAcks.Inc()
}

func (m *Metrics) SetSerialPorts(n int) {
	if m == nil {
		return
	}
	m.serialPorts.Set(float64(n))
}

func (m *Metrics) SetClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

// DirectProcessed records one direct processor call.
func (m *Metrics) DirectProcessed(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.directLatency.Observe(d.Seconds())
	if err != nil {
		m.directFailures.Inc()
	}
}

func (m *Metrics) InventoryUpdated(changeType string) {
	if m == nil {
		return
	}
	m.inventory.WithLabelValues(changeType).Inc()
}
