// Package metrics exposes the cluster's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation in tests.
type Metrics struct {
	// Cluster operation metrics
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	NodesDropped      *prometheus.CounterVec
	RingSize          prometheus.Gauge

	// Transfer metrics
	TransfersTotal   *prometheus.CounterVec
	TransferDuration prometheus.Histogram
	RecordsStreamed  *prometheus.CounterVec

	// Control channel metrics
	ControlRequests *prometheus.CounterVec
	ControlLatency  *prometheus.HistogramVec

	// Node data path metrics
	DataRequests        *prometheus.CounterVec
	ReplicationFailures *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringkv_cluster_operations_total",
				Help: "Total number of cluster operations by result",
			},
			[]string{"operation", "result"},
		),

		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ringkv_cluster_operation_duration_seconds",
				Help:    "Duration of cluster operations",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
			},
			[]string{"operation"},
		),

		NodesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringkv_nodes_dropped_total",
				Help: "Nodes dropped from a candidate ring, by step",
			},
			[]string{"step"},
		),

		RingSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ringkv_ring_size",
				Help: "Number of members in the committed ring",
			},
		),

		TransfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringkv_transfers_total",
				Help: "Total number of range transfers by result",
			},
			[]string{"result"},
		),

		TransferDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ringkv_transfer_duration_seconds",
				Help:    "Duration of range transfers",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 12),
			},
		),

		RecordsStreamed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringkv_records_streamed_total",
				Help: "Records streamed over transfer and replication connections",
			},
			[]string{"direction"},
		),

		ControlRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringkv_control_requests_total",
				Help: "Control requests by verb and result",
			},
			[]string{"verb", "result"},
		),

		ControlLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ringkv_control_request_duration_seconds",
				Help:    "Time from writing a control request to receiving its ack",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"verb"},
		),

		DataRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringkv_data_requests_total",
				Help: "Node data API requests by method and result",
			},
			[]string{"method", "result"},
		),

		ReplicationFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ringkv_replication_failures_total",
				Help: "Backups dropped after a failed write",
			},
			[]string{"peer"},
		),
	}
}

// ObserveOperation records one cluster operation.
func (m *Metrics) ObserveOperation(op string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.OperationsTotal.WithLabelValues(op, result(ok)).Inc()
	m.OperationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// NodeDropped counts a node excised from a candidate ring at step.
func (m *Metrics) NodeDropped(step string) {
	if m == nil {
		return
	}
	m.NodesDropped.WithLabelValues(step).Inc()
}

// SetRingSize records the committed ring size.
func (m *Metrics) SetRingSize(n int) {
	if m == nil {
		return
	}
	m.RingSize.Set(float64(n))
}

// ObserveTransfer records one range handoff.
func (m *Metrics) ObserveTransfer(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(result(ok)).Inc()
	m.TransferDuration.Observe(d.Seconds())
}

// AddRecords counts streamed records. direction is one of "sent" and
// "received" for transfers, "replicated" and "applied" for replication.
func (m *Metrics) AddRecords(direction string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RecordsStreamed.WithLabelValues(direction).Add(float64(n))
}

// ObserveControl records one control request.
func (m *Metrics) ObserveControl(verb, res string, d time.Duration) {
	if m == nil {
		return
	}
	m.ControlRequests.WithLabelValues(verb, res).Inc()
	m.ControlLatency.WithLabelValues(verb).Observe(d.Seconds())
}

// ObserveData records one data API request.
func (m *Metrics) ObserveData(method, res string) {
	if m == nil {
		return
	}
	m.DataRequests.WithLabelValues(method, res).Inc()
}

// ReplicationFailed counts a backup dropped after a failed write.
func (m *Metrics) ReplicationFailed(peer string) {
	if m == nil {
		return
	}
	m.ReplicationFailures.WithLabelValues(peer).Inc()
}

func result(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
