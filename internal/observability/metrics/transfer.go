package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// TransferMetrics tracks the pending queue and delivery attempts
type TransferMetrics struct {
	queueDepth        prometheus.Gauge
	enqueuedTotal     prometheus.Counter
	droppedTotal      prometheus.Counter
	deliveriesTotal   *prometheus.CounterVec
	retryPassesTotal  prometheus.Counter
	receivedTotal     *prometheus.CounterVec
	transportUp       prometheus.Gauge
	deliveryDurations prometheus.Histogram

	collectors []prometheus.Collector
}

// NewTransferMetrics creates and registers new transfer metrics
func NewTransferMetrics(registry *prometheus.Registry) (*TransferMetrics, error) {
	m := &TransferMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *TransferMetrics) initMetrics() {
	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "treetrack_transfer_queue_depth",
		Help: "Number of transfer records waiting for delivery",
	})
	m.enqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "treetrack_transfer_enqueued_total",
		Help: "Total number of records added to the pending queue",
	})
	m.droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "treetrack_transfer_dropped_total",
		Help: "Total number of queued records dropped because the queue was full",
	})
	m.deliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treetrack_transfer_deliveries_total",
		Help: "Total number of delivery attempts by outcome",
	}, []string{"status"}) // success, error
	m.retryPassesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "treetrack_transfer_retry_passes_total",
		Help: "Total number of pending queue retry passes",
	})
	m.receivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treetrack_transfer_received_total",
		Help: "Total number of transfers received by outcome",
	}, []string{"outcome"}) // stored, duplicate, rejected
	m.transportUp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "treetrack_transfer_transport_reachable",
		Help: "Whether the companion is currently reachable (1) or not (0)",
	})
	m.deliveryDurations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "treetrack_transfer_delivery_duration_seconds",
		Help:    "Time taken to deliver a single transfer record",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
	})

	m.collectors = []prometheus.Collector{
		m.queueDepth,
		m.enqueuedTotal,
		m.droppedTotal,
		m.deliveriesTotal,
		m.retryPassesTotal,
		m.receivedTotal,
		m.transportUp,
		m.deliveryDurations,
	}
}

// Describe implements the Collector interface
func (m *TransferMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *TransferMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// SetQueueDepth sets the current pending queue length
func (m *TransferMetrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// IncrementEnqueued counts a record added to the queue
func (m *TransferMetrics) IncrementEnqueued() {
	m.enqueuedTotal.Inc()
}

// AddDropped counts records evicted by the capacity bound
func (m *TransferMetrics) AddDropped(n int) {
	m.droppedTotal.Add(float64(n))
}

// RecordDelivery counts a delivery attempt outcome
func (m *TransferMetrics) RecordDelivery(status string, seconds float64) {
	m.deliveriesTotal.WithLabelValues(status).Inc()
	if status == StatusSuccess {
		m.deliveryDurations.Observe(seconds)
	}
}

// IncrementRetryPasses counts a retry pass
func (m *TransferMetrics) IncrementRetryPasses() {
	m.retryPassesTotal.Inc()
}

// RecordReceived counts a transfer arriving at the companion
func (m *TransferMetrics) RecordReceived(outcome string) {
	m.receivedTotal.WithLabelValues(outcome).Inc()
}

// SetReachable reports companion reachability
func (m *TransferMetrics) SetReachable(reachable bool) {
	if reachable {
		m.transportUp.Set(1)
		return
	}
	m.transportUp.Set(0)
}
