package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DatastoreMetrics contains Prometheus metrics for record store operations
type DatastoreMetrics struct {
	operationsTotal     *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec
	operationErrors     *prometheus.CounterVec
	transactionsTotal   *prometheus.CounterVec
	recordsDeletedTotal prometheus.Counter

	collectors []prometheus.Collector
}

// NewDatastoreMetrics creates and registers new datastore metrics
func NewDatastoreMetrics(registry *prometheus.Registry) (*DatastoreMetrics, error) {
	m := &DatastoreMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *DatastoreMetrics) initMetrics() {
	m.operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treetrack_datastore_operations_total",
			Help: "Total number of record store operations",
		},
		[]string{"operation", "status"},
	)
	m.operationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "treetrack_datastore_operation_duration_seconds",
			Help:    "Time taken for record store operations",
			Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
		},
		[]string{"operation"},
	)
	m.operationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treetrack_datastore_operation_errors_total",
			Help: "Total number of record store errors by type",
		},
		[]string{"operation", "error_type"},
	)
	m.transactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "treetrack_datastore_transactions_total",
			Help: "Total number of transactions by outcome",
		},
		[]string{"status"}, // committed, rollback
	)
	m.recordsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "treetrack_datastore_records_deleted_total",
			Help: "Total number of records deleted",
		},
	)

	m.collectors = []prometheus.Collector{
		m.operationsTotal,
		m.operationDuration,
		m.operationErrors,
		m.transactionsTotal,
		m.recordsDeletedTotal,
	}
}

// Describe implements the Collector interface
func (m *DatastoreMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *DatastoreMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordOperation records an operation outcome
func (m *DatastoreMetrics) RecordOperation(operation, status string) {
	m.operationsTotal.WithLabelValues(operation, status).Inc()
}

// RecordDuration records how long an operation took, in seconds
func (m *DatastoreMetrics) RecordDuration(operation string, seconds float64) {
	m.operationDuration.WithLabelValues(operation).Observe(seconds)
}

// RecordError records a failed operation
func (m *DatastoreMetrics) RecordError(operation, errorType string) {
	m.operationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordTransaction records a transaction outcome
func (m *DatastoreMetrics) RecordTransaction(status string) {
	m.transactionsTotal.WithLabelValues(status).Inc()
}

// AddRecordsDeleted adds n to the deleted records counter
func (m *DatastoreMetrics) AddRecordsDeleted(n int) {
	m.recordsDeletedTotal.Add(float64(n))
}
