package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ImportMetrics tracks import reconciler runs
type ImportMetrics struct {
	runsTotal     *prometheus.CounterVec
	recordsTotal  *prometheus.CounterVec
	photosTotal   *prometheus.CounterVec
	runDuration   prometheus.Histogram
	photosWriting prometheus.Gauge

	collectors []prometheus.Collector
}

// NewImportMetrics creates and registers new import metrics
func NewImportMetrics(registry *prometheus.Registry) (*ImportMetrics, error) {
	m := &ImportMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *ImportMetrics) initMetrics() {
	m.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treetrack_import_runs_total",
		Help: "Total number of import runs by outcome",
	}, []string{"status"})
	m.recordsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treetrack_import_records_total",
		Help: "Imported records by outcome",
	}, []string{"outcome"}) // imported, skipped, remapped
	m.photosTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "treetrack_import_photos_total",
		Help: "Imported photos by outcome",
	}, []string{"outcome"}) // imported, skipped
	m.runDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "treetrack_import_duration_seconds",
		Help:    "Time taken by a full import run",
		Buckets: prometheus.ExponentialBuckets(BucketStart1ms, BucketFactor2, BucketCount15),
	})
	m.photosWriting = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "treetrack_import_photo_writes_inflight",
		Help: "Photo blob writes currently admitted",
	})

	m.collectors = []prometheus.Collector{
		m.runsTotal,
		m.recordsTotal,
		m.photosTotal,
		m.runDuration,
		m.photosWriting,
	}
}

// Describe implements the Collector interface
func (m *ImportMetrics) Describe(ch chan<- *prometheus.Desc) {
	for _, collector := range m.collectors {
		collector.Describe(ch)
	}
}

// Collect implements the Collector interface
func (m *ImportMetrics) Collect(ch chan<- prometheus.Metric) {
	for _, collector := range m.collectors {
		collector.Collect(ch)
	}
}

// RecordRun records an import run outcome and duration
func (m *ImportMetrics) RecordRun(status string, seconds float64) {
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.Observe(seconds)
}

// AddRecords adds n to the given record outcome
func (m *ImportMetrics) AddRecords(outcome string, n int) {
	m.recordsTotal.WithLabelValues(outcome).Add(float64(n))
}

// AddPhotos adds n to the given photo outcome
func (m *ImportMetrics) AddPhotos(outcome string, n int) {
	m.photosTotal.WithLabelValues(outcome).Add(float64(n))
}

// PhotoWriteStarted increments the in-flight photo write gauge
func (m *ImportMetrics) PhotoWriteStarted() {
	m.photosWriting.Inc()
}

// PhotoWriteFinished decrements the in-flight photo write gauge
func (m *ImportMetrics) PhotoWriteFinished() {
	m.photosWriting.Dec()
}
