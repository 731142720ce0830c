// Package metrics provides Prometheus metrics for the Event Warehouse.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds all Prometheus metrics for the Event Warehouse.
type Metrics struct {
	// Run metrics
	RunsCompleted *prometheus.CounterVec
	RunsFailed    *prometheus.CounterVec
	RunsSkipped   *prometheus.CounterVec
	LastSuccess   *prometheus.GaugeVec

	// Timing metrics
	StageDuration *prometheus.HistogramVec
	RunDuration   *prometheus.HistogramVec

	// Size metrics
	InputRows  *prometheus.GaugeVec
	TableRows  *prometheus.GaugeVec
	TableBytes *prometheus.GaugeVec

	// Loader metrics
	PartitionsLoaded prometheus.Counter
	LoadRetries      prometheus.Counter

	// Error metrics
	StorageErrors  *prometheus.CounterVec
	MetadataErrors *prometheus.CounterVec
	AuditErrors    *prometheus.CounterVec
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "event_warehouse"
	}

	m := &Metrics{
		RunsCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs that published a table set",
			},
			[]string{"dataset"},
		),
		RunsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_failed_total",
				Help:      "Total number of runs that failed before publishing",
			},
			[]string{"dataset", "stage"},
		),
		RunsSkipped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_skipped_total",
				Help:      "Total number of runs skipped because the input was unchanged",
			},
			[]string{"dataset"},
		),
		LastSuccess: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last published run",
			},
			[]string{"dataset"},
		),
		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Time spent in each run stage",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"dataset", "stage"},
		),
		RunDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Total time of a run from load to publish",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"dataset"},
		),
		InputRows: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "input_rows",
				Help:      "Raw event rows loaded by the last run",
			},
			[]string{"dataset"},
		),
		TableRows: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_rows",
				Help:      "Rows per published table",
			},
			[]string{"dataset", "table"},
		),
		TableBytes: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "table_bytes",
				Help:      "Parquet bytes per published table",
			},
			[]string{"dataset", "table"},
		),
		PartitionsLoaded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "partitions_loaded_total",
				Help:      "Total number of raw partitions loaded",
			},
		),
		LoadRetries: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "load_retries_total",
				Help:      "Total number of partition read retries",
			},
		),
		StorageErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_errors_total",
				Help:      "Total number of storage write errors",
			},
			[]string{"dataset", "backend"},
		),
		MetadataErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "metadata_errors_total",
				Help:      "Total number of metadata catalog errors",
			},
			[]string{"dataset"},
		),
		AuditErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_errors_total",
				Help:      "Total number of audit emission errors",
			},
			[]string{"dataset"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// Push sends the default registry to a Pushgateway. A batch job exits before
// it can be scraped, so the final values are pushed instead.
func Push(url, job string) error {
	return push.New(url, job).Gatherer(prometheus.DefaultGatherer).Push()
}

// IncRunsCompleted increments the completed runs counter.
func (m *Metrics) IncRunsCompleted(dataset string) {
	m.RunsCompleted.WithLabelValues(dataset).Inc()
}

// IncRunsFailed increments the failed runs counter for the failing stage.
func (m *Metrics) IncRunsFailed(dataset, stage string) {
	m.RunsFailed.WithLabelValues(dataset, stage).Inc()
}

// IncRunsSkipped increments the skipped runs counter.
func (m *Metrics) IncRunsSkipped(dataset string) {
	m.RunsSkipped.WithLabelValues(dataset).Inc()
}

// SetLastSuccess records the time of the last published run.
func (m *Metrics) SetLastSuccess(dataset string, unixSeconds float64) {
	m.LastSuccess.WithLabelValues(dataset).Set(unixSeconds)
}

// ObserveStageDuration records the time spent in a stage.
func (m *Metrics) ObserveStageDuration(dataset, stage string, seconds float64) {
	m.StageDuration.WithLabelValues(dataset, stage).Observe(seconds)
}

// ObserveRunDuration records the total run time.
func (m *Metrics) ObserveRunDuration(dataset string, seconds float64) {
	m.RunDuration.WithLabelValues(dataset).Observe(seconds)
}

// SetInputRows sets the raw row count of the last run.
func (m *Metrics) SetInputRows(dataset string, rows float64) {
	m.InputRows.WithLabelValues(dataset).Set(rows)
}

// SetTableRows sets the row count of a published table.
func (m *Metrics) SetTableRows(dataset, table string, rows float64) {
	m.TableRows.WithLabelValues(dataset, table).Set(rows)
}

// SetTableBytes sets the encoded size of a published table.
func (m *Metrics) SetTableBytes(dataset, table string, bytes float64) {
	m.TableBytes.WithLabelValues(dataset, table).Set(bytes)
}

// IncPartitionsLoaded increments the loaded partitions counter.
func (m *Metrics) IncPartitionsLoaded() {
	m.PartitionsLoaded.Inc()
}

// IncLoadRetries increments the partition read retry counter.
func (m *Metrics) IncLoadRetries() {
	m.LoadRetries.Inc()
}

// IncStorageErrors increments the storage errors counter.
func (m *Metrics) IncStorageErrors(dataset, backend string) {
	m.StorageErrors.WithLabelValues(dataset, backend).Inc()
}

// IncMetadataErrors increments the metadata catalog errors counter.
func (m *Metrics) IncMetadataErrors(dataset string) {
	m.MetadataErrors.WithLabelValues(dataset).Inc()
}

// IncAuditErrors increments the audit emission errors counter.
func (m *Metrics) IncAuditErrors(dataset string) {
	m.AuditErrors.WithLabelValues(dataset).Inc()
}
