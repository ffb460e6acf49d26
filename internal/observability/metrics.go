// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Object store metrics
	StoreOps        *prometheus.CounterVec
	StoreOpDuration *prometheus.HistogramVec
	StoreBytes      *prometheus.CounterVec
	PinFailures     prometheus.Counter

	// Partition metrics
	PartitionLoads    *prometheus.CounterVec
	PartitionSaves    *prometheus.CounterVec
	DocumentBytes     *prometheus.GaugeVec
	PartitionEntities *prometheus.GaugeVec
	SignalsRecorded   *prometheus.CounterVec
	PricesApplied     *prometheus.CounterVec

	// Retention metrics
	RetentionEvicted *prometheus.CounterVec
	ArchiveWrites    *prometheus.CounterVec

	// Leaderboard metrics
	ViewUpserts *prometheus.CounterVec

	// Job metrics
	JobRunsTotal *prometheus.CounterVec
	JobDuration  prometheus.Histogram

	// Health metrics
	LastSuccessfulJob prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "signal_board"
	}

	return &Metrics{
		// Object store metrics
		StoreOps: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "ops_total",
			Help:      "Total number of object store operations by backend, op and status",
		}, []string{"backend", "op", "status"}),
		StoreOpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "op_duration_seconds",
			Help:      "Object store operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "op"}),
		StoreBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "bytes_total",
			Help:      "Bytes moved through the object store by direction",
		}, []string{"backend", "direction"}),
		PinFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "pin_failures_total",
			Help:      "Total number of swallowed pin failures",
		}),

		// Partition metrics
		PartitionLoads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "loads_total",
			Help:      "Partition loads by outcome (canonical, migrated, empty)",
		}, []string{"partition", "outcome"}),
		PartitionSaves: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "saves_total",
			Help:      "Partition saves by status",
		}, []string{"partition", "status"}),
		DocumentBytes: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "document_bytes",
			Help:      "Size of the last saved partition document",
		}, []string{"partition"}),
		PartitionEntities: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "entities",
			Help:      "Number of live entities per partition by kind",
		}, []string{"partition", "kind"}),
		SignalsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "signals_total",
			Help:      "Signals seen by result (recorded, duplicate, invalid)",
		}, []string{"partition", "result"}),
		PricesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "partition",
			Name:      "prices_total",
			Help:      "Price updates by result (applied, unknown_token, invalid)",
		}, []string{"partition", "result"}),

		// Retention metrics
		RetentionEvicted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "evicted_total",
			Help:      "Entities evicted by retention sweeps by kind",
		}, []string{"partition", "kind"}),
		ArchiveWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retention",
			Name:      "archive_writes_total",
			Help:      "Archive bundle writes by status",
		}, []string{"partition", "status"}),

		// Leaderboard metrics
		ViewUpserts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "view_upserts_total",
			Help:      "View upserts by outcome (created, replaced, unchanged, fallback, error)",
		}, []string{"outcome"}),

		// Job metrics
		JobRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "runs_total",
			Help:      "Total number of job runs by status",
		}, []string{"status"}),
		JobDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "job",
			Name:      "duration_seconds",
			Help:      "Job execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),

		// Health metrics
		LastSuccessfulJob: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_job_timestamp",
			Help:      "Unix timestamp of last successful job run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordStoreOp records one object store call.
func RecordStoreOp(backend, op string, start time.Time, err error) {
	DefaultMetrics.StoreOps.WithLabelValues(backend, op, status(err)).Inc()
	DefaultMetrics.StoreOpDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// RecordStoreBytes records bytes uploaded ("out") or downloaded ("in").
func RecordStoreBytes(backend, direction string, n int) {
	DefaultMetrics.StoreBytes.WithLabelValues(backend, direction).Add(float64(n))
}

// RecordPinFailure increments the swallowed pin failure counter.
func RecordPinFailure() {
	DefaultMetrics.PinFailures.Inc()
}

// RecordPartitionLoad records how a partition document was obtained.
func RecordPartitionLoad(partition, outcome string) {
	DefaultMetrics.PartitionLoads.WithLabelValues(partition, outcome).Inc()
}

// RecordPartitionSave records a partition save attempt that performed I/O.
func RecordPartitionSave(partition string, size int, err error) {
	DefaultMetrics.PartitionSaves.WithLabelValues(partition, status(err)).Inc()
	if err == nil {
		DefaultMetrics.DocumentBytes.WithLabelValues(partition).Set(float64(size))
	}
}

// UpdatePartitionEntities updates the live entity gauges of a partition.
func UpdatePartitionEntities(partition string, tokens, wallets, recent int) {
	DefaultMetrics.PartitionEntities.WithLabelValues(partition, "tokens").Set(float64(tokens))
	DefaultMetrics.PartitionEntities.WithLabelValues(partition, "wallets").Set(float64(wallets))
	DefaultMetrics.PartitionEntities.WithLabelValues(partition, "recent").Set(float64(recent))
}

// RecordSignal records the result of applying a signal event.
func RecordSignal(partition, result string) {
	DefaultMetrics.SignalsRecorded.WithLabelValues(partition, result).Inc()
}

// RecordPrice records the result of applying a price update.
func RecordPrice(partition, result string) {
	DefaultMetrics.PricesApplied.WithLabelValues(partition, result).Inc()
}

// RecordEvicted records entities removed by a retention sweep.
func RecordEvicted(partition, kind string, n int) {
	if n > 0 {
		DefaultMetrics.RetentionEvicted.WithLabelValues(partition, kind).Add(float64(n))
	}
}

// RecordArchiveWrite records an archive bundle upload.
func RecordArchiveWrite(partition string, err error) {
	DefaultMetrics.ArchiveWrites.WithLabelValues(partition, status(err)).Inc()
}

// RecordViewUpsert records the outcome of a view upsert.
func RecordViewUpsert(outcome string) {
	DefaultMetrics.ViewUpserts.WithLabelValues(outcome).Inc()
}

// RecordJobRun records a job run.
func RecordJobRun(status string, durationSeconds float64) {
	DefaultMetrics.JobRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.JobDuration.Observe(durationSeconds)
	if status == "success" {
		DefaultMetrics.LastSuccessfulJob.SetToCurrentTime()
	}
}
