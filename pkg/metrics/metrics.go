package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Version Store metrics
	VersionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleetctl_versions_total",
			Help: "Total number of Versions by status",
		},
		[]string{"status"},
	)

	VersionCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_version_create_duration_seconds",
			Help:    "Time taken to create a Version record",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Rollback metrics
	RollbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_rollbacks_total",
			Help: "Total number of rollbacks by outcome",
		},
		[]string{"outcome"},
	)

	RollbackDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_rollback_duration_seconds",
			Help:    "Rollback duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
	)

	RollbackStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_rollback_steps_total",
			Help: "Total number of rollback instruction steps executed by action and outcome",
		},
		[]string{"action", "outcome"},
	)

	// Backup metrics
	BackupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_backups_total",
			Help: "Total number of backups attempted by outcome",
		},
		[]string{"outcome"},
	)

	BackupDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_backup_duration_seconds",
			Help:    "Time taken to encode and replicate one backup",
			Buckets: prometheus.DefBuckets,
		},
	)

	BackupSizeBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_backup_size_bytes",
			Help:    "Encrypted size of completed backups in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	ReplicationCopies = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_backup_replication_copies",
			Help:    "Number of storage locations a backup was successfully replicated to",
			Buckets: []float64{0, 1, 2, 3, 4, 5},
		},
	)

	// Integrity Tester metrics
	IntegrityTestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_integrity_tests_total",
			Help: "Total number of integrity test cases by outcome",
		},
		[]string{"outcome"},
	)

	IntegrityTestDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_integrity_test_duration_seconds",
			Help:    "Time taken to run one integrity test case",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DR Test Harness metrics
	DRTestExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_dr_test_executions_total",
			Help: "Total number of DR test executions by status",
		},
		[]string{"status"},
	)

	DRTestRecoveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fleetctl_dr_test_recovery_duration_seconds",
			Help:    "Actual recovery time achieved per scenario",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"scenario"},
	)

	DRTestIssuesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleetctl_dr_test_issues_total",
			Help: "Total number of issues surfaced by DR test scoring, by severity",
		},
		[]string{"severity"},
	)

	// Status aggregation metrics
	StatusAggregationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fleetctl_status_aggregation_duration_seconds",
			Help:    "Time taken for one status aggregation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	StatusAggregationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fleetctl_status_aggregation_cycles_total",
			Help: "Total number of status aggregation cycles completed",
		},
	)
)

func init() {
	prometheus.MustRegister(VersionsTotal)
	prometheus.MustRegister(VersionCreateDuration)

	prometheus.MustRegister(RollbacksTotal)
	prometheus.MustRegister(RollbackDuration)
	prometheus.MustRegister(RollbackStepsTotal)

	prometheus.MustRegister(BackupsTotal)
	prometheus.MustRegister(BackupDuration)
	prometheus.MustRegister(BackupSizeBytes)
	prometheus.MustRegister(ReplicationCopies)

	prometheus.MustRegister(IntegrityTestsTotal)
	prometheus.MustRegister(IntegrityTestDuration)

	prometheus.MustRegister(DRTestExecutionsTotal)
	prometheus.MustRegister(DRTestRecoveryDuration)
	prometheus.MustRegister(DRTestIssuesTotal)

	prometheus.MustRegister(StatusAggregationDuration)
	prometheus.MustRegister(StatusAggregationCyclesTotal)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
