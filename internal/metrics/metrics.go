// Package metrics provides Prometheus metrics for savekeeper.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Backup store metrics
	backupsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savekeeper_backups_created_total",
			Help: "Total number of backup create attempts",
		},
		[]string{"status"},
	)

	backupsAppliedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savekeeper_backups_applied_total",
			Help: "Total number of backup apply attempts",
		},
		[]string{"status"},
	)

	backupArchiveBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "savekeeper_backup_archive_bytes",
			Help:    "Size of created backup archives",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
	)

	backupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "savekeeper_backup_duration_seconds",
			Help:    "Backup create/apply duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Sync metrics
	syncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savekeeper_sync_runs_total",
			Help: "Total sync runs by trigger and outcome",
		},
		[]string{"trigger", "result"},
	)

	syncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "savekeeper_sync_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	syncTransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savekeeper_sync_transfers_total",
			Help: "Total archives moved by sync",
		},
		[]string{"direction"},
	)

	syncConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savekeeper_sync_conflicts_total",
			Help: "Total same-key conflicts resolved by sync",
		},
		[]string{"winner"},
	)

	syncState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "savekeeper_sync_state",
			Help: "Current sync engine state (1 for the active state)",
		},
		[]string{"state"},
	)

	// Remote backend metrics
	remoteOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "savekeeper_remote_operation_duration_seconds",
			Help:    "Remote backend operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	remoteOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savekeeper_remote_operations_total",
			Help: "Total remote backend operations",
		},
		[]string{"backend", "operation", "status"},
	)

	remoteRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "savekeeper_remote_retries_total",
			Help: "Total retried remote operations",
		},
	)
)

var syncStates = []string{"Disabled", "Idle", "Checking", "Transferring", "Failed"}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordBackupCreated records a backup create attempt.
func RecordBackupCreated(size int64, duration time.Duration, success bool) {
	backupsCreatedTotal.WithLabelValues(status(success)).Inc()
	backupDuration.WithLabelValues("create").Observe(duration.Seconds())
	if success {
		backupArchiveBytes.Observe(float64(size))
	}
}

// RecordBackupApplied records a backup apply attempt.
func RecordBackupApplied(duration time.Duration, success bool) {
	backupsAppliedTotal.WithLabelValues(status(success)).Inc()
	backupDuration.WithLabelValues("apply").Observe(duration.Seconds())
}

// RecordSyncRun records a finished sync run.
func RecordSyncRun(trigger, result string, duration time.Duration) {
	syncRunsTotal.WithLabelValues(trigger, result).Inc()
	syncDuration.Observe(duration.Seconds())
}

// RecordSyncTransfers adds uploaded and downloaded archive counts.
func RecordSyncTransfers(uploaded, downloaded int) {
	syncTransfersTotal.WithLabelValues("upload").Add(float64(uploaded))
	syncTransfersTotal.WithLabelValues("download").Add(float64(downloaded))
}

// RecordSyncConflict records a resolved conflict.
func RecordSyncConflict(winner string) {
	syncConflictsTotal.WithLabelValues(winner).Inc()
}

// SetSyncState marks state as the active sync state.
func SetSyncState(state string) {
	for _, s := range syncStates {
		v := 0.0
		if s == state {
			v = 1
		}
		syncState.WithLabelValues(s).Set(v)
	}
}

// RecordRemoteOperation records a remote backend operation.
func RecordRemoteOperation(backend, operation string, duration time.Duration, success bool) {
	remoteOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	remoteOperationsTotal.WithLabelValues(backend, operation, status(success)).Inc()
}

// RecordRemoteRetry records one retry of a remote operation.
func RecordRemoteRetry() {
	remoteRetriesTotal.Inc()
}
