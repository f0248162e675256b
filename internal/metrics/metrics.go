// Package metrics implements the daemon's Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskStatus tracks each task's current lifecycle status as a gauge
	// set to 1 for the task's current status and 0 for every other
	// status value, so a single task never reports two statuses at once.
	TaskStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "archon_task_status",
			Help: "Current status of a task (1 = this is the task's current status)",
		},
		[]string{"task_id", "mode", "status"},
	)

	// SchedulerFiresTotal counts every job firing the scheduler invokes,
	// successful or not.
	SchedulerFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archon_scheduler_fires_total",
			Help: "Total number of scheduler job firings",
		},
		[]string{"mode"},
	)

	// SchedulerDroppedTotal counts firings skipped because the previous
	// instance of the same job was still running (max_instances=1).
	SchedulerDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archon_scheduler_dropped_total",
			Help: "Total number of firings dropped due to an overlapping instance",
		},
		[]string{"mode"},
	)

	// SchedulerMisfiresTotal counts firings abandoned for running later
	// than the misfire grace period.
	SchedulerMisfiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archon_scheduler_misfires_total",
			Help: "Total number of firings abandoned for exceeding misfire grace",
		},
		[]string{"mode"},
	)

	// CorrectionsTotal counts auto-corrections the Probe executor has
	// issued, by outcome (issued / escalated).
	CorrectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archon_corrections_total",
			Help: "Total number of Probe auto-corrections, by outcome",
		},
		[]string{"task_id", "outcome"},
	)

	// StuckTasksTotal counts tasks the stuck detector has flagged, by
	// stuck type.
	StuckTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archon_stuck_tasks_total",
			Help: "Total number of tasks flagged stuck, by stuck type",
		},
		[]string{"stuck_type"},
	)

	// CronExecutionSeconds measures how long a Cron task's CLI
	// invocation ran, by outcome.
	CronExecutionSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "archon_cron_execution_seconds",
			Help:    "Duration of a cron task execution in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s .. ~4.5h
		},
		[]string{"task_id", "outcome"},
	)

	// NotificationsTotal counts outbound notifications attempted, by
	// event kind and delivery outcome.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archon_notifications_total",
			Help: "Total number of outbound notifications attempted",
		},
		[]string{"event", "delivered"},
	)
)

// SetTaskStatus records status as the only active status gauge value
// for (taskID, mode), zeroing every other known status so Grafana
// panels built on this metric never need to reason about stale 1s.
func SetTaskStatus(taskID string, mode string, status string, allStatuses []string) {
	for _, candidate := range allStatuses {
		value := 0.0
		if candidate == status {
			value = 1.0
		}
		TaskStatus.WithLabelValues(taskID, mode, candidate).Set(value)
	}
}
