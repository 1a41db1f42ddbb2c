// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActivityJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_jobs_completed_total",
			Help: "Total number of jobs completed by activity workers",
		},
		[]string{"activity"},
	)

	ActivityJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_jobs_failed_total",
			Help: "Total number of jobs failed by activity workers",
		},
		[]string{"activity", "error_code"},
	)

	ActivityJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "activity_job_duration_seconds",
			Help: "Duration of activity job processing in seconds",
		},
		[]string{"activity"},
	)

	RegisteredActivities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "registered_activities",
			Help: "Number of activities in the component registry",
		},
	)

	ScheduleSetupTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_setup_total",
			Help: "Schedule setup attempts by result (created, exists, failed)",
		},
		[]string{"result"},
	)

	ScheduleOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_operations_total",
			Help: "Operator schedule operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	ScheduleFiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_fires_total",
			Help: "Schedule fires by result (started, skipped, failed)",
		},
		[]string{"result"},
	)

	ManagedSchedules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "managed_schedules",
			Help: "Schedules tracked by the lifecycle manager per state",
		},
		[]string{"state"},
	)
)

// SetScheduleGauges publishes the lifecycle manager's counters.
func SetScheduleGauges(active, inactive, errored int) {
	ManagedSchedules.WithLabelValues("active").Set(float64(active))
	ManagedSchedules.WithLabelValues("inactive").Set(float64(inactive))
	ManagedSchedules.WithLabelValues("error").Set(float64(errored))
}
