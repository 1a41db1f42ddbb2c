// Package health folds registry and schedule counters into one status.
package health

// Status is the tri-state health summary.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
)

// RegistryView is what the aggregator needs from the component registry.
type RegistryView struct {
	Initialized     bool     `json:"initialized"`
	IsValid         bool     `json:"isValid"`
	Issues          []string `json:"issues,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	TotalActivities int      `json:"totalActivities"`
}

// ScheduleView is what the aggregator needs from the lifecycle manager.
type ScheduleView struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Errors   int `json:"errors"`
}

// Report is the aggregated health with the reasons behind it.
type Report struct {
	Status    Status       `json:"status"`
	Reasons   []string     `json:"reasons,omitempty"`
	Registry  RegistryView `json:"registry"`
	Schedules ScheduleView `json:"schedules"`
}

// ForSchedules derives schedule-only health: unhealthy when every schedule
// failed, degraded when some did.
func ForSchedules(total, errors int) Status {
	switch {
	case total > 0 && errors >= total:
		return Unhealthy
	case errors > 0:
		return Degraded
	default:
		return Healthy
	}
}

// ForRegistry derives registry-only health.
func ForRegistry(v RegistryView) Status {
	switch {
	case !v.Initialized || !v.IsValid || len(v.Issues) > 0:
		return Unhealthy
	case len(v.Warnings) > 0 || v.TotalActivities == 0:
		return Degraded
	default:
		return Healthy
	}
}

// Aggregate combines both views. It has no side effects.
func Aggregate(reg RegistryView, sched ScheduleView) Report {
	report := Report{Status: Healthy, Registry: reg, Schedules: sched}

	if !reg.Initialized {
		report.Reasons = append(report.Reasons, "component registry not initialized")
	}
	for _, issue := range reg.Issues {
		report.Reasons = append(report.Reasons, "issue: "+issue)
	}
	if sched.Total > 0 && sched.Errors >= sched.Total {
		report.Reasons = append(report.Reasons, "all schedules failed setup")
	}
	if len(report.Reasons) > 0 {
		report.Status = Unhealthy
		return report
	}

	for _, w := range reg.Warnings {
		report.Reasons = append(report.Reasons, "warning: "+w)
	}
	if reg.TotalActivities == 0 {
		report.Reasons = append(report.Reasons, "no activities registered")
	}
	if sched.Errors > 0 {
		report.Reasons = append(report.Reasons, "some schedules failed setup")
	}
	if len(report.Reasons) > 0 {
		report.Status = Degraded
	}
	return report
}
