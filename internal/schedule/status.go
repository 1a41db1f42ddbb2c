package schedule

import (
	"time"

	"camunda-discovery/internal/health"
)

// State is the lifecycle position of one schedule id.
type State string

const (
	StateUnknown       State = "unknown"
	StateSettingUp     State = "setting-up"
	StateManagedActive State = "managed-active"
	StateManagedPaused State = "managed-paused"
	StateSetupFailed   State = "setup-failed"
)

// Reasons recorded on Status.
const (
	ReasonCreated       = "created"
	ReasonAlreadyExists = "already exists"
	ReasonStartedPaused = "Started in paused state"
	ReasonSetupFailed   = "setup failed"
	ReasonPaused        = "paused"
	ReasonResumed       = "resumed"
)

// Status is this process's bookkeeping for one schedule id. It exists
// only once setup has been attempted.
type Status struct {
	ScheduleID    string    `json:"scheduleId"`
	IsManaged     bool      `json:"isManaged"`
	IsActive      bool      `json:"isActive"`
	LastError     string    `json:"lastError,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`
}

// State maps the flags onto the lifecycle; in-flight setups are tracked
// by the manager.
func (s Status) State() State {
	switch {
	case !s.IsManaged:
		return StateSetupFailed
	case s.IsActive:
		return StateManagedActive
	default:
		return StateManagedPaused
	}
}

type Stats struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Inactive int `json:"inactive"`
	Errors   int `json:"errors"`
}

// HealthReport is schedule-only health.
type HealthReport struct {
	Status health.Status `json:"status"`
	Stats  Stats         `json:"stats"`
}

// SetupSummary counts the outcome of a bulk setup or retry.
type SetupSummary struct {
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}
