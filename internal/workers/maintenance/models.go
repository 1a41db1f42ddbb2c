package maintenance

import "time"

// CleanupInput is read from the job variables. Schedule variables such as
// scheduleId and scheduledAt are ignored.
type CleanupInput struct {
	// MaxIdle overrides the configured idle limit, e.g. "72h".
	MaxIdle string `json:"maxIdle,omitempty"`
	DryRun  bool   `json:"dryRun,omitempty"`
}

type CleanupOutput struct {
	Scanned     int       `json:"sessionsScanned"`
	Removed     int       `json:"sessionsRemoved"`
	DryRun      bool      `json:"dryRun"`
	Cutoff      time.Time `json:"cutoff"`
	CompletedAt time.Time `json:"completedAt"`
}

type InvalidateInput struct {
	UserID string `json:"userId"`
	Reason string `json:"reason,omitempty"`
}

type InvalidateOutput struct {
	UserID              string `json:"userId"`
	SessionsInvalidated int    `json:"sessionsInvalidated"`
}
