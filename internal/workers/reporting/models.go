package reporting

import "time"

// GenerateInput falls back to the first schedule arg when Kind is empty.
type GenerateInput struct {
	Kind        string `json:"kind"`
	Args        []any  `json:"args,omitempty"`
	Format      string `json:"format,omitempty"`
	ScheduleID  string `json:"scheduleId,omitempty"`
	ScheduledAt string `json:"scheduledAt,omitempty"`
}

// Report is stored as JSON under <prefix>:report:<id>.
type Report struct {
	ID          string           `json:"reportId"`
	Kind        string           `json:"kind"`
	Format      string           `json:"format"`
	Totals      map[string]int64 `json:"totals"`
	ScheduleID  string           `json:"scheduleId,omitempty"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

type DigestInput struct {
	Limit int `json:"limit,omitempty"`
	// Recipients overrides the configured digest recipients.
	Recipients []string `json:"recipients,omitempty"`
}

type DigestOutput struct {
	Reports []string         `json:"reports"`
	Totals  map[string]int64 `json:"totals"`
	Emailed int              `json:"emailed,omitempty"`
}
