package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// CronParser accepts standard five-field expressions and @descriptors.
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var (
	reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	reName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]*$`)
)

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Trigger is the cron-or-interval part of a schedule declaration.
type Trigger struct {
	Cron      []string
	Intervals []string
	Timezone  string
}

// ValidateTrigger checks that at least one cron expression or interval is
// present and that every one of them parses.
func ValidateTrigger(tr Trigger) *ValidationResult {
	var errs []ValidationError

	if len(tr.Cron) == 0 && len(tr.Intervals) == 0 {
		errs = append(errs, ValidationError{
			Field:   "trigger",
			Message: "either cron or interval is required",
			Code:    "TRIGGER_MISSING",
		})
	}

	if tr.Timezone != "" {
		if _, err := time.LoadLocation(tr.Timezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "timezone",
				Message: fmt.Sprintf("unknown timezone %q", tr.Timezone),
				Code:    "INVALID_TIMEZONE",
			})
		}
	}

	for i, expr := range tr.Cron {
		if _, err := CronParser.Parse(strings.TrimSpace(expr)); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("cron[%d]", i),
				Message: fmt.Sprintf("invalid cron expression %q: %v", expr, err),
				Code:    "INVALID_CRON",
			})
		}
	}

	for i, raw := range tr.Intervals {
		if _, err := ParseInterval(raw); err != nil {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("interval[%d]", i),
				Message: err.Error(),
				Code:    "INVALID_INTERVAL",
			})
		}
	}

	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// ParseCron parses expr in the given IANA timezone (empty keeps the
// runner's location). An explicit CRON_TZ/TZ prefix in expr wins.
func ParseCron(expr, timezone string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	if timezone != "" && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		expr = "CRON_TZ=" + timezone + " " + expr
	}
	return CronParser.Parse(expr)
}

// ParseInterval accepts Go durations ("55m", "2h30m") and HH:MM ("02:30").
func ParseInterval(raw string) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		var hh, mm int
		fmt.Sscanf(m[1], "%d", &hh)
		fmt.Sscanf(m[2], "%d", &mm)
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", v)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return 0, fmt.Errorf("interval must be > 0")
		}
		return d, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m')", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

// ValidateName checks activity names and schedule ids. They become Zeebe
// job types and Redis key segments, so whitespace is rejected.
func ValidateName(kind, name string) error {
	if !reName.MatchString(name) {
		return fmt.Errorf("%s %q must start with a letter or digit and contain only letters, digits, '.', '_', ':' or '-'", kind, name)
	}
	return nil
}

// GetErrorMessages returns a simple list of error messages
func (vr *ValidationResult) GetErrorMessages() []string {
	messages := make([]string, len(vr.Errors))
	for i, err := range vr.Errors {
		messages[i] = fmt.Sprintf("%s: %s", err.Field, err.Message)
	}
	return messages
}

// Error joins all messages; empty when valid.
func (vr *ValidationResult) Error() string {
	return strings.Join(vr.GetErrorMessages(), "; ")
}

// HasErrors checks if validation has errors for specific field
func (vr *ValidationResult) HasErrors(field string) bool {
	for _, err := range vr.Errors {
		if err.Field == field || strings.HasPrefix(err.Field, field+"[") {
			return true
		}
	}
	return false
}
