package schedule

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"camunda-discovery/internal/common/logger"
)

// Alerter publishes one operational notification.
type Alerter interface {
	Alert(ctx context.Context, subject, message string, attrs map[string]string) error
}

// FailureNotifier alerts when the set of schedules failing setup changes.
// An unchanged set is not re-sent on every retry pass.
type FailureNotifier struct {
	alerter     Alerter
	environment string
	logger      logger.Logger

	mu   sync.Mutex
	last string
}

func NewFailureNotifier(a Alerter, environment string, log logger.Logger) *FailureNotifier {
	return &FailureNotifier{alerter: a, environment: environment, logger: log.Named("alerts")}
}

// Notify sends an alert for m's failed setups and reports whether one was sent.
func (n *FailureNotifier) Notify(ctx context.Context, m *Manager) (bool, error) {
	var failed []Status
	for _, st := range m.Statuses() {
		if !st.IsManaged && st.LastError != "" {
			failed = append(failed, st)
		}
	}

	ids := make([]string, len(failed))
	for i, st := range failed {
		ids[i] = st.ScheduleID
	}
	key := strings.Join(ids, ",")

	n.mu.Lock()
	defer n.mu.Unlock()
	if key == n.last {
		return false, nil
	}
	if len(failed) == 0 {
		n.last = ""
		return false, nil
	}

	var body strings.Builder
	for _, st := range failed {
		fmt.Fprintf(&body, "%s: %s\n", st.ScheduleID, st.LastError)
	}
	subject := fmt.Sprintf("[%s] %d schedule(s) failing setup", n.environment, len(failed))
	err := n.alerter.Alert(ctx, subject, body.String(), map[string]string{
		"environment": n.environment,
		"kind":        "schedule-setup-failed",
	})
	if err != nil {
		n.logger.Error("Failed to publish schedule alert", map[string]interface{}{"error": err.Error(), "schedules": key})
		return false, err
	}
	n.last = key
	n.logger.Warn("Schedule failure alert sent", map[string]interface{}{"schedules": key})
	return true, nil
}
