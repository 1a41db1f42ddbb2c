package discovery

import (
	"context"
	"fmt"

	"camunda-discovery/internal/common/validation"
)

// Handler is a bound activity method.
type Handler func(ctx context.Context, args ...any) (any, error)

// ActivityDescriptor identifies one callable unit of work.
type ActivityDescriptor struct {
	Name    string
	Owner   string
	Method  string
	Handler Handler
	// Options are passed through to the workflow engine unmodified.
	Options map[string]string
}

// Overlap policies understood by the schedule engine. Anything else is
// passed through.
const (
	OverlapAllow = "allow"
	OverlapSkip  = "skip"
)

// ScheduleDescriptor declares a recurring trigger for a workflow.
type ScheduleDescriptor struct {
	ID           string
	WorkflowName string
	Cron         []string
	Intervals    []string
	// TaskQueue is the explicit per-schedule value; see ResolveTaskQueue.
	TaskQueue          string
	ComponentTaskQueue string
	AutoStart          bool
	StartPaused        bool
	OverlapPolicy      string
	Description        string
	Timezone           string
	Args               []any
	Owner              string
	Method             string
}

// ResolveTaskQueue picks the explicit value, then the owning component's
// default, then global.
func (d ScheduleDescriptor) ResolveTaskQueue(global string) string {
	for _, q := range []string{d.TaskQueue, d.ComponentTaskQueue, global} {
		if q != "" {
			return q
		}
	}
	return ""
}

func (d ScheduleDescriptor) Trigger() validation.Trigger {
	return validation.Trigger{Cron: d.Cron, Intervals: d.Intervals, Timezone: d.Timezone}
}

// Validate reports why the descriptor cannot be submitted to an engine.
func (d ScheduleDescriptor) Validate() error {
	if err := validation.ValidateName("schedule id", d.ID); err != nil {
		return err
	}
	if d.WorkflowName == "" {
		return fmt.Errorf("schedule %q: workflow name required", d.ID)
	}
	if res := validation.ValidateTrigger(d.Trigger()); !res.Valid {
		return fmt.Errorf("schedule %q: %s", d.ID, res.Error())
	}
	return nil
}
