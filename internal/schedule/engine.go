package schedule

import (
	"context"

	"camunda-discovery/internal/discovery"
)

// CreateRequest is the engine-neutral create payload.
type CreateRequest struct {
	ScheduleID    string   `json:"scheduleId"`
	WorkflowName  string   `json:"workflowName"`
	Cron          []string `json:"cron,omitempty"`
	Intervals     []string `json:"intervals,omitempty"`
	TaskQueue     string   `json:"taskQueue"`
	Args          []any    `json:"args,omitempty"`
	OverlapPolicy string   `json:"overlapPolicy,omitempty"`
	Description   string   `json:"description,omitempty"`
	Timezone      string   `json:"timezone,omitempty"`
}

// Engine is the workflow engine's schedule API. Every method may fail;
// failures carry the engine's own message.
type Engine interface {
	ScheduleExists(ctx context.Context, scheduleID string) (bool, error)
	CreateSchedule(ctx context.Context, req CreateRequest) error
	PauseSchedule(ctx context.Context, scheduleID, note string) error
	ResumeSchedule(ctx context.Context, scheduleID, note string) error
	TriggerSchedule(ctx context.Context, scheduleID string) error
	DeleteSchedule(ctx context.Context, scheduleID string) error
}

// NewCreateRequest builds the create payload for d on the resolved queue.
func NewCreateRequest(d discovery.ScheduleDescriptor, taskQueue string) CreateRequest {
	return CreateRequest{
		ScheduleID:    d.ID,
		WorkflowName:  d.WorkflowName,
		Cron:          append([]string(nil), d.Cron...),
		Intervals:     append([]string(nil), d.Intervals...),
		TaskQueue:     taskQueue,
		Args:          append([]any(nil), d.Args...),
		OverlapPolicy: d.OverlapPolicy,
		Description:   d.Description,
		Timezone:      d.Timezone,
	}
}
