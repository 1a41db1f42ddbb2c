// Package engine materializes schedules for Zeebe, which has no schedule
// API of its own: records live in Redis and a cron runner starts process
// instances when they are due.
package engine

import (
	"context"
	"fmt"
	"time"

	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/schedule"

	"github.com/google/uuid"
)

// Engine implements schedule.Engine on top of Store and Runner.
type Engine struct {
	store  *Store
	runner *Runner
	logger logger.Logger
	now    func() time.Time
}

var _ schedule.Engine = (*Engine)(nil)

func New(store *Store, runner *Runner, log logger.Logger) *Engine {
	return &Engine{
		store:  store,
		runner: runner,
		logger: log.Named("engine"),
		now:    time.Now,
	}
}

func (e *Engine) ScheduleExists(ctx context.Context, scheduleID string) (bool, error) {
	return e.store.Exists(ctx, scheduleID)
}

// CreateSchedule persists req and registers its triggers. A record that
// already exists is left untouched and reported as a conflict.
func (e *Engine) CreateSchedule(ctx context.Context, req schedule.CreateRequest) error {
	now := e.now().UTC()
	rec := Record{
		ScheduleID:    req.ScheduleID,
		WorkflowName:  req.WorkflowName,
		Cron:          req.Cron,
		Intervals:     req.Intervals,
		TaskQueue:     req.TaskQueue,
		Args:          req.Args,
		OverlapPolicy: req.OverlapPolicy,
		Description:   req.Description,
		Timezone:      req.Timezone,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if _, err := e.runner.schedules(rec); err != nil {
		return err
	}
	if err := e.store.Create(ctx, rec); err != nil {
		return err
	}
	if err := e.runner.Register(rec); err != nil {
		return err
	}

	e.logger.Info("Schedule stored", map[string]interface{}{
		"scheduleId": rec.ScheduleID,
		"workflow":   rec.WorkflowName,
		"taskQueue":  rec.TaskQueue,
	})
	return nil
}

func (e *Engine) PauseSchedule(ctx context.Context, scheduleID, note string) error {
	return e.setPaused(ctx, scheduleID, true, note)
}

func (e *Engine) ResumeSchedule(ctx context.Context, scheduleID, note string) error {
	return e.setPaused(ctx, scheduleID, false, note)
}

// setPaused only persists the flag. Entries stay registered on every
// replica; fires read the flag.
func (e *Engine) setPaused(ctx context.Context, scheduleID string, paused bool, note string) error {
	rec, err := e.store.Get(ctx, scheduleID)
	if err != nil {
		return err
	}
	rec.Paused = paused
	rec.Note = note
	rec.UpdatedAt = e.now().UTC()
	if err := e.store.Save(ctx, *rec); err != nil {
		return err
	}
	if e.runner.Entries(scheduleID) == 0 {
		if err := e.runner.Register(*rec); err != nil {
			return err
		}
	}
	return nil
}

// TriggerSchedule starts one instance now, ignoring pause and overlap.
func (e *Engine) TriggerSchedule(ctx context.Context, scheduleID string) error {
	rec, err := e.store.Get(ctx, scheduleID)
	if err != nil {
		return err
	}
	ev := FireEvent{ScheduleID: scheduleID, TriggerID: uuid.NewString(), Trigger: TriggerManual, FiredAt: e.now()}
	key, err := e.runner.start(ctx, *rec, TriggerManual, ev.TriggerID, ev.FiredAt)
	if err != nil {
		ev.Result = FireFailed
		e.runner.record(ctx, ev, err)
		return fmt.Errorf("start %q for schedule %q: %w", rec.WorkflowName, scheduleID, err)
	}
	ev.Result = FireStarted
	ev.InstanceKey = key
	e.runner.record(ctx, ev, nil)
	return nil
}

func (e *Engine) DeleteSchedule(ctx context.Context, scheduleID string) error {
	if err := e.store.Delete(ctx, scheduleID); err != nil {
		return err
	}
	e.runner.Unregister(scheduleID)
	e.logger.Info("Schedule removed", map[string]interface{}{"scheduleId": scheduleID})
	return nil
}

// Restore registers every stored record with the runner. Records whose
// triggers no longer parse are logged and skipped.
func (e *Engine) Restore(ctx context.Context) (int, error) {
	records, err := e.store.List(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, rec := range records {
		if err := e.runner.Register(rec); err != nil {
			e.logger.Warn("Skipping unrestorable schedule", map[string]interface{}{
				"scheduleId": rec.ScheduleID,
				"error":      err.Error(),
			})
			continue
		}
		restored++
	}
	e.logger.Info("Schedules restored", map[string]interface{}{
		"stored":   len(records),
		"restored": restored,
	})
	return restored, nil
}

// Records lists stored schedules, including ones this process did not create.
func (e *Engine) Records(ctx context.Context) ([]Record, error) {
	return e.store.List(ctx)
}
