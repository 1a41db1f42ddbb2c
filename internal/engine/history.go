package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FireEvent is one fire attempt, cron or manual.
type FireEvent struct {
	ScheduleID  string    `json:"scheduleId"`
	TriggerID   string    `json:"triggerId,omitempty"`
	Trigger     string    `json:"trigger"`
	Result      string    `json:"result"`
	InstanceKey int64     `json:"instanceKey,omitempty"`
	Error       string    `json:"error,omitempty"`
	FiredAt     time.Time `json:"firedAt"`
}

// History persists fire outcomes. Implementations must be safe for
// concurrent use; cron entries fire on their own goroutines.
type History interface {
	Record(ctx context.Context, ev FireEvent) error
}

const historySchema = `
CREATE TABLE IF NOT EXISTS schedule_fires (
	id           BIGSERIAL PRIMARY KEY,
	schedule_id  TEXT        NOT NULL,
	trigger_id   TEXT        NOT NULL DEFAULT '',
	trigger      TEXT        NOT NULL,
	result       TEXT        NOT NULL,
	instance_key BIGINT      NOT NULL DEFAULT 0,
	error        TEXT        NOT NULL DEFAULT '',
	fired_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS schedule_fires_schedule_id_fired_at ON schedule_fires (schedule_id, fired_at DESC);`

const insertFire = `INSERT INTO schedule_fires (schedule_id, trigger_id, trigger, result, instance_key, error, fired_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

const selectFires = `SELECT schedule_id, trigger_id, trigger, result, instance_key, error, fired_at
FROM schedule_fires WHERE schedule_id = $1 ORDER BY fired_at DESC LIMIT $2`

// SQLHistory keeps fire events in PostgreSQL.
type SQLHistory struct {
	db *sql.DB
}

func NewSQLHistory(db *sql.DB) *SQLHistory {
	return &SQLHistory{db: db}
}

// EnsureSchema creates the history table when missing.
func (h *SQLHistory) EnsureSchema(ctx context.Context) error {
	if _, err := h.db.ExecContext(ctx, historySchema); err != nil {
		return fmt.Errorf("create schedule_fires: %w", err)
	}
	return nil
}

func (h *SQLHistory) Record(ctx context.Context, ev FireEvent) error {
	_, err := h.db.ExecContext(ctx, insertFire,
		ev.ScheduleID, ev.TriggerID, ev.Trigger, ev.Result, ev.InstanceKey, ev.Error, ev.FiredAt.UTC())
	if err != nil {
		return fmt.Errorf("insert fire for %s: %w", ev.ScheduleID, err)
	}
	return nil
}

// Recent returns up to limit events for scheduleID, newest first.
func (h *SQLHistory) Recent(ctx context.Context, scheduleID string, limit int) ([]FireEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, selectFires, scheduleID, limit)
	if err != nil {
		return nil, fmt.Errorf("query fires for %s: %w", scheduleID, err)
	}
	defer rows.Close()

	events := []FireEvent{}
	for rows.Next() {
		var ev FireEvent
		if err := rows.Scan(&ev.ScheduleID, &ev.TriggerID, &ev.Trigger, &ev.Result, &ev.InstanceKey, &ev.Error, &ev.FiredAt); err != nil {
			return nil, fmt.Errorf("scan fire: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
