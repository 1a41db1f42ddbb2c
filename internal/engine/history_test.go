package engine

import (
	"context"
	stderrors "errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryHistory struct {
	mu     sync.Mutex
	events []FireEvent
	err    error
}

func (h *memoryHistory) Record(ctx context.Context, ev FireEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return h.err
}

func (h *memoryHistory) Events() []FireEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]FireEvent(nil), h.events...)
}

func TestRunner_RecordsFireHistory(t *testing.T) {
	f := newFixture(t)
	history := &memoryHistory{}
	f.runner.history = history
	ctx := context.Background()
	require.NoError(t, f.engine.CreateSchedule(ctx, dailyReportRequest()))

	tick := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	f.runner.fire(ctx, "daily-report", TriggerCron, tick)
	f.runner.fire(ctx, "daily-report", TriggerCron, tick.Add(time.Second))
	f.starter.err = stderrors.New("gateway unavailable")
	require.Error(t, f.engine.TriggerSchedule(ctx, "daily-report"))

	events := history.Events()
	require.Len(t, events, 3)

	assert.Equal(t, FireStarted, events[0].Result)
	assert.Equal(t, TriggerCron, events[0].Trigger)
	assert.Equal(t, tick, events[0].FiredAt)
	assert.NotZero(t, events[0].InstanceKey)
	assert.NotEmpty(t, events[0].TriggerID)

	assert.Equal(t, FireSkipped, events[1].Result)
	assert.Zero(t, events[1].InstanceKey)

	assert.Equal(t, FireFailed, events[2].Result)
	assert.Equal(t, TriggerManual, events[2].Trigger)
	assert.Equal(t, "gateway unavailable", events[2].Error)
}

func TestRunner_HistoryFailureDoesNotFailFire(t *testing.T) {
	f := newFixture(t)
	f.runner.history = &memoryHistory{err: stderrors.New("db down")}
	ctx := context.Background()
	require.NoError(t, f.engine.CreateSchedule(ctx, dailyReportRequest()))

	result, err := f.runner.fire(ctx, "daily-report", TriggerCron, time.Now())
	require.NoError(t, err)
	assert.Equal(t, FireStarted, result)
}

func TestSQLHistory_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schedule_fires")).
		WithArgs("daily-report", "t-1", TriggerCron, FireStarted, int64(42), "", at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	h := NewSQLHistory(db)
	err = h.Record(context.Background(), FireEvent{
		ScheduleID: "daily-report", TriggerID: "t-1", Trigger: TriggerCron,
		Result: FireStarted, InstanceKey: 42, FiredAt: at,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLHistory_Recent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"schedule_id", "trigger_id", "trigger", "result", "instance_key", "error", "fired_at"}).
		AddRow("daily-report", "t-2", TriggerManual, FireFailed, 0, "gateway unavailable", at.Add(time.Hour)).
		AddRow("daily-report", "t-1", TriggerCron, FireStarted, 42, "", at)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedule_fires WHERE schedule_id = $1")).
		WithArgs("daily-report", 20).
		WillReturnRows(rows)

	events, err := NewSQLHistory(db).Recent(context.Background(), "daily-report", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "gateway unavailable", events[0].Error)
	assert.Equal(t, int64(42), events[1].InstanceKey)
	assert.Equal(t, at, events[1].FiredAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLHistory_EnsureSchemaError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schedule_fires").WillReturnError(stderrors.New("permission denied"))
	err = NewSQLHistory(db).EnsureSchema(context.Background())
	assert.ErrorContains(t, err, "permission denied")
}
