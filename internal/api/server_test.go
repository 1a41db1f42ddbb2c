package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/discovery"
	"camunda-discovery/internal/engine"
	"camunda-discovery/internal/health"
	"camunda-discovery/internal/registry"
	"camunda-discovery/internal/schedule"
	catalog "camunda-discovery/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memoryEngine keeps schedules in a map and fails calls listed in failOn.
type memoryEngine struct {
	mu        sync.Mutex
	schedules map[string]bool
	triggered []string
	failOn    map[string]error
}

func newMemoryEngine() *memoryEngine {
	return &memoryEngine{schedules: map[string]bool{}, failOn: map[string]error{}}
}

func (e *memoryEngine) fail(op string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failOn[op]
}

func (e *memoryEngine) ScheduleExists(ctx context.Context, id string) (bool, error) {
	if err := e.fail("exists"); err != nil {
		return false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.schedules[id]
	return ok, nil
}

func (e *memoryEngine) CreateSchedule(ctx context.Context, req schedule.CreateRequest) error {
	if err := e.fail("create"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schedules[req.ScheduleID] = false
	return nil
}

func (e *memoryEngine) PauseSchedule(ctx context.Context, id, note string) error {
	if err := e.fail("pause"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schedules[id] = true
	return nil
}

func (e *memoryEngine) ResumeSchedule(ctx context.Context, id, note string) error {
	if err := e.fail("resume"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schedules[id] = false
	return nil
}

func (e *memoryEngine) TriggerSchedule(ctx context.Context, id string) error {
	if err := e.fail("trigger"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.triggered = append(e.triggered, id)
	return nil
}

func (e *memoryEngine) DeleteSchedule(ctx context.Context, id string) error {
	if err := e.fail("delete"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.schedules, id)
	return nil
}

type billing struct {
	_ discovery.Activities `activity:"taskQueue=billing"`
	_ discovery.Method     `method:"Invoice" activity:"name=send-invoice" schedule:"id=monthly-invoice;workflow=SendInvoices;cron=0 0 1 * *"`
}

func (b *billing) Invoice(ctx context.Context, vars map[string]interface{}) error { return nil }

type fixture struct {
	engine  *memoryEngine
	manager *schedule.Manager
	server  http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log := logger.NewTestLogger(t)

	scan, err := discovery.Scan(discovery.Components(&billing{}), discovery.NewExtractor(discovery.NewStructTagReader(), log), nil)
	require.NoError(t, err)
	reg := registry.New(log)
	require.NoError(t, reg.Populate(scan))

	descs := append(scan.Schedules, discovery.ScheduleDescriptor{
		ID:           "hourly-sync",
		WorkflowName: "SyncAccounts",
		Intervals:    []string{"1h"},
		AutoStart:    true,
	})
	engine := newMemoryEngine()
	manager := schedule.NewManager(descs, engine, log, "default")

	return &fixture{
		engine:  engine,
		manager: manager,
		server:  NewServer(reg, manager, log, opts...).Router(),
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	f.manager.SetupAll(context.Background())

	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	report := decode[health.Report](t, rec)
	assert.Equal(t, health.Healthy, report.Status)
	assert.Equal(t, 2, report.Schedules.Active)
}

func TestHealth_AllSchedulesFailed(t *testing.T) {
	f := newFixture(t)
	f.engine.failOn["exists"] = stderrors.New("engine unreachable")
	f.manager.SetupAll(context.Background())

	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, health.Unhealthy, decode[health.Report](t, rec).Status)
}

func TestReady(t *testing.T) {
	f := newFixture(t,
		WithCheck("zeebe", func(ctx context.Context) error { return nil }),
		WithCheck("redis", func(ctx context.Context) error { return stderrors.New("connection refused") }),
	)

	rec := f.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode[map[string]interface{}](t, rec)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, map[string]interface{}{"redis": "connection refused"}, body["failures"])
}

func TestActivities(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/activities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	acts := decode[[]activityView](t, rec)
	require.Len(t, acts, 1)
	assert.Equal(t, "send-invoice", acts[0].Name)
	assert.Equal(t, "Invoice", acts[0].Method)

	rec = f.do(t, http.MethodGet, "/activities/validation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[registry.ValidationReport](t, rec).IsValid)
}

func TestSchedules_ListAndGet(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.manager.SetupSchedule(context.Background(), "monthly-invoice"))

	rec := f.do(t, http.MethodGet, "/schedules", "")
	require.Equal(t, http.StatusOK, rec.Code)
	views := decode[[]scheduleView](t, rec)
	require.Len(t, views, 2)
	assert.Equal(t, "hourly-sync", views[0].ID)
	assert.Equal(t, "default", views[0].TaskQueue)
	assert.Equal(t, schedule.StateUnknown, views[0].State)
	assert.Nil(t, views[0].Status)
	assert.Equal(t, "billing", views[1].TaskQueue)
	assert.Equal(t, schedule.StateManagedActive, views[1].State)
	require.NotNil(t, views[1].Status)
	assert.Equal(t, schedule.ReasonCreated, views[1].Status.Reason)

	rec = f.do(t, http.MethodGet, "/schedules/monthly-invoice", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/schedules/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SCHEDULE_NOT_FOUND", decode[map[string]string](t, rec)["code"])
}

func TestSchedules_PauseResumeTrigger(t *testing.T) {
	f := newFixture(t)
	f.manager.SetupAll(context.Background())

	rec := f.do(t, http.MethodPost, "/schedules/hourly-sync/pause", `{"note":"maintenance window"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[schedule.Status](t, rec)
	assert.False(t, st.IsActive)
	assert.Equal(t, "maintenance window", st.Reason)

	rec = f.do(t, http.MethodPost, "/schedules/hourly-sync/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st = decode[schedule.Status](t, rec)
	assert.True(t, st.IsActive)
	assert.Equal(t, schedule.ReasonResumed, st.Reason)

	rec = f.do(t, http.MethodPost, "/schedules/hourly-sync/trigger", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"hourly-sync"}, f.engine.triggered)

	rec = f.do(t, http.MethodPost, "/schedules/hourly-sync/pause", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSchedules_ErrorMapping(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/schedules/hourly-sync/trigger", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "SCHEDULE_NOT_MANAGED", decode[map[string]string](t, rec)["code"])

	require.NoError(t, f.manager.SetupSchedule(context.Background(), "hourly-sync"))

	rec = f.do(t, http.MethodDelete, "/schedules/hourly-sync", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	f.engine.failOn["trigger"] = stderrors.New("deadline exceeded")
	rec = f.do(t, http.MethodPost, "/schedules/hourly-sync/trigger", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "ENGINE_OPERATION_FAILED", decode[map[string]string](t, rec)["code"])

	rec = f.do(t, http.MethodDelete, "/schedules/hourly-sync?force=true", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := f.manager.ScheduleStatus("hourly-sync")
	assert.False(t, ok)
}

func TestSchedules_SetupAndRetry(t *testing.T) {
	f := newFixture(t)
	f.engine.failOn["create"] = stderrors.New("quota exceeded")

	rec := f.do(t, http.MethodPost, "/schedules/hourly-sync/setup", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, schedule.StateSetupFailed, f.manager.State("hourly-sync"))

	delete(f.engine.failOn, "create")
	rec = f.do(t, http.MethodPost, "/schedules/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[schedule.SetupSummary](t, rec)
	assert.Equal(t, 1, summary.Successful)
	assert.Equal(t, schedule.StateManagedActive, f.manager.State("hourly-sync"))

	rec = f.do(t, http.MethodGet, "/schedules/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[schedule.HealthReport](t, rec).Stats.Active)
}

func TestCatalog(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/catalog", "").Code)

	f = newFixture(t, WithCatalog(func() *catalog.Catalog {
		return &catalog.Catalog{Version: "1.2.0"}
	}))
	rec := f.do(t, http.MethodGet, "/catalog", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.2.0", decode[catalog.Catalog](t, rec).Version)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

type stubHistory struct {
	events []engine.FireEvent
	err    error
	limit  int
}

func (h *stubHistory) Recent(ctx context.Context, scheduleID string, limit int) ([]engine.FireEvent, error) {
	h.limit = limit
	return h.events, h.err
}

func TestScheduleHistory(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/schedules/monthly-invoice/history", "").Code)

	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	h := &stubHistory{events: []engine.FireEvent{
		{ScheduleID: "monthly-invoice", Trigger: engine.TriggerCron, Result: engine.FireStarted, InstanceKey: 7, FiredAt: at},
	}}
	f = newFixture(t, WithHistory(h))

	rec := f.do(t, http.MethodGet, "/schedules/monthly-invoice/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]engine.FireEvent](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, int64(7), events[0].InstanceKey)
	assert.Equal(t, 5, h.limit)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/schedules/monthly-invoice/history?limit=abc", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/schedules/unknown/history", "").Code)

	h.err = stderrors.New("connection refused")
	rec = f.do(t, http.MethodGet, "/schedules/monthly-invoice/history", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, 20, h.limit)
}
