package camunda

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"camunda-discovery/internal/common/config"
	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/discovery"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createMockJob(key int64, jobType string, variables map[string]interface{}) entities.Job {
	variablesJSON, _ := json.Marshal(variables)
	return entities.Job{ActivatedJob: &pb.ActivatedJob{
		Key:                key,
		Type:               jobType,
		ProcessInstanceKey: key * 10,
		BpmnProcessId:      "GenerateReport",
		CustomHeaders:      "{}",
		Worker:             "test-worker",
		Retries:            3,
		Variables:          string(variablesJSON),
	}}
}

type reportRequest struct {
	Format string `json:"format"`
	Days   int    `json:"days"`
}

type reportResult struct {
	ReportID string `json:"reportId"`
	Pages    int    `json:"pages"`
}

type reportWorker struct {
	_ discovery.Activities `activity:"taskQueue=reports"`
	_ discovery.Method     `method:"Generate" activity:"name=generate-report"`
	_ discovery.Method     `method:"Count" activity:"name=count-reports"`
	_ discovery.Method     `method:"Fail" activity:"name=fail-report"`
}

func (w *reportWorker) Generate(ctx context.Context, req reportRequest) (reportResult, error) {
	return reportResult{ReportID: req.Format + "-report", Pages: req.Days * 2}, nil
}

func (w *reportWorker) Count(ctx context.Context, vars map[string]interface{}) (int, error) {
	return len(vars), nil
}

func (w *reportWorker) Fail(ctx context.Context, vars map[string]interface{}) error {
	return stderrors.New("storage bucket missing")
}

func activityRunner(t *testing.T, name string) *JobRunner {
	t.Helper()
	ex := discovery.NewExtractor(discovery.NewStructTagReader(), logger.NewNoOpLogger())
	res, err := ex.Extract(&reportWorker{}, nil)
	require.NoError(t, err)
	for _, act := range res.Activities {
		if act.Name == name {
			return &JobRunner{Activity: act, Logger: logger.NewTestLogger(t)}
		}
	}
	t.Fatalf("activity %q not extracted", name)
	return nil
}

func TestJobRunner_StructArgumentAndResult(t *testing.T) {
	r := activityRunner(t, "generate-report")
	job := createMockJob(1, "generate-report", map[string]interface{}{"format": "pdf", "days": 7, "scheduleId": "daily-report"})

	out, err := r.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"reportId": "pdf-report", "pages": float64(14)}, out)
}

func TestJobRunner_ScalarResult(t *testing.T) {
	r := activityRunner(t, "count-reports")
	job := createMockJob(2, "count-reports", map[string]interface{}{"a": 1, "b": 2})

	out, err := r.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"result": float64(2)}, out)
}

func TestJobRunner_HandlerError(t *testing.T) {
	r := activityRunner(t, "fail-report")
	job := createMockJob(3, "fail-report", map[string]interface{}{})

	_, err := r.Run(context.Background(), job)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeActivityFailed))
	assert.Equal(t, "storage bucket missing", errors.RootMessage(err))

	bpmn := errors.ConvertToBPMNError(errors.Normalize(err))
	assert.Equal(t, "ACTIVITY_FAILED", bpmn.Code)
	assert.Equal(t, 3, bpmn.Retries)
}

func TestJobRunner_InvalidVariables(t *testing.T) {
	r := activityRunner(t, "generate-report")
	job := createMockJob(4, "generate-report", nil)
	job.Variables = "not-json"

	_, err := r.Run(context.Background(), job)
	assert.True(t, errors.IsCode(err, errors.ErrCodeActivityInputInvalid))
}

func TestJobRunner_UnconvertibleArgument(t *testing.T) {
	r := activityRunner(t, "generate-report")
	job := createMockJob(5, "generate-report", map[string]interface{}{"days": "seven"})

	_, err := r.Run(context.Background(), job)
	assert.True(t, errors.IsCode(err, errors.ErrCodeActivityInputInvalid))
	assert.False(t, errors.Normalize(err).Retryable)
}

func TestJobRunner_PassesStandardErrorsThrough(t *testing.T) {
	r := &JobRunner{
		Activity: discovery.ActivityDescriptor{
			Name: "lookup",
			Handler: func(ctx context.Context, args ...any) (any, error) {
				return nil, errors.NewActivityNotFoundError("downstream")
			},
		},
		Logger: logger.NewNoOpLogger(),
	}

	_, err := r.Run(context.Background(), createMockJob(6, "lookup", map[string]interface{}{}))
	assert.ErrorIs(t, err, errors.ErrActivityNotFound)
}

func TestResultVariables(t *testing.T) {
	out, err := resultVariables(nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	var missing *reportResult
	out, err = resultVariables(missing)
	require.NoError(t, err)
	assert.NotNil(t, out)

	out, err = resultVariables([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"result": []interface{}{"a", "b"}}, out)

	_, err = resultVariables(make(chan int))
	assert.Error(t, err)
}

type tunedWorker struct {
	_ discovery.Activities `activity:"retries=2;maxJobsActive=4"`
	_ discovery.Method     `method:"Export" activity:"name=export-report;timeout=5m;retries=1"`
	_ discovery.Method     `method:"Archive" activity:"name=archive-report;timeout=soon"`
}

func (w *tunedWorker) Export(ctx context.Context, vars map[string]interface{}) (map[string]interface{}, error) {
	deadline, ok := ctx.Deadline()
	return map[string]interface{}{"hasDeadline": ok, "remaining": time.Until(deadline).Seconds()}, nil
}

func (w *tunedWorker) Archive(ctx context.Context, vars map[string]interface{}) error {
	return nil
}

func tunedActivities(t *testing.T) map[string]discovery.ActivityDescriptor {
	t.Helper()
	res, err := discovery.NewExtractor(discovery.NewStructTagReader(), logger.NewNoOpLogger()).Extract(&tunedWorker{}, nil)
	require.NoError(t, err)
	acts := map[string]discovery.ActivityDescriptor{}
	for _, a := range res.Activities {
		acts[a.Name] = a
	}
	return acts
}

func TestResolveWorkerSettings(t *testing.T) {
	acts := tunedActivities(t)
	cfg := &config.Config{}

	settings, problems := ResolveWorkerSettings(cfg, acts["export-report"])
	assert.Empty(t, problems)
	assert.Equal(t, 5*time.Minute, settings.Timeout)
	assert.Equal(t, 4, settings.MaxJobsActive, "component default")
	assert.Equal(t, 1, settings.MaxRetries, "method option beats component default")
	assert.Equal(t, "options", settings.Source)

	settings, problems = ResolveWorkerSettings(cfg, acts["archive-report"])
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], "timeout")
	assert.Equal(t, 30*time.Second, settings.Timeout, "global default kept")
	assert.Equal(t, 2, settings.MaxRetries)

	cfg.Workers = map[string]config.WorkerConfig{
		"export-report": {Enabled: true, MaxJobsActive: 9, Timeout: 1000, MaxRetries: 5},
	}
	settings, _ = ResolveWorkerSettings(cfg, acts["export-report"])
	assert.Equal(t, WorkerSettings{MaxJobsActive: 9, Timeout: time.Second, MaxRetries: 5, Source: "config"}, settings)
}

func TestParseTimeoutOption(t *testing.T) {
	d, err := parseTimeoutOption("1500")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, d)

	d, err = parseTimeoutOption("2m")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, d)

	for _, bad := range []string{"0", "-1s", "later"} {
		_, err := parseTimeoutOption(bad)
		assert.Error(t, err, bad)
	}
}

func TestJobRunner_TimeoutOptionBoundsActivity(t *testing.T) {
	act := tunedActivities(t)["export-report"]
	settings, _ := ResolveWorkerSettings(&config.Config{}, act)
	r := &JobRunner{Activity: act, Logger: logger.NewTestLogger(t), Timeout: settings.Timeout}

	ctx, cancel := r.jobContext(context.Background())
	defer cancel()
	out, err := r.Run(ctx, createMockJob(7, "export-report", map[string]interface{}{}))
	require.NoError(t, err)
	assert.Equal(t, true, out["hasDeadline"])
	assert.InDelta(t, (5 * time.Minute).Seconds(), out["remaining"], 5)

	r.Timeout = 0
	ctx, cancel = r.jobContext(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	assert.False(t, ok)
}
