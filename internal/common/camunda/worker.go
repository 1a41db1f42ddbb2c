// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"camunda-discovery/internal/common/config"
	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/common/metrics"
	"camunda-discovery/internal/common/observability"
	"camunda-discovery/internal/discovery"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// ActivityWorkers opens one Zeebe job worker per registered activity. The
// job type is the activity name.
type ActivityWorkers struct {
	client  zbc.Client
	logger  logger.Logger
	obs     *observability.Observability
	errs    *errors.ErrorHandler
	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewActivityWorkers(client zbc.Client, log logger.Logger, obs *observability.Observability) *ActivityWorkers {
	log = log.Named("workers")
	return &ActivityWorkers{
		client:  client,
		logger:  log,
		obs:     obs,
		errs:    errors.NewErrorHandler(log),
		workers: make(map[string]worker.JobWorker),
	}
}

// Start opens workers for every enabled activity and returns how many were
// opened.
func (w *ActivityWorkers) Start(cfg *config.Config, activities []discovery.ActivityDescriptor) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	started := 0
	for _, act := range activities {
		if !config.IsWorkerEnabled(cfg, act.Name) {
			w.logger.Info("worker disabled", map[string]interface{}{"activity": act.Name})
			continue
		}
		if _, running := w.workers[act.Name]; running {
			continue
		}

		settings, problems := ResolveWorkerSettings(cfg, act)
		for _, p := range problems {
			w.logger.Warn("Ignoring activity option", map[string]interface{}{"activity": act.Name, "problem": p})
		}

		runner := &JobRunner{
			Activity:   act,
			Logger:     w.logger,
			Obs:        w.obs,
			Timeout:    settings.Timeout,
			MaxRetries: settings.MaxRetries,
		}
		w.workers[act.Name] = w.client.NewJobWorker().
			JobType(act.Name).
			Handler(func(client worker.JobClient, job entities.Job) {
				runner.Handle(client, job, w.errs)
			}).
			MaxJobsActive(settings.MaxJobsActive).
			Timeout(settings.Timeout).
			Open()
		started++

		w.logger.Info("worker started", map[string]interface{}{
			"activity":      act.Name,
			"owner":         act.Owner,
			"maxJobsActive": settings.MaxJobsActive,
			"timeout":       settings.Timeout.String(),
			"maxRetries":    settings.MaxRetries,
			"source":        settings.Source,
		})
	}
	return started
}

// Activity options read by the job worker.
const (
	OptionTimeout       = "timeout"
	OptionMaxJobsActive = "maxJobsActive"
	OptionRetries       = "retries"
)

// WorkerSettings are the job worker parameters of one activity.
type WorkerSettings struct {
	MaxJobsActive int
	Timeout       time.Duration
	MaxRetries    int
	// Source is "config" when a workers.<activity> section decided them.
	Source string
}

// ResolveWorkerSettings picks the job worker parameters for act. A
// workers.<activity> config section wins outright; otherwise the activity's
// options apply over the global defaults. Method options already override
// component defaults in act.Options. Unparseable options are skipped and
// reported.
func ResolveWorkerSettings(cfg *config.Config, act discovery.ActivityDescriptor) (WorkerSettings, []string) {
	wcfg := config.GetWorkerConfig(cfg, act.Name)
	settings := WorkerSettings{
		MaxJobsActive: wcfg.MaxJobsActive,
		Timeout:       config.GetDuration(wcfg.Timeout),
		MaxRetries:    wcfg.MaxRetries,
		Source:        "default",
	}
	if _, explicit := cfg.Workers[act.Name]; explicit {
		settings.Source = "config"
		return settings, nil
	}

	var problems []string
	if raw, ok := act.Options[OptionTimeout]; ok {
		if d, err := parseTimeoutOption(raw); err != nil {
			problems = append(problems, fmt.Sprintf("%s=%q: %v", OptionTimeout, raw, err))
		} else {
			settings.Timeout = d
			settings.Source = "options"
		}
	}
	for key, dst := range map[string]*int{
		OptionMaxJobsActive: &settings.MaxJobsActive,
		OptionRetries:       &settings.MaxRetries,
	} {
		raw, ok := act.Options[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			problems = append(problems, fmt.Sprintf("%s=%q: not a valid count", key, raw))
			continue
		}
		*dst = n
		settings.Source = "options"
	}
	sort.Strings(problems)
	return settings, problems
}

// parseTimeoutOption accepts a Go duration or plain milliseconds.
func parseTimeoutOption(raw string) (time.Duration, error) {
	if ms, err := strconv.Atoi(raw); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("must be positive")
		}
		return config.GetDuration(ms), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive")
	}
	return d, nil
}

// Close stops every worker and waits for in-flight jobs.
func (w *ActivityWorkers) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for name, jw := range w.workers {
		jw.Close()
		jw.AwaitClose()
		delete(w.workers, name)
	}
	w.logger.Info("workers stopped", nil)
}

// JobRunner executes one activity for Zeebe jobs.
type JobRunner struct {
	Activity discovery.ActivityDescriptor
	Logger   logger.Logger
	Obs      *observability.Observability
	// Timeout bounds one job's context. Zero means no deadline.
	Timeout time.Duration
	// MaxRetries caps the retries a failed job is handed back with. Zero
	// leaves the per-code count alone.
	MaxRetries int
}

// jobContext derives the context one job runs under.
func (r *JobRunner) jobContext(parent context.Context) (context.Context, context.CancelFunc) {
	if r.Timeout > 0 {
		return context.WithTimeout(parent, r.Timeout)
	}
	return context.WithCancel(parent)
}

// Handle runs the activity and completes the job, or hands the failure to
// the error handler.
func (r *JobRunner) Handle(client worker.JobClient, job entities.Job, errs *errors.ErrorHandler) {
	ctx, cancel := r.jobContext(context.Background())
	defer cancel()

	out, err := r.Run(ctx, job)
	if err != nil {
		errs.HandleJobErrorWithLimit(ctx, client, job, err, r.MaxRetries)
		return
	}

	cmd, err := client.NewCompleteJobCommand().JobKey(job.Key).VariablesFromMap(out)
	if err != nil {
		errs.HandleJobErrorWithLimit(ctx, client, job, errors.NewActivityFailedError(r.Activity.Name, err), r.MaxRetries)
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		r.Logger.WithError(err).Error("Failed to complete job", map[string]interface{}{
			"jobKey":   job.Key,
			"activity": r.Activity.Name,
		})
	}
}

// Run decodes the job variables, calls the activity with them as its single
// argument and converts the result into completion variables.
func (r *JobRunner) Run(ctx context.Context, job entities.Job) (map[string]interface{}, error) {
	name := r.Activity.Name
	start := time.Now()

	ctx, span := observability.StartSpan(ctx, "activity."+name, map[string]string{
		"activity": name,
		"owner":    r.Activity.Owner,
	})

	out, err := r.run(ctx, job)

	observability.EndSpan(span, err)
	status := "success"
	if err != nil {
		status = "failed"
		metrics.ActivityJobsFailed.WithLabelValues(name, string(errors.Normalize(err).Code)).Inc()
	} else {
		metrics.ActivityJobsCompleted.WithLabelValues(name).Inc()
	}
	metrics.ActivityJobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	r.Obs.RecordJobProcessed(ctx, name, status)
	r.Obs.RecordJobDuration(ctx, name, time.Since(start), status)

	r.Logger.Debug("Job processed", map[string]interface{}{
		"activity": name,
		"jobKey":   job.Key,
		"status":   status,
		"duration": time.Since(start).String(),
	})
	return out, err
}

func (r *JobRunner) run(ctx context.Context, job entities.Job) (map[string]interface{}, error) {
	vars, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewActivityInputInvalidError(r.Activity.Name, err)
	}

	result, err := r.Activity.Handler(ctx, vars)
	if err != nil {
		if errors.CodeOf(err) != "" {
			return nil, err
		}
		return nil, errors.NewActivityFailedError(r.Activity.Name, err)
	}
	return resultVariables(result)
}

// resultVariables maps a handler result onto job variables. Objects are
// merged as-is, anything else lands under "result".
func resultVariables(result any) (map[string]interface{}, error) {
	switch v := result.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return v, nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err == nil {
		if obj == nil {
			obj = map[string]interface{}{}
		}
		return obj, nil
	}
	var value interface{}
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return map[string]interface{}{"result": value}, nil
}
