package engine

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/common/metrics"
	"camunda-discovery/internal/common/observability"
	"camunda-discovery/internal/common/validation"
	"camunda-discovery/internal/discovery"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// InstanceStarter starts one workflow instance. camunda.Client implements
// it against Zeebe.
type InstanceStarter interface {
	StartInstance(ctx context.Context, workflowName string, variables map[string]interface{}) (int64, error)
}

// Fire outcomes, also used as the result label of ScheduleFiresTotal.
const (
	FireStarted   = "started"
	FirePaused    = "paused"
	FireSkipped   = "skipped"
	FireDuplicate = "duplicate"
	FireGone      = "gone"
	FireFailed    = "failed"
)

const (
	TriggerCron   = "cron"
	TriggerManual = "manual"
)

// Runner turns stored records into cron entries and starts a workflow
// instance on every due tick.
type Runner struct {
	cron     *cron.Cron
	store    *Store
	starter  InstanceStarter
	logger   logger.Logger
	obs      *observability.Observability
	lockTTL  time.Duration
	timezone string
	history  History
	now      func() time.Time

	mu      sync.Mutex
	entries map[string][]cron.EntryID
}

type RunnerConfig struct {
	// Timezone applies to cron expressions whose record has none.
	Timezone string
	// LockTTL bounds one fire's cross-replica lock.
	LockTTL time.Duration
	// History receives every fire outcome when set.
	History History
}

func NewRunner(store *Store, starter InstanceStarter, log logger.Logger, obs *observability.Observability, cfg RunnerConfig) (*Runner, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 55 * time.Second
	}

	log = log.Named("runner")
	cl := cronLogger{log: log}
	return &Runner{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		store:    store,
		starter:  starter,
		logger:   log,
		obs:      obs,
		lockTTL:  cfg.LockTTL,
		timezone: cfg.Timezone,
		history:  cfg.History,
		now:      time.Now,
		entries:  make(map[string][]cron.EntryID),
	}, nil
}

func (r *Runner) Start() {
	r.cron.Start()
	r.logger.Info("Schedule runner started", nil)
}

// Stop waits for running fires to return or ctx to end.
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop()
	select {
	case <-done.Done():
		r.logger.Info("Schedule runner stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register replaces any entries for rec with one entry per cron
// expression and interval. Nothing is registered if any trigger is invalid.
func (r *Runner) Register(rec Record) error {
	schedules, err := r.schedules(rec)
	if err != nil {
		return err
	}

	id := rec.ScheduleID
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id)
	for _, s := range schedules {
		ts := &tickedSchedule{Schedule: s}
		job := cron.FuncJob(func() {
			r.fire(context.Background(), id, TriggerCron, ts.due(r.now()))
		})
		r.entries[id] = append(r.entries[id], r.cron.Schedule(ts, job))
	}

	r.logger.Debug("Schedule registered", map[string]interface{}{
		"scheduleId": id,
		"entries":    len(schedules),
		"next":       r.nextLocked(id),
	})
	return nil
}

// schedules parses every trigger of rec.
func (r *Runner) schedules(rec Record) ([]cron.Schedule, error) {
	tz := rec.Timezone
	if tz == "" {
		tz = r.timezone
	}

	var schedules []cron.Schedule
	for _, expr := range rec.Cron {
		s, err := validation.ParseCron(expr, tz)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: invalid cron %q: %w", rec.ScheduleID, expr, err)
		}
		schedules = append(schedules, s)
	}
	for _, raw := range rec.Intervals {
		d, err := validation.ParseInterval(raw)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", rec.ScheduleID, err)
		}
		schedules = append(schedules, alignedEvery(d))
	}
	if len(schedules) == 0 {
		return nil, fmt.Errorf("schedule %q: no trigger", rec.ScheduleID)
	}
	return schedules, nil
}

func (r *Runner) Unregister(id string) {
	r.mu.Lock()
	r.removeLocked(id)
	r.mu.Unlock()
}

func (r *Runner) removeLocked(id string) {
	for _, e := range r.entries[id] {
		r.cron.Remove(e)
	}
	delete(r.entries, id)
}

// Entries reports how many cron entries id holds.
func (r *Runner) Entries(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries[id])
}

// Next returns the earliest upcoming fire of id, zero before Start.
func (r *Runner) Next(id string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextLocked(id)
}

func (r *Runner) nextLocked(id string) time.Time {
	var next time.Time
	for _, e := range r.entries[id] {
		n := r.cron.Entry(e).Next
		if !n.IsZero() && (next.IsZero() || n.Before(next)) {
			next = n
		}
	}
	return next
}

// fire re-reads the record so pause and delete on other replicas are
// honoured, takes the fire lock, then starts the instance.
func (r *Runner) fire(ctx context.Context, id, trigger string, at time.Time) (string, error) {
	ev := FireEvent{ScheduleID: id, Trigger: trigger, FiredAt: at}
	result, err := r.doFire(ctx, &ev)
	metrics.ScheduleFiresTotal.WithLabelValues(result).Inc()
	r.obs.RecordScheduleFire(ctx, id, result)

	fields := map[string]interface{}{"scheduleId": id, "result": result, "trigger": trigger}
	if err != nil {
		fields["error"] = err.Error()
		r.logger.Error("Schedule fire failed", fields)
	} else {
		r.logger.Debug("Schedule fired", fields)
	}

	ev.Result = result
	r.record(ctx, ev, err)
	return result, err
}

func (r *Runner) doFire(ctx context.Context, ev *FireEvent) (string, error) {
	id := ev.ScheduleID
	rec, err := r.store.Get(ctx, id)
	if errors.IsCode(err, errors.ErrCodeScheduleNotFound) {
		r.Unregister(id)
		return FireGone, nil
	}
	if err != nil {
		return FireFailed, err
	}
	if rec.Paused {
		return FirePaused, nil
	}

	ev.TriggerID = uuid.NewString()

	// skip holds one lock per schedule; allow only dedups the same tick.
	key := r.store.LockKey(id, strconv.FormatInt(ev.FiredAt.Unix(), 10))
	if rec.OverlapPolicy == discovery.OverlapSkip {
		key = r.store.LockKey(id, "")
	}
	ok, err := r.store.AcquireLock(ctx, key, ev.TriggerID, r.lockTTL)
	if err != nil {
		return FireFailed, err
	}
	if !ok {
		if rec.OverlapPolicy == discovery.OverlapSkip {
			return FireSkipped, nil
		}
		return FireDuplicate, nil
	}

	key64, err := r.start(ctx, *rec, ev.Trigger, ev.TriggerID, ev.FiredAt)
	if err != nil {
		return FireFailed, err
	}
	ev.InstanceKey = key64
	return FireStarted, nil
}

// record hands ev to the history sink. Sink failures never fail the fire.
func (r *Runner) record(ctx context.Context, ev FireEvent, err error) {
	if r.history == nil {
		return
	}
	if err != nil {
		ev.Error = err.Error()
	}
	if herr := r.history.Record(ctx, ev); herr != nil {
		r.logger.Warn("Failed to record schedule fire", map[string]interface{}{
			"scheduleId": ev.ScheduleID,
			"error":      herr.Error(),
		})
	}
}

// start launches one instance of rec's workflow.
func (r *Runner) start(ctx context.Context, rec Record, trigger, triggerID string, at time.Time) (int64, error) {
	vars := map[string]interface{}{
		"scheduleId":    rec.ScheduleID,
		"triggerId":     triggerID,
		"trigger":       trigger,
		"scheduledAt":   at.UTC().Format(time.RFC3339),
		"taskQueue":     rec.TaskQueue,
		"overlapPolicy": rec.OverlapPolicy,
	}
	if len(rec.Args) > 0 {
		vars["args"] = rec.Args
	}

	ctx, span := observability.StartSpan(ctx, "schedule.fire", map[string]string{
		"schedule_id": rec.ScheduleID,
		"workflow":    rec.WorkflowName,
		"trigger":     trigger,
	})
	key, err := r.starter.StartInstance(ctx, rec.WorkflowName, vars)
	observability.EndSpan(span, err)
	if err != nil {
		return 0, err
	}

	r.logger.Info("Workflow instance started", map[string]interface{}{
		"scheduleId":  rec.ScheduleID,
		"workflow":    rec.WorkflowName,
		"instanceKey": key,
		"triggerId":   triggerID,
		"trigger":     trigger,
	})
	return key, nil
}

// alignedEvery fires on whole multiples of the interval counted from the
// zero time, so replicas started at different moments share every tick.
type alignedEvery time.Duration

func (d alignedEvery) Next(t time.Time) time.Time {
	step := time.Duration(d).Truncate(time.Second)
	if step < time.Second {
		step = time.Second
	}
	return t.Truncate(step).Add(step)
}

// tickedSchedule remembers the ticks it hands to cron. cron asks for the
// following tick while the job for the current one is starting, so the
// last two are kept.
type tickedSchedule struct {
	cron.Schedule

	mu   sync.Mutex
	prev time.Time
	last time.Time
}

func (s *tickedSchedule) Next(t time.Time) time.Time {
	n := s.Schedule.Next(t)
	s.mu.Lock()
	if !n.Equal(s.last) {
		s.prev, s.last = s.last, n
	}
	s.mu.Unlock()
	return n
}

// due returns the tick a job started at now belongs to. The fire lock is
// keyed on it, so every replica must derive the same value.
func (s *tickedSchedule) due(now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.last.IsZero() && !s.last.After(now) {
		return s.last
	}
	if !s.prev.IsZero() && !s.prev.After(now) {
		return s.prev
	}
	return now.Truncate(time.Second)
}

// cronLogger adapts logger.Logger to cron.Logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	fields := kvFields(keysAndValues)
	fields["error"] = err.Error()
	l.log.Error(msg, fields)
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
