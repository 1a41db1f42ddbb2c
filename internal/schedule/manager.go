// Package schedule drives discovered schedules through setup and operator
// control against a workflow engine.
package schedule

import (
	"context"
	"sort"
	"sync"
	"time"

	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/common/metrics"
	"camunda-discovery/internal/common/observability"
	"camunda-discovery/internal/discovery"
	"camunda-discovery/internal/health"

	"golang.org/x/sync/singleflight"
)

// Manager owns the schedules discovered at startup. It is the single
// source of schedule status for this process; the engine remains the
// system of record.
type Manager struct {
	engine           Engine
	logger           logger.Logger
	obs              *observability.Observability
	defaultTaskQueue string
	now              func() time.Time

	descriptors []discovery.ScheduleDescriptor
	byID        map[string]discovery.ScheduleDescriptor

	// inflight dedups concurrent setups of one id.
	inflight singleflight.Group

	mu       sync.RWMutex
	statuses map[string]*Status
	pending  map[string]bool
	deleted  map[string]bool
}

type Option func(*Manager)

// WithObservability records engine call durations.
func WithObservability(o *observability.Observability) Option {
	return func(m *Manager) { m.obs = o }
}

// WithClock overrides time.Now for status timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager takes the discovered descriptors in source order. Later
// descriptors repeating an id are ignored; the registry reports them.
func NewManager(descriptors []discovery.ScheduleDescriptor, engine Engine, log logger.Logger, defaultTaskQueue string, opts ...Option) *Manager {
	m := &Manager{
		engine:           engine,
		logger:           log.Named("schedule"),
		defaultTaskQueue: defaultTaskQueue,
		now:              time.Now,
		byID:             make(map[string]discovery.ScheduleDescriptor, len(descriptors)),
		statuses:         make(map[string]*Status),
		pending:          make(map[string]bool),
		deleted:          make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, d := range descriptors {
		if _, dup := m.byID[d.ID]; dup {
			m.logger.Warn("Ignoring duplicate schedule id", map[string]interface{}{
				"scheduleId": d.ID,
				"owner":      d.Owner,
				"method":     d.Method,
			})
			continue
		}
		m.byID[d.ID] = d
		m.descriptors = append(m.descriptors, d)
	}
	return m
}

// SetupAll submits every auto-start descriptor concurrently and waits for
// all of them to settle. One failure never affects the others.
func (m *Manager) SetupAll(ctx context.Context) SetupSummary {
	var selected []discovery.ScheduleDescriptor
	skipped := 0

	m.mu.RLock()
	for _, d := range m.descriptors {
		switch {
		case !d.AutoStart:
			skipped++
			m.logger.Info("Schedule not auto-started", map[string]interface{}{"scheduleId": d.ID})
		case m.deleted[d.ID]:
			skipped++
		default:
			selected = append(selected, d)
		}
	}
	m.mu.RUnlock()

	summary := m.setupMany(ctx, selected)
	summary.Skipped = skipped

	m.logger.Info("Schedule setup completed", map[string]interface{}{
		"successful": summary.Successful,
		"failed":     summary.Failed,
		"skipped":    summary.Skipped,
	})
	return summary
}

// RetryFailedSetups re-runs setup for auto-start descriptors that have no
// status yet or whose last attempt failed, and re-issues the initial pause
// of startPaused schedules created running. Operator-deleted ids stay deleted.
func (m *Manager) RetryFailedSetups(ctx context.Context) SetupSummary {
	var selected, unpaused []discovery.ScheduleDescriptor

	m.mu.RLock()
	for _, d := range m.descriptors {
		if !d.AutoStart || m.deleted[d.ID] {
			continue
		}
		st, ok := m.statuses[d.ID]
		switch {
		case !ok || !st.IsManaged:
			selected = append(selected, d)
		case pausePending(d, st):
			unpaused = append(unpaused, d)
		}
	}
	m.mu.RUnlock()

	if len(selected) == 0 && len(unpaused) == 0 {
		return SetupSummary{}
	}

	summary := m.setupMany(ctx, selected)
	for _, d := range unpaused {
		if m.reissuePause(ctx, d) {
			summary.Successful++
		} else {
			summary.Failed++
		}
	}
	m.logger.Info("Schedule setup retry completed", map[string]interface{}{
		"retried":    len(selected) + len(unpaused),
		"successful": summary.Successful,
		"failed":     summary.Failed,
	})
	return summary
}

// pausePending reports a startPaused schedule that was created but whose
// initial pause never went through. Operator pause or resume clears it.
func pausePending(d discovery.ScheduleDescriptor, st *Status) bool {
	return d.StartPaused && st.IsActive && st.LastError != "" && st.Reason == ReasonCreated
}

func (m *Manager) reissuePause(ctx context.Context, d discovery.ScheduleDescriptor) bool {
	err := m.call(ctx, "pause", d.ID, func(ctx context.Context) error {
		return m.engine.PauseSchedule(ctx, d.ID, ReasonStartedPaused)
	})

	now := m.now()
	m.mu.Lock()
	if st, ok := m.statuses[d.ID]; ok && pausePending(d, st) {
		if err != nil {
			st.LastError = errors.RootMessage(err)
		} else {
			st.IsActive = false
			st.LastError = ""
			st.Reason = ReasonStartedPaused
		}
		st.LastUpdatedAt = now
	}
	m.mu.Unlock()
	m.publishGauges()

	if err != nil {
		m.logger.Warn("Initial pause still failing", map[string]interface{}{"scheduleId": d.ID, "error": err})
		return false
	}
	m.logger.Info("Initial pause applied", map[string]interface{}{"scheduleId": d.ID})
	return true
}

// SetupSchedule runs setup for one discovered id.
func (m *Manager) SetupSchedule(ctx context.Context, scheduleID string) error {
	m.mu.RLock()
	d, ok := m.byID[scheduleID]
	m.mu.RUnlock()
	if !ok {
		return errors.NewScheduleNotFoundError(scheduleID)
	}
	return m.setup(ctx, d)
}

func (m *Manager) setupMany(ctx context.Context, descriptors []discovery.ScheduleDescriptor) SetupSummary {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		summary SetupSummary
	)
	for _, d := range descriptors {
		wg.Add(1)
		go func(d discovery.ScheduleDescriptor) {
			defer wg.Done()
			err := m.setup(ctx, d)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Failed++
			} else {
				summary.Successful++
			}
		}(d)
	}
	wg.Wait()
	m.publishGauges()
	return summary
}

// setup joins an in-flight setup of the same id or starts one.
func (m *Manager) setup(ctx context.Context, d discovery.ScheduleDescriptor) error {
	ctx = context.WithoutCancel(ctx)
	_, err, _ := m.inflight.Do(d.ID, func() (interface{}, error) {
		return nil, m.doSetup(ctx, d)
	})
	return err
}

func (m *Manager) doSetup(ctx context.Context, d discovery.ScheduleDescriptor) error {
	m.mu.Lock()
	if st, ok := m.statuses[d.ID]; ok && st.IsManaged {
		m.mu.Unlock()
		return nil
	}
	m.pending[d.ID] = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, d.ID)
		m.mu.Unlock()
	}()

	log := m.logger.WithFields(map[string]interface{}{
		"scheduleId":   d.ID,
		"workflowName": d.WorkflowName,
	})

	if err := d.Validate(); err != nil {
		invalid := errors.NewInvalidDescriptorError(d.ID, err.Error())
		m.recordFailure(d.ID, err.Error())
		log.Error("Schedule descriptor invalid", map[string]interface{}{"error": err.Error()})
		metrics.ScheduleSetupTotal.WithLabelValues("invalid").Inc()
		return invalid
	}

	var exists bool
	err := m.call(ctx, "exists", d.ID, func(ctx context.Context) error {
		var err error
		exists, err = m.engine.ScheduleExists(ctx, d.ID)
		return err
	})
	if err != nil {
		return m.setupFailed(log, d.ID, "exists", err)
	}

	if exists {
		m.recordStatus(d.ID, func(s *Status) {
			s.IsManaged = true
			s.IsActive = true
			s.LastError = ""
			s.Reason = ReasonAlreadyExists
		})
		log.Info("Schedule already exists, adopting", nil)
		metrics.ScheduleSetupTotal.WithLabelValues("exists").Inc()
		return nil
	}

	taskQueue := m.TaskQueue(d)
	req := NewCreateRequest(d, taskQueue)
	if err := m.call(ctx, "create", d.ID, func(ctx context.Context) error {
		return m.engine.CreateSchedule(ctx, req)
	}); err != nil {
		return m.setupFailed(log, d.ID, "create", err)
	}

	if d.StartPaused {
		if err := m.call(ctx, "pause", d.ID, func(ctx context.Context) error {
			return m.engine.PauseSchedule(ctx, d.ID, ReasonStartedPaused)
		}); err != nil {
			// Created but still running: managed and active, error kept visible.
			m.recordStatus(d.ID, func(s *Status) {
				s.IsManaged = true
				s.IsActive = true
				s.LastError = errors.RootMessage(err)
				s.Reason = ReasonCreated
			})
			log.Warn("Schedule created but initial pause failed", map[string]interface{}{"error": err})
			metrics.ScheduleSetupTotal.WithLabelValues("created").Inc()
			return nil
		}
		m.recordStatus(d.ID, func(s *Status) {
			s.IsManaged = true
			s.IsActive = false
			s.LastError = ""
			s.Reason = ReasonStartedPaused
		})
	} else {
		m.recordStatus(d.ID, func(s *Status) {
			s.IsManaged = true
			s.IsActive = true
			s.LastError = ""
			s.Reason = ReasonCreated
		})
	}

	log.Info("Schedule created", map[string]interface{}{
		"taskQueue": taskQueue,
		"paused":    d.StartPaused,
	})
	metrics.ScheduleSetupTotal.WithLabelValues("created").Inc()
	return nil
}

func (m *Manager) setupFailed(log logger.Logger, id, op string, err error) error {
	m.recordFailure(id, errors.RootMessage(err))
	log.Error("Schedule setup failed", map[string]interface{}{
		"operation": op,
		"error":     err,
	})
	metrics.ScheduleSetupTotal.WithLabelValues("failed").Inc()
	return errors.NewEngineOperationError(op, id, err)
}

func (m *Manager) recordFailure(id, message string) {
	m.recordStatus(id, func(s *Status) {
		s.IsManaged = false
		s.IsActive = false
		s.LastError = message
		s.Reason = ReasonSetupFailed
	})
}

// recordStatus creates the entry on first use; CreatedAt is never rewritten.
func (m *Manager) recordStatus(id string, update func(*Status)) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[id]
	if !ok {
		st = &Status{ScheduleID: id, CreatedAt: now}
		m.statuses[id] = st
	}
	update(st)
	st.LastUpdatedAt = now
}

// call runs one engine call inside a span and records its duration.
func (m *Manager) call(ctx context.Context, op, id string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "schedule."+op, map[string]string{"schedule_id": id})
	start := time.Now()
	err := fn(ctx)
	m.obs.RecordEngineCall(ctx, op, time.Since(start), err)
	observability.EndSpan(span, err)
	return err
}

// managed fails with the not-managed error unless id was created or confirmed here.
func (m *Manager) managed(id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.statuses[id]; ok && st.IsManaged {
		return nil
	}
	return errors.NewScheduleNotManagedError(id)
}

func (m *Manager) operation(ctx context.Context, op, id string, fn func(context.Context) error) error {
	if err := m.managed(id); err != nil {
		metrics.ScheduleOperationsTotal.WithLabelValues(op, "rejected").Inc()
		return err
	}
	if err := m.call(ctx, op, id, fn); err != nil {
		metrics.ScheduleOperationsTotal.WithLabelValues(op, "failed").Inc()
		m.logger.Error("Schedule operation failed", map[string]interface{}{
			"operation":  op,
			"scheduleId": id,
			"error":      err,
		})
		return errors.NewEngineOperationError(op, id, err)
	}
	metrics.ScheduleOperationsTotal.WithLabelValues(op, "ok").Inc()
	return nil
}

// TriggerSchedule starts the schedule's workflow now.
func (m *Manager) TriggerSchedule(ctx context.Context, scheduleID string) error {
	if err := m.operation(ctx, "trigger", scheduleID, func(ctx context.Context) error {
		return m.engine.TriggerSchedule(ctx, scheduleID)
	}); err != nil {
		return err
	}
	m.logger.Info("Schedule triggered", map[string]interface{}{"scheduleId": scheduleID})
	return nil
}

func (m *Manager) PauseSchedule(ctx context.Context, scheduleID, note string) error {
	if err := m.operation(ctx, "pause", scheduleID, func(ctx context.Context) error {
		return m.engine.PauseSchedule(ctx, scheduleID, note)
	}); err != nil {
		return err
	}
	m.setActive(scheduleID, false, noteOr(note, ReasonPaused))
	m.logger.Info("Schedule paused", map[string]interface{}{"scheduleId": scheduleID, "note": note})
	return nil
}

func (m *Manager) ResumeSchedule(ctx context.Context, scheduleID, note string) error {
	if err := m.operation(ctx, "resume", scheduleID, func(ctx context.Context) error {
		return m.engine.ResumeSchedule(ctx, scheduleID, note)
	}); err != nil {
		return err
	}
	m.setActive(scheduleID, true, noteOr(note, ReasonResumed))
	m.logger.Info("Schedule resumed", map[string]interface{}{"scheduleId": scheduleID, "note": note})
	return nil
}

// DeleteSchedule removes a managed schedule from the engine. force must be
// true; otherwise nothing happens.
func (m *Manager) DeleteSchedule(ctx context.Context, scheduleID string, force bool) error {
	if err := m.managed(scheduleID); err != nil {
		metrics.ScheduleOperationsTotal.WithLabelValues("delete", "rejected").Inc()
		return err
	}
	if !force {
		metrics.ScheduleOperationsTotal.WithLabelValues("delete", "rejected").Inc()
		return errors.NewDeleteNotConfirmedError(scheduleID)
	}
	if err := m.operation(ctx, "delete", scheduleID, func(ctx context.Context) error {
		return m.engine.DeleteSchedule(ctx, scheduleID)
	}); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.statuses, scheduleID)
	m.deleted[scheduleID] = true
	m.mu.Unlock()
	m.publishGauges()

	m.logger.Warn("Schedule deleted", map[string]interface{}{"scheduleId": scheduleID})
	return nil
}

func (m *Manager) setActive(id string, active bool, reason string) {
	now := m.now()
	m.mu.Lock()
	if st, ok := m.statuses[id]; ok {
		st.IsActive = active
		st.LastError = ""
		st.Reason = reason
		st.LastUpdatedAt = now
	}
	m.mu.Unlock()
	m.publishGauges()
}

func noteOr(note, def string) string {
	if note != "" {
		return note
	}
	return def
}

// ScheduleStatus returns a copy of the status for id.
func (m *Manager) ScheduleStatus(scheduleID string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.statuses[scheduleID]
	if !ok {
		return Status{}, false
	}
	return *st, true
}

// State reports the lifecycle state of id, including in-flight setups.
func (m *Manager) State(scheduleID string) State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.pending[scheduleID] {
		return StateSettingUp
	}
	st, ok := m.statuses[scheduleID]
	if !ok {
		return StateUnknown
	}
	return st.State()
}

// Statuses returns every status entry sorted by id.
func (m *Manager) Statuses() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduleID < out[j].ScheduleID })
	return out
}

// ManagedSchedules returns the statuses of schedules this process created
// or confirmed.
func (m *Manager) ManagedSchedules() []Status {
	all := m.Statuses()
	out := all[:0]
	for _, st := range all {
		if st.IsManaged {
			out = append(out, st)
		}
	}
	return out
}

// Descriptors returns the discovered descriptors in source order.
func (m *Manager) Descriptors() []discovery.ScheduleDescriptor {
	return append([]discovery.ScheduleDescriptor(nil), m.descriptors...)
}

// TaskQueue is the queue d is created on.
func (m *Manager) TaskQueue(d discovery.ScheduleDescriptor) string {
	return d.ResolveTaskQueue(m.defaultTaskQueue)
}

// Descriptor returns the discovered descriptor for id.
func (m *Manager) Descriptor(scheduleID string) (discovery.ScheduleDescriptor, bool) {
	d, ok := m.byID[scheduleID]
	return d, ok
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{Total: len(m.statuses)}
	for _, st := range m.statuses {
		if st.IsActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
		if st.LastError != "" {
			stats.Errors++
		}
	}
	return stats
}

func (m *Manager) HealthStatus() HealthReport {
	stats := m.Stats()
	return HealthReport{
		Status: health.ForSchedules(stats.Total, stats.Errors),
		Stats:  stats,
	}
}

// View is the manager's input to health aggregation.
func (m *Manager) View() health.ScheduleView {
	s := m.Stats()
	return health.ScheduleView{Total: s.Total, Active: s.Active, Inactive: s.Inactive, Errors: s.Errors}
}

func (m *Manager) publishGauges() {
	s := m.Stats()
	metrics.SetScheduleGauges(s.Active, s.Inactive, s.Errors)
}
