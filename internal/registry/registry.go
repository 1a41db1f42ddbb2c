// Package registry holds discovered activities by name.
package registry

import (
	"fmt"
	"strings"
	"sync"

	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/common/metrics"
	"camunda-discovery/internal/discovery"
	"camunda-discovery/internal/health"
)

type State int

const (
	StateUninitialized State = iota
	StatePopulated
	StateCleared
)

func (s State) String() string {
	switch s {
	case StatePopulated:
		return "populated"
	case StateCleared:
		return "cleared"
	default:
		return "uninitialized"
	}
}

// ValidationReport lists structural issues (which make IsValid false) and
// advisory warnings (which never do).
type ValidationReport struct {
	IsValid  bool     `json:"isValid"`
	Issues   []string `json:"issues"`
	Warnings []string `json:"warnings"`
}

type Stats struct {
	TotalActivities   int            `json:"totalActivities"`
	Components        int            `json:"components"`
	ActivitiesByOwner map[string]int `json:"activitiesByOwner"`
	DuplicateNames    int            `json:"duplicateNames"`
	Schedules         int            `json:"schedules"`
	Warnings          int            `json:"warnings"`
}

// Registry maps activity names to descriptors. It is populated once from
// a discovery pass and is read-only afterwards.
type Registry struct {
	mu     sync.RWMutex
	logger logger.Logger

	state      State
	activities map[string]discovery.ActivityDescriptor
	order      []string
	owners     map[string]int
	components int
	schedules  int
	issues     []string
	warnings   []string
	duplicates int
}

func New(log logger.Logger) *Registry {
	return &Registry{
		logger: log,
		state:  StateUninitialized,
	}
}

// Populate registers every activity from scan in source order. The first
// registration of a name wins lookups; each duplicated name (activity or
// schedule id) is reported once in Validate.
func (r *Registry) Populate(scan *discovery.ScanResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case StatePopulated:
		return errors.NewAlreadyPopulatedError()
	case StateCleared:
		return errors.NewClearedError("populate")
	}

	r.activities = make(map[string]discovery.ActivityDescriptor, len(scan.Activities))
	r.owners = make(map[string]int)
	r.order = r.order[:0]
	r.issues = nil
	r.warnings = nil
	r.duplicates = 0

	declaredBy := make(map[string][]string)
	for _, act := range scan.Activities {
		where := act.Owner + "." + act.Method
		declaredBy[act.Name] = append(declaredBy[act.Name], where)
		if _, exists := r.activities[act.Name]; exists {
			continue
		}
		r.activities[act.Name] = act
		r.order = append(r.order, act.Name)
		r.owners[act.Owner]++
	}
	for _, name := range r.order {
		if sites := declaredBy[name]; len(sites) > 1 {
			r.duplicates++
			r.issues = append(r.issues, fmt.Sprintf(
				"duplicate activity name %q declared by %s", name, strings.Join(sites, ", ")))
		}
	}

	scheduleSites := make(map[string][]string)
	var scheduleOrder []string
	for _, s := range scan.Schedules {
		if _, seen := scheduleSites[s.ID]; !seen {
			scheduleOrder = append(scheduleOrder, s.ID)
		}
		scheduleSites[s.ID] = append(scheduleSites[s.ID], s.Owner+"."+s.Method)
	}
	for _, id := range scheduleOrder {
		if sites := scheduleSites[id]; len(sites) > 1 {
			r.issues = append(r.issues, fmt.Sprintf(
				"duplicate schedule id %q declared by %s", id, strings.Join(sites, ", ")))
		}
	}

	if len(r.activities) == 0 {
		r.warnings = append(r.warnings, "no activities discovered")
	}
	for _, missing := range scan.MissingAllowed {
		r.warnings = append(r.warnings, fmt.Sprintf("allow-listed component %q was never found", missing))
	}
	r.warnings = append(r.warnings, scan.Warnings...)

	r.components = len(scan.Scanned)
	r.schedules = len(scheduleOrder)
	r.state = StatePopulated
	metrics.RegisteredActivities.Set(float64(len(r.activities)))

	r.logger.Info("Component registry populated", map[string]interface{}{
		"activities": len(r.activities),
		"components": r.components,
		"schedules":  r.schedules,
		"issues":     len(r.issues),
		"warnings":   len(r.warnings),
	})
	for _, issue := range r.issues {
		r.logger.Error("Registry validation issue", map[string]interface{}{"issue": issue})
	}
	return nil
}

// check must be called with r.mu held.
func (r *Registry) check(op string) error {
	switch r.state {
	case StateUninitialized:
		return errors.NewNotInitializedError(op)
	case StateCleared:
		return errors.NewClearedError(op)
	}
	return nil
}

func (r *Registry) Get(name string) (discovery.ActivityDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("get"); err != nil {
		return discovery.ActivityDescriptor{}, err
	}
	act, ok := r.activities[name]
	if !ok {
		return discovery.ActivityDescriptor{}, errors.NewActivityNotFoundError(name)
	}
	return act, nil
}

func (r *Registry) Has(name string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("has"); err != nil {
		return false, err
	}
	_, ok := r.activities[name]
	return ok, nil
}

// Names returns activity names in registration order.
func (r *Registry) Names() ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("names"); err != nil {
		return nil, err
	}
	return append([]string(nil), r.order...), nil
}

// Activities returns the registered descriptors in registration order.
func (r *Registry) Activities() ([]discovery.ActivityDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("activities"); err != nil {
		return nil, err
	}
	out := make([]discovery.ActivityDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.activities[name])
	}
	return out, nil
}

func (r *Registry) Stats() (Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("stats"); err != nil {
		return Stats{}, err
	}
	owners := make(map[string]int, len(r.owners))
	for k, v := range r.owners {
		owners[k] = v
	}
	return Stats{
		TotalActivities:   len(r.activities),
		Components:        r.components,
		ActivitiesByOwner: owners,
		DuplicateNames:    r.duplicates,
		Schedules:         r.schedules,
		Warnings:          len(r.warnings),
	}, nil
}

func (r *Registry) Validate() (ValidationReport, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.check("validate"); err != nil {
		return ValidationReport{}, err
	}
	return ValidationReport{
		IsValid:  len(r.issues) == 0,
		Issues:   append([]string{}, r.issues...),
		Warnings: append([]string{}, r.warnings...),
	}, nil
}

// View is the registry's input to health aggregation. Unlike the other
// accessors it never fails; an unpopulated registry reports Initialized=false.
func (r *Registry) View() health.RegistryView {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StatePopulated {
		return health.RegistryView{}
	}
	return health.RegistryView{
		Initialized:     true,
		IsValid:         len(r.issues) == 0,
		Issues:          append([]string(nil), r.issues...),
		Warnings:        append([]string(nil), r.warnings...),
		TotalActivities: len(r.activities),
	}
}

// HealthStatus is registry-only health.
func (r *Registry) HealthStatus() (health.Status, error) {
	r.mu.RLock()
	err := r.check("health")
	r.mu.RUnlock()
	if err != nil {
		return health.Unhealthy, err
	}
	return health.ForRegistry(r.View()), nil
}

// Clear drops every registration; all accessors fail afterwards.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = nil
	r.order = nil
	r.owners = nil
	r.issues = nil
	r.warnings = nil
	r.state = StateCleared
	metrics.RegisteredActivities.Set(0)
	r.logger.Info("Component registry cleared", nil)
}

func (r *Registry) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

