// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"time"

	"camunda-discovery/internal/discovery"

	"github.com/xeipuuv/gojsonschema"
)

// Build assembles a catalog from discovered descriptors. Schedules carry
// the task queue they will be created on.
func Build(version string, activities []discovery.ActivityDescriptor, schedules []discovery.ScheduleDescriptor, defaultTaskQueue string, now time.Time) *Catalog {
	c := &Catalog{
		Version:     version,
		LastUpdated: now.UTC().Format(time.RFC3339),
		Activities:  make([]Activity, 0, len(activities)),
		Schedules:   make([]Schedule, 0, len(schedules)),
	}
	for _, a := range activities {
		c.Activities = append(c.Activities, Activity{
			ID:       a.Name,
			TaskType: a.Name,
			Owner:    a.Owner,
			Method:   a.Method,
			Options:  a.Options,
		})
	}
	for _, s := range schedules {
		overlap := s.OverlapPolicy
		if overlap == "" {
			overlap = discovery.OverlapAllow
		}
		c.Schedules = append(c.Schedules, Schedule{
			ID:            s.ID,
			WorkflowName:  s.WorkflowName,
			Cron:          s.Cron,
			Intervals:     s.Intervals,
			TaskQueue:     s.ResolveTaskQueue(defaultTaskQueue),
			AutoStart:     s.AutoStart,
			StartPaused:   s.StartPaused,
			OverlapPolicy: overlap,
			Description:   s.Description,
			Timezone:      s.Timezone,
			Owner:         s.Owner,
			Method:        s.Method,
		})
	}
	return c
}

func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse validates data against the catalog schema before decoding it.
func Parse(data []byte) (*Catalog, error) {
	if err := validateDocument(gojsonschema.NewBytesLoader(data)); err != nil {
		return nil, err
	}
	var c Catalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks c against the catalog schema and rejects duplicate ids.
func Validate(c *Catalog) error {
	if err := validateDocument(gojsonschema.NewGoLoader(c)); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for _, a := range c.Activities {
		if seen[a.ID] {
			return fmt.Errorf("duplicate activity ID: %s", a.ID)
		}
		seen[a.ID] = true
	}
	seen = make(map[string]bool)
	for _, s := range c.Schedules {
		if seen[s.ID] {
			return fmt.Errorf("duplicate schedule ID: %s", s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}

func validateDocument(doc gojsonschema.JSONLoader) error {
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(catalogSchema), doc)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("catalog validation failed: %v", errs)
	}
	return nil
}

// Save writes c as indented JSON, creating the directory if needed.
func Save(c *Catalog, path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog file: %w", err)
	}
	return nil
}

// Diff lists ids that were added, removed or changed between two catalogs.
type Diff struct {
	AddedActivities   []string `json:"addedActivities,omitempty"`
	RemovedActivities []string `json:"removedActivities,omitempty"`
	ChangedActivities []string `json:"changedActivities,omitempty"`
	AddedSchedules    []string `json:"addedSchedules,omitempty"`
	RemovedSchedules  []string `json:"removedSchedules,omitempty"`
	ChangedSchedules  []string `json:"changedSchedules,omitempty"`
}

func (d Diff) Empty() bool {
	return len(d.AddedActivities)+len(d.RemovedActivities)+len(d.ChangedActivities)+
		len(d.AddedSchedules)+len(d.RemovedSchedules)+len(d.ChangedSchedules) == 0
}

func Compare(old, new *Catalog) Diff {
	var d Diff

	oldActs := make(map[string]Activity, len(old.Activities))
	for _, a := range old.Activities {
		oldActs[a.ID] = a
	}
	for _, a := range new.Activities {
		prev, ok := oldActs[a.ID]
		switch {
		case !ok:
			d.AddedActivities = append(d.AddedActivities, a.ID)
		case !reflect.DeepEqual(prev, a):
			d.ChangedActivities = append(d.ChangedActivities, a.ID)
		}
		delete(oldActs, a.ID)
	}
	for id := range oldActs {
		d.RemovedActivities = append(d.RemovedActivities, id)
	}

	oldScheds := make(map[string]Schedule, len(old.Schedules))
	for _, s := range old.Schedules {
		oldScheds[s.ID] = s
	}
	for _, s := range new.Schedules {
		prev, ok := oldScheds[s.ID]
		switch {
		case !ok:
			d.AddedSchedules = append(d.AddedSchedules, s.ID)
		case !reflect.DeepEqual(prev, s):
			d.ChangedSchedules = append(d.ChangedSchedules, s.ID)
		}
		delete(oldScheds, s.ID)
	}
	for id := range oldScheds {
		d.RemovedSchedules = append(d.RemovedSchedules, id)
	}

	sort.Strings(d.RemovedActivities)
	sort.Strings(d.RemovedSchedules)
	return d
}
