// pkg/registry/schema.go
package registry

import _ "embed"

// Catalog is the published list of discovered activities and schedules.
type Catalog struct {
	Version     string     `json:"version"`
	LastUpdated string     `json:"lastUpdated"`
	Activities  []Activity `json:"activities"`
	Schedules   []Schedule `json:"schedules"`
}

type Activity struct {
	ID       string            `json:"id"`
	TaskType string            `json:"taskType"`
	Owner    string            `json:"owner"`
	Method   string            `json:"method"`
	Options  map[string]string `json:"options,omitempty"`
}

type Schedule struct {
	ID            string   `json:"id"`
	WorkflowName  string   `json:"workflowName"`
	Cron          []string `json:"cron,omitempty"`
	Intervals     []string `json:"intervals,omitempty"`
	TaskQueue     string   `json:"taskQueue"`
	AutoStart     bool     `json:"autoStart"`
	StartPaused   bool     `json:"startPaused"`
	OverlapPolicy string   `json:"overlapPolicy"`
	Description   string   `json:"description,omitempty"`
	Timezone      string   `json:"timezone,omitempty"`
	Owner         string   `json:"owner"`
	Method        string   `json:"method"`
}

//go:embed catalog.schema.json
var catalogSchema []byte
