// cmd/tools/worker-generator/main.go
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"camunda-discovery/internal/common/validation"
	"camunda-discovery/internal/discovery"
)

// ComponentData holds data for templates
type ComponentData struct {
	PackageName string
	TypeName    string
	Activity    string
	Method      string
	TaskQueue   string
	Schedule    *ScheduleData
}

type ScheduleData struct {
	ID          string
	Workflow    string
	Cron        []string
	Intervals   []string
	Overlap     string
	StartPaused bool
}

// Tag renders the schedule struct tag body.
func (s *ScheduleData) Tag() string {
	parts := []string{"id=" + s.ID, "workflow=" + s.Workflow}
	if len(s.Cron) > 0 {
		parts = append(parts, "cron="+strings.Join(s.Cron, "|"))
	}
	if len(s.Intervals) > 0 {
		parts = append(parts, "interval="+strings.Join(s.Intervals, "|"))
	}
	if s.Overlap != "" && s.Overlap != discovery.OverlapAllow {
		parts = append(parts, "overlap="+s.Overlap)
	}
	if s.StartPaused {
		parts = append(parts, "startPaused=true")
	}
	return strings.Join(parts, ";")
}

// upperCamel turns "send-invoice" into "SendInvoice".
func upperCamel(s string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == '_' || r == '.' || r == ' ' }) {
		b.WriteString(strings.ToUpper(part[:1]) + part[1:])
	}
	return b.String()
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

const componentTemplate = `package {{ .PackageName }}

import (
	"context"

	"camunda-discovery/internal/common/errors"
	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/discovery"
)

type {{ .TypeName }} struct {
	_ discovery.Activities ` + "`" + `activity:"{{ if .TaskQueue }}taskQueue={{ .TaskQueue }}{{ end }}"` + "`" + `
	_ discovery.Method     ` + "`" + `method:"{{ .Method }}" activity:"name={{ .Activity }}"{{ if .Schedule }} schedule:"{{ .Schedule.Tag }}"{{ end }}` + "`" + `

	logger logger.Logger
}

func New{{ .TypeName }}(log logger.Logger) *{{ .TypeName }} {
	return &{{ .TypeName }}{logger: log.Named("{{ .PackageName }}")}
}

func (c *{{ .TypeName }}) {{ .Method }}(ctx context.Context, input Input) (Output, error) {
	if err := input.Validate(); err != nil {
		return Output{}, errors.NewActivityInputInvalidError("{{ .Activity }}", err)
	}

	// TODO: implement {{ .Activity }}
	c.logger.Info("{{ .Method }} executed", map[string]interface{}{"scheduleId": input.ScheduleID})
	return Output{Success: true}, nil
}
`

const modelsTemplate = `package {{ .PackageName }}

// Input is decoded from the job variables.
type Input struct {
	ScheduleID string ` + "`" + `json:"scheduleId,omitempty"` + "`" + `
}

func (i Input) Validate() error {
	return nil
}

type Output struct {
	Success bool ` + "`" + `json:"success"` + "`" + `
}
`

const testTemplate = `package {{ .PackageName }}

import (
	"context"
	"testing"

	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/discovery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test{{ .TypeName }}_{{ .Method }}(t *testing.T) {
	c := New{{ .TypeName }}(logger.NewTestLogger(t))

	out, err := c.{{ .Method }}(context.Background(), Input{})
	require.NoError(t, err)
	assert.True(t, out.Success)
}

func Test{{ .TypeName }}_Declarations(t *testing.T) {
	res, err := discovery.NewExtractor(discovery.NewStructTagReader(), logger.NewNoOpLogger()).Extract(New{{ .TypeName }}(logger.NewNoOpLogger()), nil)
	require.NoError(t, err)
	require.Len(t, res.Activities, 1)
	assert.Equal(t, "{{ .Activity }}", res.Activities[0].Name)
{{- if .Schedule }}
	require.Len(t, res.Schedules, 1)
	assert.Equal(t, "{{ .Schedule.ID }}", res.Schedules[0].ID)
	assert.NoError(t, res.Schedules[0].Validate())
{{- end }}
}
`

var templates = map[string]string{
	"component.go":      componentTemplate,
	"models.go":         modelsTemplate,
	"component_test.go": testTemplate,
}

// generate renders every template into dir and returns the written paths.
func generate(data ComponentData, dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("error creating directory: %w", err)
	}

	names := make([]string, 0, len(templates))
	for name := range templates {
		names = append(names, name)
	}
	sort.Strings(names)

	var written []string
	for _, filename := range names {
		tmpl, err := template.New(filename).Parse(templates[filename])
		if err != nil {
			return written, fmt.Errorf("error parsing template %s: %w", filename, err)
		}

		filePath := filepath.Join(dir, filename)
		if _, err := os.Stat(filePath); err == nil {
			return written, fmt.Errorf("%s already exists", filePath)
		}
		file, err := os.Create(filePath)
		if err != nil {
			return written, fmt.Errorf("error creating file %s: %w", filePath, err)
		}
		err = tmpl.Execute(file, data)
		file.Close()
		if err != nil {
			return written, fmt.Errorf("error executing template for %s: %w", filename, err)
		}
		written = append(written, filePath)
	}
	return written, nil
}

// buildData validates the flags and derives defaults.
func buildData(pkg, activity, method, taskQueue, scheduleID, workflow, cronExprs, intervals, overlap string, startPaused bool) (ComponentData, error) {
	if pkg == "" || activity == "" {
		return ComponentData{}, fmt.Errorf("package and activity are required")
	}
	if err := validation.ValidateName("activity", activity); err != nil {
		return ComponentData{}, err
	}
	if method == "" {
		method = upperCamel(activity)
	}

	data := ComponentData{
		PackageName: strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(pkg)),
		TypeName:    upperCamel(pkg),
		Activity:    activity,
		Method:      method,
		TaskQueue:   taskQueue,
	}

	if cronExprs == "" && intervals == "" {
		return data, nil
	}
	if scheduleID == "" {
		scheduleID = activity
	}
	if workflow == "" {
		workflow = method
	}
	sched := &ScheduleData{
		ID:          scheduleID,
		Workflow:    workflow,
		Cron:        splitList(cronExprs),
		Intervals:   splitList(intervals),
		Overlap:     overlap,
		StartPaused: startPaused,
	}
	if err := validation.ValidateName("schedule id", sched.ID); err != nil {
		return ComponentData{}, err
	}
	if res := validation.ValidateTrigger(validation.Trigger{Cron: sched.Cron, Intervals: sched.Intervals}); !res.Valid {
		return ComponentData{}, fmt.Errorf("schedule %s: %s", sched.ID, res.Error())
	}
	data.Schedule = sched
	return data, nil
}

func main() {
	pkg := flag.String("package", "", "Component package name (e.g., billing)")
	activity := flag.String("activity", "", "Activity name / Zeebe job type (e.g., send-invoice)")
	method := flag.String("method", "", "Go method name (default: activity in UpperCamelCase)")
	taskQueue := flag.String("task-queue", "", "Component task queue")
	scheduleID := flag.String("schedule-id", "", "Schedule id (default: activity name)")
	workflow := flag.String("workflow", "", "BPMN process id started by the schedule (default: method name)")
	cronExprs := flag.String("cron", "", "Comma-separated cron expressions")
	intervals := flag.String("interval", "", "Comma-separated intervals (e.g., 1h or 01:30)")
	overlap := flag.String("overlap", discovery.OverlapAllow, "Overlap policy (allow, skip)")
	startPaused := flag.Bool("start-paused", false, "Create the schedule paused")
	outputDir := flag.String("output", "./internal/workers/", "Output directory for the generated component")
	flag.Parse()

	data, err := buildData(*pkg, *activity, *method, *taskQueue, *scheduleID, *workflow, *cronExprs, *intervals, *overlap, *startPaused)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		fmt.Println("Usage: worker-generator -package <name> -activity <name> [-cron <expr>] [-interval <d>] [-output <dir>]")
		fmt.Println("\nExample:")
		fmt.Println("  go run ./cmd/tools/worker-generator -package billing -activity send-invoice -cron '0 6 1 * *' -task-queue billing")
		os.Exit(1)
	}

	dir := filepath.Join(*outputDir, data.PackageName)
	written, err := generate(data, dir)
	for _, path := range written {
		fmt.Printf("Generated %s\n", path)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nComponent scaffold generated at: %s\n", dir)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  1. Implement %s in component.go\n", data.Method)
	fmt.Printf("  2. Add the component to discovery.Components in cmd/worker-manager/main.go\n")
	fmt.Printf("  3. Add a workers.%s section to configs/config.yaml\n", data.Activity)
}
