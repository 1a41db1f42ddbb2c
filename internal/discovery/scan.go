package discovery

import (
	"fmt"
	"reflect"

	"camunda-discovery/internal/common/errors"
)

// Component is one already-constructed application object. A nil Type
// means the dynamic type of Instance.
type Component struct {
	Instance any
	Type     reflect.Type
}

// ComponentSource supplies the components to scan.
type ComponentSource interface {
	ListComponents() ([]Component, error)
}

// StaticSource is a fixed component list.
type StaticSource []Component

func (s StaticSource) ListComponents() ([]Component, error) {
	return append([]Component(nil), s...), nil
}

// Components builds a StaticSource from instances, in order.
func Components(instances ...any) StaticSource {
	out := make(StaticSource, 0, len(instances))
	for _, inst := range instances {
		out = append(out, Component{Instance: inst})
	}
	return out
}

// ScanResult is the output of one discovery pass, in source order.
type ScanResult struct {
	Activities []ActivityDescriptor
	Schedules  []ScheduleDescriptor
	Warnings   []string
	// Scanned holds the type ids that were extracted.
	Scanned []string
	// MissingAllowed holds allow-list entries no component matched.
	MissingAllowed []string
	// Skipped counts components outside the allow-list.
	Skipped int
}

// Scan walks source once. A failing source aborts the pass; everything
// else is recorded as warnings. A non-empty allowList restricts extraction
// to matching types (full type id or bare type name).
func Scan(source ComponentSource, extractor *Extractor, allowList []string) (*ScanResult, error) {
	components, err := source.ListComponents()
	if err != nil {
		return nil, errors.NewComponentSourceFailedError(err)
	}

	allowed := make(map[string]bool, len(allowList))
	for _, a := range allowList {
		allowed[a] = false
	}

	result := &ScanResult{}
	for i, c := range components {
		t := c.Type
		if t == nil && c.Instance != nil {
			t = reflect.TypeOf(c.Instance)
		}
		id := TypeID(t)

		if len(allowed) > 0 {
			key, ok := allowKey(allowed, id, t)
			if !ok {
				result.Skipped++
				continue
			}
			allowed[key] = true
		}

		ext, err := extractor.Extract(c.Instance, t)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("component #%d (%s): %v", i, id, err))
			continue
		}
		result.Scanned = append(result.Scanned, id)
		result.Activities = append(result.Activities, ext.Activities...)
		result.Schedules = append(result.Schedules, ext.Schedules...)
		result.Warnings = append(result.Warnings, ext.Warnings...)
	}

	for _, a := range allowList {
		if !allowed[a] {
			result.MissingAllowed = append(result.MissingAllowed, a)
		}
	}
	return result, nil
}

func allowKey(allowed map[string]bool, id string, t reflect.Type) (string, bool) {
	if _, ok := allowed[id]; ok {
		return id, true
	}
	if t != nil {
		name := ownerName(t)
		if _, ok := allowed[name]; ok {
			return name, true
		}
	}
	return "", false
}
