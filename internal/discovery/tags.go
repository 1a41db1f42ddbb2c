package discovery

import (
	"fmt"
	"strconv"
	"strings"
)

// TagKind names one kind of declaration a TagReader can find.
type TagKind string

const (
	// TagActivities marks a component type as a holder of activities.
	TagActivities TagKind = "activities"
	// TagActivity marks one method as an activity.
	TagActivity TagKind = "activity"
	// TagSchedule marks one method as a scheduled workflow starter.
	TagSchedule TagKind = "schedule"
)

// Activities is the class-level marker. Embed it as a blank field:
//
//	type Reports struct {
//		_ discovery.Activities `activity:"taskQueue=reports"`
//	}
type Activities struct{}

// Method is the method-level marker. One blank field per tagged method:
//
//	_ discovery.Method `method:"Generate" activity:"name=generate-report" schedule:"id=daily-report;cron=0 0 * * *"`
type Method struct{}

// Tag is a parsed declaration: key=value pairs separated by ';'.
// Bare keys read as "true". List values are separated by '|'.
type Tag map[string]string

// ParseTag parses "key=value;key=value". An empty value yields an empty Tag.
func ParseTag(raw string) (Tag, error) {
	tag := Tag{}
	for _, seg := range strings.Split(raw, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		key, value, found := strings.Cut(seg, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("empty key in segment %q", seg)
		}
		if !found {
			value = "true"
		}
		if _, dup := tag[key]; dup {
			return nil, fmt.Errorf("key %q declared twice", key)
		}
		tag[key] = strings.TrimSpace(value)
	}
	return tag, nil
}

// String returns the value for key, or def when absent or empty.
func (t Tag) String(key, def string) string {
	if v := t[key]; v != "" {
		return v
	}
	return def
}

// Bool parses the value for key, returning def when absent.
func (t Tag) Bool(key string, def bool) (bool, error) {
	v, ok := t[key]
	if !ok || v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %q is not a boolean", key, v)
	}
	return b, nil
}

// List splits the value for key on '|', dropping empty items.
func (t Tag) List(key string) []string {
	v := t[key]
	if v == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, "|") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Without returns a copy of t minus the given keys.
func (t Tag) Without(keys ...string) map[string]string {
	out := make(map[string]string, len(t))
	for k, v := range t {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}
