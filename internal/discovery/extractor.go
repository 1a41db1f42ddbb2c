package discovery

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"camunda-discovery/internal/common/logger"
	"camunda-discovery/internal/common/validation"
)

// Extraction is everything one component contributes.
type Extraction struct {
	Owner              string
	ComponentTaskQueue string
	Activities         []ActivityDescriptor
	Schedules          []ScheduleDescriptor
	Warnings           []string
}

type activityMeta struct {
	name    string
	method  string
	options map[string]string
}

// typeMeta is the per-type, instance-independent part of an extraction.
type typeMeta struct {
	owner              string
	componentTaskQueue string
	activityDefaults   map[string]string
	activities         []activityMeta
	schedules          []ScheduleDescriptor
	warnings           []string
}

// Extractor turns tagged component types into descriptors. Metadata is
// cached per type id for the life of the process; handlers are bound per
// instance.
type Extractor struct {
	reader TagReader
	logger logger.Logger

	mu    sync.RWMutex
	cache map[string]*typeMeta
}

func NewExtractor(reader TagReader, log logger.Logger) *Extractor {
	return &Extractor{
		reader: reader,
		logger: log,
		cache:  make(map[string]*typeMeta),
	}
}

// TypeID is the stable cache key for t: "pkgpath.Name" of the underlying
// struct, or t.String() for unnamed types.
func TypeID(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	base := t
	for base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	if base.Name() == "" || base.PkgPath() == "" {
		return t.String()
	}
	return base.PkgPath() + "." + base.Name()
}

// Extract produces descriptors for instance. declaredType may be nil or an
// interface type, in which case the dynamic type of instance is used.
// Problems are returned in Warnings; the error is reserved for unusable
// input.
func (e *Extractor) Extract(instance any, declaredType reflect.Type) (*Extraction, error) {
	if instance == nil {
		return nil, fmt.Errorf("nil component instance")
	}
	if declaredType != nil && declaredType.Kind() == reflect.Interface {
		e.logger.Debug("Declared type is an interface, using instance type", map[string]interface{}{
			"declared": declaredType.String(),
			"instance": reflect.TypeOf(instance).String(),
		})
		declaredType = nil
	}
	if declaredType == nil {
		declaredType = reflect.TypeOf(instance)
	}

	meta := e.metadata(declaredType)

	out := &Extraction{
		Owner:              meta.owner,
		ComponentTaskQueue: meta.componentTaskQueue,
		Warnings:           append([]string(nil), meta.warnings...),
	}

	value := reflect.ValueOf(instance)
	for _, am := range meta.activities {
		fn := value.MethodByName(am.method)
		if !fn.IsValid() {
			out.Warnings = append(out.Warnings, fmt.Sprintf(
				"%s.%s: method not callable on %s instance (pointer receiver on a value?)",
				meta.owner, am.method, value.Type()))
			continue
		}
		out.Activities = append(out.Activities, ActivityDescriptor{
			Name:    am.name,
			Owner:   meta.owner,
			Method:  am.method,
			Handler: bindHandler(am.name, fn),
			Options: copyOptions(am.options),
		})
	}

	for _, sd := range meta.schedules {
		sd.Cron = append([]string(nil), sd.Cron...)
		sd.Intervals = append([]string(nil), sd.Intervals...)
		sd.Args = append([]any(nil), sd.Args...)
		out.Schedules = append(out.Schedules, sd)
	}

	return out, nil
}

func (e *Extractor) metadata(t reflect.Type) *typeMeta {
	id := TypeID(t)

	e.mu.RLock()
	meta, ok := e.cache[id]
	e.mu.RUnlock()
	if ok {
		return meta
	}

	meta = e.inspect(t)

	e.mu.Lock()
	if cached, ok := e.cache[id]; ok {
		meta = cached
	} else {
		e.cache[id] = meta
	}
	e.mu.Unlock()
	return meta
}

func (e *Extractor) inspect(t reflect.Type) *typeMeta {
	meta := &typeMeta{owner: ownerName(t)}

	isActivityClass := false
	if err := guard(func() error {
		has, err := e.reader.HasTag(TagActivities, t)
		if err != nil {
			return err
		}
		isActivityClass = has
		if !has {
			return nil
		}
		classTag, err := e.reader.ReadTag(TagActivities, t, "")
		if err != nil {
			return err
		}
		meta.componentTaskQueue = classTag.String("taskQueue", "")
		meta.activityDefaults = classTag.Without("taskQueue")
		return nil
	}); err != nil {
		meta.warn("%s: reading class tag: %v", meta.owner, err)
	}

	methods := methodNames(t)
	known := make(map[string]bool, len(methods))
	for _, name := range methods {
		known[name] = true
	}

	if lister, ok := e.reader.(MemberLister); ok {
		if err := guard(func() error {
			members, err := lister.TaggedMembers(t)
			if err != nil {
				return err
			}
			for _, m := range members {
				if !known[m] {
					meta.warn("%s: tag references unknown method %q", meta.owner, m)
				}
			}
			return nil
		}); err != nil {
			meta.warn("%s: listing tagged members: %v", meta.owner, err)
		}
	}

	for _, name := range methods {
		method := name
		if err := guard(func() error { return e.inspectMember(t, method, isActivityClass, meta) }); err != nil {
			meta.warn("%s.%s: %v", meta.owner, method, err)
		}
	}

	if isActivityClass && len(meta.activities) == 0 {
		meta.warn("%s: tagged as activities but has zero activity methods", meta.owner)
	}

	for _, w := range meta.warnings {
		e.logger.Warn("Discovery warning", map[string]interface{}{
			"component": meta.owner,
			"warning":   w,
		})
	}
	return meta
}

func (e *Extractor) inspectMember(t reflect.Type, method string, isActivityClass bool, meta *typeMeta) error {
	ptrType := t
	if ptrType.Kind() != reflect.Ptr {
		ptrType = reflect.PointerTo(t)
	}
	m, _ := ptrType.MethodByName(method)

	actTag, err := e.reader.ReadTag(TagActivity, t, method)
	if err != nil {
		return fmt.Errorf("activity tag: %w", err)
	}
	if actTag != nil {
		switch {
		case !isActivityClass:
			meta.warn("%s.%s: activity tag ignored, type is not tagged as activities", meta.owner, method)
		default:
			if err := checkSignature(m.Type); err != nil {
				return fmt.Errorf("activity signature: %w", err)
			}
			name := actTag.String("name", method)
			if err := validation.ValidateName("activity name", name); err != nil {
				return err
			}
			meta.addActivity(activityMeta{
				name:    name,
				method:  method,
				options: actTag.Without("name"),
			})
		}
	}

	schedTag, err := e.reader.ReadTag(TagSchedule, t, method)
	if err != nil {
		return fmt.Errorf("schedule tag: %w", err)
	}
	if schedTag == nil {
		return nil
	}
	sd, err := scheduleFromTag(schedTag, meta, method)
	if err != nil {
		return fmt.Errorf("schedule tag: %w", err)
	}
	if verr := sd.Validate(); verr != nil {
		// Kept: the lifecycle manager records it as a failed setup.
		meta.warn("%s.%s: %v", meta.owner, method, verr)
	}
	meta.schedules = append(meta.schedules, sd)
	return nil
}

// addActivity layers the method's options over the class-level defaults.
func (m *typeMeta) addActivity(am activityMeta) {
	merged := make(map[string]string, len(m.activityDefaults)+len(am.options))
	for k, v := range m.activityDefaults {
		merged[k] = v
	}
	for k, v := range am.options {
		merged[k] = v
	}
	am.options = merged
	m.activities = append(m.activities, am)
}

func scheduleFromTag(tag Tag, meta *typeMeta, method string) (ScheduleDescriptor, error) {
	autoStart, err := tag.Bool("autoStart", true)
	if err != nil {
		return ScheduleDescriptor{}, err
	}
	startPaused, err := tag.Bool("startPaused", false)
	if err != nil {
		return ScheduleDescriptor{}, err
	}

	var args []any
	if raw := tag.String("args", ""); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return ScheduleDescriptor{}, fmt.Errorf("args must be a JSON array: %w", err)
		}
	}

	return ScheduleDescriptor{
		ID:                 tag.String("id", method),
		WorkflowName:       tag.String("workflow", method),
		Cron:               tag.List("cron"),
		Intervals:          tag.List("interval"),
		TaskQueue:          tag.String("taskQueue", ""),
		ComponentTaskQueue: meta.componentTaskQueue,
		AutoStart:          autoStart,
		StartPaused:        startPaused,
		OverlapPolicy:      tag.String("overlap", OverlapAllow),
		Description:        tag.String("description", ""),
		Timezone:           tag.String("timezone", ""),
		Args:               args,
		Owner:              meta.owner,
		Method:             method,
	}, nil
}

func (m *typeMeta) warn(format string, args ...any) {
	m.warnings = append(m.warnings, fmt.Sprintf(format, args...))
}

// guard runs fn, turning a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func ownerName(t reflect.Type) string {
	base := t
	for base.Kind() == reflect.Ptr {
		base = base.Elem()
	}
	if base.Name() != "" {
		return base.Name()
	}
	return t.String()
}

// methodNames lists exported methods callable on *T, sorted for stable
// registration order within a component.
func methodNames(t reflect.Type) []string {
	ptrType := t
	if ptrType.Kind() != reflect.Ptr {
		ptrType = reflect.PointerTo(t)
	}
	names := make([]string, 0, ptrType.NumMethod())
	for i := 0; i < ptrType.NumMethod(); i++ {
		names = append(names, ptrType.Method(i).Name)
	}
	sort.Strings(names)
	return names
}

func copyOptions(in map[string]string) map[string]string {
	if len(in) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
