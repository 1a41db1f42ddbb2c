package discovery

import (
	"fmt"
	"reflect"
	"sync"
)

// TagReader reads declarations attached to component types. ReadTag
// returns (nil, nil) when the member carries no tag of that kind; member
// is empty for class-level kinds. Implementations may fail or panic per
// member; the extractor contains both.
type TagReader interface {
	HasTag(kind TagKind, t reflect.Type) (bool, error)
	ReadTag(kind TagKind, t reflect.Type, member string) (Tag, error)
}

// MemberLister is implemented by readers that can enumerate the members
// they hold tags for, so declarations naming missing methods are reported.
type MemberLister interface {
	TaggedMembers(t reflect.Type) ([]string, error)
}

var (
	activitiesType = reflect.TypeOf(Activities{})
	methodType     = reflect.TypeOf(Method{})
)

func structType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

// StructTagReader reads declarations from blank marker fields of type
// Activities and Method.
type StructTagReader struct{}

func NewStructTagReader() StructTagReader {
	return StructTagReader{}
}

func (StructTagReader) HasTag(kind TagKind, t reflect.Type) (bool, error) {
	st := structType(t)
	if st == nil {
		return false, nil
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		switch {
		case kind == TagActivities && f.Type == activitiesType:
			return true, nil
		case kind != TagActivities && f.Type == methodType:
			if _, ok := f.Tag.Lookup(string(kind)); ok {
				return true, nil
			}
		}
	}
	return false, nil
}

func (StructTagReader) ReadTag(kind TagKind, t reflect.Type, member string) (Tag, error) {
	st := structType(t)
	if st == nil {
		return nil, nil
	}

	if kind == TagActivities {
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if f.Type != activitiesType {
				continue
			}
			tag, err := ParseTag(f.Tag.Get("activity"))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", st.Name(), err)
			}
			return tag, nil
		}
		return nil, nil
	}

	var found Tag
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if f.Type != methodType || f.Tag.Get("method") != member {
			continue
		}
		raw, ok := f.Tag.Lookup(string(kind))
		if !ok {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%s.%s: %s declared more than once", st.Name(), member, kind)
		}
		tag, err := ParseTag(raw)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", st.Name(), member, err)
		}
		found = tag
	}
	return found, nil
}

func (StructTagReader) TaggedMembers(t reflect.Type) ([]string, error) {
	st := structType(t)
	if st == nil {
		return nil, nil
	}
	var out []string
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if f.Type != methodType {
			continue
		}
		name := f.Tag.Get("method")
		if name == "" {
			return nil, fmt.Errorf("%s: method marker without method name", st.Name())
		}
		out = append(out, name)
	}
	return out, nil
}

// TableTagReader serves declarations from an explicit registration table,
// for components whose types cannot carry marker fields.
type TableTagReader struct {
	mu      sync.RWMutex
	classes map[reflect.Type]map[TagKind]Tag
	members map[reflect.Type]map[string]map[TagKind]Tag
}

func NewTableTagReader() *TableTagReader {
	return &TableTagReader{
		classes: make(map[reflect.Type]map[TagKind]Tag),
		members: make(map[reflect.Type]map[string]map[TagKind]Tag),
	}
}

// Class registers a class-level tag for t.
func (r *TableTagReader) Class(t reflect.Type, kind TagKind, tag Tag) *TableTagReader {
	t = structType(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.classes[t] == nil {
		r.classes[t] = make(map[TagKind]Tag)
	}
	r.classes[t][kind] = tag
	return r
}

// Member registers a method-level tag for t.member.
func (r *TableTagReader) Member(t reflect.Type, member string, kind TagKind, tag Tag) *TableTagReader {
	t = structType(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.members[t] == nil {
		r.members[t] = make(map[string]map[TagKind]Tag)
	}
	if r.members[t][member] == nil {
		r.members[t][member] = make(map[TagKind]Tag)
	}
	r.members[t][member][kind] = tag
	return r
}

func (r *TableTagReader) HasTag(kind TagKind, t reflect.Type) (bool, error) {
	t = structType(t)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.classes[t][kind]; ok {
		return true, nil
	}
	for _, kinds := range r.members[t] {
		if _, ok := kinds[kind]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (r *TableTagReader) ReadTag(kind TagKind, t reflect.Type, member string) (Tag, error) {
	t = structType(t)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if member == "" {
		return r.classes[t][kind], nil
	}
	return r.members[t][member][kind], nil
}

func (r *TableTagReader) TaggedMembers(t reflect.Type) ([]string, error) {
	t = structType(t)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.members[t]))
	for name := range r.members[t] {
		out = append(out, name)
	}
	return out, nil
}
