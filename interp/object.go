package interp

import (
	"fmt"
	"sort"
	"strings"
)

// Object is an instance of a defined class.
type Object struct {
	class  *class
	fields map[string]any
}

// ClassName returns the object's class.
func (o *Object) ClassName() string { return o.class.Name }

// FieldValues returns a copy of every instance field. Guard expressions see
// this map as "fields".
func (o *Object) FieldValues() map[string]any {
	out := make(map[string]any, len(o.fields))
	for k, v := range o.fields {
		out[k] = v
	}
	return out
}

// Set writes a field directly, bypassing access control. It is meant for
// hosts and tests preparing state.
func (o *Object) Set(name string, v any) error {
	if _, ok := o.fields[name]; !ok {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchField, o.class.Name, name)
	}
	o.fields[name] = normalize(v)
	return nil
}

func (o *Object) String() string {
	names := make([]string, 0, len(o.fields))
	for k := range o.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, k := range names {
		parts[i] = fmt.Sprintf("%s=%v", k, o.fields[k])
	}
	return o.class.Name + "{" + strings.Join(parts, " ") + "}"
}
