// Package interp is a small reference runtime for class binaries.
//
// It exists so patched classes can be executed end to end: it loads
// binaries (optionally through a class-load hook), instantiates objects,
// enforces member access and dispatches GUARD, INVOKE_HOOK and DECORATE
// instructions to a hook.Registry.
package interp

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/weft/classfile"
	"github.com/chazu/weft/hook"
)

var log = commonlog.GetLogger("weft.interp")

var (
	ErrClassNotFound  = errors.New("class not found")
	ErrNoSuchMethod   = errors.New("no such method")
	ErrNoSuchField    = errors.New("no such field")
	ErrInaccessible   = errors.New("member not accessible")
	ErrUnknownHook    = errors.New("unknown hook")
	ErrArity          = errors.New("wrong number of arguments")
	ErrStackOverflow  = errors.New("call depth exceeded")
	ErrTypeMismatch   = errors.New("operand type mismatch")
	ErrDivideByZero   = errors.New("division by zero")
	ErrDuplicateClass = errors.New("class already defined")
)

// DefaultMaxDepth bounds nested invocations.
const DefaultMaxDepth = 256

// LoadHook may replace a class's bytes before it is defined. Returning an
// error aborts the definition.
type LoadHook func(className string, data []byte) ([]byte, error)

// Option configures a Runtime.
type Option func(*Runtime)

// WithLoadHook installs a class-load hook.
func WithLoadHook(h LoadHook) Option {
	return func(r *Runtime) { r.loadHook = h }
}

// WithMaxDepth overrides DefaultMaxDepth.
func WithMaxDepth(n int) Option {
	return func(r *Runtime) { r.maxDepth = n }
}

// WithTrace logs every executed instruction at debug level.
func WithTrace() Option {
	return func(r *Runtime) { r.trace = true }
}

// Runtime holds defined classes. Defining classes is safe for concurrent
// use; a single Object must not be used from several goroutines at once.
type Runtime struct {
	hooks    *hook.Registry
	loadHook LoadHook
	maxDepth int
	trace    bool

	mu      sync.RWMutex
	classes map[string]*class
}

// class is a defined class with its decoded method bodies.
type class struct {
	*classfile.Class
	code map[*classfile.Method][]classfile.Instruction
}

// New creates a runtime that resolves hook instructions against hooks.
func New(hooks *hook.Registry, opts ...Option) *Runtime {
	r := &Runtime{
		hooks:    hooks,
		maxDepth: DefaultMaxDepth,
		classes:  make(map[string]*class),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Define loads a class binary under className. If a load hook is set it
// sees the bytes first.
func (r *Runtime) Define(className string, data []byte) (*classfile.Class, error) {
	name := strings.ReplaceAll(className, ".", "/")
	if r.loadHook != nil {
		out, err := r.loadHook(name, data)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", name, err)
		}
		data = out
	}
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", name, err)
	}
	if cf.Name != name {
		return nil, fmt.Errorf("loading %s: binary defines %s", name, cf.Name)
	}

	c := &class{Class: cf, code: make(map[*classfile.Method][]classfile.Instruction)}
	for _, m := range cf.Methods {
		if !m.HasCode() {
			continue
		}
		instrs, err := classfile.DecodeCode(m.Code)
		if err != nil {
			return nil, fmt.Errorf("loading %s: method %s: %w", name, m.Key(), err)
		}
		c.code[m] = instrs
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.classes[name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateClass, name)
	}
	r.classes[name] = c
	return cf, nil
}

// Class returns a defined class.
func (r *Runtime) Class(name string) (*classfile.Class, bool) {
	c, ok := r.lookup(strings.ReplaceAll(name, ".", "/"))
	if !ok {
		return nil, false
	}
	return c.Class, true
}

func (r *Runtime) lookup(name string) (*class, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.classes[name]
	return c, ok
}

// chain returns c followed by its loaded superclasses. A superclass that
// was never defined ends the chain.
func (r *Runtime) chain(c *class) []*class {
	out := []*class{c}
	seen := map[string]bool{c.Name: true}
	for c.Super != "" && !seen[c.Super] {
		s, ok := r.lookup(c.Super)
		if !ok {
			break
		}
		seen[s.Name] = true
		out = append(out, s)
		c = s
	}
	return out
}

// isSubclass reports whether sub is base or inherits from it.
func (r *Runtime) isSubclass(sub *class, base string) bool {
	for _, c := range r.chain(sub) {
		if c.Name == base {
			return true
		}
	}
	return false
}

// accessible applies member visibility: private members are reachable only
// from their declaring class, protected ones from it and its subclasses.
// caller is nil for calls from outside any class.
func (r *Runtime) accessible(caller *class, declaring *class, access classfile.AccessFlags) bool {
	switch {
	case access.Has(classfile.AccPrivate):
		return caller != nil && caller.Name == declaring.Name
	case access.Has(classfile.AccProtected):
		return caller != nil && r.isSubclass(caller, declaring.Name)
	default:
		return true
	}
}

// New instantiates className with zero-valued fields.
func (r *Runtime) New(className string) (*Object, error) {
	c, ok := r.lookup(strings.ReplaceAll(className, ".", "/"))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrClassNotFound, className)
	}
	return r.instantiate(c), nil
}

func (r *Runtime) instantiate(c *class) *Object {
	o := &Object{class: c, fields: make(map[string]any)}
	chain := r.chain(c)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, f := range chain[i].Fields {
			if f.Access.Has(classfile.AccStatic) {
				continue
			}
			o.fields[f.Name] = zeroValue(f.Descriptor)
		}
	}
	return o
}

func zeroValue(desc string) any {
	switch desc {
	case "I", "J", "S", "B", "C":
		return int64(0)
	case "F", "D":
		return float64(0)
	case "Z":
		return false
	default:
		return nil
	}
}

// Invoke calls a method on obj from outside any class, so private and
// protected members are rejected with ErrInaccessible. An empty desc
// selects the only overload named name.
func (r *Runtime) Invoke(obj *Object, name, desc string, args ...any) (any, error) {
	if obj == nil {
		return nil, fmt.Errorf("%w: nil receiver", ErrTypeMismatch)
	}
	for i, a := range args {
		args[i] = normalize(a)
	}
	declaring, m, err := r.resolveMethod(obj.class, name, desc)
	if err != nil {
		return nil, err
	}
	if !r.accessible(nil, declaring, m.Access) {
		return nil, fmt.Errorf("%w: %s.%s is %s", ErrInaccessible, declaring.Name, m.Key(), m.Access)
	}
	return r.call(declaring, m, obj, args, 0)
}

// Field reads a field from outside any class, honoring access.
func (r *Runtime) Field(obj *Object, name string) (any, error) {
	declaring, f, err := r.resolveField(obj.class, name)
	if err != nil {
		return nil, err
	}
	if !r.accessible(nil, declaring, f.Access) {
		return nil, fmt.Errorf("%w: %s.%s is %s", ErrInaccessible, declaring.Name, name, f.Access)
	}
	return obj.fields[name], nil
}

func (r *Runtime) resolveMethod(c *class, name, desc string) (*class, *classfile.Method, error) {
	for _, k := range r.chain(c) {
		if desc != "" {
			if m := k.Method(name, desc); m != nil {
				return k, m, nil
			}
			continue
		}
		switch ms := k.MethodsNamed(name); len(ms) {
		case 0:
		case 1:
			return k, ms[0], nil
		default:
			return nil, nil, fmt.Errorf("%w: %s.%s is overloaded", ErrNoSuchMethod, k.Name, name)
		}
	}
	return nil, nil, fmt.Errorf("%w: %s.%s", ErrNoSuchMethod, c.Name, classfile.MemberRef(name, desc))
}

func (r *Runtime) resolveField(c *class, name string) (*class, *classfile.Field, error) {
	for _, k := range r.chain(c) {
		if f := k.Field(name); f != nil {
			return k, f, nil
		}
	}
	return nil, nil, fmt.Errorf("%w: %s.%s", ErrNoSuchField, c.Name, name)
}

// normalize widens Go integer and float types to int64 and float64.
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return v
	}
}
