package hook

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrDuplicateHook = errors.New("hook already registered")
	ErrInvalidHook   = errors.New("invalid hook")
)

// Registry maps hook names to host functions.
//
// The registry is populated during startup and read concurrently by every
// class-loading thread afterwards. Registration after startup is allowed
// but never replaces an existing name.
type Registry struct {
	mu           sync.RWMutex
	guards       map[string]Guard
	replacements map[string]Replacement
	decorators   map[string]Decorator
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		guards:       make(map[string]Guard),
		replacements: make(map[string]Replacement),
		decorators:   make(map[string]Decorator),
	}
}

func checkName(name string, fn bool) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidHook)
	}
	if !fn {
		return fmt.Errorf("%w: %s has nil function", ErrInvalidHook, name)
	}
	return nil
}

// RegisterGuard adds a named entry guard.
func (r *Registry) RegisterGuard(name string, g Guard) error {
	if err := checkName(name, g != nil); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.guards[name]; ok {
		return fmt.Errorf("%w: guard %s", ErrDuplicateHook, name)
	}
	r.guards[name] = g
	return nil
}

// RegisterReplacement adds a named replacement body.
func (r *Registry) RegisterReplacement(name string, fn Replacement) error {
	if err := checkName(name, fn != nil); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.replacements[name]; ok {
		return fmt.Errorf("%w: replacement %s", ErrDuplicateHook, name)
	}
	r.replacements[name] = fn
	return nil
}

// RegisterDecorator adds a named return decorator.
func (r *Registry) RegisterDecorator(name string, fn Decorator) error {
	if err := checkName(name, fn != nil); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.decorators[name]; ok {
		return fmt.Errorf("%w: decorator %s", ErrDuplicateHook, name)
	}
	r.decorators[name] = fn
	return nil
}

// Guard returns the named guard.
func (r *Registry) Guard(name string) (Guard, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.guards[name]
	return g, ok
}

// Replacement returns the named replacement body.
func (r *Registry) Replacement(name string) (Replacement, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.replacements[name]
	return fn, ok
}

// Decorator returns the named decorator.
func (r *Registry) Decorator(name string) (Decorator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.decorators[name]
	return fn, ok
}

// Has reports whether a hook of the given kind is registered under name.
func (r *Registry) Has(kind Kind, name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindGuard:
		_, ok := r.guards[name]
		return ok
	case KindReplacement:
		_, ok := r.replacements[name]
		return ok
	case KindDecorator:
		_, ok := r.decorators[name]
		return ok
	}
	return false
}

// Names returns the sorted names registered for kind.
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	switch kind {
	case KindGuard:
		for n := range r.guards {
			names = append(names, n)
		}
	case KindReplacement:
		for n := range r.replacements {
			names = append(names, n)
		}
	case KindDecorator:
		for n := range r.decorators {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
