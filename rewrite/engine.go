package rewrite

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chazu/weft/catalog"
	"github.com/chazu/weft/selection"
)

// Observer is told about every transform the engine performs, including
// rejected repeats. It runs on the loading goroutine and must be safe for
// concurrent use.
type Observer func(className string, original []byte, r EditResult)

// Option configures an Engine.
type Option func(*Engine)

// WithObserver registers an observer.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

type cacheState int

const (
	inProgress cacheState = iota + 1
	done
)

// Stats counts transforms by outcome.
type Stats struct {
	Unchanged int64
	Rewritten int64
	Failed    int64
}

// Engine transforms classes against a fixed plan. Each class that the plan
// targets is transformed at most once per Engine; a second attempt fails
// with ErrTransformInProgress while the first is running and with
// ErrAlreadyTransformed after it finished. Classes the plan does not
// target pass through untouched every time.
//
// Engine is safe for concurrent use.
type Engine struct {
	plan      *selection.Plan
	observers []Observer
	apply     func(string, []byte, []catalog.PatchDescriptor) EditResult

	mu    sync.Mutex
	cache map[string]cacheState

	unchanged atomic.Int64
	rewritten atomic.Int64
	failed    atomic.Int64
}

// NewEngine creates an engine for plan.
func NewEngine(plan *selection.Plan, opts ...Option) *Engine {
	e := &Engine{plan: plan, apply: Apply, cache: make(map[string]cacheState)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Plan returns the plan the engine applies.
func (e *Engine) Plan() *selection.Plan { return e.plan }

// Transform rewrites one class. original is never modified.
func (e *Engine) Transform(className string, original []byte) EditResult {
	name := strings.ReplaceAll(className, ".", "/")
	if !e.plan.Matches(name) {
		return e.finish(name, original, unchanged(original, ""))
	}

	e.mu.Lock()
	switch e.cache[name] {
	case inProgress:
		e.mu.Unlock()
		log.Warningf("%s: concurrent transform rejected", name)
		return e.finish(name, original, failed(&EditApplicationError{Class: name, Err: ErrTransformInProgress}))
	case done:
		e.mu.Unlock()
		log.Warningf("%s: repeated transform rejected", name)
		return e.finish(name, original, failed(&EditApplicationError{Class: name, Err: ErrAlreadyTransformed}))
	}
	e.cache[name] = inProgress
	e.mu.Unlock()

	r := e.apply(name, original, e.plan.ForClass(name))

	e.mu.Lock()
	e.cache[name] = done
	e.mu.Unlock()
	return e.finish(name, original, r)
}

func (e *Engine) finish(name string, original []byte, r EditResult) EditResult {
	switch r.Outcome {
	case Unchanged:
		e.unchanged.Add(1)
	case Rewritten:
		e.rewritten.Add(1)
	case Failed:
		e.failed.Add(1)
	}
	for _, o := range e.observers {
		o(name, original, r)
	}
	return r
}

// Transformed reports whether className went through a transform.
func (e *Engine) Transformed(className string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cache[strings.ReplaceAll(className, ".", "/")] == done
}

// Stats returns the outcome counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Unchanged: e.unchanged.Load(),
		Rewritten: e.rewritten.Load(),
		Failed:    e.failed.Load(),
	}
}

// LoadHook is the function a host calls for every class it is about to
// define. A nil error means the returned bytes should be loaded; an error
// means the load must be aborted.
type LoadHook func(className string, original []byte) ([]byte, error)

// Hook adapts the engine to a LoadHook.
func (e *Engine) Hook() LoadHook {
	return func(className string, original []byte) ([]byte, error) {
		r := e.Transform(className, original)
		if r.Outcome == Failed {
			return nil, r.Err
		}
		return r.Bytes, nil
	}
}
