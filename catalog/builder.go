package catalog

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"

	"github.com/chazu/weft/hook"
)

var log = commonlog.GetLogger("weft.catalog")

// Builder accumulates declarations and validates them all at once.
type Builder struct {
	patches  []PatchDescriptor
	sets     []PatchSet
	concerns []Concern
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Patch declares a patch descriptor.
func (b *Builder) Patch(p PatchDescriptor) *Builder {
	b.patches = append(b.patches, p)
	return b
}

// Set declares a patch set. Sets are evaluated in the order declared.
func (b *Builder) Set(s PatchSet) *Builder {
	b.sets = append(b.sets, s.clone())
	return b
}

// Concern declares a concern that external providers may already cover.
func (b *Builder) Concern(c Concern) *Builder {
	b.concerns = append(b.concerns, c)
	return b
}

// ValidationError describes one problem found while building a catalog.
type ValidationError struct {
	Subject string // "patch <id>", "set <name>" or "concern <name>"
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %v", e.Subject, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Build validates every declaration and returns the frozen catalog. All
// problems are reported together as a *multierror.Error of
// *ValidationError values.
//
// Expression guards are compiled here and registered in hooks under
// GuardHookName(id), so the runtime resolves them like any other guard.
func (b *Builder) Build(hooks *hook.Registry) (*Catalog, error) {
	var errs *multierror.Error
	fail := func(subject string, err error) {
		errs = multierror.Append(errs, &ValidationError{Subject: subject, Err: err})
	}
	if hooks == nil {
		hooks = hook.NewRegistry()
	}

	c := &Catalog{patches: make(map[string]PatchDescriptor, len(b.patches))}
	compiled := make(map[string]hook.Guard)

	for _, p := range b.patches {
		subject := "patch " + p.ID
		if !IsValidPatchID(p.ID) {
			fail(subject, fmt.Errorf("invalid patch id %q", p.ID))
			continue
		}
		if _, dup := c.patches[p.ID]; dup {
			fail(subject, fmt.Errorf("duplicate patch id"))
			continue
		}
		for _, err := range validatePatch(p, hooks) {
			fail(subject, err)
		}
		if p.Kind == EntryGuard && p.GuardExpr != "" && p.Guard == "" {
			g, err := hook.CompileExprGuard(p.GuardExpr, p.CancelValue)
			if err != nil {
				fail(subject, err)
			} else {
				compiled[p.ID] = g
				p.Guard = GuardHookName(p.ID)
			}
		}
		c.patches[p.ID] = p
		c.order = append(c.order, p.ID)
	}

	concerns := make(map[string]bool, len(b.concerns))
	for _, cc := range b.concerns {
		subject := "concern " + cc.Name
		switch {
		case cc.Name == "":
			fail(subject, fmt.Errorf("empty concern name"))
		case concerns[cc.Name]:
			fail(subject, fmt.Errorf("duplicate concern"))
		case len(cc.Providers) == 0:
			fail(subject, fmt.Errorf("no providers declared"))
		}
		for _, p := range cc.Providers {
			if p == "" {
				fail(subject, fmt.Errorf("empty provider identity"))
			}
		}
		concerns[cc.Name] = true
		c.concerns = append(c.concerns, Concern{Name: cc.Name, Providers: append(cc.Providers[:0:0], cc.Providers...)})
	}

	inSet := make(map[string]bool)
	setNames := make(map[string]bool, len(b.sets))
	for _, s := range b.sets {
		subject := "set " + s.Name
		if s.Name == "" {
			fail(subject, fmt.Errorf("empty set name"))
		} else if setNames[s.Name] {
			fail(subject, fmt.Errorf("duplicate set name"))
		}
		setNames[s.Name] = true
		for _, id := range s.Requires {
			if id == "" {
				fail(subject, fmt.Errorf("empty required capability"))
			}
		}
		if s.Concern != "" && !concerns[s.Concern] {
			fail(subject, fmt.Errorf("undeclared concern %q", s.Concern))
		}
		seen := make(map[string]bool, len(s.Patches))
		for _, id := range s.Patches {
			if seen[id] {
				fail(subject, fmt.Errorf("patch %s listed twice", id))
			}
			seen[id] = true
			if _, ok := c.patches[id]; !ok {
				fail(subject, fmt.Errorf("unknown patch %q", id))
			}
			inSet[id] = true
		}
		c.sets = append(c.sets, s.clone())
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	// Registration happens only once everything validated, so a failed
	// build leaves the hook registry untouched.
	for _, id := range c.order {
		g, ok := compiled[id]
		if !ok {
			continue
		}
		if err := hooks.RegisterGuard(GuardHookName(id), g); err != nil {
			errs = multierror.Append(errs, &ValidationError{Subject: "patch " + id, Err: err})
		}
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}

	for _, id := range c.order {
		if !inSet[id] {
			log.Warningf("patch %s is not part of any set and will never activate", id)
		}
	}
	log.Debugf("catalog built: %d patches, %d sets, %d concerns", len(c.order), len(c.sets), len(c.concerns))
	return c, nil
}

// validatePatch returns every problem with a single descriptor.
func validatePatch(p PatchDescriptor, hooks *hook.Registry) []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if err := p.Target.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch p.Kind {
	case EntryGuard, ReturnDecorator, FullOverwrite:
		if p.Method.IsZero() {
			add("%s requires a target method", p.Kind)
		} else if err := p.Method.validate(); err != nil {
			errs = append(errs, err)
		}
		if !p.Exposure.IsZero() {
			add("%s cannot declare an exposure", p.Kind)
		}
	case AccessorExposure:
		if !p.Method.IsZero() {
			add("accessor patches name their member in the exposure, not as a target method")
		}
		if p.Exposure.IsZero() {
			add("accessor patch declares no exposure")
		} else if err := p.Exposure.validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		add("unknown edit kind %d", int(p.Kind))
		return errs
	}

	if p.Cancellable && p.Kind != EntryGuard {
		add("only entry guards can be cancellable")
	}

	switch p.Kind {
	case EntryGuard:
		switch {
		case p.Guard == "" && p.GuardExpr == "":
			add("entry guard declares no guard predicate")
		case p.Guard != "" && p.GuardExpr != "":
			add("entry guard declares both guard and guard_expr")
		case p.Guard != "" && !hooks.Has(hook.KindGuard, p.Guard):
			add("guard %q is not registered", p.Guard)
		}
		if p.Body != "" {
			add("entry guard cannot declare a body")
		}
		if p.CancelValue != nil && p.GuardExpr == "" {
			add("cancel_value only applies to guard expressions")
		}
	case FullOverwrite:
		if p.Body == "" {
			add("overwrite declares no replacement body")
		} else if !hooks.Has(hook.KindReplacement, p.Body) {
			add("replacement %q is not registered", p.Body)
		}
	case ReturnDecorator:
		if p.Body == "" {
			add("return decorator declares no decorator body")
		} else if !hooks.Has(hook.KindDecorator, p.Body) {
			add("decorator %q is not registered", p.Body)
		}
	}
	if p.Kind != EntryGuard && (p.Guard != "" || p.GuardExpr != "") {
		add("%s cannot declare a guard", p.Kind)
	}
	if p.Kind == AccessorExposure && p.Body != "" {
		add("accessor patches cannot declare a body")
	}
	return errs
}
