// Package pipeline runs the startup barrier: capability detection, patch
// selection and engine construction happen exactly once, synchronously,
// before any class can be transformed.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"

	"github.com/chazu/weft/capability"
	"github.com/chazu/weft/catalog"
	"github.com/chazu/weft/hook"
	"github.com/chazu/weft/rewrite"
	"github.com/chazu/weft/selection"
)

var log = commonlog.GetLogger("weft.pipeline")

// Stage names the startup step that failed.
type Stage string

const (
	StageDetect Stage = "detect"
	StageSelect Stage = "select"
	StageVerify Stage = "verify"
)

// StartupError halts startup. No class may be transformed after one.
type StartupError struct {
	Session string
	Stage   Stage
	Err     error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("weft startup (%s) failed at %s: %v", e.Session, e.Stage, e.Err)
}

func (e *StartupError) Unwrap() error { return e.Err }

// Options tune Start.
type Options struct {
	// SessionID tags logs and journal rows. A random UUID is used when empty.
	SessionID string
	// Snapshot, when set, is a plan serialized by selection.MarshalPlan.
	// It must equal the plan selected for the detected capabilities;
	// otherwise startup fails with selection.ErrStalePlan.
	Snapshot []byte
	// Observers are attached to the engine.
	Observers []rewrite.Observer
}

// Pipeline is the state after a successful startup barrier. It is
// immutable and safe for concurrent use.
type Pipeline struct {
	session string
	caps    *capability.Set
	catalog *catalog.Catalog
	plan    *selection.Plan
	engine  *rewrite.Engine
}

// Start runs detection and selection for cat against reg, verifies that
// every hook the plan references is registered in hooks, and builds the
// rewrite engine. Any failure is returned as a *StartupError.
func Start(reg capability.Registry, cat *catalog.Catalog, hooks *hook.Registry, opts Options) (*Pipeline, error) {
	session := opts.SessionID
	if session == "" {
		session = uuid.NewString()
	}
	fail := func(stage Stage, err error) (*Pipeline, error) {
		log.Errorf("session %s: %s failed: %v", session, stage, err)
		return nil, &StartupError{Session: session, Stage: stage, Err: err}
	}

	if cat == nil {
		return fail(StageDetect, errors.New("no patch catalog"))
	}
	if hooks == nil {
		return fail(StageVerify, errors.New("no hook registry"))
	}

	caps, err := capability.Detect(reg, cat.Interests())
	if err != nil {
		return fail(StageDetect, err)
	}
	log.Infof("session %s: side %s, present %v", session, caps.Side(), caps.PresentIdentities())

	plan, err := selection.Select(caps, cat)
	if err != nil {
		return fail(StageSelect, err)
	}
	if opts.Snapshot != nil {
		restored, err := selection.RestorePlan(opts.Snapshot, cat)
		if err != nil {
			return fail(StageSelect, err)
		}
		// A snapshot only freezes a plan these capabilities would select.
		if restored.Digest() != plan.Digest() {
			return fail(StageSelect, fmt.Errorf("%w: snapshot activates %v, capabilities select %v",
				selection.ErrStalePlan, restored.Sets(), plan.Sets()))
		}
		plan = restored
	}
	for _, s := range plan.Skipped() {
		log.Infof("session %s: set %s inactive: %s", session, s.Set, s.Reason)
	}

	if err := verifyHooks(plan, hooks); err != nil {
		return fail(StageVerify, err)
	}

	var engineOpts []rewrite.Option
	for _, o := range opts.Observers {
		engineOpts = append(engineOpts, rewrite.WithObserver(o))
	}
	p := &Pipeline{
		session: session,
		caps:    caps,
		catalog: cat,
		plan:    plan,
		engine:  rewrite.NewEngine(plan, engineOpts...),
	}
	log.Infof("session %s: %d patches from sets %v (plan %s)", session, plan.Len(), plan.Sets(), plan.Digest()[:12])
	return p, nil
}

// verifyHooks checks that the runtime will be able to resolve every hook
// the woven code references.
func verifyHooks(plan *selection.Plan, hooks *hook.Registry) error {
	var errs *multierror.Error
	for _, p := range plan.Patches() {
		var kind hook.Kind
		var name string
		switch p.Kind {
		case catalog.EntryGuard:
			kind, name = hook.KindGuard, p.Guard
		case catalog.FullOverwrite:
			kind, name = hook.KindReplacement, p.Body
		case catalog.ReturnDecorator:
			kind, name = hook.KindDecorator, p.Body
		default:
			continue
		}
		if !hooks.Has(kind, name) {
			errs = multierror.Append(errs, fmt.Errorf("patch %s: %s %q is not registered", p.ID, kind, name))
		}
	}
	return errs.ErrorOrNil()
}

// SessionID returns the session tag.
func (p *Pipeline) SessionID() string { return p.session }

// Capabilities returns the detected capability set.
func (p *Pipeline) Capabilities() *capability.Set { return p.caps }

// Catalog returns the catalog the plan was selected from.
func (p *Pipeline) Catalog() *catalog.Catalog { return p.catalog }

// Plan returns the active patch plan.
func (p *Pipeline) Plan() *selection.Plan { return p.plan }

// Engine returns the rewrite engine.
func (p *Pipeline) Engine() *rewrite.Engine { return p.engine }

// Hook returns the class-load hook for the host.
func (p *Pipeline) Hook() rewrite.LoadHook { return p.engine.Hook() }
