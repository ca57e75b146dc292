// Package rewrite weaves selected patches into class binaries.
//
// Apply is a pure function of its inputs. Engine wraps it with the
// per-session idempotency cache and the class-load hook handed to the host.
package rewrite

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/tliron/commonlog"

	"github.com/chazu/weft/catalog"
	"github.com/chazu/weft/classfile"
)

var log = commonlog.GetLogger("weft.rewrite")

// phase orders edit kinds within one class.
var phase = map[catalog.EditKind]int{
	catalog.EntryGuard:       0,
	catalog.FullOverwrite:    1,
	catalog.ReturnDecorator:  2,
	catalog.AccessorExposure: 3,
}

// Apply transforms one class.
//
//  1. match: patches whose selector does not match className are ignored;
//     with none left the original bytes are returned unchanged.
//  2. parse the binary and build its symbol table.
//  3. resolve each patch's target; absent targets fail mandatory patches
//     and skip optional ones.
//  4. apply edits: entry guards, then overwrites, then return decorators,
//     then accessors, each group in selection order.
//  5. emit the new bytes.
//
// original is never modified. Any failure of a mandatory patch yields
// Failed with no bytes.
func Apply(className string, original []byte, patches []catalog.PatchDescriptor) EditResult {
	name := strings.ReplaceAll(className, ".", "/")

	var matched []catalog.PatchDescriptor
	for _, p := range patches {
		if p.Target.Matches(name) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		return unchanged(original, "")
	}

	w := &weaver{class: name}

	bin, err := classfile.Open(original)
	if err == nil && bin.Name() != name {
		err = fmt.Errorf("%w: %s", ErrClassNameMismatch, bin.Name())
	}
	if err != nil {
		err = &EditApplicationError{Class: name, Err: err}
		for _, p := range matched {
			if !p.Optional {
				return failed(err)
			}
			w.skip(p, err)
		}
		return w.unchanged(original)
	}

	w.cls = bin.Edit()
	w.symbols = bin.Symbols()

	sort.SliceStable(matched, func(i, j int) bool {
		return phase[matched[i].Kind] < phase[matched[j].Kind]
	})
	for _, p := range matched {
		if err := w.apply(p); err != nil {
			if !p.Optional {
				log.Errorf("%s: mandatory patch %s failed: %v", name, p.ID, err)
				return failed(err)
			}
			log.Warningf("%s: skipping optional patch %s: %v", name, p.ID, err)
			w.skip(p, err)
		}
	}

	if len(w.applied) == 0 {
		return w.unchanged(original)
	}

	out, err := classfile.Encode(w.cls)
	if err != nil {
		return failed(&EditApplicationError{Class: name, Err: err})
	}
	log.Debugf("%s: applied %s", name, strings.Join(w.applied, ", "))
	return EditResult{
		Outcome:    Rewritten,
		Bytes:      out,
		Applied:    w.applied,
		Skipped:    w.skipped,
		Diagnostic: skippedSummary(w.skipped),
	}
}

// weaver carries the state of one Apply call.
type weaver struct {
	class   string
	cls     *classfile.Class
	symbols *classfile.SymbolTable
	applied []string
	skipped []SkippedPatch

	// guards counts the entry guards already woven per method key, so the
	// next one goes after them.
	guards map[string]int
	// overwritten maps a method key to the patch that replaced its body.
	overwritten map[string]string
	// accessors maps generated accessor keys to the patch that added them.
	accessors map[string]string
}

func (w *weaver) unchanged(original []byte) EditResult {
	r := unchanged(original, skippedSummary(w.skipped))
	r.Skipped = w.skipped
	return r
}

func (w *weaver) skip(p catalog.PatchDescriptor, err error) {
	w.skipped = append(w.skipped, SkippedPatch{ID: p.ID, Reason: err.Error()})
}

// apply weaves a single patch. On error the class is restored to its state
// before the call.
func (w *weaver) apply(p catalog.PatchDescriptor) error {
	if w.guards == nil {
		w.guards = make(map[string]int)
		w.overwritten = make(map[string]string)
		w.accessors = make(map[string]string)
	}
	snapshot := w.cls.Clone()

	var err error
	switch p.Kind {
	case catalog.EntryGuard, catalog.FullOverwrite, catalog.ReturnDecorator:
		var m *classfile.Method
		if m, err = w.resolveMethod(p); err == nil {
			err = w.weaveMethod(p, m)
		}
	case catalog.AccessorExposure:
		err = w.expose(p)
	default:
		err = w.fail(p, fmt.Errorf("unsupported edit kind %s", p.Kind))
	}
	if err != nil {
		w.cls = snapshot
		return err
	}
	w.applied = append(w.applied, p.ID)
	return nil
}

func (w *weaver) fail(p catalog.PatchDescriptor, err error) error {
	var tnf *TargetNotFoundError
	var eae *EditApplicationError
	if errors.As(err, &tnf) || errors.As(err, &eae) {
		return err
	}
	return &EditApplicationError{Class: w.class, Patch: p.ID, Err: err}
}

// resolveMethod finds the concrete method a patch targets using the symbol
// table, then returns the editable copy.
func (w *weaver) resolveMethod(p catalog.PatchDescriptor) (*classfile.Method, error) {
	ref := p.Method
	var sym classfile.MethodSymbol
	if ref.Descriptor != "" {
		s, ok := w.symbols.Method(ref.Name, ref.Descriptor)
		if !ok {
			return nil, &TargetNotFoundError{Class: w.class, Patch: p.ID, Member: ref.String()}
		}
		sym = s
	} else {
		overloads := w.symbols.Overloads(ref.Name)
		switch len(overloads) {
		case 0:
			return nil, &TargetNotFoundError{Class: w.class, Patch: p.ID, Member: ref.Name}
		case 1:
			sym = overloads[0]
		default:
			descs := make([]string, len(overloads))
			for i, o := range overloads {
				descs[i] = o.Descriptor
			}
			return nil, w.fail(p, fmt.Errorf("method %s is overloaded (%s); the patch must give a descriptor", ref.Name, strings.Join(descs, ", ")))
		}
	}
	if !sym.HasCode {
		return nil, w.fail(p, fmt.Errorf("method %s%s has no body (%s)", sym.Name, sym.Descriptor, sym.Access))
	}
	m := w.cls.Method(sym.Name, sym.Descriptor)
	if m == nil {
		return nil, &TargetNotFoundError{Class: w.class, Patch: p.ID, Member: sym.Name + sym.Descriptor}
	}
	return m, nil
}
