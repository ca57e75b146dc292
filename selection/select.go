// Package selection turns detected capabilities and a catalog into the
// ordered, conflict-free list of patches for the session.
package selection

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/tliron/commonlog"

	"github.com/chazu/weft/capability"
	"github.com/chazu/weft/catalog"
)

var log = commonlog.GetLogger("weft.selection")

// Select evaluates every set of cat in declaration order against caps.
//
// A set is included when it runs on the detected side, its concern is not
// already provided by a loaded module, and every required capability is
// present. Included patches are appended in set order; a patch listed by
// more than one included set keeps its first position.
//
// The candidate list is then checked for structural conflicts. Every
// conflict is reported, and no plan is returned if there is any.
func Select(caps *capability.Set, cat *catalog.Catalog) (*Plan, error) {
	if caps == nil || cat == nil {
		return nil, fmt.Errorf("selection requires capabilities and a catalog")
	}

	p := &Plan{}
	seen := make(map[string]bool)
	for _, set := range cat.Sets() {
		if reason, ok := excluded(set, caps); ok {
			log.Infof("skipping patch set %s: %s", set.Name, reason)
			p.skipped = append(p.skipped, Skipped{Set: set.Name, Reason: reason})
			continue
		}
		p.sets = append(p.sets, set.Name)
		for _, id := range set.Patches {
			if seen[id] {
				continue
			}
			seen[id] = true
			d, _ := cat.Patch(id)
			p.entries = append(p.entries, Entry{Set: set.Name, Patch: d})
		}
	}

	if err := Validate(p.Patches()); err != nil {
		return nil, err
	}
	p.digest = digestOf(p.entries)
	log.Infof("selected %d patches from %d sets (plan %s)", len(p.entries), len(p.sets), p.digest[:12])
	return p, nil
}

func excluded(set catalog.PatchSet, caps *capability.Set) (string, bool) {
	if !set.Side.Matches(caps.Side()) {
		return fmt.Sprintf("declared for %s, running on %s", set.Side, caps.Side()), true
	}
	if set.Concern != "" {
		if provider, ok := caps.SuppressedBy(set.Concern); ok {
			return fmt.Sprintf("concern %s already provided by %s", set.Concern, provider), true
		}
	}
	var missing []string
	for _, id := range set.Requires {
		if !caps.Present(id) {
			missing = append(missing, string(id))
		}
	}
	if len(missing) > 0 {
		return "missing " + strings.Join(missing, ", "), true
	}
	return "", false
}

// sameMethod reports whether two method references can resolve to the same
// method. A name-only reference overlaps every overload of that name.
func sameMethod(a, b catalog.MethodRef) bool {
	if a.Name != b.Name {
		return false
	}
	return a.Descriptor == "" || b.Descriptor == "" || a.Descriptor == b.Descriptor
}

// Validate checks an ordered candidate list for structural conflicts:
// two overwrites of one method, a guard on an overwritten method, and two
// exposures generating the same accessor on one class. Two targets overlap
// when their selectors are equal or one names a class the other selects.
// Overlaps between two non-exact selectors depend on the classes actually
// loaded and are caught per class by the rewrite engine.
func Validate(patches []catalog.PatchDescriptor) error {
	var errs *multierror.Error
	for i, a := range patches {
		for _, b := range patches[i+1:] {
			target, ok := overlap(a.Target, b.Target)
			if !ok {
				continue
			}
			if err := conflict(a, b, target); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	return errs.ErrorOrNil()
}

// overlap reports whether a and b can select a common class that is known
// without seeing the loaded classes, and names it.
func overlap(a, b catalog.ClassSelector) (string, bool) {
	switch {
	case a.String() == b.String():
		return a.String(), true
	case a.Exact() && b.Matches(a.String()):
		return a.String(), true
	case b.Exact() && a.Matches(b.String()):
		return b.String(), true
	}
	return "", false
}

func conflict(a, b catalog.PatchDescriptor, target string) error {
	switch {
	case a.Kind == catalog.FullOverwrite && b.Kind == catalog.FullOverwrite && sameMethod(a.Method, b.Method):
		return &ConflictingOverwriteError{First: a.ID, Second: b.ID, Target: target, Method: a.Method.String()}
	case a.Kind == catalog.EntryGuard && b.Kind == catalog.FullOverwrite && sameMethod(a.Method, b.Method):
		return &GuardOverwriteConflictError{Guard: a.ID, Overwrite: b.ID, Target: target, Method: b.Method.String()}
	case a.Kind == catalog.FullOverwrite && b.Kind == catalog.EntryGuard && sameMethod(a.Method, b.Method):
		return &GuardOverwriteConflictError{Guard: b.ID, Overwrite: a.ID, Target: target, Method: a.Method.String()}
	case a.Kind == catalog.AccessorExposure && b.Kind == catalog.AccessorExposure &&
		a.Exposure.Accessor != "" && a.Exposure.AccessorKey() == b.Exposure.AccessorKey():
		return &AccessorCollisionError{First: a.ID, Second: b.ID, Target: target, Accessor: a.Exposure.AccessorKey()}
	}
	return nil
}
