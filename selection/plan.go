package selection

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/chazu/weft/catalog"
)

// Entry is one selected patch and the set that contributed it.
type Entry struct {
	Set   string
	Patch catalog.PatchDescriptor
}

// Skipped records a set that was not activated and why.
type Skipped struct {
	Set    string
	Reason string
}

// Plan is the ordered, validated patch list for a session. It is never
// modified after Select returns and may be shared between goroutines.
type Plan struct {
	entries []Entry
	sets    []string
	skipped []Skipped
	digest  string
}

// Len returns the number of selected patches.
func (p *Plan) Len() int { return len(p.entries) }

// At returns the i-th selected patch.
func (p *Plan) At(i int) Entry { return p.entries[i] }

// IDs returns the selected patch ids in order.
func (p *Plan) IDs() []string {
	ids := make([]string, len(p.entries))
	for i, e := range p.entries {
		ids[i] = e.Patch.ID
	}
	return ids
}

// Patches returns the selected descriptors in order.
func (p *Plan) Patches() []catalog.PatchDescriptor {
	out := make([]catalog.PatchDescriptor, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.Patch
	}
	return out
}

// Sets returns the names of the activated sets in evaluation order.
func (p *Plan) Sets() []string { return append([]string(nil), p.sets...) }

// Skipped returns the sets that were not activated.
func (p *Plan) Skipped() []Skipped { return append([]Skipped(nil), p.skipped...) }

// ForClass returns, in selection order, the patches whose selector matches
// className.
func (p *Plan) ForClass(className string) []catalog.PatchDescriptor {
	var out []catalog.PatchDescriptor
	for _, e := range p.entries {
		if e.Patch.Target.Matches(className) {
			out = append(out, e.Patch)
		}
	}
	return out
}

// Matches reports whether any selected patch targets className.
func (p *Plan) Matches(className string) bool {
	for _, e := range p.entries {
		if e.Patch.Target.Matches(className) {
			return true
		}
	}
	return false
}

// Digest is a hex SHA-256 over the ordered (set, patch) pairs, including
// every field of each descriptor. Equal digests mean equal plans.
func (p *Plan) Digest() string { return p.digest }

func digestOf(entries []Entry) string {
	h := sha256.New()
	for _, e := range entries {
		d := e.Patch
		fmt.Fprintf(h, "%q %q %q %s %q %q %q %q %T:%v %t %t",
			e.Set, d.ID, d.Kind, d.Target, d.Method.Name, d.Method.Descriptor,
			d.Guard, d.GuardExpr, d.CancelValue, d.CancelValue, d.Cancellable, d.Optional)
		fmt.Fprintf(h, " %q %q %d %q %q %q %t\n",
			d.Body, d.Exposure.Member, d.Exposure.MemberKind, d.Exposure.MemberDescriptor,
			d.Exposure.Accessor, d.Exposure.Descriptor, d.Exposure.Widen)
	}
	return hex.EncodeToString(h.Sum(nil))
}
