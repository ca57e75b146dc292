// Package catalog holds the static table of patch descriptors and the
// named sets that activate them.
//
// A catalog is built once, either programmatically through Builder or from
// TOML resources, and validated before any capability is known: selectors
// and descriptors must be well formed and every hook reference must resolve.
// Conflicts between patches are checked later, by the selector, because a
// catalog may carry alternatives that never activate together.
package catalog

import (
	"github.com/chazu/weft/capability"
)

// Concern is a behavior that an external module may already provide.
type Concern struct {
	Name      string
	Providers []capability.ModuleIdentity
}

// PatchSet is a named, activatable bundle of patches.
type PatchSet struct {
	Name     string
	Requires []capability.ModuleIdentity
	Side     capability.Side
	// Concern, when set, skips the whole set if a provider of the concern
	// is already loaded.
	Concern string
	Patches []string
}

func (s PatchSet) clone() PatchSet {
	s.Requires = append([]capability.ModuleIdentity(nil), s.Requires...)
	s.Patches = append([]string(nil), s.Patches...)
	return s
}

// Catalog is an immutable, validated patch table.
type Catalog struct {
	patches  map[string]PatchDescriptor
	order    []string
	sets     []PatchSet
	concerns []Concern
}

// Patch returns the descriptor with the given id.
func (c *Catalog) Patch(id string) (PatchDescriptor, bool) {
	p, ok := c.patches[id]
	return p, ok
}

// PatchIDs returns every patch id in declaration order.
func (c *Catalog) PatchIDs() []string {
	return append([]string(nil), c.order...)
}

// Sets returns the patch sets in declaration order.
func (c *Catalog) Sets() []PatchSet {
	out := make([]PatchSet, len(c.sets))
	for i, s := range c.sets {
		out[i] = s.clone()
	}
	return out
}

// Set returns the named set.
func (c *Catalog) Set(name string) (PatchSet, bool) {
	for _, s := range c.sets {
		if s.Name == name {
			return s.clone(), true
		}
	}
	return PatchSet{}, false
}

// Concerns returns the declared concerns.
func (c *Catalog) Concerns() []Concern {
	out := make([]Concern, len(c.concerns))
	for i, cc := range c.concerns {
		out[i] = Concern{Name: cc.Name, Providers: append([]capability.ModuleIdentity(nil), cc.Providers...)}
	}
	return out
}

// Interests lists what the capability detector must look up: every module
// required by some set, plus the providers of every concern.
func (c *Catalog) Interests() capability.Interests {
	var in capability.Interests
	seen := make(map[capability.ModuleIdentity]bool)
	for _, s := range c.sets {
		for _, id := range s.Requires {
			if !seen[id] {
				seen[id] = true
				in.Identities = append(in.Identities, id)
			}
		}
	}
	if len(c.concerns) > 0 {
		in.Concerns = make(map[string][]capability.ModuleIdentity, len(c.concerns))
		for _, cc := range c.concerns {
			in.Concerns[cc.Name] = append([]capability.ModuleIdentity(nil), cc.Providers...)
		}
	}
	return in
}

// Len returns the number of patches.
func (c *Catalog) Len() int { return len(c.order) }
