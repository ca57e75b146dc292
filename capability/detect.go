package capability

import (
	"sort"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("weft.capability")

// Set is the frozen result of detection.
type Set struct {
	side       Side
	order      []ModuleIdentity
	caps       map[ModuleIdentity]Capability
	suppressed map[string]ModuleIdentity
}

// Detect queries reg once and builds a capability record for every
// identity of interest. Identities the registry reports but the catalog
// never declared are ignored. Any registry failure is fatal.
func Detect(reg Registry, interests Interests) (*Set, error) {
	if reg == nil {
		return nil, &DetectionError{Op: "query", Err: ErrRegistryUnavailable}
	}
	side, err := reg.CurrentSide()
	if err != nil {
		return nil, &DetectionError{Op: "current side", Err: err}
	}
	ids, err := reg.LoadedModuleIdentities()
	if err != nil {
		return nil, &DetectionError{Op: "list modules", Err: err}
	}

	loaded := make(map[ModuleIdentity]bool, len(ids))
	for _, id := range ids {
		loaded[ModuleIdentity(id)] = true
	}

	s := &Set{
		side:       side,
		caps:       make(map[ModuleIdentity]Capability),
		suppressed: make(map[string]ModuleIdentity),
	}
	add := func(id ModuleIdentity) {
		if _, ok := s.caps[id]; ok {
			return
		}
		s.order = append(s.order, id)
		s.caps[id] = Capability{Identity: id, Present: loaded[id], Side: side}
	}
	for _, id := range interests.Identities {
		add(id)
	}

	concerns := make([]string, 0, len(interests.Concerns))
	for c := range interests.Concerns {
		concerns = append(concerns, c)
	}
	sort.Strings(concerns)
	for _, c := range concerns {
		for _, p := range interests.Concerns[c] {
			add(p)
			if loaded[p] {
				if _, ok := s.suppressed[c]; !ok {
					s.suppressed[c] = p
					log.Infof("concern %q already provided by %s", c, p)
				}
			}
		}
	}

	log.Debugf("detected %d capabilities on side %s", len(s.order), side)
	return s, nil
}

// Side returns the host side recorded at detection time.
func (s *Set) Side() Side { return s.side }

// Present reports whether id was declared and found loaded.
func (s *Set) Present(id ModuleIdentity) bool {
	return s.caps[id].Present
}

// Capability returns the record for id.
func (s *Set) Capability(id ModuleIdentity) (Capability, bool) {
	c, ok := s.caps[id]
	return c, ok
}

// SuppressedBy returns the loaded provider that already covers concern.
func (s *Set) SuppressedBy(concern string) (ModuleIdentity, bool) {
	p, ok := s.suppressed[concern]
	return p, ok
}

// Identities returns every declared identity in declaration order.
func (s *Set) Identities() []ModuleIdentity {
	return append([]ModuleIdentity(nil), s.order...)
}

// All returns every record in declaration order.
func (s *Set) All() []Capability {
	out := make([]Capability, len(s.order))
	for i, id := range s.order {
		out[i] = s.caps[id]
	}
	return out
}

// PresentIdentities returns the sorted identities that are loaded.
func (s *Set) PresentIdentities() []ModuleIdentity {
	var out []ModuleIdentity
	for _, id := range s.order {
		if s.caps[id].Present {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NewSet builds a Set directly. Intended for tests and offline planning
// where no registry is involved.
func NewSet(side Side, present ...ModuleIdentity) *Set {
	s := &Set{
		side:       side,
		caps:       make(map[ModuleIdentity]Capability),
		suppressed: make(map[string]ModuleIdentity),
	}
	for _, id := range present {
		if _, ok := s.caps[id]; ok {
			continue
		}
		s.order = append(s.order, id)
		s.caps[id] = Capability{Identity: id, Present: true, Side: side}
	}
	return s
}

// WithSuppression returns a copy of s with concern marked as provided.
func (s *Set) WithSuppression(concern string, provider ModuleIdentity) *Set {
	out := &Set{
		side:       s.side,
		order:      append([]ModuleIdentity(nil), s.order...),
		caps:       make(map[ModuleIdentity]Capability, len(s.caps)),
		suppressed: make(map[string]ModuleIdentity, len(s.suppressed)+1),
	}
	for k, v := range s.caps {
		out.caps[k] = v
	}
	for k, v := range s.suppressed {
		out.suppressed[k] = v
	}
	out.suppressed[concern] = provider
	return out
}
