package selection

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/weft/catalog"
)

// snapshotVersion is bumped on incompatible snapshot changes.
const snapshotVersion = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("selection: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type snapshot struct {
	Version int             `cbor:"1,keyasint"`
	Sets    []string        `cbor:"2,keyasint"`
	Entries []snapshotEntry `cbor:"3,keyasint"`
	Skipped []Skipped       `cbor:"4,keyasint,omitempty"`
	Digest  string          `cbor:"5,keyasint"`
}

type snapshotEntry struct {
	Set   string `cbor:"1,keyasint"`
	Patch string `cbor:"2,keyasint"`
}

// MarshalPlan serializes a plan to canonical CBOR. Only ids are stored;
// the descriptors come back from the catalog on restore.
func MarshalPlan(p *Plan) ([]byte, error) {
	s := snapshot{
		Version: snapshotVersion,
		Sets:    p.sets,
		Skipped: p.skipped,
		Digest:  p.digest,
		Entries: make([]snapshotEntry, len(p.entries)),
	}
	for i, e := range p.entries {
		s.Entries[i] = snapshotEntry{Set: e.Set, Patch: e.Patch.ID}
	}
	return cborEncMode.Marshal(&s)
}

// RestorePlan rebuilds a plan from a snapshot, resolving every id against
// cat and re-running conflict validation. A snapshot taken against a
// different catalog fails with ErrStalePlan.
func RestorePlan(data []byte, cat *catalog.Catalog) (*Plan, error) {
	var s snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("selection: unmarshal plan: %w", err)
	}
	if s.Version != snapshotVersion {
		return nil, fmt.Errorf("%w: snapshot version %d, want %d", ErrStalePlan, s.Version, snapshotVersion)
	}

	p := &Plan{sets: s.Sets, skipped: s.Skipped}
	for _, name := range s.Sets {
		if _, ok := cat.Set(name); !ok {
			return nil, fmt.Errorf("%w: unknown set %q", ErrStalePlan, name)
		}
	}
	for _, e := range s.Entries {
		d, ok := cat.Patch(e.Patch)
		if !ok {
			return nil, fmt.Errorf("%w: unknown patch %q", ErrStalePlan, e.Patch)
		}
		p.entries = append(p.entries, Entry{Set: e.Set, Patch: d})
	}
	if err := Validate(p.Patches()); err != nil {
		return nil, err
	}
	p.digest = digestOf(p.entries)
	if p.digest != s.Digest {
		return nil, fmt.Errorf("%w: digest %s, snapshot says %s", ErrStalePlan, p.digest, s.Digest)
	}
	return p, nil
}
