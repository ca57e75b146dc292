// Package capability detects which optional external modules are loaded in
// the host's module registry.
//
// Detection runs once at startup. Its result, a Set, is frozen and shared
// read-only with the patch selector for the rest of the session.
package capability

import (
	"errors"
	"fmt"
	"strings"
)

// ModuleIdentity identifies an optional external component.
type ModuleIdentity string

// Side is the execution side the host is running on.
type Side int

const (
	SideBoth Side = iota
	SideClient
	SideServer
)

func (s Side) String() string {
	switch s {
	case SideClient:
		return "client"
	case SideServer:
		return "server"
	default:
		return "both"
	}
}

// ParseSide accepts "client", "server", "both" or "" (both).
func ParseSide(s string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both":
		return SideBoth, nil
	case "client":
		return SideClient, nil
	case "server":
		return SideServer, nil
	}
	return SideBoth, fmt.Errorf("unknown side %q", s)
}

// Matches reports whether something declared for side s may run on the
// host side host. SideBoth on either end always matches.
func (s Side) Matches(host Side) bool {
	return s == SideBoth || host == SideBoth || s == host
}

// Capability records whether a module of interest is loaded.
type Capability struct {
	Identity ModuleIdentity
	Present  bool
	Side     Side
}

// ErrRegistryUnavailable means the host registry could not be queried.
var ErrRegistryUnavailable = errors.New("module registry unavailable")

// DetectionError is the fatal result of a failed registry query. No partial
// capability set is ever returned alongside it.
type DetectionError struct {
	Op  string
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("capability detection failed: %s: %v", e.Op, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// Registry is the host's module registry. Both methods are called exactly
// once per detection.
type Registry interface {
	LoadedModuleIdentities() ([]string, error)
	CurrentSide() (Side, error)
}

// Interests is what the catalog wants to know about.
type Interests struct {
	// Identities are the modules gating patch sets.
	Identities []ModuleIdentity
	// Concerns maps a concern name to the modules that already provide it.
	// A loaded provider suppresses the catalog's own patches for the concern.
	Concerns map[string][]ModuleIdentity
}
