package capability

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Snapshot is a static registry, typically captured from a running host.
type Snapshot struct {
	Side    Side
	Modules []string
}

// LoadedModuleIdentities returns a copy of the module list.
func (s *Snapshot) LoadedModuleIdentities() ([]string, error) {
	if s == nil {
		return nil, ErrRegistryUnavailable
	}
	return append([]string(nil), s.Modules...), nil
}

// CurrentSide returns the recorded side.
func (s *Snapshot) CurrentSide() (Side, error) {
	if s == nil {
		return SideBoth, ErrRegistryUnavailable
	}
	return s.Side, nil
}

// snapshotFile is the TOML form of a Snapshot:
//
//	side = "client"
//	modules = ["core", "jei", "thaumcraft"]
type snapshotFile struct {
	Side    string   `toml:"side"`
	Modules []string `toml:"modules"`
}

// LoadSnapshot reads a registry snapshot from a TOML file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry snapshot: %w", err)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot decodes a registry snapshot.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var f snapshotFile
	if _, err := toml.Decode(string(data), &f); err != nil {
		return nil, fmt.Errorf("parsing registry snapshot: %w", err)
	}
	side, err := ParseSide(f.Side)
	if err != nil {
		return nil, fmt.Errorf("parsing registry snapshot: %w", err)
	}
	return &Snapshot{Side: side, Modules: f.Modules}, nil
}

// Unavailable is the registry of a host that has not finished initializing.
// Every query fails.
type Unavailable struct{}

func (Unavailable) LoadedModuleIdentities() ([]string, error) {
	return nil, ErrRegistryUnavailable
}

func (Unavailable) CurrentSide() (Side, error) {
	return SideBoth, ErrRegistryUnavailable
}
