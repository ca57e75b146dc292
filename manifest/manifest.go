// Package manifest handles weft.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/chazu/weft/capability"
)

// FileName is the project file looked up by Load and FindAndLoad.
const FileName = "weft.toml"

// Manifest represents a weft.toml project configuration.
type Manifest struct {
	Project  Project        `toml:"project"`
	Catalog  CatalogConfig  `toml:"catalog"`
	Registry RegistryConfig `toml:"registry"`
	Output   OutputConfig   `toml:"output"`
	Engine   EngineConfig   `toml:"engine"`
	Hooks    HooksConfig    `toml:"hooks"`

	// Dir is the directory containing the weft.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// CatalogConfig lists the catalog resources, merged in order.
type CatalogConfig struct {
	Files []string `toml:"files"`
}

// RegistryConfig points at a registry snapshot. Side, when set, overrides
// the side recorded in the snapshot.
type RegistryConfig struct {
	Snapshot string `toml:"snapshot"`
	Side     string `toml:"side"`
}

// OutputConfig configures where apply writes.
type OutputConfig struct {
	Dir     string `toml:"dir"`
	Journal string `toml:"journal"`
	Plan    string `toml:"plan"`
}

// EngineConfig tunes batch transforms.
type EngineConfig struct {
	Workers int `toml:"workers"`
}

// HooksConfig declares the hook names the host binds at run time. Offline
// commands treat them as registered so catalogs referencing them validate.
type HooksConfig struct {
	Guards       []string `toml:"guards"`
	Replacements []string `toml:"replacements"`
	Decorators   []string `toml:"decorators"`
}

// Load parses a weft.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Catalog.Files) == 0 {
		m.Catalog.Files = []string{"catalog.toml"}
	}
	if m.Output.Dir == "" {
		m.Output.Dir = "out"
	}
	if m.Engine.Workers <= 0 {
		m.Engine.Workers = 4
	}

	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a weft.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	if m.Registry.Side != "" {
		if _, err := capability.ParseSide(m.Registry.Side); err != nil {
			return fmt.Errorf("registry.side: %w", err)
		}
	}
	return nil
}

// overrides are the WEFT_* environment variables.
type overrides struct {
	Side     string   `env:"WEFT_SIDE"`
	Catalog  []string `env:"WEFT_CATALOG" envSeparator:","`
	Registry string   `env:"WEFT_REGISTRY"`
	Journal  string   `env:"WEFT_JOURNAL"`
	Output   string   `env:"WEFT_OUTPUT"`
	Workers  int      `env:"WEFT_WORKERS"`
}

// ApplyEnv overrides manifest values from WEFT_* environment variables.
// Paths taken from the environment are resolved against the working
// directory, not the manifest directory.
func (m *Manifest) ApplyEnv() error {
	var o overrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("reading environment: %w", err)
	}
	if o.Side != "" {
		m.Registry.Side = o.Side
	}
	if len(o.Catalog) > 0 {
		m.Catalog.Files = absAll(o.Catalog)
	}
	if o.Registry != "" {
		m.Registry.Snapshot = abs(o.Registry)
	}
	if o.Journal != "" {
		m.Output.Journal = abs(o.Journal)
	}
	if o.Output != "" {
		m.Output.Dir = abs(o.Output)
	}
	if o.Workers > 0 {
		m.Engine.Workers = o.Workers
	}
	return m.validate()
}

func abs(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

func absAll(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = abs(p)
	}
	return out
}

// resolve makes p absolute relative to the manifest directory.
func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// CatalogPaths returns absolute paths for the configured catalog files.
func (m *Manifest) CatalogPaths() []string {
	var paths []string
	for _, f := range m.Catalog.Files {
		paths = append(paths, m.resolve(f))
	}
	return paths
}

// SnapshotPath returns the registry snapshot path, or "" if none is set.
func (m *Manifest) SnapshotPath() string { return m.resolve(m.Registry.Snapshot) }

// OutputDir returns the directory rewritten classes are written to.
func (m *Manifest) OutputDir() string { return m.resolve(m.Output.Dir) }

// JournalPath returns the journal database path, or "" if disabled.
func (m *Manifest) JournalPath() string { return m.resolve(m.Output.Journal) }

// PlanPath returns where plan snapshots are written, or "".
func (m *Manifest) PlanPath() string { return m.resolve(m.Output.Plan) }

// OpenRegistry builds the capability registry described by the manifest. With
// no snapshot configured the registry reports no modules.
func (m *Manifest) OpenRegistry() (capability.Registry, error) {
	snap := &capability.Snapshot{}
	if p := m.SnapshotPath(); p != "" {
		s, err := capability.LoadSnapshot(p)
		if err != nil {
			return nil, err
		}
		snap = s
	}
	if m.Registry.Side != "" {
		side, err := capability.ParseSide(m.Registry.Side)
		if err != nil {
			return nil, err
		}
		snap.Side = side
	}
	return snap, nil
}
