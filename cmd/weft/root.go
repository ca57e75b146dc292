package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/weft/capability"
	"github.com/chazu/weft/catalog"
	"github.com/chazu/weft/hook"
	"github.com/chazu/weft/manifest"
)

// errUnbound is returned by placeholder hooks the CLI registers for names
// the host binds at run time.
var errUnbound = errors.New("hook is bound by the host, not available in the weft CLI")

// globalFlags are shared by every subcommand.
type globalFlags struct {
	verbosity int
	project   string
	catalogs  []string
	registry  string
	side      string
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:   "weft",
		Short: "Load-time conditional instrumentation for class binaries",
		Long: `weft weaves patches into class binaries according to a patch catalog
and the capabilities present in a host.

A project is described by weft.toml (catalog files, registry snapshot,
output locations). WEFT_* environment variables override it, and the
--catalog/--registry/--side flags override both.

Examples:
  weft validate
  weft plan -o build/plan.cbor
  weft apply classes/
  weft dis out/game/Door.wcls
  weft run classes/ game/Door isOpen`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			commonlog.Configure(g.verbosity, nil)
		},
	}

	root.PersistentFlags().CountVarP(&g.verbosity, "verbose", "v", "increase log verbosity (repeatable)")
	root.PersistentFlags().StringVarP(&g.project, "project", "C", ".", "directory to search for weft.toml")
	root.PersistentFlags().StringSliceVar(&g.catalogs, "catalog", nil, "catalog files (overrides weft.toml)")
	root.PersistentFlags().StringVar(&g.registry, "registry", "", "registry snapshot (overrides weft.toml)")
	root.PersistentFlags().StringVar(&g.side, "side", "", "host side: client, server or both")

	root.AddCommand(
		newValidateCommand(g),
		newPlanCommand(g),
		newApplyCommand(g),
		newDisCommand(),
		newRunCommand(g),
	)
	return root
}

// project is a loaded weft project: its manifest, hook registry and the
// validated catalog.
type project struct {
	manifest *manifest.Manifest
	hooks    *hook.Registry
	catalog  *catalog.Catalog
}

// loadManifest finds weft.toml from the --project directory and applies
// environment and flag overrides. Without a manifest the flags alone
// describe the project.
func (g *globalFlags) loadManifest() (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(g.project)
	if err != nil {
		return nil, err
	}
	if m == nil {
		dir, err := filepath.Abs(g.project)
		if err != nil {
			return nil, err
		}
		m = &manifest.Manifest{
			Dir:     dir,
			Catalog: manifest.CatalogConfig{Files: []string{"catalog.toml"}},
			Output:  manifest.OutputConfig{Dir: "out"},
			Engine:  manifest.EngineConfig{Workers: 4},
		}
	}
	if err := m.ApplyEnv(); err != nil {
		return nil, err
	}
	if len(g.catalogs) > 0 {
		m.Catalog.Files = absAll(g.catalogs)
	}
	if g.registry != "" {
		m.Registry.Snapshot = absPath(g.registry)
	}
	if g.side != "" {
		if _, err := capability.ParseSide(g.side); err != nil {
			return nil, err
		}
		m.Registry.Side = g.side
	}
	return m, nil
}

// loadProject loads the manifest and builds the catalog against a registry
// holding the manifest's declared hooks.
func (g *globalFlags) loadProject() (*project, error) {
	m, err := g.loadManifest()
	if err != nil {
		return nil, err
	}
	hooks, err := declaredHooks(m.Hooks)
	if err != nil {
		return nil, err
	}
	cat, err := catalog.LoadFiles(m.CatalogPaths(), hooks)
	if err != nil {
		return nil, err
	}
	return &project{manifest: m, hooks: hooks, catalog: cat}, nil
}

// declaredHooks registers placeholders for host-bound hooks. Guards
// continue, decorators pass the value through and replacements fail.
func declaredHooks(cfg manifest.HooksConfig) (*hook.Registry, error) {
	r := hook.NewRegistry()
	for _, name := range cfg.Guards {
		if err := r.RegisterGuard(name, func(hook.Call) hook.Decision { return hook.Continue() }); err != nil {
			return nil, fmt.Errorf("hooks.guards: %w", err)
		}
	}
	for _, name := range cfg.Replacements {
		name := name
		if err := r.RegisterReplacement(name, func(hook.Call) (any, error) {
			return nil, fmt.Errorf("replacement %s: %w", name, errUnbound)
		}); err != nil {
			return nil, fmt.Errorf("hooks.replacements: %w", err)
		}
	}
	for _, name := range cfg.Decorators {
		if err := r.RegisterDecorator(name, func(_ hook.Call, v any) (any, error) { return v, nil }); err != nil {
			return nil, fmt.Errorf("hooks.decorators: %w", err)
		}
	}
	return r, nil
}

func absPath(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

func absAll(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = absPath(p)
	}
	return out
}

// writeFile writes data to path, creating parent directories.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
