package main

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/weft/capability"
	"github.com/chazu/weft/journal"
	"github.com/chazu/weft/pipeline"
	"github.com/chazu/weft/rewrite"
)

// ClassExt is the file extension of class binaries.
const ClassExt = ".wcls"

// classFile is a class binary found under an input directory.
type classFile struct {
	Name string // internal class name, e.g. game/Door
	Rel  string // path relative to the input directory
	Path string
}

// collectClasses finds every class binary under dir. The class name is the
// relative path without the extension.
func collectClasses(dir string) ([]classFile, error) {
	var out []classFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ClassExt {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(filepath.ToSlash(rel), ClassExt)
		out = append(out, classFile{Name: name, Rel: rel, Path: path})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func newApplyCommand(g *globalFlags) *cobra.Command {
	var (
		outDir      string
		journalPath string
		planPath    string
		workers     int
	)
	cmd := &cobra.Command{
		Use:   "apply <classes-dir>",
		Short: "Weave the active patch plan into a directory of class binaries",
		Long: `Transform every .wcls file under <classes-dir> and write the results to
the output directory, keeping relative paths. Classes no patch targets are
copied unchanged. Transforms run concurrently; the first failed class
aborts the run with a non-zero exit status.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.loadProject()
			if err != nil {
				return err
			}
			m := p.manifest
			if outDir == "" {
				outDir = m.OutputDir()
			}
			if journalPath == "" {
				journalPath = m.JournalPath()
			}
			if workers <= 0 {
				workers = m.Engine.Workers
			}

			opts := pipeline.Options{}
			if planPath != "" {
				data, err := os.ReadFile(planPath)
				if err != nil {
					return fmt.Errorf("reading plan: %w", err)
				}
				opts.Snapshot = data
			}

			var j *journal.Journal
			if journalPath != "" {
				if j, err = journal.Open(journalPath); err != nil {
					return err
				}
				defer j.Close()
			}

			reg, err := m.OpenRegistry()
			if err != nil {
				return err
			}
			pl, err := startWithJournal(cmd.Context(), reg, p, opts, j)
			if err != nil {
				return err
			}

			classes, err := collectClasses(args[0])
			if err != nil {
				return err
			}
			results, err := transformAll(cmd.Context(), pl.Engine(), classes, outDir, workers)
			printSummary(cmd, results)
			if err != nil {
				return &ExitError{Code: 2, Err: err}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&outDir, "output", "o", "", "output directory (default from weft.toml)")
	cmd.Flags().StringVar(&journalPath, "journal", "", "record transforms in this SQLite journal")
	cmd.Flags().StringVar(&planPath, "plan", "", "restore the plan from a snapshot written by weft plan")
	cmd.Flags().IntVarP(&workers, "workers", "j", 0, "concurrent transforms (default from weft.toml)")
	return cmd
}

// startWithJournal runs the startup barrier. The session id is generated
// first so journal rows carry it.
func startWithJournal(ctx context.Context, reg capability.Registry, p *project, opts pipeline.Options, j *journal.Journal) (*pipeline.Pipeline, error) {
	if j != nil {
		opts.SessionID = uuid.NewString()
		opts.Observers = append(opts.Observers, j.Observer(ctx, opts.SessionID))
	}
	return pipeline.Start(reg, p.catalog, p.hooks, opts)
}

type applyResult struct {
	Class string
	R     rewrite.EditResult
}

// transformAll runs the engine over classes with at most workers in flight
// and writes every non-failed result under outDir.
func transformAll(ctx context.Context, e *rewrite.Engine, classes []classFile, outDir string, workers int) ([]applyResult, error) {
	grp, ctx := errgroup.WithContext(ctx)
	grp.SetLimit(workers)

	var mu sync.Mutex
	results := make([]applyResult, 0, len(classes))
	for _, c := range classes {
		c := c
		grp.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(c.Path)
			if err != nil {
				return err
			}
			r := e.Transform(c.Name, data)

			mu.Lock()
			results = append(results, applyResult{Class: c.Name, R: r})
			mu.Unlock()

			if r.Outcome == rewrite.Failed {
				return fmt.Errorf("%s: %w", c.Name, r.Err)
			}
			return writeFile(filepath.Join(outDir, c.Rel), r.Bytes)
		})
	}
	err := grp.Wait()
	sort.Slice(results, func(i, j int) bool { return results[i].Class < results[j].Class })
	return results, err
}

func printSummary(cmd *cobra.Command, results []applyResult) {
	out := cmd.OutOrStdout()
	counts := make(map[rewrite.Outcome]int)
	for _, res := range results {
		counts[res.R.Outcome]++
		if res.R.Outcome == rewrite.Unchanged && len(res.R.Skipped) == 0 {
			continue
		}
		fmt.Fprintf(out, "%-10s %s", outcomeStyle(res.R.Outcome.String()), res.Class)
		if len(res.R.Applied) > 0 {
			fmt.Fprintf(out, " %s", dimStyle(strings.Join(res.R.Applied, ",")))
		}
		fmt.Fprintln(out)
		for _, s := range res.R.Skipped {
			fmt.Fprintf(out, "  %s %s: %s\n", warnStyle("skipped"), s.ID, s.Reason)
		}
		if res.R.Outcome == rewrite.Failed {
			fmt.Fprintf(out, "  %s\n", errorStyle(res.R.Diagnostic))
		}
	}
	fmt.Fprintf(out, "%d rewritten, %d unchanged, %d failed\n",
		counts[rewrite.Rewritten], counts[rewrite.Unchanged], counts[rewrite.Failed])
}
