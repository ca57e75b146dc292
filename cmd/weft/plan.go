package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chazu/weft/pipeline"
	"github.com/chazu/weft/selection"
)

func newPlanCommand(g *globalFlags) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Detect capabilities and print the active patch plan",
		Long: `Run capability detection against the registry snapshot and select the
active patch sets. With --output (or output.plan in weft.toml) the plan is
written as CBOR so "weft apply --plan" can reuse it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.loadProject()
			if err != nil {
				return err
			}
			reg, err := p.manifest.OpenRegistry()
			if err != nil {
				return err
			}
			pl, err := pipeline.Start(reg, p.catalog, p.hooks, pipeline.Options{})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			plan := pl.Plan()
			fmt.Fprintf(out, "%s %s (side %s)\n", headingStyle("session"), pl.SessionID(), pl.Capabilities().Side())
			fmt.Fprintf(out, "%s %s\n", headingStyle("plan"), plan.Digest())
			for _, s := range plan.Sets() {
				fmt.Fprintf(out, "  %s %s\n", okStyle("active"), s)
			}
			for _, s := range plan.Skipped() {
				fmt.Fprintf(out, "  %s %s: %s\n", warnStyle("skipped"), s.Set, s.Reason)
			}
			for i := 0; i < plan.Len(); i++ {
				e := plan.At(i)
				fmt.Fprintf(out, "  %3d %s %s\n", i, e.Patch, dimStyle("<- "+e.Set))
			}

			if output == "" {
				output = p.manifest.PlanPath()
			}
			if output == "" {
				return nil
			}
			data, err := selection.MarshalPlan(plan)
			if err != nil {
				return err
			}
			if err := writeFile(output, data); err != nil {
				return fmt.Errorf("writing plan: %w", err)
			}
			fmt.Fprintf(out, "wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the plan snapshot (CBOR) to this file")
	return cmd
}
