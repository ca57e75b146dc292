package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the patch catalog",
		Long: `Load every catalog file, check it against the catalog schema and
validate every patch, set and concern. All problems are reported together.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := g.loadProject()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			cat := p.catalog
			fmt.Fprintf(out, "%s %d patches, %d sets, %d concerns\n",
				okStyle("catalog ok:"), cat.Len(), len(cat.Sets()), len(cat.Concerns()))
			for _, s := range cat.Sets() {
				fmt.Fprintf(out, "  set %s %s\n", headingStyle(s.Name), dimStyle(fmt.Sprintf("(%d patches)", len(s.Patches))))
				for _, id := range s.Patches {
					d, _ := cat.Patch(id)
					fmt.Fprintf(out, "    %s\n", d)
				}
			}
			return nil
		},
	}
}
