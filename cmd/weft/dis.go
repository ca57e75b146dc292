package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/weft/classfile"
)

func newDisCommand() *cobra.Command {
	var method string
	cmd := &cobra.Command{
		Use:   "dis <file.wcls>...",
		Short: "Disassemble class binaries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				c, err := classfile.Parse(data)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if method == "" {
					fmt.Fprint(out, classfile.Disassemble(c))
					continue
				}
				ms := c.MethodsNamed(method)
				if len(ms) == 0 {
					return fmt.Errorf("%s: no method %q", c.Name, method)
				}
				for _, m := range ms {
					fmt.Fprint(out, classfile.DisassembleMethod(c, m))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", "", "only list methods with this name")
	return cmd
}
