package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/chazu/weft/interp"
	"github.com/chazu/weft/pipeline"
)

func newRunCommand(g *globalFlags) *cobra.Command {
	var (
		desc  string
		trace bool
	)
	cmd := &cobra.Command{
		Use:   "run <classes-dir> <class> <method> [args...]",
		Short: "Load classes through the weaver and invoke a method",
		Long: `Define every class under <classes-dir> in the reference runtime, passing
each through the active patch plan, then create an instance of <class> and
invoke <method>. Expression guards run; host-bound replacements fail.

Arguments are parsed as integers, floats, booleans or nil, falling back to
strings.`,
		Args: cobra.MinimumNArgs(3),
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

			opts := []interp.Option{interp.WithLoadHook(interp.LoadHook(pl.Hook()))}
			if trace {
				opts = append(opts, interp.WithTrace())
			}
			rt := interp.New(p.hooks, opts...)

			classes, err := collectClasses(args[0])
			if err != nil {
				return err
			}
			for _, c := range classes {
				data, err := os.ReadFile(c.Path)
				if err != nil {
					return err
				}
				if _, err := rt.Define(c.Name, data); err != nil {
					return err
				}
			}

			obj, err := rt.New(args[1])
			if err != nil {
				return err
			}
			callArgs := make([]any, 0, len(args)-3)
			for _, a := range args[3:] {
				callArgs = append(callArgs, parseArg(a))
			}
			result, err := rt.Invoke(obj, args[2], desc, callArgs...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%v\n", formatValue(result))
			fmt.Fprintf(out, "%s\n", dimStyle(obj.String()))
			return nil
		},
	}
	cmd.Flags().StringVarP(&desc, "desc", "d", "", "method descriptor, required when the name is overloaded")
	cmd.Flags().BoolVar(&trace, "trace", false, "log every executed instruction (needs -vvvv)")
	return cmd
}

func parseArg(s string) any {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch s {
	case "true":
		return true
	case "false":
		return false
	case "nil":
		return nil
	}
	return s
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return strconv.Quote(x)
	default:
		return fmt.Sprint(x)
	}
}
