package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/host"
)

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <plugin.so>",
		Short: "Load a compiled assembly and print what it exports",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := host.New(nil)
			info, err := h.Load(args[0], nil)
			if err != nil {
				return err
			}
			printAssemblyInfo(cmd, args[0], info)
			return nil
		},
	}
}

func printAssemblyInfo(cmd *cobra.Command, path string, info *abi.AssemblyInfo) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: module %q\n", path, info.Module.Path)
	fmt.Fprintf(out, "  types:\n")
	for _, t := range info.Module.DefinedTypes {
		fmt.Fprintf(out, "    %s (%s, %d bytes)\n", t.Name, t.Kind, t.SizeBytes())
	}
	fmt.Fprintf(out, "  functions:\n")
	for _, fn := range info.Module.Functions {
		fmt.Fprintf(out, "    %s\n", fn.Prototype)
	}
}
