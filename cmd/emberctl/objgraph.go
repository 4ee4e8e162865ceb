package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emberlang/ember/internal/host"
)

// newObjgraphCmd dumps the live heap's object reference graph, the same
// shape of report cmd/viewcore/objref.go builds from a core dump's object
// set, generalized from a frozen process's addresses to this runtime's own
// GcPtr handles.
func newObjgraphCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "objgraph <plugin.so>",
		Short: "Load an assembly and dump the live object reference graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h := host.New(nil)
			if _, err := h.Load(args[0], nil); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, node := range h.ObjectGraph() {
				fmt.Fprintf(out, "%s %s (%d bytes)\n", node.Handle, node.TypeName, node.Size)
				for _, ref := range node.Refs {
					fmt.Fprintf(out, "  -> %s\n", ref)
				}
			}
			return nil
		},
	}
}
