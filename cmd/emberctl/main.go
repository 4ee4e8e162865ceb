// Command emberctl is the host program spec §2 component 14 and §6 ask
// this repository to ship alongside the runtime itself: load a compiled
// assembly, call its functions, inspect the live heap, and drive a
// reload either once or continuously by watching a directory.
//
// Grounded on cmd/viewcore's command set (one cobra.Command per verb,
// sharing flags through cmd.Flags()) and its objref.go subcommand, which
// emberctl's own objgraph command generalizes from a core-dump's object
// graph to this runtime's live heap.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "emberctl",
		Short: "Load, call, inspect and hot-reload Ember assemblies",
	}
	root.AddCommand(newLoadCmd())
	root.AddCommand(newCallCmd())
	root.AddCommand(newWatchCmd())
	root.AddCommand(newObjgraphCmd())
	root.AddCommand(newReplCmd())
	return root
}
