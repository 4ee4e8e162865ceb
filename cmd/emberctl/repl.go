package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/emberlang/ember/internal/host"
)

// newReplCmd gives ad hoc access to one long-lived Host the way Mun's own
// `mun` command-line tool does: load an assembly, call functions against
// it, force a collection, and reload the same path again once its .so has
// been rebuilt, all against the same runtime instance so objects survive
// between commands.
func newReplCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Interactive shell for loading, calling and reloading assemblies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rl, err := readline.New("ember> ")
			if err != nil {
				return err
			}
			defer rl.Close()

			out := cmd.OutOrStdout()
			h := host.New(nil)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}

				fields := strings.Fields(line)
				if len(fields) == 0 {
					continue
				}

				switch fields[0] {
				case "exit", "quit":
					return nil
				case "load", "reload":
					if len(fields) != 2 {
						fmt.Fprintln(out, "usage: load <plugin.so>")
						continue
					}
					info, err := h.Load(fields[1], nil)
					if err != nil {
						fmt.Fprintln(out, err)
						continue
					}
					printAssemblyInfo(cmd, fields[1], info)
				case "call":
					if len(fields) < 2 {
						fmt.Fprintln(out, "usage: call <function> [args...]")
						continue
					}
					replCall(out, h, fields[1], fields[2:])
				case "gc":
					collected := h.Collect()
					fmt.Fprintf(out, "collected something: %v\n", collected)
				case "objgraph":
					for _, node := range h.ObjectGraph() {
						fmt.Fprintf(out, "%s %s (%d bytes)\n", node.Handle, node.TypeName, node.Size)
					}
				case "help":
					fmt.Fprintln(out, "commands: load <path>, reload <path>, call <fn> [args...], gc, objgraph, exit")
				default:
					fmt.Fprintf(out, "unknown command %q (try: help)\n", fields[0])
				}
			}
		},
	}
}

func replCall(out io.Writer, h *host.Host, name string, rawArgs []string) {
	proto, err := h.GetFunction(name)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	if len(rawArgs) != len(proto.Args) {
		fmt.Fprintf(out, "%s wants %d argument(s), got %d\n", proto, len(proto.Args), len(rawArgs))
		return
	}
	callArgs := make([]any, len(rawArgs))
	for i, raw := range rawArgs {
		ty, ok := h.TypeOf(proto.Args[i])
		if !ok {
			fmt.Fprintf(out, "argument %d: type %s is not registered\n", i, proto.Args[i])
			return
		}
		v, err := parseCLIArg(ty, raw)
		if err != nil {
			fmt.Fprintf(out, "argument %d (%s): %v\n", i, ty.Name, err)
			return
		}
		callArgs[i] = v
	}
	result, err := h.Invoke(proto, callArgs...)
	if err != nil {
		fmt.Fprintln(out, err)
		return
	}
	if proto.Return == nil {
		fmt.Fprintln(out, "ok")
		return
	}
	fmt.Fprintln(out, result)
}
