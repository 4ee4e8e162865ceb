package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emberlang/ember/internal/abi"
	"github.com/emberlang/ember/internal/host"
)

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <plugin.so> <function> [args...]",
		Short: "Load an assembly and invoke one exported function",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, name, rawArgs := args[0], args[1], args[2:]

			h := host.New(nil)
			if _, err := h.Load(path, nil); err != nil {
				return err
			}
			proto, err := h.GetFunction(name)
			if err != nil {
				return err
			}
			if len(rawArgs) != len(proto.Args) {
				return fmt.Errorf("%s wants %d argument(s), got %d", proto, len(proto.Args), len(rawArgs))
			}

			callArgs := make([]any, len(rawArgs))
			for i, raw := range rawArgs {
				ty, ok := h.TypeOf(proto.Args[i])
				if !ok {
					return fmt.Errorf("argument %d: type %s is not registered", i, proto.Args[i])
				}
				v, err := parseCLIArg(ty, raw)
				if err != nil {
					return fmt.Errorf("argument %d (%s): %w", i, ty.Name, err)
				}
				callArgs[i] = v
			}

			result, err := h.Invoke(proto, callArgs...)
			if err != nil {
				return err
			}
			if proto.Return == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "ok")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}
}

// parseCLIArg converts one command-line string into the Go value Invoke
// expects for ty. Struct and pointer arguments can't be expressed as a
// bare CLI string — call them through the repl instead, which can Alloc
// and WriteField before invoking.
func parseCLIArg(ty *abi.TypeInfo, raw string) (any, error) {
	if ty.Kind != abi.KindPrimitive {
		return nil, fmt.Errorf("%s arguments can't be passed on the command line, use the repl", ty.Kind)
	}
	switch ty.Name {
	case "bool":
		return strconv.ParseBool(raw)
	case "i32":
		v, err := strconv.ParseInt(raw, 10, 32)
		return int32(v), err
	case "i64":
		return strconv.ParseInt(raw, 10, 64)
	case "f32":
		v, err := strconv.ParseFloat(raw, 32)
		return float32(v), err
	case "f64":
		return strconv.ParseFloat(raw, 64)
	default:
		return nil, fmt.Errorf("unknown primitive type %q", ty.Name)
	}
}
