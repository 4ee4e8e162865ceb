package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberlang/ember/internal/host"
	"github.com/emberlang/ember/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var debounce time.Duration
	cmd := &cobra.Command{
		Use:   "watch <directory>",
		Short: "Watch a directory and reload its assembly on every change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]

			w, err := watch.New(debounce)
			if err != nil {
				return fmt.Errorf("starting watcher: %w", err)
			}
			defer w.Close()
			if err := w.Add(dir); err != nil {
				return fmt.Errorf("watching %s: %w", dir, err)
			}

			out := cmd.OutOrStdout()
			h := host.New(nil)
			fmt.Fprintf(out, "watching %s for assembly changes (ctrl-c to stop)\n", dir)

			for {
				select {
				case ev := <-w.Changes:
					info, err := h.Load(ev.Path, nil)
					if err != nil {
						fmt.Fprintf(out, "reload %s: %v\n", ev.Path, err)
						continue
					}
					fmt.Fprintf(out, "reloaded %s: module %q, %d function(s)\n", ev.Path, info.Module.Path, len(info.Module.Functions))
				case err := <-w.Errs():
					fmt.Fprintf(out, "watch error: %v\n", err)
				case <-cmd.Context().Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", 200*time.Millisecond, "time to wait for a burst of writes to settle before reloading")
	return cmd
}
