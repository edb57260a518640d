package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs [RUN_ID]",
		Short: "List recent workflow runs, or show one",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			if len(args) == 1 {
				run, err := a.tracker.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if run == nil {
					return fmt.Errorf("run %s not found", args[0])
				}
				return writeJSON(cmd.OutOrStdout(), run)
			}

			runs, err := a.tracker.List(ctx, limit)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), runs)
		}),
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")
	return cmd
}
