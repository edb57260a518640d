package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newRetractCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retract OBSERVATION_ID",
		Short: "Withdraw a raw observation from canonical records",
		Long: "retract removes OBSERVATION_ID from every canonical field it contributes\n" +
			"to. The next contributor takes over; a field with none left is dropped.\n" +
			"The raw observation itself is kept.",
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			rep, err := a.pipeline.Retract(ctx, args[0])
			a.afterRun(ctx, rep)
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), rep); err != nil {
				return err
			}
			return statusError(rep.Status)
		}),
	}
}
