package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newArtistCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "artist LOCAL_ID",
		Short: "Show an identity with its platform ids and profiles",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			id, err := a.identities.GetByID(ctx, args[0])
			if err != nil {
				return err
			}
			if id == nil {
				return fmt.Errorf("no identity %s", args[0])
			}
			return writeJSON(cmd.OutOrStdout(), id)
		}),
	}
}
