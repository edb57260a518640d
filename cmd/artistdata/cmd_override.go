package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/adrien-gtd/artist-data-acquisition/internal/artist"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

func newOverrideCmd() *cobra.Command {
	var flags struct {
		reason string
		actor  string
	}

	run := withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
		o, err := a.resolver.Override(ctx, artist.OverrideRequest{
			Platform:         platform.Name(args[0]),
			PlatformArtistID: args[1],
			LocalID:          args[2],
			Reason:           flags.reason,
			Actor:            flags.actor,
		})
		if err != nil {
			return err
		}
		if o == nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s id %s is already mapped to %s\n", args[0], args[1], args[2])
			return nil
		}
		return writeJSON(cmd.OutOrStdout(), o)
	})

	cmd := &cobra.Command{
		Use:   "override PLATFORM PLATFORM_ID LOCAL_ID",
		Short: "Manually map a platform artist id to a local id",
		Long: "override reassigns PLATFORM_ID to LOCAL_ID even when it is mapped to\n" +
			"another artist. Every override is logged with its reason.",
		Args: usageArgs(cobra.ExactArgs(3)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !platform.Name(args[0]).Valid() {
				return usageError(fmt.Errorf("unknown platform %q", args[0]))
			}
			if flags.reason == "" {
				return usageError(fmt.Errorf("--reason is required"))
			}
			return run(cmd, args)
		},
	}

	f := cmd.Flags()
	f.StringVar(&flags.reason, "reason", "", "Why the mapping is overridden (required)")
	f.StringVar(&flags.actor, "actor", "cli", "Who performed the override")
	return cmd
}
