package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/adrien-gtd/artist-data-acquisition/internal/artist"
)

func newResolveCmd() *cobra.Command {
	var flags struct {
		tracked  string
		discover bool
	}

	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Seed artist identities from the tracked-artist file",
		Long: "resolve maps every platform id listed in the tracked-artist file to a local\n" +
			"artist id. With --discover it also searches platforms for ids the file omits.",
		Args: usageArgs(cobra.NoArgs),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			path := flags.tracked
			if path == "" {
				path = a.cfg.TrackedArtists
			}
			entries, err := artist.LoadTracked(path)
			if err != nil {
				return usageError(err)
			}

			rep, err := a.pipeline.Resolve(ctx, entries, flags.discover)
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

	f := cmd.Flags()
	f.StringVar(&flags.tracked, "tracked", "", "Tracked-artist file (defaults to tracked_artists from config)")
	f.BoolVar(&flags.discover, "discover", false, "Search platforms for ids missing from the file")
	return cmd
}
