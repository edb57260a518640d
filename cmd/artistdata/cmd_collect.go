package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/adrien-gtd/artist-data-acquisition/internal/artist"
	"github.com/adrien-gtd/artist-data-acquisition/internal/collect"
	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
)

func newCollectCmd() *cobra.Command {
	var flags struct {
		date    string
		timeout time.Duration
	}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect one day of statistics for every tracked artist",
		Args:  usageArgs(cobra.NoArgs),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			day, err := parseDay(flags.date)
			if err != nil {
				return err
			}
			entries, err := artist.LoadTracked(a.cfg.TrackedArtists)
			if err != nil {
				return usageError(err)
			}

			timeout := flags.timeout
			if timeout == 0 {
				timeout = a.cfg.Fetch.RunTimeout
			}
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			rep, err := a.pipeline.Collect(ctx, day, entries)
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
	f.StringVar(&flags.date, "date", "", "Day to collect, YYYY-MM-DD (default yesterday, UTC)")
	f.DurationVar(&flags.timeout, "timeout", 0, "Deadline for the whole run (default fetch.run_timeout)")
	return cmd
}

// parseDay parses a YYYY-MM-DD flag value. An empty value means yesterday.
func parseDay(s string) (time.Time, error) {
	if s == "" {
		return collect.Yesterday(time.Now()), nil
	}
	d, err := time.Parse(database.DateLayout, s)
	if err != nil {
		return time.Time{}, usageError(fmt.Errorf("invalid date %q: want YYYY-MM-DD", s))
	}
	return d, nil
}
