package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/adrien-gtd/artist-data-acquisition/internal/collect"
	"github.com/adrien-gtd/artist-data-acquisition/internal/scheduler"
)

var errNoInterval = errors.New("schedule interval must be positive")

func newScheduleCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Collect yesterday's statistics on a fixed interval",
		Long: "schedule runs until interrupted. It reloads the tracked-artist file and\n" +
			"the logging settings when either changes on disk.",
		Args: usageArgs(cobra.NoArgs),
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
			every := interval
			if every == 0 {
				every = a.cfg.Schedule.Interval
			}
			if every <= 0 {
				return usageError(errNoInterval)
			}

			s := scheduler.New(a.pipeline, a.cfg.TrackedArtists, a.configPath, a.logs, a.logger)
			s.OnRun(func(rep *collect.Report) { a.afterRun(ctx, rep) })
			if err := s.Start(ctx, every); err != nil {
				return usageError(err)
			}
			return nil
		}),
	}

	cmd.Flags().DurationVar(&interval, "interval", 0, "Time between collections (default schedule.interval)")
	return cmd
}
