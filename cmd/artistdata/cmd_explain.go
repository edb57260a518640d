package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/adrien-gtd/artist-data-acquisition/internal/collect"
	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
)

func newExplainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain LOCAL_ID DATE METRIC",
		Short: "Trace a canonical value back to its raw observations",
		Long: "explain prints the canonical field, its provenance chain and a replay of\n" +
			"each contributing observation through the normalizer. It exits 1 when a\n" +
			"replay does not reproduce the recorded value.",
		Args: usageArgs(cobra.ExactArgs(3)),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			date, err := time.Parse(database.DateLayout, args[1])
			if err != nil {
				return usageError(fmt.Errorf("invalid date %q: want YYYY-MM-DD", args[1]))
			}

			ex, err := a.pipeline.Explain(ctx, args[0], date, args[2])
			if err != nil {
				return err
			}
			if ex == nil {
				return fmt.Errorf("no %s value for %s on %s", args[2], args[0], args[1])
			}

			out := struct {
				*collect.Explanation
				Consistent bool `json:"consistent"`
			}{ex, ex.Consistent()}
			if err := writeJSON(cmd.OutOrStdout(), out); err != nil {
				return err
			}
			if !out.Consistent {
				a.logger.Error("replay does not reproduce canonical value",
					slog.String("local_id", args[0]),
					slog.String("date", args[1]),
					slog.String("metric", args[2]))
				return &exitError{code: exitFailed}
			}
			return nil
		}),
	}
}
