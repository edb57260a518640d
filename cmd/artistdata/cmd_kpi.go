package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/adrien-gtd/artist-data-acquisition/internal/kpi"
)

func newKPICmd() *cobra.Command {
	var flags struct {
		window int
		kind   string
		end    string
	}

	cmd := &cobra.Command{
		Use:   "kpi LOCAL_ID METRIC",
		Short: "Compute a windowed KPI from canonical records",
		Long: "kpi computes delta, rate or mean of METRIC over the --window days ending\n" +
			"at --end. Every day of the window must have a canonical value.",
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			kind, err := kpi.ParseKind(flags.kind)
			if err != nil {
				return usageError(err)
			}
			end, err := parseDay(flags.end)
			if err != nil {
				return err
			}

			res, err := kpi.NewAggregator(a.records).Aggregate(ctx, kpi.Query{
				LocalID: args[0],
				Metric:  args[1],
				Window:  flags.window,
				End:     end,
				Kind:    kind,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		}),
	}

	f := cmd.Flags()
	f.IntVar(&flags.window, "window", 7, "Window length in days")
	f.StringVar(&flags.kind, "kind", string(kpi.KindDelta), "Aggregation: delta, rate or mean")
	f.StringVar(&flags.end, "end", "", "Last day of the window, YYYY-MM-DD (default yesterday, UTC)")
	return cmd
}
