package main

import (
	"context"

	"github.com/spf13/cobra"
)

func newMaintenanceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintenance",
		Short: "Inspect and maintain the SQLite store",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show store size and row counts",
		Args:  usageArgs(cobra.NoArgs),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			st, err := a.maint.Status(ctx)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		}),
	}

	var vacuum bool
	optimize := &cobra.Command{
		Use:   "optimize",
		Short: "Refresh planner statistics and checkpoint the WAL",
		Args:  usageArgs(cobra.NoArgs),
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
			if err := a.maint.Optimize(ctx); err != nil {
				return err
			}
			if vacuum {
				return a.maint.Vacuum(ctx)
			}
			return nil
		}),
	}
	optimize.Flags().BoolVar(&vacuum, "vacuum", false, "Also rebuild the database file")

	var list bool
	backup := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the store into maintenance.backup_dir and prune old snapshots",
		Args:  usageArgs(cobra.NoArgs),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
			if list {
				backups, err := a.maint.ListBackups()
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), backups)
			}
			info, err := a.maint.Backup(ctx)
			if err != nil {
				return err
			}
			if err := a.maint.Prune(); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), info)
		}),
	}
	backup.Flags().BoolVar(&list, "list", false, "List existing snapshots instead of taking one")

	cmd.AddCommand(status, optimize, backup)
	return cmd
}
