// artistdata collects daily popularity statistics for tracked artists from
// streaming, video and encyclopedic platforms into one canonical record per
// artist and day.
//
// Usage:
//
//	artistdata resolve  [--tracked <file>] [--discover]
//	artistdata collect  [--date YYYY-MM-DD] [--timeout <duration>]
//	artistdata kpi      LOCAL_ID METRIC [--window 7] [--kind delta|rate|mean] [--end YYYY-MM-DD]
//	artistdata explain  LOCAL_ID DATE METRIC
//	artistdata override PLATFORM PLATFORM_ID LOCAL_ID --reason <text>
//	artistdata retract  OBSERVATION_ID
//	artistdata runs     [--limit 20]
//	artistdata schedule [--interval <duration>]
//	artistdata maintenance status|optimize [--vacuum]|backup [--list]
//
// Run commands exit 0 when the run succeeded, 3 when it was partial and 1
// when it failed. Usage and configuration errors exit 2.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/adrien-gtd/artist-data-acquisition/internal/provenance"
)

// version is set at build time via -ldflags.
var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	exitPartial = 3
)

// exitError carries a process exit code. A nil err means the command has
// already reported everything it has to say.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func usageError(err error) error {
	return &exitError{code: exitUsage, err: err}
}

// statusError maps a closed run's status to the command result.
func statusError(s provenance.Status) error {
	switch s {
	case provenance.StatusSucceeded:
		return nil
	case provenance.StatusPartial:
		return &exitError{code: exitPartial}
	default:
		return &exitError{code: exitFailed}
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	// cobra reports unknown subcommands as plain errors.
	if strings.HasPrefix(err.Error(), "unknown command") {
		return exitUsage
	}
	return exitFailed
}

// usageArgs marks positional-argument validation failures as usage errors.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return usageError(err)
		}
		return nil
	}
}

var rootFlags struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "artistdata",
		Short: "Daily artist popularity collection with provenance",
		Long: "artistdata resolves tracked artists across platforms, collects their daily\n" +
			"statistics, merges them into canonical records and computes KPIs over them.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	defaultConfig := os.Getenv("AD_CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	root.PersistentFlags().StringVar(&rootFlags.configPath, "config", defaultConfig, "Path to the YAML config file")
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	root.AddCommand(
		newResolveCmd(),
		newCollectCmd(),
		newKPICmd(),
		newExplainCmd(),
		newArtistCmd(),
		newOverrideCmd(),
		newRetractCmd(),
		newRunsCmd(),
		newScheduleCmd(),
		newMaintenanceCmd(),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	var ee *exitError
	if err != nil && (!errors.As(err, &ee) || ee.err != nil) {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(exitCode(err))
}
