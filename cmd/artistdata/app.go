package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/adrien-gtd/artist-data-acquisition/internal/artist"
	"github.com/adrien-gtd/artist-data-acquisition/internal/collect"
	"github.com/adrien-gtd/artist-data-acquisition/internal/config"
	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/event"
	"github.com/adrien-gtd/artist-data-acquisition/internal/logging"
	"github.com/adrien-gtd/artist-data-acquisition/internal/maintenance"
	"github.com/adrien-gtd/artist-data-acquisition/internal/merge"
	"github.com/adrien-gtd/artist-data-acquisition/internal/metrics"
	"github.com/adrien-gtd/artist-data-acquisition/internal/normalize"
	"github.com/adrien-gtd/artist-data-acquisition/internal/observation"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform/deezer"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform/spotify"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform/wikipedia"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform/youtube"
	"github.com/adrien-gtd/artist-data-acquisition/internal/provenance"
	"github.com/adrien-gtd/artist-data-acquisition/internal/webhook"
)

// app holds the wired components shared by every command.
type app struct {
	cfg        *config.Config
	configPath string
	logs       *logging.Manager
	logger     *slog.Logger
	db         *sql.DB
	identities *artist.Service
	resolver   *artist.Resolver
	tracker    *provenance.Tracker
	records    *merge.Store
	pipeline   *collect.Pipeline
	maint      *maintenance.Service
	bus        *event.Bus
}

// newApp loads configuration, sets up logging and opens the migrated
// database. Configuration errors are usage errors.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, usageError(err)
	}

	logs, logger := logging.NewManager(cfg.Logging)
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		logs.Close() //nolint:errcheck
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close()   //nolint:errcheck
		logs.Close() //nolint:errcheck
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	logger.Debug("database ready", slog.String("path", cfg.Database.Path))

	a := &app{
		cfg:        cfg,
		configPath: configPath,
		logs:       logs,
		logger:     logger,
		db:         db,
		identities: artist.NewService(db),
		resolver:   artist.NewResolver(db, cfg.Resolver.Threshold, logger),
		tracker:    provenance.NewTracker(db, logger).WithVersion(version),
		records:    merge.NewStore(db),
		maint: maintenance.NewService(db, cfg.Database.Path, maintenance.Options{
			OptimizeAfterRun: cfg.Maintenance.OptimizeAfterRun,
			BackupDir:        cfg.Maintenance.BackupDir,
			BackupRetention:  cfg.Maintenance.BackupRetention,
			BackupMaxAgeDays: cfg.Maintenance.BackupMaxAgeDays,
		}, logger),
	}

	priority := make([]platform.Name, 0, len(cfg.Merge.Priority))
	for _, p := range cfg.Merge.Priority {
		priority = append(priority, platform.Name(p))
	}

	a.bus = event.NewBus(logger, 16)
	if len(cfg.Notify.Webhooks) > 0 {
		endpoints := make([]webhook.Endpoint, 0, len(cfg.Notify.Webhooks))
		for _, w := range cfg.Notify.Webhooks {
			endpoints = append(endpoints, webhook.Endpoint{Name: w.Name, URL: w.URL, Type: w.Type, Events: w.Events})
		}
		webhook.NewDispatcher(endpoints, nil, "artistdata/"+version, logger).Register(a.bus)
	}
	go a.bus.Start()

	a.pipeline = collect.New(collect.Deps{
		Registry:     buildRegistry(cfg, logger),
		Resolver:     a.resolver,
		Identities:   a.identities,
		Observations: observation.NewStore(db),
		Normalizer:   normalize.New(a.identities, logger),
		Ledger:       provenance.NewLedger(db),
		Tracker:      a.tracker,
		Engine:       merge.NewEngine(db, priority, logger),
		Records:      a.records,
	}, collect.Options{
		MaxRetries:        cfg.Fetch.MaxRetries,
		BackoffBase:       cfg.Fetch.BackoffBase,
		MaxBackoff:        cfg.Fetch.MaxBackoff,
		BreakerFailures:   cfg.Breaker.ConsecutiveFailures,
		BreakerTimeout:    cfg.Breaker.OpenTimeout,
		ResolverThreshold: cfg.Resolver.Threshold,
		SearchLimit:       cfg.Resolver.SearchLimit,
	}, logger)

	return a, nil
}

func (a *app) Close() {
	a.bus.Stop()
	if err := a.db.Close(); err != nil {
		a.logger.Error("closing database", slog.String("error", err.Error()))
	}
	a.logs.Close() //nolint:errcheck
}

// afterRun publishes the outcome of a finished run, exports the process
// metrics for a textfile collector if configured, and runs the post-run
// store housekeeping. It runs even when ctx was cancelled.
func (a *app) afterRun(ctx context.Context, rep *collect.Report) {
	if rep != nil {
		a.bus.Publish(runEvent(rep))
	}
	if err := metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		a.logger.Warn("writing metrics textfile", slog.String("error", err.Error()))
	}
	a.maint.AfterRun(context.WithoutCancel(ctx))
}

func runEvent(rep *collect.Report) event.Event {
	t := event.RunFailed
	switch rep.Status {
	case provenance.StatusSucceeded:
		t = event.RunSucceeded
	case provenance.StatusPartial:
		t = event.RunPartial
	}
	data := map[string]any{
		"run_id":    rep.RunID,
		"kind":      string(rep.Kind),
		"status":    string(rep.Status),
		"successes": rep.Successes,
		"failures":  rep.Failures,
	}
	if len(rep.Errors) > 0 {
		kinds := map[string]int{}
		for _, e := range rep.Errors {
			kinds[string(e.Kind)]++
		}
		data["errors"] = kinds
	}
	return event.Event{Type: t, Data: data}
}

// withApp builds the app for the duration of one command.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(rootFlags.configPath)
		if err != nil {
			return err
		}
		defer a.Close()
		return fn(cmd.Context(), cmd, a, args)
	}
}

// buildRegistry registers an adapter for every enabled platform.
func buildRegistry(cfg *config.Config, logger *slog.Logger) *platform.Registry {
	rates := make(map[platform.Name]float64, len(cfg.Fetch.RequestsPerSecond))
	for name, rps := range cfg.Fetch.RequestsPerSecond {
		rates[platform.Name(name)] = rps
	}
	limiter := platform.NewRateLimiterMap(rates)
	client := &http.Client{Timeout: cfg.Fetch.RequestTimeout}

	reg := platform.NewRegistry()
	p := cfg.Platforms
	if p.Spotify.Enabled {
		reg.Register(spotify.New(spotify.Config{
			ClientID:     p.Spotify.ClientID,
			ClientSecret: p.Spotify.ClientSecret,
			BaseURL:      p.Spotify.BaseURL,
			TokenURL:     p.Spotify.TokenURL,
			Market:       p.Spotify.Market,
			Timeout:      cfg.Fetch.RequestTimeout,
		}, limiter, logger))
	}
	if p.Deezer.Enabled {
		reg.Register(deezer.New(client, limiter, logger, p.Deezer.BaseURL))
	}
	if p.YouTube.Enabled {
		reg.Register(youtube.New(client, limiter, logger, p.YouTube.APIKey, p.YouTube.BaseURL))
	}
	if p.Wikipedia.Enabled {
		reg.Register(wikipedia.New(wikipedia.Config{
			BaseURL:    p.Wikipedia.BaseURL,
			SearchURL:  p.Wikipedia.SearchURL,
			SummaryURL: p.Wikipedia.SummaryURL,
			Project:    p.Wikipedia.Project,
			UserAgent:  p.Wikipedia.UserAgent,
		}, client, limiter, logger))
	}

	names := make([]string, 0)
	for _, ad := range reg.All() {
		names = append(names, string(ad.Name()))
	}
	logger.Debug("platform adapters registered", slog.Any("platforms", names))
	return reg
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
