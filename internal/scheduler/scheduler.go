// Package scheduler repeats the daily collection and reloads the
// tracked-artist file and logging settings when they change on disk.
package scheduler

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/adrien-gtd/artist-data-acquisition/internal/artist"
	"github.com/adrien-gtd/artist-data-acquisition/internal/collect"
	"github.com/adrien-gtd/artist-data-acquisition/internal/config"
	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/logging"
)

// Runner is the part of collect.Pipeline the scheduler drives.
type Runner interface {
	Resolve(ctx context.Context, entries []artist.TrackedArtist, discover bool) (*collect.Report, error)
	Collect(ctx context.Context, day time.Time, entries []artist.TrackedArtist) (*collect.Report, error)
}

// LogReconfigurer applies new logging settings at runtime.
type LogReconfigurer interface {
	Reconfigure(cfg logging.Config)
}

// Scheduler runs a collection for yesterday on every tick.
type Scheduler struct {
	runner      Runner
	trackedPath string
	configPath  string
	logs        LogReconfigurer
	logger      *slog.Logger
	debounce    time.Duration
	now         func() time.Time
	onRun       func(*collect.Report)

	mu      sync.Mutex
	tracked []artist.TrackedArtist
}

// New creates a scheduler. configPath and logs may be empty/nil, in which
// case logging is never reconfigured.
func New(runner Runner, trackedPath, configPath string, logs LogReconfigurer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		runner:      runner,
		trackedPath: trackedPath,
		configPath:  configPath,
		logs:        logs,
		logger:      logger.With(slog.String("component", "scheduler")),
		debounce:    time.Second,
		now:         time.Now,
	}
}

// SetDebounce overrides the file-change debounce interval (for testing).
func (s *Scheduler) SetDebounce(d time.Duration) {
	s.debounce = d
}

// OnRun registers fn to be called after every finished collection.
func (s *Scheduler) OnRun(fn func(*collect.Report)) {
	s.onRun = fn
}

// Tracked returns the currently loaded tracked-artist entries.
func (s *Scheduler) Tracked() []artist.TrackedArtist {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracked
}

// Start loads and seeds the tracked artists, collects once, then blocks
// until ctx is cancelled, collecting on every tick. File changes are
// debounced and trigger a reload.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		s.logger.Error("scheduler not started: non-positive interval", slog.String("interval", interval.String()))
		return nil
	}
	if err := s.reloadTracked(ctx); err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify unavailable, file changes will not be picked up", slog.String("error", err.Error()))
	} else {
		defer w.Close() //nolint:errcheck
		for _, dir := range s.watchDirs() {
			if err := w.Add(dir); err != nil {
				s.logger.Warn("cannot watch directory", slog.String("path", dir), slog.String("error", err.Error()))
			}
		}
	}

	// When fsnotify is unavailable, use nil channels (never receive).
	var (
		eventCh <-chan fsnotify.Event
		errCh   <-chan error
	)
	if w != nil {
		eventCh, errCh = w.Events, w.Errors
	}

	debounceTimer := time.NewTimer(0)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}
	defer debounceTimer.Stop()

	s.logger.Info("scheduler started", slog.String("interval", interval.String()))
	s.RunOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		case ev, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			if s.relevant(ev) {
				debounceTimer.Reset(s.debounce)
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			s.logger.Error("fsnotify error", slog.String("error", err.Error()))
		case <-debounceTimer.C:
			s.logger.Info("configuration changed on disk, reloading")
			if err := s.reloadTracked(ctx); err != nil {
				s.logger.Error("reloading tracked artists; keeping previous list", slog.String("error", err.Error()))
			}
			s.reloadLogging()
		}
	}
}

// RunOnce collects yesterday's statistics for the loaded artists.
func (s *Scheduler) RunOnce(ctx context.Context) {
	tracked := s.Tracked()
	if len(tracked) == 0 {
		s.logger.Warn("no tracked artists; skipping collection")
		return
	}
	day := collect.Yesterday(s.now())
	rep, err := s.runner.Collect(ctx, day, tracked)
	if err != nil {
		s.logger.Error("scheduled collection failed", slog.String("day", day.Format(database.DateLayout)), slog.String("error", err.Error()))
		return
	}
	s.logger.Info("scheduled collection complete",
		slog.String("day", day.Format(database.DateLayout)),
		slog.String("run_id", rep.RunID),
		slog.String("status", string(rep.Status)),
		slog.Int("successes", rep.Successes),
		slog.Int("failures", rep.Failures))
	if s.onRun != nil {
		s.onRun(rep)
	}
}

func (s *Scheduler) reloadTracked(ctx context.Context) error {
	entries, err := artist.LoadTracked(s.trackedPath)
	if err != nil {
		return err
	}
	rep, err := s.runner.Resolve(ctx, entries, false)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.tracked = entries
	s.mu.Unlock()
	s.logger.Info("tracked artists loaded",
		slog.Int("artists", len(entries)),
		slog.String("resolve_status", string(rep.Status)))
	return nil
}

func (s *Scheduler) reloadLogging() {
	if s.configPath == "" || s.logs == nil {
		return
	}
	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.logger.Error("reloading config; keeping logging settings", slog.String("error", err.Error()))
		return
	}
	s.logs.Reconfigure(cfg.Logging)
}

// watchDirs returns the directories holding the watched files. Watching
// the directory survives editors that replace files by rename.
func (s *Scheduler) watchDirs() []string {
	seen := map[string]bool{}
	var dirs []string
	for _, p := range []string{s.trackedPath, s.configPath} {
		if p == "" {
			continue
		}
		d := filepath.Dir(p)
		if !seen[d] {
			seen[d] = true
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func (s *Scheduler) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Clean(ev.Name)
	return name == filepath.Clean(s.trackedPath) || (s.configPath != "" && name == filepath.Clean(s.configPath))
}
