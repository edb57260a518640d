package scheduler

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/adrien-gtd/artist-data-acquisition/internal/artist"
	"github.com/adrien-gtd/artist-data-acquisition/internal/collect"
	"github.com/adrien-gtd/artist-data-acquisition/internal/logging"
	"github.com/adrien-gtd/artist-data-acquisition/internal/provenance"
)

type fakeRunner struct {
	mu       sync.Mutex
	resolved [][]artist.TrackedArtist
	days     []time.Time
	events   chan string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{events: make(chan string, 16)}
}

func (f *fakeRunner) Resolve(_ context.Context, entries []artist.TrackedArtist, _ bool) (*collect.Report, error) {
	f.mu.Lock()
	f.resolved = append(f.resolved, entries)
	f.mu.Unlock()
	f.events <- "resolve"
	return &collect.Report{Status: provenance.StatusSucceeded}, nil
}

func (f *fakeRunner) Collect(_ context.Context, day time.Time, _ []artist.TrackedArtist) (*collect.Report, error) {
	f.mu.Lock()
	f.days = append(f.days, day)
	f.mu.Unlock()
	f.events <- "collect"
	return &collect.Report{RunID: "r", Status: provenance.StatusSucceeded}, nil
}

type fakeLogs struct {
	mu  sync.Mutex
	cfg *logging.Config
}

func (f *fakeLogs) Reconfigure(cfg logging.Config) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cfg = &cfg
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

const oneArtist = "artists:\n  - display_name: Air\n    platform_ids: {deezer: \"4\"}\n"

func TestRunOnce_CollectsYesterday(t *testing.T) {
	runner := newFakeRunner()
	s := New(runner, "", "", nil, discard())
	s.now = func() time.Time { return time.Date(2024, 1, 11, 3, 0, 0, 0, time.UTC) }
	s.tracked = []artist.TrackedArtist{{DisplayName: "Air"}}

	var reported *collect.Report
	s.OnRun(func(r *collect.Report) { reported = r })
	s.RunOnce(context.Background())

	if len(runner.days) != 1 || !runner.days[0].Equal(time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("collected days = %v, want 2024-01-10", runner.days)
	}
	if reported == nil || reported.RunID != "r" {
		t.Errorf("OnRun report = %+v", reported)
	}
}

func TestRunOnce_SkipsWithoutArtists(t *testing.T) {
	runner := newFakeRunner()
	New(runner, "", "", nil, discard()).RunOnce(context.Background())
	if len(runner.days) != 0 {
		t.Errorf("collected %d times, want 0", len(runner.days))
	}
}

func TestStart_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	tracked := filepath.Join(dir, "tracked.yaml")
	cfgPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(tracked, []byte(oneArtist), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, []byte("logging:\n  level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	runner := newFakeRunner()
	logs := &fakeLogs{}
	s := New(runner, tracked, cfgPath, logs, discard())
	s.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx, time.Hour) }()

	waitFor(t, runner.events, "resolve")
	waitFor(t, runner.events, "collect")

	two := oneArtist + "  - display_name: Justice\n    platform_ids: {deezer: \"1110\"}\n"
	if err := os.WriteFile(tracked, []byte(two), 0o600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, runner.events, "resolve")

	eventually(t, func() bool { return len(s.Tracked()) == 2 })
	eventually(t, func() bool {
		logs.mu.Lock()
		defer logs.mu.Unlock()
		return logs.cfg != nil && logs.cfg.Level == "info"
	})

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Start returned %v", err)
	}
}

func TestStart_InvalidTrackedFile(t *testing.T) {
	s := New(newFakeRunner(), filepath.Join(t.TempDir(), "missing.yaml"), "", nil, discard())
	if err := s.Start(context.Background(), time.Hour); err == nil {
		t.Error("expected error for missing tracked file")
	}
}
