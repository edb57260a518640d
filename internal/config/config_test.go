package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
database:
  path: /tmp/pulse.db
tracked_artists: artists.yaml
resolver:
  threshold: 0.8
merge:
  priority: [deezer, spotify]
fetch:
  max_retries: 2
  backoff_base: 250ms
  max_backoff: 2s
  request_timeout: 5s
  requests_per_second:
    wikipedia: 10
platforms:
  youtube:
    enabled: true
    api_key: from-file
maintenance:
  backup_retention: 3
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("AD_YOUTUBE_API_KEY", "from-env")
	t.Setenv("AD_LOG_LEVEL", "debug")
	t.Setenv("AD_BACKUP_DIR", "/var/backups/artistdata")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Path != "/tmp/pulse.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/pulse.db")
	}
	if cfg.Resolver.Threshold != 0.8 {
		t.Errorf("Resolver.Threshold = %v, want 0.8", cfg.Resolver.Threshold)
	}
	if diff := cmp.Diff([]string{"deezer", "spotify"}, cfg.Merge.Priority); diff != "" {
		t.Errorf("priority mismatch (-want +got):\n%s", diff)
	}
	if cfg.Fetch.BackoffBase != 250*time.Millisecond {
		t.Errorf("Fetch.BackoffBase = %v, want 250ms", cfg.Fetch.BackoffBase)
	}
	if cfg.Platforms.YouTube.APIKey != "from-env" {
		t.Errorf("YouTube.APIKey = %q, want env override", cfg.Platforms.YouTube.APIKey)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Maintenance.BackupRetention != 3 || cfg.Maintenance.BackupDir != "/var/backups/artistdata" {
		t.Errorf("Maintenance = %+v", cfg.Maintenance)
	}
	if !cfg.Maintenance.OptimizeAfterRun {
		t.Error("OptimizeAfterRun default lost when the section is partially set")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "threshold out of range",
			mutate:  func(c *Config) { c.Resolver.Threshold = 1.5 },
			wantErr: "Threshold",
		},
		{
			name:    "unknown platform in priority",
			mutate:  func(c *Config) { c.Merge.Priority = []string{"spotify", "myspace"} },
			wantErr: "Priority",
		},
		{
			name:    "duplicate priority",
			mutate:  func(c *Config) { c.Merge.Priority = []string{"spotify", "spotify"} },
			wantErr: "unique",
		},
		{
			name:    "spotify without credentials",
			mutate:  func(c *Config) { c.Platforms.Spotify.Enabled = true },
			wantErr: "spotify is enabled",
		},
		{
			name:    "youtube without key",
			mutate:  func(c *Config) { c.Platforms.YouTube.Enabled = true },
			wantErr: "youtube is enabled",
		},
		{
			name:    "backoff cap below base",
			mutate:  func(c *Config) { c.Fetch.MaxBackoff = time.Millisecond },
			wantErr: "MaxBackoff",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "Level",
		},
		{
			name:    "negative backup retention",
			mutate:  func(c *Config) { c.Maintenance.BackupRetention = -1 },
			wantErr: "BackupRetention",
		},
		{
			name: "webhook with unknown event",
			mutate: func(c *Config) {
				c.Notify.Webhooks = []WebhookConfig{{Name: "ops", URL: "https://hooks.example.com/x", Events: []string{"scan.completed"}}}
			},
			wantErr: "Events",
		},
		{
			name:    "webhook without url",
			mutate:  func(c *Config) { c.Notify.Webhooks = []WebhookConfig{{Name: "ops"}} },
			wantErr: "URL",
		},
		{
			name:    "unknown rate limit platform",
			mutate:  func(c *Config) { c.Fetch.RequestsPerSecond = map[string]float64{"napster": 1} },
			wantErr: "napster",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}
