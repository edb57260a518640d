package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/adrien-gtd/artist-data-acquisition/internal/logging"
)

// Config holds all application configuration. It is loaded once and passed
// explicitly to the constructors that need it.
type Config struct {
	Database       DatabaseConfig    `yaml:"database"`
	Logging        logging.Config    `yaml:"logging"`
	TrackedArtists string            `yaml:"tracked_artists" validate:"required"`
	Resolver       ResolverConfig    `yaml:"resolver"`
	Merge          MergeConfig       `yaml:"merge"`
	Fetch          FetchConfig       `yaml:"fetch"`
	Breaker        BreakerConfig     `yaml:"breaker"`
	Platforms      PlatformsConfig   `yaml:"platforms"`
	Metrics        MetricsConfig     `yaml:"metrics"`
	Schedule       ScheduleConfig    `yaml:"schedule"`
	Maintenance    MaintenanceConfig `yaml:"maintenance"`
	Notify         NotifyConfig      `yaml:"notify"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// ResolverConfig tunes identity matching.
type ResolverConfig struct {
	// Threshold is the minimum similarity (0..1] for a fuzzy name match.
	Threshold float64 `yaml:"threshold" validate:"gt=0,lte=1"`
	// SearchLimit caps the candidates requested from platform search during discovery.
	SearchLimit int `yaml:"search_limit" validate:"gte=1,lte=50"`
}

// MergeConfig holds conflict resolution settings.
type MergeConfig struct {
	// Priority lists platforms from most to least trusted. Platforms not
	// listed rank after all listed ones, alphabetically.
	Priority []string `yaml:"priority" validate:"required,min=1,unique,dive,oneof=spotify deezer youtube wikipedia"`
}

// FetchConfig holds the per-adapter retry policy and limits.
type FetchConfig struct {
	MaxRetries        uint64             `yaml:"max_retries" validate:"lte=10"`
	BackoffBase       time.Duration      `yaml:"backoff_base" validate:"gt=0"`
	MaxBackoff        time.Duration      `yaml:"max_backoff" validate:"gtefield=BackoffBase"`
	RequestTimeout    time.Duration      `yaml:"request_timeout" validate:"gt=0"`
	RunTimeout        time.Duration      `yaml:"run_timeout" validate:"gte=0"`
	RequestsPerSecond map[string]float64 `yaml:"requests_per_second" validate:"dive,gt=0"`
}

// BreakerConfig configures the per-platform circuit breaker.
type BreakerConfig struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures" validate:"gte=1"`
	OpenTimeout         time.Duration `yaml:"open_timeout" validate:"gt=0"`
}

// PlatformsConfig holds per-platform adapter settings.
type PlatformsConfig struct {
	Spotify   SpotifyConfig   `yaml:"spotify"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
	Wikipedia WikipediaConfig `yaml:"wikipedia"`
	Deezer    DeezerConfig    `yaml:"deezer"`
}

// SpotifyConfig holds Spotify Web API settings.
type SpotifyConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	BaseURL      string `yaml:"base_url" validate:"omitempty,url"`
	TokenURL     string `yaml:"token_url" validate:"omitempty,url"`
	Market       string `yaml:"market" validate:"omitempty,len=2"`
}

// YouTubeConfig holds YouTube Data API settings.
type YouTubeConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

// WikipediaConfig holds Wikimedia REST settings.
type WikipediaConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BaseURL    string `yaml:"base_url" validate:"omitempty,url"`
	SearchURL  string `yaml:"search_url" validate:"omitempty,url"`
	SummaryURL string `yaml:"summary_url" validate:"omitempty,url"`
	Project    string `yaml:"project"`
	UserAgent  string `yaml:"user_agent"`
}

// DeezerConfig holds Deezer public API settings.
type DeezerConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

// MetricsConfig controls metrics export. Batch runs write the Prometheus
// text format to a file picked up by a node_exporter textfile collector.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path"`
}

// ScheduleConfig controls the long-running schedule command.
type ScheduleConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gte=0"`
}

// MaintenanceConfig controls housekeeping after workflow runs. An empty
// BackupDir disables snapshots.
type MaintenanceConfig struct {
	OptimizeAfterRun bool   `yaml:"optimize_after_run"`
	BackupDir        string `yaml:"backup_dir"`
	BackupRetention  int    `yaml:"backup_retention" validate:"gte=0"`
	BackupMaxAgeDays int    `yaml:"backup_max_age_days" validate:"gte=0"`
}

// NotifyConfig lists webhook endpoints told about finished runs.
type NotifyConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks" validate:"dive"`
}

// WebhookConfig is one notification endpoint. Events defaults to
// run.partial and run.failed.
type WebhookConfig struct {
	Name   string   `yaml:"name" validate:"required"`
	URL    string   `yaml:"url" validate:"required,url"`
	Type   string   `yaml:"type" validate:"omitempty,oneof=generic discord slack gotify"`
	Events []string `yaml:"events" validate:"dive,oneof=run.succeeded run.partial run.failed"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database:       DatabaseConfig{Path: "data/artistdata.db"},
		Logging:        logging.DefaultConfig(),
		TrackedArtists: "tracked_artists.yaml",
		Resolver: ResolverConfig{
			Threshold:   0.9,
			SearchLimit: 5,
		},
		Merge: MergeConfig{
			Priority: []string{"spotify", "deezer", "youtube", "wikipedia"},
		},
		Fetch: FetchConfig{
			MaxRetries:     3,
			BackoffBase:    500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			RequestTimeout: 10 * time.Second,
			RunTimeout:     30 * time.Minute,
		},
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         time.Minute,
		},
		Platforms: PlatformsConfig{
			Spotify:   SpotifyConfig{Market: "US"},
			Wikipedia: WikipediaConfig{Enabled: true, Project: "en.wikipedia"},
			Deezer:    DeezerConfig{Enabled: true},
		},
		Schedule: ScheduleConfig{Interval: 24 * time.Hour},
		Maintenance: MaintenanceConfig{
			OptimizeAfterRun: true,
			BackupRetention:  7,
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("AD_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("AD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("AD_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("AD_TRACKED_ARTISTS"); v != "" {
		c.TrackedArtists = v
	}
	if v := os.Getenv("AD_RESOLVER_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Resolver.Threshold = f
		}
	}
	if v := os.Getenv("AD_SPOTIFY_CLIENT_ID"); v != "" {
		c.Platforms.Spotify.ClientID = v
	}
	if v := os.Getenv("AD_SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Platforms.Spotify.ClientSecret = v
	}
	if v := os.Getenv("AD_YOUTUBE_API_KEY"); v != "" {
		c.Platforms.YouTube.APIKey = v
	}
	if v := os.Getenv("AD_WIKIPEDIA_USER_AGENT"); v != "" {
		c.Platforms.Wikipedia.UserAgent = v
	}
	if v := os.Getenv("AD_METRICS_TEXTFILE"); v != "" {
		c.Metrics.TextfilePath = v
	}
	if v := os.Getenv("AD_BACKUP_DIR"); v != "" {
		c.Maintenance.BackupDir = v
	}
}

// Validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Platforms.Spotify.Enabled && (c.Platforms.Spotify.ClientID == "" || c.Platforms.Spotify.ClientSecret == "") {
		return fmt.Errorf("spotify is enabled but client_id/client_secret are missing")
	}
	if c.Platforms.YouTube.Enabled && c.Platforms.YouTube.APIKey == "" {
		return fmt.Errorf("youtube is enabled but api_key is missing")
	}
	for name := range c.Fetch.RequestsPerSecond {
		if !knownPlatform(name) {
			return fmt.Errorf("fetch.requests_per_second: unknown platform %q", name)
		}
	}
	return nil
}

func knownPlatform(name string) bool {
	switch name {
	case "spotify", "deezer", "youtube", "wikipedia":
		return true
	}
	return false
}
