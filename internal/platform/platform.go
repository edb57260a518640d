package platform

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Name uniquely identifies a source platform.
type Name string

// Known platform names.
const (
	NameSpotify   Name = "spotify"
	NameDeezer    Name = "deezer"
	NameYouTube   Name = "youtube"
	NameWikipedia Name = "wikipedia"
)

// AllNames returns every known platform in default priority order.
func AllNames() []Name {
	return []Name{NameSpotify, NameDeezer, NameYouTube, NameWikipedia}
}

// Valid reports whether n is a known platform.
func (n Name) Valid() bool {
	for _, k := range AllNames() {
		if n == k {
			return true
		}
	}
	return false
}

// DisplayName returns a human-friendly name for the platform.
func (n Name) DisplayName() string {
	switch n {
	case NameSpotify:
		return "Spotify"
	case NameDeezer:
		return "Deezer"
	case NameYouTube:
		return "YouTube"
	case NameWikipedia:
		return "Wikipedia"
	default:
		return string(n)
	}
}

// Tier groups platforms by the kind of signal they provide.
type Tier string

// Platform tiers.
const (
	TierStreaming    Tier = "streaming"
	TierVideo        Tier = "video"
	TierEncyclopedic Tier = "encyclopedic"
)

// Tier returns the platform's tier.
func (n Name) Tier() Tier {
	switch n {
	case NameYouTube:
		return TierVideo
	case NameWikipedia:
		return TierEncyclopedic
	default:
		return TierStreaming
	}
}

// FetchStatus describes how complete a fetched payload is.
type FetchStatus string

// Fetch statuses.
const (
	StatusOK      FetchStatus = "ok"
	StatusPartial FetchStatus = "partial"
	StatusFailed  FetchStatus = "failed"
)

// DateRange is an inclusive range of days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Day returns a single-day range for d, truncated to UTC midnight.
func Day(d time.Time) DateRange {
	day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return DateRange{Start: day, End: day}
}

// Payload is the raw, platform-shaped response for one artist.
type Payload struct {
	// Body is the JSON document handed to the normalizer untouched.
	Body []byte
	// Status is StatusPartial when some sub-requests failed.
	Status FetchStatus
	// Requests is the number of HTTP requests issued to build Body.
	Requests int
}

// Adapter fetches raw payloads from one platform. Adapters do I/O only;
// they never interpret metrics.
type Adapter interface {
	Name() Name
	Fetch(ctx context.Context, platformArtistID string, r DateRange) (*Payload, error)
}

// SearchResult is one artist candidate returned by a platform search.
type SearchResult struct {
	ID   string
	Name string
	URL  string
}

// Searcher is implemented by adapters that can look artists up by name.
type Searcher interface {
	SearchArtist(ctx context.Context, name string, limit int) ([]SearchResult, error)
}

// Profile is the descriptive side of a platform artist: what the platform
// calls the artist and where its page lives.
type Profile struct {
	Name     string   `json:"name"`
	Genres   []string `json:"genres,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
	URL      string   `json:"url,omitempty"`
}

// Profiler is implemented by adapters that can describe an artist.
type Profiler interface {
	FetchProfile(ctx context.Context, platformArtistID string) (*Profile, error)
}

// FetchError is returned when a platform request fails. Transient errors
// (network failures, 429, 5xx) are eligible for retry.
type FetchError struct {
	Platform   Name
	ID         string
	StatusCode int
	Transient  bool
	RetryAfter time.Duration
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("platform %s: fetching %q: status %d: %v", e.Platform, e.ID, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("platform %s: fetching %q: %v", e.Platform, e.ID, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// NotFoundError indicates the platform has no artist for the given ID.
type NotFoundError struct {
	Platform Name
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("platform %s: artist %s not found", e.Platform, e.ID)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return false
}
