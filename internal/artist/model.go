package artist

import (
	"time"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// Identity is the canonical artist. PlatformIDs holds at most one id per
// platform and each (platform, id) pair belongs to exactly one identity.
type Identity struct {
	LocalID     string                   `json:"local_id"`
	DisplayName string                   `json:"display_name"`
	PlatformIDs map[platform.Name]string `json:"platform_ids"`
	Aliases     []string                 `json:"aliases,omitempty"`
	Hints       []string                 `json:"hints,omitempty"`
	// Profiles holds the latest profile fetched from each platform.
	Profiles  map[platform.Name]Profile `json:"profiles,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
	UpdatedAt time.Time                 `json:"updated_at"`
}

// Candidate is a platform-side artist to be resolved.
type Candidate struct {
	Platform         platform.Name
	PlatformArtistID string
	DisplayName      string
	// Hints are cross-platform signals such as canonical profile URLs.
	Hints []string
}

// Outcome describes how a resolution was reached.
type Outcome string

// Resolution outcomes.
const (
	OutcomeExisting Outcome = "existing"
	OutcomeMatched  Outcome = "matched"
	OutcomeCreated  Outcome = "created"
)

// Resolution is the result of resolving a Candidate.
type Resolution struct {
	LocalID string
	Outcome Outcome
	// Score is the similarity of the winning match; 1 for existing mappings
	// and 0 for newly created identities.
	Score float64
}

// Mapping sources recorded on identity_platform_ids.
const (
	sourceSeed     = "seed"
	sourceResolved = "resolved"
	sourceCreated  = "created"
	sourceOverride = "override"
)
