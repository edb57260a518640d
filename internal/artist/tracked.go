package artist

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// TrackedArtist is one entry of the tracked-artist file. Entries carrying a
// LocalID are pre-resolved seeds.
type TrackedArtist struct {
	LocalID     string            `yaml:"local_id,omitempty" json:"local_id,omitempty"`
	DisplayName string            `yaml:"display_name" json:"display_name"`
	PlatformIDs map[string]string `yaml:"platform_ids" json:"platform_ids"`
	Hints       []string          `yaml:"hints,omitempty" json:"hints,omitempty"`
}

// PlatformID is a (platform, id) pair.
type PlatformID struct {
	Platform platform.Name
	ID       string
}

// IDs returns the entry's platform ids in platform priority order.
func (t TrackedArtist) IDs() []PlatformID {
	var out []PlatformID
	for _, p := range platform.AllNames() {
		if id := t.PlatformIDs[string(p)]; id != "" {
			out = append(out, PlatformID{Platform: p, ID: id})
		}
	}
	return out
}

// LoadTracked reads the tracked-artist file. Both a bare list and a
// document with an "artists" key are accepted; JSON is valid YAML.
func LoadTracked(path string) ([]TrackedArtist, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("reading tracked artists: %w", err)
	}
	return ParseTracked(data)
}

// ParseTracked decodes and validates tracked-artist entries.
func ParseTracked(data []byte) ([]TrackedArtist, error) {
	var entries []TrackedArtist
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '[' || trimmed[0] == '-') {
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parsing tracked artists: %w", err)
		}
	} else {
		var doc struct {
			Artists []TrackedArtist `yaml:"artists"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing tracked artists: %w", err)
		}
		entries = doc.Artists
	}

	seenLocal := map[string]int{}
	for i, e := range entries {
		if e.DisplayName == "" {
			return nil, fmt.Errorf("tracked artist #%d: display_name is required", i+1)
		}
		for p := range e.PlatformIDs {
			if !platform.Name(p).Valid() {
				return nil, fmt.Errorf("tracked artist %q: unknown platform %q", e.DisplayName, p)
			}
		}
		if len(e.IDs()) == 0 {
			return nil, fmt.Errorf("tracked artist %q: at least one non-empty platform id is required", e.DisplayName)
		}
		if e.LocalID != "" {
			if j, dup := seenLocal[e.LocalID]; dup {
				return nil, fmt.Errorf("tracked artists #%d and #%d share local_id %q", j+1, i+1, e.LocalID)
			}
			seenLocal[e.LocalID] = i
		}
	}
	return entries, nil
}
