// Package merge folds normalized metrics into one canonical record per
// artist per day.
package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"time"

	"github.com/goccy/go-json"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// Contribution is one observation's value for a field.
type Contribution struct {
	ObservationID string        `json:"observation_id"`
	Platform      platform.Name `json:"platform"`
	Value         float64       `json:"value"`
	Unit          string        `json:"unit"`
	FetchedAt     time.Time     `json:"fetched_at"`
}

// Field is a merged metric. Contributors are in precedence order and the
// first one is the winner whose value the field carries.
type Field struct {
	Value        float64        `json:"value"`
	Unit         string         `json:"unit"`
	Platform     platform.Name  `json:"platform"`
	Contributors []Contribution `json:"contributors"`
}

// SourceIDs returns the contributor observation ids in precedence order.
func (f Field) SourceIDs() []string {
	ids := make([]string, 0, len(f.Contributors))
	for _, c := range f.Contributors {
		ids = append(ids, c.ObservationID)
	}
	return ids
}

// CanonicalDailyRecord is the merged view of one artist on one day. It
// carries no bookkeeping timestamps, so equal inputs encode to equal bytes.
type CanonicalDailyRecord struct {
	LocalID string           `json:"local_id"`
	Date    time.Time        `json:"-"`
	Metrics map[string]Field `json:"metrics"`
	Sources []platform.Name  `json:"sources"`
}

type wireRecord struct {
	LocalID string           `json:"local_id"`
	Date    string           `json:"date"`
	Metrics map[string]Field `json:"metrics"`
	Sources []platform.Name  `json:"sources"`
}

// Encode returns the deterministic JSON encoding of r. Map keys are sorted.
func (r *CanonicalDailyRecord) Encode() ([]byte, error) {
	metrics := r.Metrics
	if metrics == nil {
		metrics = map[string]Field{}
	}
	sources := r.Sources
	if sources == nil {
		sources = []platform.Name{}
	}
	return json.Marshal(wireRecord{
		LocalID: r.LocalID,
		Date:    r.Date.UTC().Format(database.DateLayout),
		Metrics: metrics,
		Sources: sources,
	})
}

// Digest returns the hex sha256 of Encode.
func (r *CanonicalDailyRecord) Digest() (string, error) {
	b, err := r.Encode()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Decode parses a record produced by Encode.
func Decode(b []byte) (*CanonicalDailyRecord, error) {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, fmt.Errorf("decoding canonical record: %w", err)
	}
	date, err := time.Parse(database.DateLayout, w.Date)
	if err != nil {
		return nil, fmt.Errorf("decoding canonical record date: %w", err)
	}
	if w.Metrics == nil {
		w.Metrics = map[string]Field{}
	}
	return &CanonicalDailyRecord{LocalID: w.LocalID, Date: date, Metrics: w.Metrics, Sources: w.Sources}, nil
}

// Names returns the record's metric names, sorted.
func (r *CanonicalDailyRecord) Names() []string {
	names := make([]string, 0, len(r.Metrics))
	for n := range r.Metrics {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// refreshSources recomputes Sources as the sorted set of contributing
// platforms.
func (r *CanonicalDailyRecord) refreshSources() {
	seen := map[platform.Name]bool{}
	var out []platform.Name
	for _, f := range r.Metrics {
		for _, c := range f.Contributors {
			if !seen[c.Platform] {
				seen[c.Platform] = true
				out = append(out, c.Platform)
			}
		}
	}
	slices.Sort(out)
	r.Sources = out
}

func (r *CanonicalDailyRecord) clone() *CanonicalDailyRecord {
	c := &CanonicalDailyRecord{
		LocalID: r.LocalID,
		Date:    r.Date,
		Metrics: make(map[string]Field, len(r.Metrics)),
		Sources: slices.Clone(r.Sources),
	}
	for k, f := range r.Metrics {
		f.Contributors = slices.Clone(f.Contributors)
		c.Metrics[k] = f
	}
	return c
}
