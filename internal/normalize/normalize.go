// Package normalize maps raw platform payloads to the shared metric
// vocabulary.
package normalize

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/adrien-gtd/artist-data-acquisition/internal/metrics"
	"github.com/adrien-gtd/artist-data-acquisition/internal/observation"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// NormalizedMetric is one value extracted from a raw observation, already
// converted to its canonical unit.
type NormalizedMetric struct {
	ObservationID string        `json:"observation_id"`
	LocalID       string        `json:"local_id"`
	Platform      platform.Name `json:"platform"`
	Date          time.Time     `json:"date"`
	Name          string        `json:"name"`
	Value         float64       `json:"value"`
	Unit          string        `json:"unit"`
	FetchedAt     time.Time     `json:"fetched_at"`
}

// DroppedField records a field that could not be extracted.
type DroppedField struct {
	Metric string `json:"metric"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
	// Optional is set for absent optional fields, which are skipped.
	Optional bool `json:"optional,omitempty"`
}

// Result is the outcome of normalizing one observation.
type Result struct {
	Metrics []NormalizedMetric
	Dropped []DroppedField
	// Skipped lists optional fields the payload did not carry.
	Skipped []DroppedField
}

// IdentityLookup returns the local id for a platform artist id, or "" when
// the id has not been resolved.
type IdentityLookup interface {
	LocalIDFor(ctx context.Context, p platform.Name, platformArtistID string) (string, error)
}

// Normalizer turns raw observations into normalized metrics using one typed
// field table per platform.
type Normalizer struct {
	lookup IdentityLookup
	tables map[platform.Name][]FieldSpec
	logger *slog.Logger
}

// New creates a Normalizer with the built-in field tables.
func New(lookup IdentityLookup, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		lookup: lookup,
		tables: DefaultTables(),
		logger: logger.With(slog.String("component", "normalizer")),
	}
}

// TransformationID names the normalization step for p in provenance
// records. The suffix is bumped whenever a field table changes meaning.
func TransformationID(p platform.Name) string {
	return "normalize/" + string(p) + "@1"
}

// Normalize extracts every metric in the platform's field table from obs.
// Fields that are missing or fail validation are dropped, never zeroed, and
// reported through a *MalformedPayloadError alongside the partial Result.
// An unresolved platform id returns *UnresolvedIdentityError and no result.
func (n *Normalizer) Normalize(ctx context.Context, obs observation.RawObservation) (Result, error) {
	specs, ok := n.tables[obs.Platform]
	if !ok {
		return Result{}, fmt.Errorf("normalizing observation %s: no field table for platform %q", obs.ID, obs.Platform)
	}

	localID, err := n.lookup.LocalIDFor(ctx, obs.Platform, obs.PlatformArtistID)
	if err != nil {
		return Result{}, fmt.Errorf("normalizing observation %s: %w", obs.ID, err)
	}
	if localID == "" {
		return Result{}, &UnresolvedIdentityError{Platform: obs.Platform, PlatformArtistID: obs.PlatformArtistID}
	}

	var res Result
	if obs.FetchStatus == platform.StatusFailed {
		res.Dropped = []DroppedField{{Metric: "*", Reason: "fetch failed"}}
		return res, n.malformed(obs, res.Dropped)
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader(obs.Payload))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		for _, spec := range specs {
			d := DroppedField{Metric: spec.Metric, Path: spec.Path, Reason: "payload is not valid JSON", Optional: spec.Optional}
			if spec.Optional {
				res.Skipped = append(res.Skipped, d)
				continue
			}
			res.Dropped = append(res.Dropped, d)
		}
		n.skipped(obs, res.Skipped)
		return res, n.malformed(obs, res.Dropped)
	}

	for _, spec := range specs {
		m, drop, ok := spec.extract(doc)
		if !ok {
			if drop.Optional {
				res.Skipped = append(res.Skipped, *drop)
			} else {
				res.Dropped = append(res.Dropped, *drop)
			}
			continue
		}
		m.ObservationID = obs.ID
		m.LocalID = localID
		m.Platform = obs.Platform
		m.Date = platform.Day(obs.ObservedAt).Start
		m.FetchedAt = obs.FetchedAt
		res.Metrics = append(res.Metrics, m)
	}

	n.skipped(obs, res.Skipped)
	if len(res.Dropped) > 0 {
		return res, n.malformed(obs, res.Dropped)
	}
	return res, nil
}

func (n *Normalizer) skipped(obs observation.RawObservation, skipped []DroppedField) {
	for _, d := range skipped {
		n.logger.Debug("optional field skipped",
			slog.String("observation_id", obs.ID),
			slog.String("platform", string(obs.Platform)),
			slog.String("metric", d.Metric),
			slog.String("reason", d.Reason))
	}
}

func (n *Normalizer) malformed(obs observation.RawObservation, dropped []DroppedField) error {
	for _, d := range dropped {
		metrics.FieldsDroppedTotal.WithLabelValues(string(obs.Platform), d.Metric).Inc()
		n.logger.Debug("field dropped",
			slog.String("observation_id", obs.ID),
			slog.String("platform", string(obs.Platform)),
			slog.String("metric", d.Metric),
			slog.String("reason", d.Reason))
	}
	return &MalformedPayloadError{ObservationID: obs.ID, Platform: obs.Platform, Dropped: dropped}
}

// UnresolvedIdentityError is returned when an observation's platform id has
// no identity yet. It is fatal for the observation only.
type UnresolvedIdentityError struct {
	Platform         platform.Name
	PlatformArtistID string
}

func (e *UnresolvedIdentityError) Error() string {
	return fmt.Sprintf("no identity for %s artist %q", e.Platform, e.PlatformArtistID)
}

// MalformedPayloadError lists the fields dropped from one observation. The
// accompanying Result still holds every field that parsed.
type MalformedPayloadError struct {
	ObservationID string
	Platform      platform.Name
	Dropped       []DroppedField
}

func (e *MalformedPayloadError) Error() string {
	parts := make([]string, 0, len(e.Dropped))
	for _, d := range e.Dropped {
		parts = append(parts, d.Metric+": "+d.Reason)
	}
	return fmt.Sprintf("observation %s (%s): dropped %s", e.ObservationID, e.Platform, strings.Join(parts, "; "))
}
