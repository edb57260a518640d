package collect

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/adrien-gtd/artist-data-acquisition/internal/merge"
	"github.com/adrien-gtd/artist-data-acquisition/internal/provenance"
)

// Replay is the result of re-normalizing one contributing observation.
type Replay struct {
	ObservationID string  `json:"observation_id"`
	Recorded      float64 `json:"recorded"`
	Replayed      float64 `json:"replayed"`
	Matches       bool    `json:"matches"`
	Error         string  `json:"error,omitempty"`
}

// Explanation traces a canonical field back to its raw observations.
type Explanation struct {
	LocalID    string              `json:"local_id"`
	Date       time.Time           `json:"date"`
	Metric     string              `json:"metric"`
	Field      merge.Field         `json:"field"`
	Provenance []provenance.Record `json:"provenance"`
	Replays    []Replay            `json:"replays"`
}

// Consistent reports whether every contributor replayed to its recorded
// value.
func (e *Explanation) Consistent() bool {
	for _, r := range e.Replays {
		if !r.Matches {
			return false
		}
	}
	return true
}

// Explain returns the canonical field for (localID, date, metric), its
// provenance, and a replay of each contributing observation through the
// normalizer. It returns nil when the field does not exist.
func (p *Pipeline) Explain(ctx context.Context, localID string, date time.Time, metric string) (*Explanation, error) {
	rec, err := p.Records.Get(ctx, localID, date)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	field, ok := rec.Metrics[metric]
	if !ok {
		return nil, nil
	}

	prov, err := p.Ledger.ForOutput(ctx, provenance.CanonicalRef(localID, rec.Date, metric))
	if err != nil {
		return nil, err
	}

	ex := &Explanation{LocalID: localID, Date: rec.Date, Metric: metric, Field: field, Provenance: prov}
	for _, c := range field.Contributors {
		ex.Replays = append(ex.Replays, p.replay(ctx, c, metric))
	}
	return ex, nil
}

func (p *Pipeline) replay(ctx context.Context, c merge.Contribution, metric string) Replay {
	r := Replay{ObservationID: c.ObservationID, Recorded: c.Value}

	obs, err := p.Observations.Get(ctx, c.ObservationID)
	if err != nil {
		r.Error = err.Error()
		return r
	}
	if obs == nil {
		r.Error = "observation not found"
		return r
	}

	// Dropped sibling fields are irrelevant here.
	res, _ := p.Normalizer.Normalize(ctx, *obs)
	for _, m := range res.Metrics {
		if m.Name == metric {
			r.Replayed = m.Value
			r.Matches = math.Abs(m.Value-c.Value) <= 1e-9*math.Max(1, math.Abs(c.Value))
			return r
		}
	}
	r.Error = fmt.Sprintf("observation no longer yields %s", metric)
	return r
}
