// Package kpi computes windowed indicators over canonical daily records.
package kpi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/merge"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// Kind selects the aggregation.
type Kind string

// Aggregations.
const (
	// KindDelta is last minus first value of the window.
	KindDelta Kind = "delta"
	// KindRate is the delta relative to the first value.
	KindRate Kind = "rate"
	// KindMean is the arithmetic mean over the window.
	KindMean Kind = "mean"
)

// ParseKind validates s as a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(s)); k {
	case KindDelta, KindRate, KindMean:
		return k, nil
	default:
		return "", fmt.Errorf("unknown kpi kind %q (want delta, rate or mean)", s)
	}
}

// ErrUndefinedRate is returned for a rate whose starting value is zero.
var ErrUndefinedRate = errors.New("rate undefined: window starts at zero")

// InsufficientHistoryError is returned when some day of the window has no
// value for the metric. Approximations are never computed.
type InsufficientHistoryError struct {
	Need    int
	Have    int
	Missing []time.Time
}

func (e *InsufficientHistoryError) Error() string {
	days := make([]string, 0, len(e.Missing))
	for _, d := range e.Missing {
		days = append(days, d.Format(database.DateLayout))
	}
	return fmt.Sprintf("insufficient history: need %d days, have %d (missing %s)", e.Need, e.Have, strings.Join(days, ", "))
}

// HistoryReader reads canonical records for one artist in a date range.
type HistoryReader interface {
	History(ctx context.Context, localID string, start, end time.Time) ([]merge.CanonicalDailyRecord, error)
}

// Query describes one KPI computation. Window is in days and covers
// End-Window+1 through End.
type Query struct {
	LocalID string
	Metric  string
	Window  int
	End     time.Time
	Kind    Kind
}

// Result is a computed KPI and the record dates it was derived from.
type Result struct {
	Query Query       `json:"query"`
	Value float64     `json:"value"`
	Unit  string      `json:"unit"`
	Refs  []time.Time `json:"refs"`
	// Start and EndValue are the first and last values of the window.
	StartValue float64 `json:"start_value"`
	EndValue   float64 `json:"end_value"`
}

// Aggregator computes KPIs from canonical history only.
type Aggregator struct {
	history HistoryReader
}

// NewAggregator creates an Aggregator over h.
func NewAggregator(h HistoryReader) *Aggregator {
	return &Aggregator{history: h}
}

// Aggregate computes q.
func (a *Aggregator) Aggregate(ctx context.Context, q Query) (*Result, error) {
	if q.LocalID == "" || q.Metric == "" {
		return nil, fmt.Errorf("kpi query requires a local id and a metric")
	}
	if q.Window < 1 {
		return nil, fmt.Errorf("kpi window must be at least 1 day, got %d", q.Window)
	}
	kind, err := ParseKind(string(q.Kind))
	if err != nil {
		return nil, err
	}
	q.Kind = kind
	if (q.Kind == KindDelta || q.Kind == KindRate) && q.Window < 2 {
		return nil, fmt.Errorf("kpi %s needs a window of at least 2 days", q.Kind)
	}

	end := platform.Day(q.End).Start
	start := end.AddDate(0, 0, -(q.Window - 1))
	q.End = end

	records, err := a.history.History(ctx, q.LocalID, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}

	byDay := make(map[string]merge.Field, len(records))
	for _, r := range records {
		if f, ok := r.Metrics[q.Metric]; ok {
			byDay[r.Date.Format(database.DateLayout)] = f
		}
	}

	values := make([]float64, 0, q.Window)
	refs := make([]time.Time, 0, q.Window)
	var (
		missing []time.Time
		unit    string
	)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		f, ok := byDay[d.Format(database.DateLayout)]
		if !ok {
			missing = append(missing, d)
			continue
		}
		values = append(values, f.Value)
		refs = append(refs, d)
		unit = f.Unit
	}
	if len(missing) > 0 {
		return nil, &InsufficientHistoryError{Need: q.Window, Have: len(values), Missing: missing}
	}

	res := &Result{Query: q, Unit: unit, Refs: refs, StartValue: values[0], EndValue: values[len(values)-1]}
	switch q.Kind {
	case KindDelta:
		res.Value = res.EndValue - res.StartValue
	case KindRate:
		if res.StartValue == 0 {
			return nil, ErrUndefinedRate
		}
		res.Value = (res.EndValue - res.StartValue) / res.StartValue
		res.Unit = "ratio"
	case KindMean:
		var sum float64
		for _, v := range values {
			sum += v
		}
		res.Value = sum / float64(len(values))
	}
	return res, nil
}
