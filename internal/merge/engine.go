package merge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/metrics"
	"github.com/adrien-gtd/artist-data-acquisition/internal/normalize"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
	"github.com/adrien-gtd/artist-data-acquisition/internal/provenance"
)

// Transformation ids written to provenance.
const (
	TransformPriority = "merge/priority@1"
	TransformRetract  = "merge/retract@1"
)

// Engine merges normalized metrics into canonical records and writes the
// matching provenance in the same transaction.
type Engine struct {
	db       *sql.DB
	priority Priority
	locks    *keyedMutex
	logger   *slog.Logger
}

// NewEngine creates a merge engine with platforms listed highest priority
// first.
func NewEngine(db *sql.DB, priority []platform.Name, logger *slog.Logger) *Engine {
	return &Engine{
		db:       db,
		priority: NewPriority(priority),
		locks:    newKeyedMutex(),
		logger:   logger.With(slog.String("component", "merge-engine")),
	}
}

// Outcome reports what a merge changed.
type Outcome struct {
	Record *CanonicalDailyRecord
	// Changed lists the fields written, sorted. Empty when the merge was a
	// no-op.
	Changed []string
	// Provenance holds the records appended for Changed.
	Provenance []provenance.Record
}

func recordKey(localID string, date time.Time) string {
	return localID + "/" + date.UTC().Format(database.DateLayout)
}

// Merge folds ms into the canonical record of (localID, date). Every metric
// must belong to that key. Fields not present in ms are kept; a field is
// rewritten only when its winner or contributors change. Merging the same
// input again is a no-op and emits no provenance.
func (e *Engine) Merge(ctx context.Context, runID, localID string, date time.Time, ms []normalize.NormalizedMetric) (*Outcome, error) {
	date = platform.Day(date).Start
	for _, m := range ms {
		if m.LocalID != localID || !platform.Day(m.Date).Start.Equal(date) {
			return nil, fmt.Errorf("merging %s: metric %s from observation %s belongs to %s/%s",
				recordKey(localID, date), m.Name, m.ObservationID, m.LocalID, m.Date.Format(database.DateLayout))
		}
	}

	unlock := e.locks.Lock(recordKey(localID, date))
	defer unlock()

	var out *Outcome
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		current, digest, err := getRecord(ctx, tx, localID, date)
		if err != nil {
			return err
		}
		if current == nil {
			current = &CanonicalDailyRecord{LocalID: localID, Date: date, Metrics: map[string]Field{}}
		}

		ids := make([]string, 0, len(ms))
		for _, m := range ms {
			ids = append(ids, m.ObservationID)
		}
		retracted, err := retractedAmong(ctx, tx, ids)
		if err != nil {
			return err
		}

		next, changed := e.apply(current, ms, retracted)
		out = &Outcome{Record: next, Changed: changed}
		if len(changed) == 0 {
			return nil
		}
		nextDigest, err := next.Digest()
		if err != nil {
			return err
		}
		if nextDigest == digest {
			out.Changed = nil
			return nil
		}

		if _, err := upsertRecord(ctx, tx, next, runID); err != nil {
			return err
		}
		recs := make([]provenance.Record, 0, len(changed))
		for _, name := range changed {
			recs = append(recs, provenance.Record{
				OutputRef:            provenance.CanonicalRef(localID, date, name),
				SourceObservationIDs: next.Metrics[name].SourceIDs(),
				TransformationID:     TransformPriority,
			})
		}
		if err := provenance.AppendTx(ctx, tx, runID, recs); err != nil {
			return err
		}
		out.Provenance = recs
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, name := range out.Changed {
		metrics.MergedFieldsTotal.WithLabelValues(name).Inc()
	}
	if len(out.Changed) > 0 {
		e.logger.Debug("canonical record updated",
			slog.String("run_id", runID),
			slog.String("local_id", localID),
			slog.String("date", date.Format(database.DateLayout)),
			slog.String("fields", strings.Join(out.Changed, ",")))
	}
	return out, nil
}

// apply returns the merged record and the names of fields that changed.
func (e *Engine) apply(current *CanonicalDailyRecord, ms []normalize.NormalizedMetric, retracted map[string]bool) (*CanonicalDailyRecord, []string) {
	next := current.clone()

	incoming := map[string][]Contribution{}
	for _, m := range ms {
		if retracted[m.ObservationID] {
			continue
		}
		incoming[m.Name] = append(incoming[m.Name], Contribution{
			ObservationID: m.ObservationID,
			Platform:      m.Platform,
			Value:         m.Value,
			Unit:          m.Unit,
			FetchedAt:     m.FetchedAt.UTC(),
		})
	}

	var changed []string
	for name, contribs := range incoming {
		old, had := current.Metrics[name]

		seen := map[string]bool{}
		candidates := make([]Contribution, 0, len(old.Contributors)+len(contribs))
		for _, c := range append(slices.Clone(old.Contributors), contribs...) {
			if seen[c.ObservationID] {
				continue
			}
			seen[c.ObservationID] = true
			candidates = append(candidates, c)
		}
		e.priority.sort(candidates)

		winner := candidates[0]
		f := Field{Value: winner.Value, Unit: winner.Unit, Platform: winner.Platform, Contributors: candidates}
		if had && fieldEqual(old, f) {
			continue
		}
		next.Metrics[name] = f
		changed = append(changed, name)
	}
	slices.Sort(changed)
	next.refreshSources()
	return next, changed
}

func fieldEqual(a, b Field) bool {
	if a.Value != b.Value || a.Unit != b.Unit || a.Platform != b.Platform || len(a.Contributors) != len(b.Contributors) {
		return false
	}
	for i := range a.Contributors {
		x, y := a.Contributors[i], b.Contributors[i]
		if x.ObservationID != y.ObservationID || x.Platform != y.Platform || x.Value != y.Value ||
			x.Unit != y.Unit || !x.FetchedAt.Equal(y.FetchedAt) {
			return false
		}
	}
	return true
}

// Retract removes observationID from every canonical field that lists it,
// promoting the next contributor or dropping the field when none is left.
// The id is remembered so later merges ignore it. It returns the number of
// fields touched.
func (e *Engine) Retract(ctx context.Context, runID, observationID string) (int, error) {
	if observationID == "" {
		return 0, fmt.Errorf("retract requires an observation id")
	}
	if _, err := e.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO retracted_observations (observation_id, run_id, created_at) VALUES (?, ?, ?)`,
		observationID, runID, time.Now().UTC().Format(database.TimeLayout)); err != nil {
		return 0, fmt.Errorf("recording retraction: %w", err)
	}

	keys, err := e.recordsCiting(ctx, observationID)
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, k := range keys {
		n, err := e.retractFrom(ctx, runID, k.localID, k.date, observationID)
		if err != nil {
			return touched, err
		}
		touched += n
	}
	e.logger.Info("observation retracted",
		slog.String("run_id", runID),
		slog.String("observation_id", observationID),
		slog.Int("records", len(keys)),
		slog.Int("fields", touched))
	return touched, nil
}

type key struct {
	localID string
	date    time.Time
}

func (e *Engine) recordsCiting(ctx context.Context, observationID string) ([]key, error) {
	pattern := "%" + likeEscape(`"observation_id":"`+observationID+`"`) + "%"
	rows, err := e.db.QueryContext(ctx,
		`SELECT local_id, day FROM canonical_daily_records WHERE record LIKE ? ESCAPE '\' ORDER BY local_id, day`, pattern)
	if err != nil {
		return nil, fmt.Errorf("finding records citing %s: %w", observationID, err)
	}
	defer rows.Close() //nolint:errcheck

	var keys []key
	for rows.Next() {
		var localID, day string
		if err := rows.Scan(&localID, &day); err != nil {
			return nil, err
		}
		d, err := time.Parse(database.DateLayout, day)
		if err != nil {
			return nil, fmt.Errorf("parsing record day %q: %w", day, err)
		}
		keys = append(keys, key{localID: localID, date: d})
	}
	return keys, rows.Err()
}

func likeEscape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (e *Engine) retractFrom(ctx context.Context, runID, localID string, date time.Time, observationID string) (int, error) {
	unlock := e.locks.Lock(recordKey(localID, date))
	defer unlock()

	touched := 0
	err := database.WithTx(ctx, e.db, func(tx *sql.Tx) error {
		current, _, err := getRecord(ctx, tx, localID, date)
		if err != nil || current == nil {
			return err
		}
		next := current.clone()

		var recs []provenance.Record
		for _, name := range current.Names() {
			f := current.Metrics[name]
			kept := slices.DeleteFunc(slices.Clone(f.Contributors), func(c Contribution) bool {
				return c.ObservationID == observationID
			})
			if len(kept) == len(f.Contributors) {
				continue
			}
			if len(kept) == 0 {
				delete(next.Metrics, name)
			} else {
				w := kept[0]
				next.Metrics[name] = Field{Value: w.Value, Unit: w.Unit, Platform: w.Platform, Contributors: kept}
			}
			recs = append(recs, provenance.Record{
				OutputRef:            provenance.CanonicalRef(localID, date, name),
				SourceObservationIDs: next.Metrics[name].SourceIDs(),
				TransformationID:     TransformRetract,
			})
		}
		if len(recs) == 0 {
			return nil
		}

		next.refreshSources()
		if len(next.Metrics) == 0 {
			if err := deleteRecord(ctx, tx, localID, date); err != nil {
				return err
			}
		} else if _, err := upsertRecord(ctx, tx, next, runID); err != nil {
			return err
		}
		if err := provenance.AppendTx(ctx, tx, runID, recs); err != nil {
			return err
		}
		touched = len(recs)
		return nil
	})
	return touched, err
}
