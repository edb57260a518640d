// Package provenance records where every derived value came from and how
// each workflow run went.
package provenance

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// Record links one output value to the raw observations it was derived from.
type Record struct {
	ID                   int64     `json:"id"`
	RunID                string    `json:"run_id"`
	Seq                  int64     `json:"seq"`
	OutputRef            string    `json:"output_ref"`
	SourceObservationIDs []string  `json:"source_observation_ids"`
	TransformationID     string    `json:"transformation_id"`
	CreatedAt            time.Time `json:"created_at"`
}

// MetricRef addresses a normalized metric.
func MetricRef(p platform.Name, localID string, date time.Time, name string) string {
	return "metric/" + string(p) + "/" + localID + "/" + date.Format(database.DateLayout) + "/" + name
}

// CanonicalRef addresses one field of a canonical daily record.
func CanonicalRef(localID string, date time.Time, name string) string {
	return "canonical/" + localID + "/" + date.Format(database.DateLayout) + "/" + name
}

// Ledger is the append-only provenance store. The table rejects updates
// and deletes.
type Ledger struct {
	db *sql.DB
}

// NewLedger creates a provenance ledger.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append inserts recs for runID, assigning consecutive sequence numbers
// after the run's last record. Seq and CreatedAt are set on recs.
func (l *Ledger) Append(ctx context.Context, runID string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	return database.WithTx(ctx, l.db, func(tx *sql.Tx) error {
		return AppendTx(ctx, tx, runID, recs)
	})
}

// AppendTx is Append within an existing transaction, so provenance commits
// together with the values it describes.
func AppendTx(ctx context.Context, tx *sql.Tx, runID string, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM provenance_records WHERE run_id = ?`, runID).Scan(&last); err != nil {
		return fmt.Errorf("reading provenance sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO provenance_records (run_id, seq, output_ref, source_observation_ids, transformation_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing provenance insert: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for i := range recs {
		r := &recs[i]
		if r.OutputRef == "" || r.TransformationID == "" {
			return fmt.Errorf("provenance record %d: output ref and transformation id are required", i)
		}
		sources := r.SourceObservationIDs
		if sources == nil {
			sources = []string{}
		}
		encoded, err := json.Marshal(sources)
		if err != nil {
			return fmt.Errorf("encoding provenance sources: %w", err)
		}
		last++
		res, err := stmt.ExecContext(ctx, runID, last, r.OutputRef, string(encoded), r.TransformationID, now.Format(database.TimeLayout))
		if err != nil {
			return fmt.Errorf("appending provenance for %s: %w", r.OutputRef, err)
		}
		r.ID, _ = res.LastInsertId()
		r.RunID = runID
		r.Seq = last
		r.CreatedAt = now
	}
	return nil
}

// ForOutput returns every record for ref, oldest first.
func (l *Ledger) ForOutput(ctx context.Context, ref string) ([]Record, error) {
	return l.query(ctx, `WHERE output_ref = ? ORDER BY id`, ref)
}

// ForRun returns the records of a run in sequence order.
func (l *Ledger) ForRun(ctx context.Context, runID string) ([]Record, error) {
	return l.query(ctx, `WHERE run_id = ? ORDER BY seq`, runID)
}

func (l *Ledger) query(ctx context.Context, clause string, arg any) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, run_id, seq, output_ref, source_observation_ids, transformation_id, created_at
		FROM provenance_records `+clause, arg)
	if err != nil {
		return nil, fmt.Errorf("querying provenance: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Record
	for rows.Next() {
		var (
			r           Record
			sources, ts string
		)
		if err := rows.Scan(&r.ID, &r.RunID, &r.Seq, &r.OutputRef, &sources, &r.TransformationID, &ts); err != nil {
			return nil, fmt.Errorf("scanning provenance: %w", err)
		}
		if err := json.Unmarshal([]byte(sources), &r.SourceObservationIDs); err != nil {
			return nil, fmt.Errorf("decoding provenance sources: %w", err)
		}
		r.CreatedAt, _ = time.Parse(database.TimeLayout, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
