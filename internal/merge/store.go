package merge

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store reads canonical daily records.
type Store struct {
	db *sql.DB
}

// NewStore creates a canonical record store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Get returns the record for (localID, date), or nil if none exists.
func (s *Store) Get(ctx context.Context, localID string, date time.Time) (*CanonicalDailyRecord, error) {
	rec, _, err := getRecord(ctx, s.db, localID, date)
	return rec, err
}

// Raw returns the stored encoding of (localID, date), or nil.
func (s *Store) Raw(ctx context.Context, localID string, date time.Time) ([]byte, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM canonical_daily_records WHERE local_id = ? AND day = ?`,
		localID, date.UTC().Format(database.DateLayout)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading canonical record: %w", err)
	}
	return []byte(raw), nil
}

// History returns the records of localID between start and end inclusive,
// oldest first. Days without a record are absent.
func (s *Store) History(ctx context.Context, localID string, start, end time.Time) ([]CanonicalDailyRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT record FROM canonical_daily_records
		WHERE local_id = ? AND day BETWEEN ? AND ?
		ORDER BY day`,
		localID, start.UTC().Format(database.DateLayout), end.UTC().Format(database.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("reading history of %s: %w", localID, err)
	}
	defer rows.Close() //nolint:errcheck

	var out []CanonicalDailyRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning canonical record: %w", err)
		}
		rec, err := Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func getRecord(ctx context.Context, q querier, localID string, date time.Time) (*CanonicalDailyRecord, string, error) {
	var raw, digest string
	err := q.QueryRowContext(ctx,
		`SELECT record, digest FROM canonical_daily_records WHERE local_id = ? AND day = ?`,
		localID, date.UTC().Format(database.DateLayout)).Scan(&raw, &digest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("reading canonical record: %w", err)
	}
	rec, err := Decode([]byte(raw))
	if err != nil {
		return nil, "", err
	}
	return rec, digest, nil
}

func upsertRecord(ctx context.Context, q querier, rec *CanonicalDailyRecord, runID string) (string, error) {
	encoded, err := rec.Encode()
	if err != nil {
		return "", fmt.Errorf("encoding canonical record: %w", err)
	}
	digest, err := rec.Digest()
	if err != nil {
		return "", err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO canonical_daily_records (local_id, day, record, digest, updated_run_id, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id, day) DO UPDATE SET
			record = excluded.record,
			digest = excluded.digest,
			updated_run_id = excluded.updated_run_id,
			updated_at = excluded.updated_at`,
		rec.LocalID, rec.Date.UTC().Format(database.DateLayout), string(encoded), digest, runID,
		time.Now().UTC().Format(database.TimeLayout))
	if err != nil {
		return "", fmt.Errorf("upserting canonical record: %w", err)
	}
	return digest, nil
}

func deleteRecord(ctx context.Context, q querier, localID string, date time.Time) error {
	_, err := q.ExecContext(ctx, `DELETE FROM canonical_daily_records WHERE local_id = ? AND day = ?`,
		localID, date.UTC().Format(database.DateLayout))
	if err != nil {
		return fmt.Errorf("deleting canonical record: %w", err)
	}
	return nil
}

func retractedAmong(ctx context.Context, q querier, ids []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, id := range ids {
		var n int
		if err := q.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM retracted_observations WHERE observation_id = ?`, id).Scan(&n); err != nil {
			return nil, fmt.Errorf("checking retractions: %w", err)
		}
		if n > 0 {
			out[id] = true
		}
	}
	return out, nil
}
