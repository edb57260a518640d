// Package observation stores raw platform payloads as immutable facts.
package observation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// RawObservation is one fetched payload for (platform, artist, day). A new
// row is written per fetch attempt that produced a payload.
type RawObservation struct {
	ID               string               `json:"id"`
	RunID            string               `json:"run_id"`
	Platform         platform.Name        `json:"platform"`
	PlatformArtistID string               `json:"platform_artist_id"`
	ObservedAt       time.Time            `json:"observed_at"`
	Payload          []byte               `json:"payload"`
	FetchStatus      platform.FetchStatus `json:"fetch_status"`
	Attempt          int                  `json:"attempt"`
	FetchedAt        time.Time            `json:"fetched_at"`
	// RequestIDs reference the api_requests rows behind the payload.
	RequestIDs []string `json:"request_ids,omitempty"`
}

// Store persists raw observations. It has no update or delete methods and
// the table rejects both.
type Store struct {
	db *sql.DB
}

// NewStore creates an observation store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts obs, assigning an ID and FetchedAt when unset.
func (s *Store) Record(ctx context.Context, obs *RawObservation) error {
	if obs.ID == "" {
		obs.ID = uuid.New().String()
	}
	if obs.FetchedAt.IsZero() {
		obs.FetchedAt = time.Now().UTC()
	}
	if obs.Attempt == 0 {
		obs.Attempt = 1
	}
	if len(obs.Payload) == 0 {
		obs.Payload = []byte("{}")
	}
	requestIDs, err := json.Marshal(nonNil(obs.RequestIDs))
	if err != nil {
		return fmt.Errorf("encoding request ids: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raw_observations (id, run_id, platform, platform_artist_id, observed_at,
			fetch_status, payload, attempt, fetched_at, request_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.RunID, string(obs.Platform), obs.PlatformArtistID,
		obs.ObservedAt.Format(database.DateLayout), string(obs.FetchStatus),
		string(obs.Payload), obs.Attempt, obs.FetchedAt.UTC().Format(database.TimeLayout),
		string(requestIDs),
	)
	if err != nil {
		return fmt.Errorf("recording observation: %w", err)
	}
	return nil
}

// Get returns the observation with the given id, or nil if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (*RawObservation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM raw_observations WHERE id = ?`, id)
	obs, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting observation %s: %w", id, err)
	}
	return obs, nil
}

// ListByRun returns the observations recorded by a run, oldest first.
func (s *Store) ListByRun(ctx context.Context, runID string) ([]RawObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM raw_observations WHERE run_id = ? ORDER BY fetched_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing observations: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []RawObservation
	for rows.Next() {
		obs, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning observation: %w", err)
		}
		out = append(out, *obs)
	}
	return out, rows.Err()
}

const columns = `id, run_id, platform, platform_artist_id, observed_at, fetch_status, payload, attempt, fetched_at, request_ids`

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*RawObservation, error) {
	var (
		obs                   RawObservation
		plat, status, payload string
		observed, fetched     string
		requestIDs            string
	)
	if err := row.Scan(&obs.ID, &obs.RunID, &plat, &obs.PlatformArtistID, &observed,
		&status, &payload, &obs.Attempt, &fetched, &requestIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(requestIDs), &obs.RequestIDs); err != nil {
		return nil, fmt.Errorf("parsing request ids: %w", err)
	}
	if len(obs.RequestIDs) == 0 {
		obs.RequestIDs = nil
	}
	obs.Platform = platform.Name(plat)
	obs.FetchStatus = platform.FetchStatus(status)
	obs.Payload = []byte(payload)

	var err error
	if obs.ObservedAt, err = time.Parse(database.DateLayout, observed); err != nil {
		return nil, fmt.Errorf("parsing observed_at: %w", err)
	}
	if obs.FetchedAt, err = time.Parse(database.TimeLayout, fetched); err != nil {
		return nil, fmt.Errorf("parsing fetched_at: %w", err)
	}
	return &obs, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
