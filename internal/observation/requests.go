package observation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// APIRequest is one persisted row of the request log.
type APIRequest struct {
	ID               string            `json:"id"`
	RunID            string            `json:"run_id"`
	Platform         platform.Name     `json:"platform"`
	PlatformArtistID string            `json:"platform_artist_id"`
	LocalID          string            `json:"local_id,omitempty"`
	Endpoint         string            `json:"endpoint"`
	Params           map[string]string `json:"params,omitempty"`
	HTTPStatus       int               `json:"http_status,omitempty"`
	DurationMS       int64             `json:"duration_ms"`
	OK               bool              `json:"ok"`
	ErrorType        string            `json:"error_type,omitempty"`
	RequestedAt      time.Time         `json:"requested_at"`
}

// RecordRequests appends reqs to the request log in one transaction. localID
// may be empty when the requests are not tied to a known identity yet.
func (s *Store) RecordRequests(ctx context.Context, runID, localID string, reqs []platform.Request) error {
	if len(reqs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range reqs {
		params, err := json.Marshal(r.Params)
		if err != nil {
			return fmt.Errorf("encoding params of request %s: %w", r.ID, err)
		}
		if r.Params == nil {
			params = []byte("{}")
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO api_requests (id, run_id, platform, platform_artist_id, local_id, endpoint,
				params, http_status, duration_ms, ok, error_type, requested_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ID, runID, string(r.Platform), r.Subject, nullString(localID), r.Endpoint,
			string(params), nullInt(r.HTTPStatus), r.Duration.Milliseconds(), r.OK,
			nullString(r.ErrorType), r.StartedAt.UTC().Format(database.TimeLayout),
		)
		if err != nil {
			return fmt.Errorf("recording request %s: %w", r.ID, err)
		}
	}
	return tx.Commit()
}

// RequestsByRun returns the request log of a run, oldest first.
func (s *Store) RequestsByRun(ctx context.Context, runID string) ([]APIRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, platform, platform_artist_id, local_id, endpoint, params,
			http_status, duration_ms, ok, error_type, requested_at
		FROM api_requests WHERE run_id = ? ORDER BY requested_at, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []APIRequest
	for rows.Next() {
		var (
			r                  APIRequest
			plat, params, at   string
			localID, errorType sql.NullString
			status             sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.RunID, &plat, &r.PlatformArtistID, &localID, &r.Endpoint,
			&params, &status, &r.DurationMS, &r.OK, &errorType, &at); err != nil {
			return nil, fmt.Errorf("scanning request: %w", err)
		}
		r.Platform = platform.Name(plat)
		r.LocalID = localID.String
		r.ErrorType = errorType.String
		r.HTTPStatus = int(status.Int64)
		if err := json.Unmarshal([]byte(params), &r.Params); err != nil {
			return nil, fmt.Errorf("parsing params of request %s: %w", r.ID, err)
		}
		if len(r.Params) == 0 {
			r.Params = nil
		}
		if r.RequestedAt, err = time.Parse(database.TimeLayout, at); err != nil {
			return nil, fmt.Errorf("parsing requested_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n int) any {
	if n == 0 {
		return nil
	}
	return n
}
