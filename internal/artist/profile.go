package artist

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// Profile is the latest descriptive data a platform returned for an
// identity, with the run and request that produced it.
type Profile struct {
	Name      string    `json:"name"`
	Genres    []string  `json:"genres,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	URL       string    `json:"url,omitempty"`
	RunID     string    `json:"run_id"`
	RequestID string    `json:"request_id,omitempty"`
	FetchedAt time.Time `json:"fetched_at"`
}

// SaveProfile stores prof as the current profile of localID on p,
// replacing any earlier one. The identity must exist and hold an id on p.
func (r *Resolver) SaveProfile(ctx context.Context, localID string, p platform.Name, prof platform.Profile, runID, requestID string) error {
	genres, err := json.Marshal(prof.Genres)
	if err != nil {
		return fmt.Errorf("encoding genres: %w", err)
	}
	if prof.Genres == nil {
		genres = []byte("[]")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		id, err := platformIDOf(ctx, tx, localID, p)
		if err != nil {
			return err
		}
		if id == "" {
			return fmt.Errorf("saving %s profile of %s: %w", p, localID, ErrIdentityNotFound)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO identity_profiles (local_id, platform, name, genres, image_url, url, run_id, request_id, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (local_id, platform) DO UPDATE SET
				name = excluded.name, genres = excluded.genres, image_url = excluded.image_url,
				url = excluded.url, run_id = excluded.run_id, request_id = excluded.request_id,
				fetched_at = excluded.fetched_at`,
			localID, string(p), prof.Name, string(genres), nullable(prof.ImageURL), nullable(prof.URL),
			runID, nullable(requestID), time.Now().UTC().Format(database.TimeLayout))
		if err != nil {
			return fmt.Errorf("saving %s profile of %s: %w", p, localID, err)
		}
		return nil
	})
}

// loadProfiles attaches stored profiles to the identities in out.
func loadProfiles(ctx context.Context, q querier, where string, args []any, out []Identity, index map[string]int) error {
	return eachRow(ctx, q, `SELECT local_id, platform, name, genres, image_url, url, run_id, request_id, fetched_at
		FROM identity_profiles`+where, args, func(r *sql.Rows) error {
		var (
			lid, plat, genres, fetched string
			imageURL, url, requestID   sql.NullString
			prof                       Profile
		)
		if err := r.Scan(&lid, &plat, &prof.Name, &genres, &imageURL, &url, &prof.RunID, &requestID, &fetched); err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(genres), &prof.Genres); err != nil {
			return fmt.Errorf("parsing genres of %s: %w", lid, err)
		}
		if len(prof.Genres) == 0 {
			prof.Genres = nil
		}
		prof.ImageURL = imageURL.String
		prof.URL = url.String
		prof.RequestID = requestID.String
		prof.FetchedAt = parseTime(fetched)

		i, ok := index[lid]
		if !ok {
			return nil
		}
		if out[i].Profiles == nil {
			out[i].Profiles = map[platform.Name]Profile{}
		}
		out[i].Profiles[platform.Name(plat)] = prof
		return nil
	})
}
