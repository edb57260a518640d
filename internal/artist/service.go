package artist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// Service provides identity persistence. Mutations go through Resolver,
// which owns the invariants; Service only exposes reads publicly.
type Service struct {
	db *sql.DB
}

// NewService creates an identity service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LocalIDFor returns the local id mapped to (p, platformArtistID), or ""
// when the pair has not been resolved.
func (s *Service) LocalIDFor(ctx context.Context, p platform.Name, platformArtistID string) (string, error) {
	return lookupLocalID(ctx, s.db, p, platformArtistID)
}

// GetByID returns the identity with the given local id, or nil if it does
// not exist.
func (s *Service) GetByID(ctx context.Context, localID string) (*Identity, error) {
	all, err := loadIdentities(ctx, s.db, localID)
	if err != nil {
		return nil, fmt.Errorf("getting identity %s: %w", localID, err)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return &all[0], nil
}

// List returns all identities ordered by display name.
func (s *Service) List(ctx context.Context) ([]Identity, error) {
	all, err := loadIdentities(ctx, s.db, "")
	if err != nil {
		return nil, fmt.Errorf("listing identities: %w", err)
	}
	return all, nil
}

// Override is one logged manual reassignment.
type Override struct {
	ID               int64         `json:"id"`
	Platform         platform.Name `json:"platform"`
	PlatformArtistID string        `json:"platform_artist_id"`
	OldLocalID       string        `json:"old_local_id,omitempty"`
	NewLocalID       string        `json:"new_local_id"`
	ReplacedID       string        `json:"replaced_id,omitempty"`
	Reason           string        `json:"reason"`
	Actor            string        `json:"actor"`
	CreatedAt        time.Time     `json:"created_at"`
}

// ListOverrides returns the manual override log, newest first.
func (s *Service) ListOverrides(ctx context.Context) ([]Override, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, platform, platform_artist_id, COALESCE(old_local_id, ''), new_local_id,
			COALESCE(replaced_id, ''), reason, actor, created_at
		FROM identity_overrides ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing overrides: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []Override
	for rows.Next() {
		var (
			o        Override
			plat, ts string
		)
		if err := rows.Scan(&o.ID, &plat, &o.PlatformArtistID, &o.OldLocalID, &o.NewLocalID,
			&o.ReplacedID, &o.Reason, &o.Actor, &ts); err != nil {
			return nil, fmt.Errorf("scanning override: %w", err)
		}
		o.Platform = platform.Name(plat)
		o.CreatedAt = parseTime(ts)
		out = append(out, o)
	}
	return out, rows.Err()
}

func lookupLocalID(ctx context.Context, q querier, p platform.Name, platformArtistID string) (string, error) {
	var localID string
	err := q.QueryRowContext(ctx,
		`SELECT local_id FROM identity_platform_ids WHERE platform = ? AND platform_artist_id = ?`,
		string(p), platformArtistID).Scan(&localID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up %s id %q: %w", p, platformArtistID, err)
	}
	return localID, nil
}

func platformIDOf(ctx context.Context, q querier, localID string, p platform.Name) (string, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT platform_artist_id FROM identity_platform_ids WHERE local_id = ? AND platform = ?`,
		localID, string(p)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("looking up %s id of %s: %w", p, localID, err)
	}
	return id, nil
}

func identityExists(ctx context.Context, q querier, localID string) (bool, error) {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities WHERE local_id = ?`, localID).Scan(&n); err != nil {
		return false, fmt.Errorf("checking identity %s: %w", localID, err)
	}
	return n > 0, nil
}

func insertIdentity(ctx context.Context, q querier, localID, displayName string) error {
	now := time.Now().UTC().Format(database.TimeLayout)
	_, err := q.ExecContext(ctx, `
		INSERT INTO identities (local_id, display_name, normalized_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		localID, displayName, NormalizeName(displayName), now, now)
	if err != nil {
		return fmt.Errorf("creating identity: %w", err)
	}
	return nil
}

func attachPlatformID(ctx context.Context, q querier, localID string, p platform.Name, platformArtistID, source string) error {
	now := time.Now().UTC().Format(database.TimeLayout)
	if _, err := q.ExecContext(ctx, `
		INSERT INTO identity_platform_ids (platform, platform_artist_id, local_id, source, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		string(p), platformArtistID, localID, source, now); err != nil {
		return fmt.Errorf("attaching %s id %q to %s: %w", p, platformArtistID, localID, err)
	}
	if _, err := q.ExecContext(ctx, `UPDATE identities SET updated_at = ? WHERE local_id = ?`, now, localID); err != nil {
		return fmt.Errorf("touching identity: %w", err)
	}
	return nil
}

func addAlias(ctx context.Context, q querier, localID, alias string) error {
	n := NormalizeName(alias)
	if n == "" {
		return nil
	}
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO identity_aliases (local_id, alias, normalized_alias, created_at)
		VALUES (?, ?, ?, ?)`,
		localID, alias, n, time.Now().UTC().Format(database.TimeLayout))
	if err != nil {
		return fmt.Errorf("adding alias: %w", err)
	}
	return nil
}

func addHints(ctx context.Context, q querier, localID string, hints []string) error {
	now := time.Now().UTC().Format(database.TimeLayout)
	for _, h := range hints {
		if h == "" {
			continue
		}
		if _, err := q.ExecContext(ctx,
			`INSERT OR IGNORE INTO identity_hints (local_id, hint, created_at) VALUES (?, ?, ?)`,
			localID, h, now); err != nil {
			return fmt.Errorf("adding hint: %w", err)
		}
	}
	return nil
}

// loadIdentities loads one identity (localID != "") or all of them with
// their mappings, aliases and hints.
func loadIdentities(ctx context.Context, q querier, localID string) ([]Identity, error) {
	where, args := "", []any{}
	if localID != "" {
		where, args = " WHERE local_id = ?", []any{localID}
	}

	rows, err := q.QueryContext(ctx,
		`SELECT local_id, display_name, created_at, updated_at FROM identities`+where+` ORDER BY display_name, local_id`, args...)
	if err != nil {
		return nil, err
	}
	var (
		out   []Identity
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			id               Identity
			created, updated string
		)
		if err := rows.Scan(&id.LocalID, &id.DisplayName, &created, &updated); err != nil {
			rows.Close() //nolint:errcheck,gosec
			return nil, err
		}
		id.CreatedAt = parseTime(created)
		id.UpdatedAt = parseTime(updated)
		id.PlatformIDs = map[platform.Name]string{}
		index[id.LocalID] = len(out)
		out = append(out, id)
	}
	rows.Close() //nolint:errcheck,gosec
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}

	err = eachRow(ctx, q, `SELECT local_id, platform, platform_artist_id FROM identity_platform_ids`+where, args, func(r *sql.Rows) error {
		var lid, plat, pid string
		if err := r.Scan(&lid, &plat, &pid); err != nil {
			return err
		}
		if i, ok := index[lid]; ok {
			out[i].PlatformIDs[platform.Name(plat)] = pid
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachRow(ctx, q, `SELECT local_id, alias FROM identity_aliases`+where+` ORDER BY normalized_alias`, args, func(r *sql.Rows) error {
		var lid, alias string
		if err := r.Scan(&lid, &alias); err != nil {
			return err
		}
		if i, ok := index[lid]; ok {
			out[i].Aliases = append(out[i].Aliases, alias)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = eachRow(ctx, q, `SELECT local_id, hint FROM identity_hints`+where+` ORDER BY hint`, args, func(r *sql.Rows) error {
		var lid, hint string
		if err := r.Scan(&lid, &hint); err != nil {
			return err
		}
		if i, ok := index[lid]; ok {
			out[i].Hints = append(out[i].Hints, hint)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := loadProfiles(ctx, q, where, args, out, index); err != nil {
		return nil, err
	}
	return out, nil
}

func eachRow(ctx context.Context, q querier, query string, args []any, fn func(*sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

// parseTime parses a stored timestamp, returning the zero time on failure.
func parseTime(s string) time.Time {
	t, err := time.Parse(database.TimeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
