package artist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/metrics"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// Resolver maps platform artist ids to local ids. It is the only writer of
// identity data and serializes all resolutions.
type Resolver struct {
	db        *sql.DB
	threshold float64
	logger    *slog.Logger
	newID     func() string

	mu sync.Mutex
}

// NewResolver creates a resolver. threshold is the minimum Similarity
// required for a fuzzy match.
func NewResolver(db *sql.DB, threshold float64, logger *slog.Logger) *Resolver {
	return &Resolver{
		db:        db,
		threshold: threshold,
		logger:    logger.With(slog.String("component", "identity-resolver")),
		newID:     func() string { return uuid.New().String() },
	}
}

// Resolve returns the local id for candidate c:
//   - an existing mapping is returned as is;
//   - a unique best fuzzy match at or above the threshold gets the mapping;
//   - otherwise a new identity is created.
//
// A tie between two or more identities fails with *AmbiguousIdentityError.
func (r *Resolver) Resolve(ctx context.Context, c Candidate) (Resolution, error) {
	if c.Platform == "" || c.PlatformArtistID == "" {
		return Resolution{}, fmt.Errorf("resolving identity: platform and platform artist id are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var res Resolution
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		res, err = r.resolveTx(ctx, tx, c)
		return err
	})
	if err != nil {
		var amb *AmbiguousIdentityError
		if errors.As(err, &amb) {
			metrics.IdentityResolutionsTotal.WithLabelValues("ambiguous").Inc()
			r.logger.Warn("ambiguous identity",
				slog.String("platform", string(c.Platform)),
				slog.String("platform_artist_id", c.PlatformArtistID),
				slog.String("display_name", c.DisplayName),
				slog.Int("candidates", len(amb.Matches)))
		}
		return Resolution{}, err
	}

	metrics.IdentityResolutionsTotal.WithLabelValues(string(res.Outcome)).Inc()
	if res.Outcome != OutcomeExisting {
		r.logger.Info("identity resolved",
			slog.String("platform", string(c.Platform)),
			slog.String("platform_artist_id", c.PlatformArtistID),
			slog.String("local_id", res.LocalID),
			slog.String("outcome", string(res.Outcome)),
			slog.Float64("score", res.Score))
	}
	return res, nil
}

func (r *Resolver) resolveTx(ctx context.Context, tx *sql.Tx, c Candidate) (Resolution, error) {
	existing, err := lookupLocalID(ctx, tx, c.Platform, c.PlatformArtistID)
	if err != nil {
		return Resolution{}, err
	}
	if existing != "" {
		return Resolution{LocalID: existing, Outcome: OutcomeExisting, Score: 1}, nil
	}

	identities, err := loadIdentities(ctx, tx, "")
	if err != nil {
		return Resolution{}, fmt.Errorf("loading identities: %w", err)
	}

	matches := BestMatches(c, identities, r.threshold)
	switch len(matches) {
	case 0:
		localID := r.newID()
		if err := insertIdentity(ctx, tx, localID, c.DisplayName); err != nil {
			return Resolution{}, err
		}
		if err := attachPlatformID(ctx, tx, localID, c.Platform, c.PlatformArtistID, sourceCreated); err != nil {
			return Resolution{}, err
		}
		if err := addHints(ctx, tx, localID, c.Hints); err != nil {
			return Resolution{}, err
		}
		return Resolution{LocalID: localID, Outcome: OutcomeCreated}, nil

	case 1:
		m := matches[0]
		if err := attachPlatformID(ctx, tx, m.LocalID, c.Platform, c.PlatformArtistID, sourceResolved); err != nil {
			return Resolution{}, err
		}
		if NormalizeName(c.DisplayName) != NormalizeName(m.DisplayName) {
			if err := addAlias(ctx, tx, m.LocalID, c.DisplayName); err != nil {
				return Resolution{}, err
			}
		}
		if err := addHints(ctx, tx, m.LocalID, c.Hints); err != nil {
			return Resolution{}, err
		}
		return Resolution{LocalID: m.LocalID, Outcome: OutcomeMatched, Score: m.Score}, nil

	default:
		return Resolution{}, &AmbiguousIdentityError{Candidate: c, Matches: matches}
	}
}

// OverrideRequest describes a manual reassignment of a platform id.
type OverrideRequest struct {
	Platform         platform.Name
	PlatformArtistID string
	LocalID          string
	Reason           string
	Actor            string
}

// Override maps (Platform, PlatformArtistID) to LocalID even when it is
// already mapped elsewhere, or when LocalID already holds another id on the
// platform (e.g. the platform reissued ids). Every override is logged to
// identity_overrides. The target identity must exist.
func (r *Resolver) Override(ctx context.Context, req OverrideRequest) (*Override, error) {
	if req.Reason == "" {
		return nil, fmt.Errorf("override requires a reason")
	}
	if req.Actor == "" {
		req.Actor = "cli"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var o *Override
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		ok, err := identityExists(ctx, tx, req.LocalID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("override target %s: %w", req.LocalID, ErrIdentityNotFound)
		}

		oldLocal, err := lookupLocalID(ctx, tx, req.Platform, req.PlatformArtistID)
		if err != nil {
			return err
		}
		replaced, err := platformIDOf(ctx, tx, req.LocalID, req.Platform)
		if err != nil {
			return err
		}
		if oldLocal == req.LocalID {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM identity_platform_ids WHERE (platform = ? AND platform_artist_id = ?) OR (platform = ? AND local_id = ?)`,
			string(req.Platform), req.PlatformArtistID, string(req.Platform), req.LocalID); err != nil {
			return fmt.Errorf("clearing previous mappings: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM identity_profiles WHERE platform = ? AND local_id IN (?, ?)`,
			string(req.Platform), oldLocal, req.LocalID); err != nil {
			return fmt.Errorf("clearing stale profiles: %w", err)
		}
		if err := attachPlatformID(ctx, tx, req.LocalID, req.Platform, req.PlatformArtistID, sourceOverride); err != nil {
			return err
		}

		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			INSERT INTO identity_overrides (platform, platform_artist_id, old_local_id, new_local_id,
				replaced_id, reason, actor, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			string(req.Platform), req.PlatformArtistID, nullable(oldLocal), req.LocalID,
			nullable(replaced), req.Reason, req.Actor, now.Format(database.TimeLayout))
		if err != nil {
			return fmt.Errorf("logging override: %w", err)
		}
		id, _ := res.LastInsertId()
		o = &Override{
			ID:               id,
			Platform:         req.Platform,
			PlatformArtistID: req.PlatformArtistID,
			OldLocalID:       oldLocal,
			NewLocalID:       req.LocalID,
			ReplacedID:       replaced,
			Reason:           req.Reason,
			Actor:            req.Actor,
			CreatedAt:        now,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if o != nil {
		r.logger.Warn("identity mapping overridden",
			slog.String("platform", string(o.Platform)),
			slog.String("platform_artist_id", o.PlatformArtistID),
			slog.String("old_local_id", o.OldLocalID),
			slog.String("new_local_id", o.NewLocalID),
			slog.String("replaced_id", o.ReplacedID),
			slog.String("reason", o.Reason),
			slog.String("actor", o.Actor))
	}
	return o, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
