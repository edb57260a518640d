package artist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
)

// SeedResult reports the outcome of seeding one tracked-artist entry.
type SeedResult struct {
	Entry   TrackedArtist
	LocalID string
	// Attached lists platform ids newly mapped by this call.
	Attached []PlatformID
	// Errors holds per-id conflicts and ambiguities. A non-empty LocalID
	// with errors means the entry was partially seeded.
	Errors []error
}

// Seed applies tracked-artist entries in order. Entries with a LocalID are
// upserted as given; other entries are anchored by an already-mapped id or,
// failing that, by resolving their first platform id. Remaining ids are then
// attached to the anchor. Existing mappings are never reassigned.
func (r *Resolver) Seed(ctx context.Context, entries []TrackedArtist) []SeedResult {
	results := make([]SeedResult, 0, len(entries))
	for _, e := range entries {
		if ctx.Err() != nil {
			results = append(results, SeedResult{Entry: e, Errors: []error{ctx.Err()}})
			continue
		}
		results = append(results, r.seedOne(ctx, e))
	}
	return results
}

func (r *Resolver) seedOne(ctx context.Context, e TrackedArtist) SeedResult {
	res := SeedResult{Entry: e}
	ids := e.IDs()
	if len(ids) == 0 {
		res.Errors = append(res.Errors, fmt.Errorf("tracked artist %q: %w", e.DisplayName, ErrNoPlatformIDs))
		return res
	}

	anchor, err := r.anchor(ctx, e, ids)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return res
	}
	res.LocalID = anchor

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, pid := range ids {
		var attached bool
		err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
			owner, err := lookupLocalID(ctx, tx, pid.Platform, pid.ID)
			if err != nil {
				return err
			}
			if owner == anchor {
				return nil
			}
			if owner != "" {
				return &ConflictingMappingError{Platform: pid.Platform, PlatformArtistID: pid.ID, ExistingLocalID: owner, RequestedLocalID: anchor}
			}
			current, err := platformIDOf(ctx, tx, anchor, pid.Platform)
			if err != nil {
				return err
			}
			if current != "" {
				return &ConflictingMappingError{Platform: pid.Platform, PlatformArtistID: pid.ID, RequestedLocalID: anchor, ExistingID: current}
			}
			if err := attachPlatformID(ctx, tx, anchor, pid.Platform, pid.ID, sourceSeed); err != nil {
				return err
			}
			attached = true
			return nil
		})
		if err != nil {
			r.logger.Warn("seeding platform id failed",
				slog.String("local_id", anchor),
				slog.String("platform", string(pid.Platform)),
				slog.String("platform_artist_id", pid.ID),
				slog.String("error", err.Error()))
			res.Errors = append(res.Errors, err)
			continue
		}
		if attached {
			res.Attached = append(res.Attached, pid)
		}
	}

	if err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return addHints(ctx, tx, anchor, e.Hints)
	}); err != nil {
		res.Errors = append(res.Errors, err)
	}
	return res
}

// anchor returns the local id an entry's ids should attach to.
func (r *Resolver) anchor(ctx context.Context, e TrackedArtist, ids []PlatformID) (string, error) {
	if e.LocalID != "" {
		r.mu.Lock()
		defer r.mu.Unlock()
		err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
			ok, err := identityExists(ctx, tx, e.LocalID)
			if err != nil || ok {
				return err
			}
			return insertIdentity(ctx, tx, e.LocalID, e.DisplayName)
		})
		if err != nil {
			return "", err
		}
		return e.LocalID, nil
	}

	owners := map[string]bool{}
	var first string
	for _, pid := range ids {
		owner, err := lookupLocalID(ctx, r.db, pid.Platform, pid.ID)
		if err != nil {
			return "", err
		}
		if owner != "" && !owners[owner] {
			owners[owner] = true
			if first == "" {
				first = owner
			}
		}
	}
	if len(owners) > 1 {
		return "", errors.New("tracked artist " + e.DisplayName + ": platform ids already belong to different identities")
	}
	if first != "" {
		return first, nil
	}

	res, err := r.Resolve(ctx, Candidate{
		Platform:         ids[0].Platform,
		PlatformArtistID: ids[0].ID,
		DisplayName:      e.DisplayName,
		Hints:            e.Hints,
	})
	if err != nil {
		return "", err
	}
	return res.LocalID, nil
}
