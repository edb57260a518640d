package collect

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/adrien-gtd/artist-data-acquisition/internal/artist"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
	"github.com/adrien-gtd/artist-data-acquisition/internal/provenance"
)

// Resolve seeds identities from the tracked-artist entries and, when
// discover is set, searches platforms for ids the entries do not list.
// Profiles of every resolved identity are refreshed last.
func (p *Pipeline) Resolve(ctx context.Context, entries []artist.TrackedArtist, discover bool) (*Report, error) {
	run, err := p.Tracker.Open(ctx, provenance.KindResolve, map[string]any{
		"artists":  len(entries),
		"discover": discover,
	})
	if err != nil {
		return nil, err
	}

	results := p.Resolver.Seed(ctx, entries)
	for _, res := range results {
		for _, err := range res.Errors {
			run.RecordFailure(describeResolveError(res, err))
		}
		if len(res.Errors) == 0 {
			run.RecordSuccess("")
		}
		run.AddOutput("platform_ids_attached", len(res.Attached))
	}

	if discover && ctx.Err() == nil {
		p.Discover(ctx, run, results)
	}
	if ctx.Err() == nil {
		p.RefreshProfiles(ctx, run, results)
	}

	status, err := run.Close(ctx, ctx.Err())
	if err != nil {
		return nil, err
	}
	return report(run, status), nil
}

func describeResolveError(res artist.SeedResult, err error) provenance.ErrorDescriptor {
	d := provenance.ErrorDescriptor{Kind: provenance.ErrInternal, LocalID: res.LocalID, Message: err.Error()}
	var (
		amb      *artist.AmbiguousIdentityError
		conflict *artist.ConflictingMappingError
	)
	switch {
	case errors.As(err, &amb):
		d.Kind = provenance.ErrAmbiguousIdentity
		d.Platform = amb.Candidate.Platform
		d.PlatformArtistID = amb.Candidate.PlatformArtistID
	case errors.As(err, &conflict):
		d.Kind = provenance.ErrConflictingMapping
		d.Platform = conflict.Platform
		d.PlatformArtistID = conflict.PlatformArtistID
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.Kind = provenance.ErrCancelled
	}
	return d
}

// Discover searches every searchable platform for seeded artists that lack
// an id there. The best search hit at or above the resolver threshold is
// passed through Resolve, so ambiguity still surfaces. Ties between search
// hits are itemized and skipped.
func (p *Pipeline) Discover(ctx context.Context, run *provenance.Run, seeded []artist.SeedResult) {
	searchers := p.Registry.Searchers()

	for _, res := range seeded {
		if res.LocalID == "" {
			continue
		}
		identity, err := p.Identities.GetByID(ctx, res.LocalID)
		if err != nil || identity == nil {
			continue
		}

		for _, name := range platform.AllNames() {
			s, ok := searchers[name]
			if !ok || identity.PlatformIDs[name] != "" {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.discoverOne(ctx, run, s, name, identity)
		}
	}
}

func (p *Pipeline) discoverOne(ctx context.Context, run *provenance.Run, s platform.Searcher, name platform.Name, identity *artist.Identity) {
	logger := p.logger.With(slog.String("platform", string(name)), slog.String("local_id", identity.LocalID))

	tr := platform.NewTrace()
	hits, err := s.SearchArtist(platform.WithTrace(ctx, tr), identity.DisplayName, p.opts.SearchLimit)
	p.logRequests(ctx, run, name, "", identity.LocalID, tr)
	if err != nil {
		run.RecordIssue(provenance.ErrorDescriptor{
			Kind: provenance.ErrAdapterFetch, Platform: name, LocalID: identity.LocalID, Message: err.Error(),
		})
		return
	}

	var (
		best  []platform.SearchResult
		score = -1.0
	)
	for _, h := range hits {
		sim := artist.Similarity(identity.DisplayName, h.Name)
		switch {
		case sim > score+1e-9:
			score, best = sim, []platform.SearchResult{h}
		case math.Abs(sim-score) <= 1e-9:
			best = append(best, h)
		}
	}
	if len(best) == 0 || score+1e-9 < p.opts.ResolverThreshold {
		logger.Debug("no search hit above threshold", slog.Int("hits", len(hits)))
		return
	}
	if len(best) > 1 {
		run.RecordIssue(provenance.ErrorDescriptor{
			Kind:     provenance.ErrAmbiguousIdentity,
			Platform: name,
			LocalID:  identity.LocalID,
			Message:  "several search results match " + identity.DisplayName + " equally well",
		})
		return
	}

	hit := best[0]
	var hints []string
	if hit.URL != "" {
		hints = []string{hit.URL}
	}
	resolved, err := p.Resolver.Resolve(ctx, artist.Candidate{
		Platform:         name,
		PlatformArtistID: hit.ID,
		DisplayName:      hit.Name,
		Hints:            hints,
	})
	if err != nil {
		d := describeResolveError(artist.SeedResult{LocalID: identity.LocalID}, err)
		d.Platform, d.PlatformArtistID = name, hit.ID
		run.RecordFailure(d)
		return
	}
	if resolved.LocalID != identity.LocalID {
		run.RecordIssue(provenance.ErrorDescriptor{
			Kind:             provenance.ErrConflictingMapping,
			Platform:         name,
			PlatformArtistID: hit.ID,
			LocalID:          identity.LocalID,
			Message:          "search hit resolved to " + resolved.LocalID,
		})
		return
	}
	run.RecordSuccess(name)
	run.AddOutput("platform_ids_discovered", 1)
	logger.Info("platform id discovered", slog.String("platform_artist_id", hit.ID), slog.Float64("score", score))
}
