package collect

import (
	"context"
	"log/slog"

	retry "github.com/sethvargo/go-retry"

	"github.com/adrien-gtd/artist-data-acquisition/internal/artist"
	"github.com/adrien-gtd/artist-data-acquisition/internal/metrics"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
	"github.com/adrien-gtd/artist-data-acquisition/internal/provenance"
)

// RefreshProfiles fetches the current profile of every seeded identity from
// each platform that can describe artists and holds an id for it. A failed
// fetch is an issue and leaves the earlier profile in place.
func (p *Pipeline) RefreshProfiles(ctx context.Context, run *provenance.Run, seeded []artist.SeedResult) {
	profilers := p.Registry.Profilers()
	if len(profilers) == 0 {
		return
	}

	for _, res := range seeded {
		if res.LocalID == "" {
			continue
		}
		identity, err := p.Identities.GetByID(ctx, res.LocalID)
		if err != nil || identity == nil {
			continue
		}
		for _, name := range platform.AllNames() {
			pr, ok := profilers[name]
			id := identity.PlatformIDs[name]
			if !ok || id == "" {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.refreshProfile(ctx, run, pr, name, identity.LocalID, id)
		}
	}
}

func (p *Pipeline) refreshProfile(ctx context.Context, run *provenance.Run, pr platform.Profiler, name platform.Name, localID, id string) {
	tr := platform.NewTrace()
	prof, err := p.fetchProfile(platform.WithTrace(ctx, tr), pr, id)
	requestIDs := p.logRequests(ctx, run, name, id, localID, tr)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.FetchOutcomesTotal.WithLabelValues(string(name), "profile_failure").Inc()
		p.logger.Warn("profile fetch failed",
			slog.String("platform", string(name)),
			slog.String("local_id", localID),
			slog.String("error", err.Error()))
		run.RecordIssue(provenance.ErrorDescriptor{
			Kind: provenance.ErrAdapterFetch, Platform: name, PlatformArtistID: id, LocalID: localID, Message: err.Error(),
		})
		return
	}

	var requestID string
	if len(requestIDs) > 0 {
		requestID = requestIDs[len(requestIDs)-1]
	}
	if err := p.Resolver.SaveProfile(ctx, localID, name, *prof, run.ID, requestID); err != nil {
		run.RecordIssue(provenance.ErrorDescriptor{
			Kind: provenance.ErrInternal, Platform: name, PlatformArtistID: id, LocalID: localID, Message: err.Error(),
		})
		return
	}
	run.AddOutput("profiles", 1)
}

// fetchProfile retries transient failures like fetch does but bypasses the
// breakers.
func (p *Pipeline) fetchProfile(ctx context.Context, pr platform.Profiler, id string) (*platform.Profile, error) {
	var prof *platform.Profile
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		got, err := pr.FetchProfile(ctx, id)
		if err == nil {
			prof = got
			return nil
		}
		if !platform.IsTransient(err) || ctx.Err() != nil {
			return err
		}
		return retry.RetryableError(err)
	})
	return prof, err
}
