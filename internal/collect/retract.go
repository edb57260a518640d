package collect

import (
	"context"

	"github.com/adrien-gtd/artist-data-acquisition/internal/provenance"
)

// Retract withdraws one raw observation from every canonical record that
// cites it, inside its own retract run.
func (p *Pipeline) Retract(ctx context.Context, observationID string) (*Report, error) {
	run, err := p.Tracker.Open(ctx, provenance.KindRetract, map[string]any{
		"observation_id": observationID,
	})
	if err != nil {
		return nil, err
	}

	obs, err := p.Observations.Get(ctx, observationID)
	switch {
	case err != nil:
		run.RecordFailure(provenance.ErrorDescriptor{Kind: provenance.ErrInternal, Message: err.Error()})
	case obs == nil:
		run.RecordFailure(provenance.ErrorDescriptor{Kind: provenance.ErrInternal, Message: "observation " + observationID + " not found"})
	default:
		n, err := p.Engine.Retract(ctx, run.ID, observationID)
		if err != nil {
			run.RecordFailure(provenance.ErrorDescriptor{
				Kind:             provenance.ErrInternal,
				Platform:         obs.Platform,
				PlatformArtistID: obs.PlatformArtistID,
				Message:          err.Error(),
			})
			break
		}
		run.RecordSuccess(obs.Platform)
		run.AddOutput("fields_retracted", n)
	}

	status, err := run.Close(ctx, ctx.Err())
	if err != nil {
		return nil, err
	}
	return report(run, status), nil
}
