// Package collect runs the daily collection workflow: fetch from every
// platform, record raw observations, normalize, and merge.
package collect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	retry "github.com/sethvargo/go-retry"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/adrien-gtd/artist-data-acquisition/internal/artist"
	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/merge"
	"github.com/adrien-gtd/artist-data-acquisition/internal/metrics"
	"github.com/adrien-gtd/artist-data-acquisition/internal/normalize"
	"github.com/adrien-gtd/artist-data-acquisition/internal/observation"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
	"github.com/adrien-gtd/artist-data-acquisition/internal/provenance"
)

// Options tunes retries, breakers and discovery.
type Options struct {
	MaxRetries        uint64
	BackoffBase       time.Duration
	MaxBackoff        time.Duration
	BreakerFailures   uint32
	BreakerTimeout    time.Duration
	ResolverThreshold float64
	SearchLimit       int
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Registry     *platform.Registry
	Resolver     *artist.Resolver
	Identities   *artist.Service
	Observations *observation.Store
	Normalizer   *normalize.Normalizer
	Ledger       *provenance.Ledger
	Tracker      *provenance.Tracker
	Engine       *merge.Engine
	Records      *merge.Store
}

// Pipeline wires adapters to the normalize/merge chain.
type Pipeline struct {
	Deps
	opts     Options
	breakers map[platform.Name]*breaker
	logger   *slog.Logger
}

// New creates a Pipeline with one circuit breaker per registered adapter.
func New(deps Deps, opts Options, logger *slog.Logger) *Pipeline {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 10 * time.Second
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 5
	}
	logger = logger.With(slog.String("component", "collect"))

	p := &Pipeline{
		Deps:     deps,
		opts:     opts,
		breakers: map[platform.Name]*breaker{},
		logger:   logger,
	}
	for _, a := range deps.Registry.All() {
		p.breakers[a.Name()] = newBreaker(a.Name(), opts.BreakerFailures, opts.BreakerTimeout, logger)
	}
	return p
}

// Report summarizes a finished run.
type Report struct {
	RunID     string                       `json:"run_id"`
	Kind      provenance.Kind              `json:"kind"`
	Status    provenance.Status            `json:"status"`
	Successes int                          `json:"successes"`
	Failures  int                          `json:"failures"`
	Errors    []provenance.ErrorDescriptor `json:"errors"`
}

func report(run *provenance.Run, status provenance.Status) *Report {
	s, f := run.Counts()
	return &Report{RunID: run.ID, Kind: run.Kind, Status: status, Successes: s, Failures: f, Errors: run.Errors()}
}

type target struct {
	entry artist.TrackedArtist
	id    string
}

// Collect fetches day's statistics for every tracked artist from every
// registered platform. Platforms run concurrently and independently; one
// platform's outage never stops another. The run always closes with a
// status, even when ctx is cancelled.
func (p *Pipeline) Collect(ctx context.Context, day time.Time, artists []artist.TrackedArtist) (*Report, error) {
	r := platform.Day(day)
	adapters := p.Registry.All()

	names := make([]string, 0, len(adapters))
	work := map[platform.Name][]target{}
	for _, a := range adapters {
		names = append(names, string(a.Name()))
		for _, e := range artists {
			if id := e.PlatformIDs[string(a.Name())]; id != "" {
				work[a.Name()] = append(work[a.Name()], target{entry: e, id: id})
			}
		}
	}

	run, err := p.Tracker.Open(ctx, provenance.KindCollect, map[string]any{
		"day":       r.Start.Format(database.DateLayout),
		"artists":   len(artists),
		"platforms": names,
	})
	if err != nil {
		return nil, err
	}

	var g errgroup.Group
	for _, a := range adapters {
		targets := work[a.Name()]
		if len(targets) == 0 {
			continue
		}
		g.Go(func() error {
			p.collectPlatform(ctx, run, a, targets, r)
			return nil
		})
	}
	_ = g.Wait()

	status, err := run.Close(ctx, ctx.Err())
	if err != nil {
		return nil, err
	}
	return report(run, status), nil
}

func (p *Pipeline) collectPlatform(ctx context.Context, run *provenance.Run, a platform.Adapter, targets []target, r platform.DateRange) {
	name := a.Name()
	logger := p.logger.With(slog.String("platform", string(name)), slog.String("run_id", run.ID))

	for _, t := range targets {
		if ctx.Err() != nil {
			return
		}

		tr := platform.NewTrace()
		payload, attempts, err := p.fetch(platform.WithTrace(ctx, tr), a, t.id, r)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			outcome := "failure"
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				outcome = "breaker_open"
			}
			metrics.FetchOutcomesTotal.WithLabelValues(string(name), outcome).Inc()
			logger.Warn("fetch failed",
				slog.String("platform_artist_id", t.id),
				slog.Int("attempts", attempts),
				slog.String("error", err.Error()))
			run.RecordFailure(provenance.ErrorDescriptor{
				Kind:             provenance.ErrAdapterFetch,
				Platform:         name,
				PlatformArtistID: t.id,
				Message:          err.Error(),
			})
			requestIDs := p.logRequests(ctx, run, name, t.id, "", tr)
			p.recordFailedFetch(ctx, run, name, t.id, r, attempts, err, requestIDs)
			continue
		}
		metrics.FetchOutcomesTotal.WithLabelValues(string(name), "success").Inc()

		obs := observation.RawObservation{
			RunID:            run.ID,
			Platform:         name,
			PlatformArtistID: t.id,
			ObservedAt:       r.Start,
			Payload:          payload.Body,
			FetchStatus:      payload.Status,
			Attempt:          attempts,
			RequestIDs:       p.logRequests(ctx, run, name, t.id, "", tr),
		}
		if err := p.Observations.Record(ctx, &obs); err != nil {
			run.RecordFailure(provenance.ErrorDescriptor{
				Kind: provenance.ErrInternal, Platform: name, PlatformArtistID: t.id, Message: err.Error(),
			})
			continue
		}
		metrics.ObservationsTotal.WithLabelValues(string(name), string(obs.FetchStatus)).Inc()
		run.RecordSuccess(name)
		run.AddOutput("observations", 1)
		run.AddOutput("requests."+string(name), payload.Requests)

		p.process(ctx, run, obs)
	}
}

// fetch calls the adapter through the platform's breaker, retrying
// transient failures with capped exponential backoff.
func (p *Pipeline) fetch(ctx context.Context, a platform.Adapter, id string, r platform.DateRange) (*platform.Payload, int, error) {
	cb := p.breakers[a.Name()]
	backoff := p.backoff()

	var (
		payload  *platform.Payload
		attempts int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		pl, err := cb.Execute(func() (*platform.Payload, error) {
			return a.Fetch(ctx, id, r)
		})
		if err == nil {
			payload = pl
			return nil
		}
		if !platform.IsTransient(err) || ctx.Err() != nil {
			return err
		}
		metrics.FetchOutcomesTotal.WithLabelValues(string(a.Name()), "retry").Inc()
		if err := waitRetryAfter(ctx, err, p.opts.MaxBackoff); err != nil {
			return err
		}
		return retry.RetryableError(err)
	})
	return payload, attempts, err
}

func (p *Pipeline) backoff() retry.Backoff {
	return retry.WithCappedDuration(p.opts.MaxBackoff,
		retry.WithMaxRetries(p.opts.MaxRetries, retry.NewExponential(p.opts.BackoffBase)))
}

// waitRetryAfter honours a server-provided Retry-After, capped at limit.
func waitRetryAfter(ctx context.Context, err error, limit time.Duration) error {
	var fe *platform.FetchError
	if !errors.As(err, &fe) || fe.RetryAfter <= 0 {
		return nil
	}
	d := min(fe.RetryAfter, limit)
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// recordFailedFetch keeps an audit row for a fetch that produced nothing.
func (p *Pipeline) recordFailedFetch(ctx context.Context, run *provenance.Run, name platform.Name, id string, r platform.DateRange, attempts int, cause error, requestIDs []string) {
	body, _ := json.Marshal(map[string]string{"error": cause.Error()})
	obs := observation.RawObservation{
		RunID:            run.ID,
		Platform:         name,
		PlatformArtistID: id,
		ObservedAt:       r.Start,
		Payload:          body,
		FetchStatus:      platform.StatusFailed,
		Attempt:          max(attempts, 1),
		RequestIDs:       requestIDs,
	}
	if err := p.Observations.Record(ctx, &obs); err != nil {
		p.logger.Error("recording failed fetch", slog.String("error", err.Error()))
		return
	}
	metrics.ObservationsTotal.WithLabelValues(string(name), string(platform.StatusFailed)).Inc()
}

// logRequests appends the requests captured by tr to the request log and
// returns their ids. When localID is empty it is looked up from (name,
// subject). A failure to log is itemized and yields no ids.
func (p *Pipeline) logRequests(ctx context.Context, run *provenance.Run, name platform.Name, subject, localID string, tr *platform.Trace) []string {
	reqs := tr.Requests()
	if len(reqs) == 0 {
		return nil
	}
	if localID == "" && subject != "" {
		id, err := p.Identities.LocalIDFor(ctx, name, subject)
		if err == nil {
			localID = id
		}
	}
	if err := p.Observations.RecordRequests(ctx, run.ID, localID, reqs); err != nil {
		p.logger.Error("recording request log", slog.String("platform", string(name)), slog.String("error", err.Error()))
		run.RecordIssue(provenance.ErrorDescriptor{
			Kind: provenance.ErrInternal, Platform: name, PlatformArtistID: subject, Message: err.Error(),
		})
		return nil
	}
	run.AddOutput("api_requests", len(reqs))
	return tr.IDs()
}

// process normalizes obs, writes metric provenance, and merges the result.
// Problems here are recovered locally and itemized on the run.
func (p *Pipeline) process(ctx context.Context, run *provenance.Run, obs observation.RawObservation) {
	res, err := p.Normalizer.Normalize(ctx, obs)
	if err != nil {
		var (
			unresolved *normalize.UnresolvedIdentityError
			malformed  *normalize.MalformedPayloadError
		)
		switch {
		case errors.As(err, &unresolved):
			run.RecordIssue(provenance.ErrorDescriptor{
				Kind: provenance.ErrUnresolvedIdentity, Platform: obs.Platform, PlatformArtistID: obs.PlatformArtistID, Message: err.Error(),
			})
			return
		case errors.As(err, &malformed):
			for _, d := range malformed.Dropped {
				run.RecordIssue(provenance.ErrorDescriptor{
					Kind:             provenance.ErrMalformedField,
					Platform:         obs.Platform,
					PlatformArtistID: obs.PlatformArtistID,
					Message:          fmt.Sprintf("observation %s: %s (%s): %s", obs.ID, d.Metric, d.Path, d.Reason),
				})
			}
		default:
			run.RecordIssue(provenance.ErrorDescriptor{
				Kind: provenance.ErrInternal, Platform: obs.Platform, PlatformArtistID: obs.PlatformArtistID, Message: err.Error(),
			})
			return
		}
	}
	if len(res.Skipped) > 0 {
		run.AddOutput("fields_skipped", len(res.Skipped))
	}
	if len(res.Metrics) == 0 {
		return
	}
	localID := res.Metrics[0].LocalID

	recs := make([]provenance.Record, 0, len(res.Metrics))
	for _, m := range res.Metrics {
		recs = append(recs, provenance.Record{
			OutputRef:            provenance.MetricRef(m.Platform, m.LocalID, m.Date, m.Name),
			SourceObservationIDs: []string{obs.ID},
			TransformationID:     normalize.TransformationID(obs.Platform),
		})
	}
	if err := p.Ledger.Append(ctx, run.ID, recs); err != nil {
		run.RecordIssue(provenance.ErrorDescriptor{Kind: provenance.ErrInternal, Platform: obs.Platform, LocalID: localID, Message: err.Error()})
		return
	}
	run.AddOutput("metrics", len(res.Metrics))

	out, err := p.Engine.Merge(ctx, run.ID, localID, obs.ObservedAt, res.Metrics)
	if err != nil {
		run.RecordIssue(provenance.ErrorDescriptor{Kind: provenance.ErrInternal, Platform: obs.Platform, LocalID: localID, Message: err.Error()})
		return
	}
	run.AddOutput("fields_merged", len(out.Changed))
}

// Yesterday returns the UTC day before now. Platform statistics for a day
// are only complete once it has ended, so collection targets yesterday by
// default.
func Yesterday(now time.Time) time.Time {
	return platform.Day(now.UTC()).Start.AddDate(0, 0, -1)
}
