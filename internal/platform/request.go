package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/adrien-gtd/artist-data-acquisition/internal/metrics"
)

const maxBodyBytes = 4 * 1024 * 1024

// Requester issues rate-limited GET requests for one platform and maps
// HTTP failures onto FetchError and NotFoundError.
type Requester struct {
	platform Name
	client   *http.Client
	limiter  *RateLimiterMap
	logger   *slog.Logger
}

// NewRequester creates a Requester. A nil client gets a 10s timeout client.
func NewRequester(name Name, client *http.Client, limiter *RateLimiterMap, logger *slog.Logger) *Requester {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Requester{
		platform: name,
		client:   client,
		limiter:  limiter,
		logger:   logger.With(slog.String("platform", string(name))),
	}
}

// Get fetches reqURL on behalf of artist id and returns the response body.
func (r *Requester) Get(ctx context.Context, id, reqURL string, header http.Header) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, r.platform); err != nil {
			return nil, &FetchError{Platform: r.platform, ID: id, Cause: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &FetchError{Platform: r.platform, ID: id, Cause: err}
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	start := time.Now()
	body, status, err := r.do(req, id, start)
	if t := TraceFrom(ctx); t != nil {
		t.add(Request{
			ID:         uuid.New().String(),
			Platform:   r.platform,
			Subject:    id,
			Endpoint:   req.URL.Path,
			Params:     requestParams(req.URL),
			HTTPStatus: status,
			Duration:   time.Since(start),
			OK:         err == nil,
			ErrorType:  errorType(status, err),
			StartedAt:  start.UTC(),
		})
	}
	return body, err
}

// do sends req and maps the response. The returned status is 0 when no
// response arrived.
func (r *Requester) do(req *http.Request, id string, start time.Time) ([]byte, int, error) {
	resp, err := r.client.Do(req) //nolint:gosec // URL built from adapter config
	if err != nil {
		metrics.ObserveRequest(string(r.platform), 0, time.Since(start))
		r.logger.Debug("platform request failed",
			slog.String("endpoint", req.URL.Path),
			slog.String("error", err.Error()))
		return nil, 0, &FetchError{
			Platform:  r.platform,
			ID:        id,
			Transient: !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded),
			Cause:     err,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	elapsed := time.Since(start)
	metrics.ObserveRequest(string(r.platform), resp.StatusCode, elapsed)
	r.logger.Debug("platform request",
		slog.String("endpoint", req.URL.Path),
		slog.Int("http_status", resp.StatusCode),
		slog.Int64("duration_ms", elapsed.Milliseconds()))

	body, err := mapResponse(resp, r.platform, id)
	return body, resp.StatusCode, err
}

func mapResponse(resp *http.Response, name Name, id string) ([]byte, error) {
	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, &FetchError{Platform: name, ID: id, StatusCode: resp.StatusCode, Transient: true, Cause: fmt.Errorf("reading body: %w", err)}
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, &NotFoundError{Platform: name, ID: id}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &FetchError{
			Platform:   name,
			ID:         id,
			StatusCode: resp.StatusCode,
			Transient:  true,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Cause:      errors.New("rate limited by server"),
		}
	case resp.StatusCode >= 500:
		return nil, &FetchError{Platform: name, ID: id, StatusCode: resp.StatusCode, Transient: true, Cause: errors.New("server error")}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &FetchError{Platform: name, ID: id, StatusCode: resp.StatusCode, Cause: errors.New("credentials rejected")}
	default:
		return nil, &FetchError{Platform: name, ID: id, StatusCode: resp.StatusCode, Cause: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
}

// parseRetryAfter understands the delta-seconds form of Retry-After.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
