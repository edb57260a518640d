package platform

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Request describes one HTTP request an adapter issued.
type Request struct {
	ID       string
	Platform Name
	// Subject is the platform artist id, or the query for searches.
	Subject    string
	Endpoint   string
	Params     map[string]string
	HTTPStatus int
	Duration   time.Duration
	OK         bool
	ErrorType  string
	StartedAt  time.Time
}

// Trace collects the requests issued under one context. It is safe for
// concurrent use.
type Trace struct {
	mu   sync.Mutex
	reqs []Request
}

// NewTrace creates an empty trace.
func NewTrace() *Trace {
	return &Trace{}
}

func (t *Trace) add(r Request) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reqs = append(t.reqs, r)
}

// Requests returns a copy of the recorded requests in issue order.
func (t *Trace) Requests() []Request {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Request, len(t.reqs))
	copy(out, t.reqs)
	return out
}

// IDs returns the recorded request ids in issue order.
func (t *Trace) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.reqs))
	for _, r := range t.reqs {
		ids = append(ids, r.ID)
	}
	return ids
}

type traceKey struct{}

// WithTrace returns a context whose requests are recorded in t.
func WithTrace(ctx context.Context, t *Trace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// TraceFrom returns the trace attached to ctx, or nil.
func TraceFrom(ctx context.Context) *Trace {
	t, _ := ctx.Value(traceKey{}).(*Trace)
	return t
}

// secretParams are query parameters never written to the request log.
var secretParams = map[string]bool{
	"key":           true,
	"api_key":       true,
	"apikey":        true,
	"access_token":  true,
	"token":         true,
	"client_secret": true,
}

// requestParams flattens the query of u, redacting credentials.
func requestParams(u *url.URL) map[string]string {
	q := u.Query()
	if len(q) == 0 {
		return nil
	}
	out := make(map[string]string, len(q))
	for k, vs := range q {
		if secretParams[strings.ToLower(k)] {
			out[k] = "REDACTED"
			continue
		}
		out[k] = strings.Join(vs, ",")
	}
	return out
}

// errorType classifies a failed request for the request log.
func errorType(status int, err error) string {
	if err == nil {
		return ""
	}
	var nf *NotFoundError
	switch {
	case errors.As(err, &nf):
		return "not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status >= 500:
		return "server_error"
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return "auth"
	case status == http.StatusOK:
		return "read_body"
	case status > 0:
		return "http_status"
	default:
		return "network"
	}
}
