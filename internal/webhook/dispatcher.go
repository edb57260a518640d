// Package webhook delivers workflow outcome events to HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	retry "github.com/sethvargo/go-retry"

	"github.com/adrien-gtd/artist-data-acquisition/internal/event"
)

const (
	maxRetries     = 2
	requestTimeout = 10 * time.Second
)

// Dispatcher sends events to matching endpoints.
type Dispatcher struct {
	endpoints  []Endpoint
	httpClient *http.Client
	backoff    time.Duration
	userAgent  string
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil client uses a client with a
// ten second timeout.
func NewDispatcher(endpoints []Endpoint, client *http.Client, userAgent string, logger *slog.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Dispatcher{
		endpoints:  endpoints,
		httpClient: client,
		backoff:    time.Second,
		userAgent:  userAgent,
		logger:     logger.With(slog.String("component", "webhook-dispatcher")),
	}
}

// Register subscribes the dispatcher to every event type on bus.
func (d *Dispatcher) Register(bus *event.Bus) {
	for _, t := range event.Types() {
		bus.Subscribe(t, d.HandleEvent)
	}
}

// HandleEvent is an event.Handler that delivers e to every endpoint that
// wants it. Deliveries are sequential so that stopping the bus waits for
// them.
func (d *Dispatcher) HandleEvent(e event.Event) {
	for i := range d.endpoints {
		ep := &d.endpoints[i]
		if !ep.wants(string(e.Type)) {
			continue
		}
		d.deliver(ep, e)
	}
}

func (d *Dispatcher) deliver(ep *Endpoint, e event.Event) {
	body, contentType := formatPayload(ep, e)

	attempts := 0
	b := retry.WithMaxRetries(maxRetries, retry.NewExponential(d.backoff))
	err := retry.Do(context.Background(), b, func(ctx context.Context) error {
		attempts++
		err := d.send(ctx, ep.URL, body, contentType)
		if err == nil {
			return nil
		}
		d.logger.Warn("webhook delivery failed",
			slog.String("webhook", ep.Name),
			slog.String("event", string(e.Type)),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()))
		return retry.RetryableError(err)
	})
	if err != nil {
		d.logger.Error("webhook delivery exhausted retries",
			slog.String("webhook", ep.Name),
			slog.String("event", string(e.Type)),
			slog.String("error", err.Error()))
		return
	}
	d.logger.Debug("webhook delivered",
		slog.String("webhook", ep.Name),
		slog.String("event", string(e.Type)),
		slog.Int("attempt", attempts))
}

func (d *Dispatcher) send(ctx context.Context, url string, body []byte, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()        //nolint:errcheck
	io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode >= 400 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
