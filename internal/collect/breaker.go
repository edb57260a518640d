package collect

import (
	"context"
	"errors"
	"log/slog"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/adrien-gtd/artist-data-acquisition/internal/metrics"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

type breaker = gobreaker.CircuitBreaker[*platform.Payload]

// newBreaker trips after consecutive transient failures. Permanent errors
// (not found, rejected credentials) say nothing about platform health and
// count as successes.
func newBreaker(name platform.Name, failures uint32, openTimeout time.Duration, logger *slog.Logger) *breaker {
	if failures == 0 {
		failures = 5
	}
	if openTimeout <= 0 {
		openTimeout = time.Minute
	}
	metrics.BreakerState.WithLabelValues(string(name)).Set(float64(gobreaker.StateClosed))

	return gobreaker.NewCircuitBreaker[*platform.Payload](gobreaker.Settings{
		Name:        string(name),
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !platform.IsTransient(err)
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(n string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(n).Set(float64(to))
			logger.Warn("circuit breaker state change",
				slog.String("platform", n),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
}
