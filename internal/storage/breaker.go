package storage

import (
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

const (
	defaultBreakerMaxFailures = 5
	defaultBreakerOpenTimeout = 10 * time.Second
)

// newBreaker trips after maxFailures consecutive connection-class failures and
// lets a single trial request through once openTimeout has elapsed.
func newBreaker(name string, maxFailures uint32, openTimeout time.Duration, logger *slog.Logger) *gobreaker.TwoStepCircuitBreaker {
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	if openTimeout <= 0 {
		openTimeout = defaultBreakerOpenTimeout
	}
	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("storage: circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
}
