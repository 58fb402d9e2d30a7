package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// IsConflict reports whether err is a transient transaction conflict that
// is safe to retry from the start of the transaction.
func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", // serialization_failure
		"40P01": // deadlock_detected
		return true
	}
	return false
}

// WithRetry runs fn and reruns it up to maxRetries times while it fails with
// a conflict. Waits double from baseDelay with up to baseDelay of jitter.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil || !IsConflict(err) || attempt >= maxRetries {
			return err
		}

		wait := delay
		if delay > 0 {
			wait += time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
