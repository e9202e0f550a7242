package client

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultRetryAttempts  = 3
	DefaultRetryBaseDelay = 500 * time.Millisecond
)

// RetryPolicy bounds how often and how patiently a call is repeated.
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration

	// sleep waits between attempts; nil means sleepContext.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetry makes three attempts waiting 500ms then 1s in between.
var DefaultRetry = RetryPolicy{Attempts: DefaultRetryAttempts, BaseDelay: DefaultRetryBaseDelay}

// Retry runs fn with DefaultRetry.
func Retry(ctx context.Context, fn func(context.Context) error) error {
	return DefaultRetry.Do(ctx, fn)
}

// Do calls fn until it succeeds, the attempts are used up or ctx ends.
// The delay doubles after every failed attempt. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				slog.Debug("call succeeded after retry", "attempt", attempt+1)
			}
			return nil
		}
		lastErr = err

		// Don't sleep after the last attempt
		if attempt < attempts-1 {
			delay := p.BaseDelay * (1 << attempt)
			slog.Debug("call failed, retrying",
				"attempt", attempt+1,
				"max_attempts", attempts,
				"retry_delay", delay,
				"error", err)
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	slog.Warn("call failed after all retries", "attempts", attempts, "error", lastErr)
	return lastErr
}

// sleepContext waits for d or until ctx ends.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
