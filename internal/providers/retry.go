package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// HTTPError is a non-200 response from a provider.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// RetryConfig bounds request retries.
type RetryConfig struct {
	Attempts int           // total tries, including the first
	MinDelay time.Duration // first backoff interval
	MaxDelay time.Duration // cap on any interval
}

// DefaultRetryConfig returns 3 attempts with 2s..30s exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, MinDelay: 2 * time.Second, MaxDelay: 30 * time.Second}
}

// RetryDo runs fn until it succeeds, returns a non-retryable error, or
// runs out of attempts. A provider's Retry-After hint overrides the backoff
// interval for that attempt.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	if cfg.MinDelay > 0 {
		b.InitialInterval = cfg.MinDelay
	}
	if cfg.MaxDelay > 0 {
		b.MaxInterval = cfg.MaxDelay
	}

	op := func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		var zero T
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			if !httpErr.Retryable() {
				return zero, backoff.Permanent(err)
			}
			if httpErr.RetryAfter > 0 {
				return zero, backoff.RetryAfter(int(httpErr.RetryAfter.Seconds()))
			}
			return zero, err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("provider request failed, retrying", "error", err, "wait", wait)
		}),
	)
}

// ParseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func ParseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
