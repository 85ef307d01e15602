package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry policy for transient backend failures: 3 attempts total, 1s initial
// delay, doubling between attempts.
const (
	retryInitialInterval = time.Second
	retryMultiplier      = 2
	retryMaxAttempts     = 3
)

var transientKeywords = []string{
	"timeout", "connection", "network", "temporary", "503", "502", "504",
}

// isTransient classifies an error as retryable by its message, matching the
// failure modes a remote store surfaces.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range transientKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// withRetry runs op with bounded exponential backoff, retrying only
// transient errors.
func withRetry(ctx context.Context, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = 0

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		slog.Warn("Store query failed, will retry", "op", name, "attempt", attempt, "error", err)
		return err
	}
	return backoff.Retry(wrapped, backoff.WithMaxRetries(backoff.WithContext(b, ctx), retryMaxAttempts-1))
}
