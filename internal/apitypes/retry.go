package apitypes

import (
	"context"
	"time"
)

// RetryConfig controls the bounded-exponential retry used at the
// boundaries named in spec.md §7 (embedding/LLM calls, JSONL atomic
// rename).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultEmbeddingRetry is the "bounded exponential, max 3" policy for
// embedding/LLM calls.
var DefaultEmbeddingRetry = RetryConfig{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}

// SingleRetry is the "single retry on transient IO" policy for JSONL
// atomic rename.
var SingleRetry = RetryConfig{MaxAttempts: 2, BaseDelay: 10 * time.Millisecond}

// Retry runs fn up to cfg.MaxAttempts times with exponential backoff
// between attempts, returning the last error if every attempt fails.
// Swarm batch agent errors are explicitly NOT retried anywhere in this
// codebase (spec.md §7) — this helper is only used by the two boundaries
// named above.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	delay := cfg.BaseDelay
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}
