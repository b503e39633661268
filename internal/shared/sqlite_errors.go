// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteConflictError reports whether err is a SQLITE_BUSY or
// "database is locked" error. Both are transient and worth retrying.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// RetryPolicy bounds RetryOnConflict.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy is used for turn writes: 50ms, 100ms, 200ms.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 50 * time.Millisecond}

// RetryOnConflict runs fn until it succeeds, returns a non-conflict error, or
// the policy is exhausted. Delays double after each conflict.
func RetryOnConflict(ctx context.Context, policy RetryPolicy, op string, fn func() error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	var err error
	for i := 0; i < policy.MaxAttempts; i++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsSQLiteConflictError(err) || i == policy.MaxAttempts-1 {
			break
		}

		delay := policy.BaseDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying", "op", op, "attempt", i+1, "delay", delay)

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
