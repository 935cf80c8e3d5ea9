// Package ratelimit implements the sliding window limiter used on the
// authentication endpoints.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLimited is matched by errors.Is on every *LimitedError.
var ErrLimited = errors.New("rate limit exceeded")

// LimitedError reports a rejected attempt and when the oldest attempt in the
// window will expire.
type LimitedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry in %s", e.Key, e.RetryAfter.Round(time.Second))
}

func (e *LimitedError) Is(target error) bool {
	return target == ErrLimited
}

// Limiter counts attempts per key inside a sliding window.
type Limiter interface {
	// Allow records an attempt for key. When the window is already full the
	// attempt is not recorded and retryAfter says how long to wait.
	Allow(ctx context.Context, key string) (allowed bool, retryAfter time.Duration, err error)
	// Reset forgets every attempt recorded for key.
	Reset(ctx context.Context, key string) error
}

// Check calls Allow and turns a rejection into a *LimitedError.
func Check(ctx context.Context, limiter Limiter, key string) error {
	allowed, retryAfter, err := limiter.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !allowed {
		return &LimitedError{Key: key, RetryAfter: retryAfter}
	}
	return nil
}

// Window is the shared limiter configuration.
type Window struct {
	Limit  int
	Period time.Duration
}

func (w Window) normalized() Window {
	if w.Limit <= 0 {
		w.Limit = 5
	}
	if w.Period <= 0 {
		w.Period = 15 * time.Minute
	}
	return w
}

func retryAfter(oldest time.Time, period time.Duration, now time.Time) time.Duration {
	wait := oldest.Add(period).Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait
}
