package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is the single-process limiter used when Redis is not
// configured.
type MemoryLimiter struct {
	mu       sync.Mutex
	window   Window
	attempts map[string][]time.Time
	now      func() time.Time
}

func NewMemoryLimiter(window Window) *MemoryLimiter {
	return &MemoryLimiter{
		window:   window.normalized(),
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window.Period)
	kept := l.attempts[key][:0]
	for _, at := range l.attempts[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= l.window.Limit {
		l.attempts[key] = kept
		return false, retryAfter(kept[0], l.window.Period, now), nil
	}
	l.attempts[key] = append(kept, now)
	return true, 0, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.attempts, key)
	l.mu.Unlock()
	return nil
}

// Sweep drops keys whose attempts have all left the window.
func (l *MemoryLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.window.Period)
	for key, attempts := range l.attempts {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(cutoff) {
			delete(l.attempts, key)
		}
	}
}

// RunSweeper calls Sweep every interval until ctx is done.
func (l *MemoryLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}
