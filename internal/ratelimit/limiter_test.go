package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newRedisLimiter(t *testing.T, window Window, clock *fakeClock) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisLimiter(client, window)
	l.now = clock.now
	return l
}

func newMemoryLimiter(window Window, clock *fakeClock) *MemoryLimiter {
	l := NewMemoryLimiter(window)
	l.now = clock.now
	return l
}

func limiters(t *testing.T, window Window, clock *fakeClock) map[string]Limiter {
	return map[string]Limiter{
		"redis":  newRedisLimiter(t, window, clock),
		"memory": newMemoryLimiter(window, clock),
	}
}

func TestLimiterSlidingWindow(t *testing.T) {
	window := Window{Limit: 3, Period: 15 * time.Minute}
	for _, name := range []string{"redis", "memory"} {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
			l := limiters(t, window, clock)[name]
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				allowed, _, err := l.Allow(ctx, "203.0.113.7")
				if err != nil || !allowed {
					t.Fatalf("attempt %d: allowed=%v err=%v", i+1, allowed, err)
				}
				clock.advance(time.Minute)
			}

			allowed, wait, err := l.Allow(ctx, "203.0.113.7")
			if err != nil {
				t.Fatalf("Allow() error = %v", err)
			}
			if allowed {
				t.Fatal("fourth attempt inside the window should be rejected")
			}
			// First attempt was at 12:00, now is 12:03.
			if wait != 12*time.Minute {
				t.Fatalf("retryAfter = %s, want 12m", wait)
			}

			other, _, err := l.Allow(ctx, "198.51.100.1")
			if err != nil || !other {
				t.Fatalf("other key: allowed=%v err=%v", other, err)
			}

			clock.advance(12*time.Minute + time.Second)
			allowed, _, err = l.Allow(ctx, "203.0.113.7")
			if err != nil || !allowed {
				t.Fatalf("after oldest expired: allowed=%v err=%v", allowed, err)
			}
		})
	}
}

func TestLimiterConcurrentBurst(t *testing.T) {
	window := Window{Limit: 5, Period: 15 * time.Minute}
	for _, name := range []string{"redis", "memory"} {
		t.Run(name, func(t *testing.T) {
			clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
			l := limiters(t, window, clock)[name]
			ctx := context.Background()

			var allowed atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ok, _, err := l.Allow(ctx, "login:203.0.113.7")
					if err != nil {
						t.Errorf("Allow() error = %v", err)
						return
					}
					if ok {
						allowed.Add(1)
					}
				}()
			}
			wg.Wait()
			if got := allowed.Load(); got != 5 {
				t.Fatalf("allowed %d of 40 concurrent attempts, want 5", got)
			}
		})
	}
}

func TestLimiterReset(t *testing.T) {
	window := Window{Limit: 1, Period: time.Hour}
	for name, l := range limiters(t, window, &fakeClock{t: time.Unix(1700000000, 0)}) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if allowed, _, _ := l.Allow(ctx, "k"); !allowed {
				t.Fatal("first attempt rejected")
			}
			if allowed, _, _ := l.Allow(ctx, "k"); allowed {
				t.Fatal("second attempt allowed")
			}
			if err := l.Reset(ctx, "k"); err != nil {
				t.Fatalf("Reset() error = %v", err)
			}
			if allowed, _, _ := l.Allow(ctx, "k"); !allowed {
				t.Fatal("attempt after reset rejected")
			}
		})
	}
}

func TestCheckWrapsRejection(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := newMemoryLimiter(Window{Limit: 1, Period: time.Minute}, clock)
	ctx := context.Background()

	if err := Check(ctx, l, "ip"); err != nil {
		t.Fatalf("first Check() error = %v", err)
	}
	err := Check(ctx, l, "ip")
	if !errors.Is(err, ErrLimited) {
		t.Fatalf("expected ErrLimited, got %v", err)
	}
	var limited *LimitedError
	if !errors.As(err, &limited) || limited.RetryAfter != time.Minute {
		t.Fatalf("unexpected error detail: %#v", err)
	}
}

func TestRetryAfterHasFloor(t *testing.T) {
	now := time.Unix(100, 0)
	if got := retryAfter(now.Add(-time.Minute), time.Minute, now); got != time.Second {
		t.Fatalf("retryAfter = %s, want 1s", got)
	}
}

func TestMemorySweep(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := newMemoryLimiter(Window{Limit: 5, Period: time.Minute}, clock)
	_, _, _ = l.Allow(context.Background(), "a")
	clock.advance(2 * time.Minute)
	_, _, _ = l.Allow(context.Background(), "b")
	l.Sweep()
	if _, ok := l.attempts["a"]; ok {
		t.Fatal("expired key a should be swept")
	}
	if _, ok := l.attempts["b"]; !ok {
		t.Fatal("live key b should be kept")
	}
}

func TestWindowDefaults(t *testing.T) {
	w := Window{}.normalized()
	if w.Limit != 5 || w.Period != 15*time.Minute {
		t.Fatalf("defaults = %+v", w)
	}
}
