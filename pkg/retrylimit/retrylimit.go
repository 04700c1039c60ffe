// Package retrylimit retries outbound API calls with exponential backoff and
// an adaptive rate limit that backs off when the server pushes back.
//
//	lim := retrylimit.NewLimiter(5, 1, 20)
//	err := retrylimit.Do(ctx, lim, retrylimit.DefaultConfig(), func() error {
//	    return send()
//	})
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is a token bucket whose rate rises by one per success (after a
// quiet period) and halves on every throttled response.
type Limiter struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	min, max  rate.Limit
	lastError time.Time
	quiet     time.Duration
}

func NewLimiter(initial, min, max rate.Limit) *Limiter {
	if min < 1 {
		min = 1
	}
	if max < min {
		max = min
	}
	initial = clamp(initial, min, max)
	return &Limiter{
		limiter: rate.NewLimiter(initial, burst(initial)),
		min:     min,
		max:     max,
		quiet:   10 * time.Second,
	}
}

func (l *Limiter) Wait(ctx context.Context) error { return l.limiter.Wait(ctx) }

// Limit is the current rate in requests per second.
func (l *Limiter) Limit() rate.Limit {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.limiter.Limit()
}

func (l *Limiter) success() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastError) > l.quiet {
		l.set(l.limiter.Limit() + 1)
	}
}

func (l *Limiter) throttled() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastError = time.Now()
	l.set(l.limiter.Limit() / 2)
}

func (l *Limiter) set(v rate.Limit) {
	v = clamp(v, l.min, l.max)
	if v != l.limiter.Limit() {
		l.limiter.SetLimit(v)
		l.limiter.SetBurst(burst(v))
	}
}

func clamp(v, min, max rate.Limit) rate.Limit {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func burst(v rate.Limit) int { return max(1, int(v)) }

// StatusError is an error carrying an HTTP status code.
type StatusError interface {
	error
	StatusCode() int
}

type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

type Config struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	RateLimitDelay time.Duration
	Multiplier     float64
	Jitter         bool

	// Status extracts an HTTP status from err; 0 means none. Nil uses
	// StatusError.
	Status func(err error) int
	// OnRetry is called before each new attempt.
	OnRetry func(attempt int, err error)
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    4,
		InitialDelay:   250 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		RateLimitDelay: time.Second,
		Multiplier:     2,
		Jitter:         true,
	}
}

func statusOf(err error) int {
	var se StatusError
	if errors.As(err, &se) {
		return se.StatusCode()
	}
	return 0
}

// Do runs fn until it succeeds, fails permanently, or attempts run out.
// Client errors other than 429 are returned at once; 429 slows lim down and
// waits RateLimitDelay; everything else backs off exponentially.
func Do(ctx context.Context, lim *Limiter, cfg Config, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Status == nil {
		cfg.Status = statusOf
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}

	delay := cfg.InitialDelay
	var err error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if lim != nil {
			if werr := lim.Wait(ctx); werr != nil {
				return werr
			}
		} else if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		if err = fn(); err == nil {
			if lim != nil {
				lim.success()
			}
			return nil
		}

		var p *permanent
		if errors.As(err, &p) {
			return p.err
		}

		wait := delay
		switch code := cfg.Status(err); {
		case code == http.StatusTooManyRequests:
			if lim != nil {
				lim.throttled()
			}
			wait = cfg.RateLimitDelay
		case code >= 400 && code < 500:
			return err
		default:
			if cfg.Jitter {
				wait = jitter(wait)
			}
			delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
		}

		if attempt == cfg.MaxAttempts {
			break
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", cfg.MaxAttempts, err)
}

// jitter adds up to 25% to d.
func jitter(d time.Duration) time.Duration {
	if d < 4 {
		return d
	}
	return d + rand.N(d/4)
}
