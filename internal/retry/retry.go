// Package retry holds the backoff primitives shared by the repository client
// and the destination lanes.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"
)

// Policy describes a doubling backoff with a ceiling and a fixed retry budget.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the doubled delay.
	MaxDelay time.Duration
	// Jitter spreads each delay uniformly over [d/2, d).
	Jitter bool
}

// DefaultPolicy mirrors the repository client's defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Jitter:     true,
	}
}

// Backoff returns the wait before retry number n (1-based).
func (p Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(n-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if !p.Jitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

// Exhausted reports whether retry number n would exceed the budget.
func (p Policy) Exhausted(n int) bool {
	return n > p.MaxRetries
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Sleeper blocks for a backoff interval. Implementations must return early
// with the context error when ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

// Sleep waits for d or until ctx is done.
func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, returns an error retryable rejects, or the
// budget is spent. The last error is returned.
func Do(ctx context.Context, p Policy, sleeper Sleeper, retryable func(error) bool, fn func(context.Context) error) error {
	if sleeper == nil {
		sleeper = TimerSleeper{}
	}
	var err error
	for n := 0; ; n++ {
		if n > 0 {
			if serr := sleeper.Sleep(ctx, p.Backoff(n)); serr != nil {
				return errors.Join(err, serr)
			}
		}
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || (retryable != nil && !retryable(err)) || p.Exhausted(n+1) {
			return err
		}
	}
}
