// Package retry holds the single retry policy used for outbound QuickBooks
// calls (token refresh and entity fetches).
package retry

import (
	"context"
	"time"

	"github.com/Kodeloom/spacovers-admin/internal/apperr"
)

// Policy describes how many times an operation is attempted and how long to
// wait between attempts. Delays double after each failure up to MaxDelay.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Retryable decides whether a failure may be retried. Defaults to
	// apperr.IsRetryable.
	Retryable func(error) bool
	// Sleep is replaced in tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Default is the policy for QuickBooks calls: 3 attempts, 500ms then 1s.
func Default() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// NoWait returns a copy of p that never sleeps between attempts.
func (p Policy) NoWait() Policy {
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

// Backoff returns the delay before attempt n (1-based, n >= 2).
func (p Policy) Backoff(n int) time.Duration {
	d := p.BaseDelay
	for i := 2; i < n; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted or ctx is done. The last error is returned.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = apperr.IsRetryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for n := 1; n <= attempts; n++ {
		if n > 1 {
			if serr := sleep(ctx, p.Backoff(n)); serr != nil {
				return err
			}
		}
		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
