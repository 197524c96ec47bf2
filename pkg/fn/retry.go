package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryOpts configures Retry.
type RetryOpts struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	// Multiplier grows the wait between attempts. Values below 1 mean 2.
	Multiplier float64
	// Jitter spreads each wait uniformly over [wait/2, wait).
	Jitter bool
	// Retryable reports whether an error is worth another attempt. Nil
	// retries everything.
	Retryable func(error) bool
}

// delay returns the wait before retry number n, counting from zero.
func (o RetryOpts) delay(n int) time.Duration {
	mult := o.Multiplier
	if mult < 1 {
		mult = 2
	}
	d := float64(o.InitialWait)
	for range n {
		d *= mult
		if o.MaxWait > 0 && d >= float64(o.MaxWait) {
			d = float64(o.MaxWait)
			break
		}
	}
	if o.MaxWait > 0 {
		d = min(d, float64(o.MaxWait))
	}
	if o.Jitter && d > 0 {
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}

// Retry calls f until it succeeds, returns an error Retryable rejects, or
// MaxAttempts calls have been made. A MaxAttempts below one still calls f
// once. Cancelling ctx during a wait returns ctx.Err().
func Retry[T any](ctx context.Context, opts RetryOpts, f func(context.Context) Result[T]) Result[T] {
	attempts := max(opts.MaxAttempts, 1)
	for n := 0; ; n++ {
		res := f(ctx)
		if res.IsOk() || n == attempts-1 {
			return res
		}
		if opts.Retryable != nil && !opts.Retryable(res.Error()) {
			return res
		}
		if err := sleep(ctx, opts.delay(n)); err != nil {
			return Err[T](err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
