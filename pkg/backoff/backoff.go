// Package backoff computes retry delays and retries idempotent operations.
//
// Retry is only meant for calls that are safe to repeat, such as looking up a
// customer by email. Never wrap a call that creates something remotely.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy calculates the delay before a retry. Attempt starts at 1 for the
// first retry. Implementations must be safe for concurrent use.
type Strategy interface {
	NextInterval(attempt int) time.Duration
}

// Exponential grows the delay by Multiplier on every attempt, with optional
// jitter of ±JitterFactor, capped at MaxInterval.
type Exponential struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

// NextInterval returns min(Initial * Multiplier^(attempt-1) * (1 ± jitter), Max).
func (e Exponential) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := cmpOr(e.InitialInterval, 100*time.Millisecond)
	maxInterval := cmpOr(e.MaxInterval, 5*time.Second)
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))
	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}
	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}
	return time.Duration(interval)
}

// Fixed waits the same interval between every attempt.
type Fixed struct {
	Interval time.Duration
}

// NextInterval always returns Interval.
func (f Fixed) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}

// Default returns the strategy used for payment-processor reads.
func Default() Strategy {
	return Exponential{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
		JitterFactor:    0.1,
	}
}

// ErrPermanent marks an error that must not be retried.
var ErrPermanent = errors.New("permanent failure")

// Permanent wraps err so that Retry returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrPermanent, err)
}

// Retry calls fn up to attempts times, sleeping per strategy between failures.
// It stops early on success, on an error wrapped with Permanent, or when ctx is
// done. The last error from fn is returned.
func Retry(ctx context.Context, attempts int, strategy Strategy, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	if strategy == nil {
		strategy = Default()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(strategy.NextInterval(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(err, ctx.Err())
		case <-timer.C:
		}
	}
	return err
}

func cmpOr(v, def time.Duration) time.Duration {
	if v == 0 {
		return def
	}
	return v
}
