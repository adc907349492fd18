// Package retry runs operations under exponential backoff.
//
// Delays are computed by cenkalti/backoff; sleeping goes through an injectable
// function so tests can run the loop without waiting.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Policy describes a retry loop.
type Policy struct {
	// Attempts is the total number of tries. Zero or less means unbounded.
	Attempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64

	// MaxDelay caps the delay. Zero means no cap.
	MaxDelay time.Duration

	// Sleep overrides the wait between attempts.
	Sleep SleepFunc
}

// DeliveryPolicy is the event sink retry policy: 5 attempts, 250ms, x1.5.
func DeliveryPolicy() Policy {
	return Policy{Attempts: 5, InitialDelay: 250 * time.Millisecond, Multiplier: 1.5}
}

// ReconnectPolicy retries forever with a capped delay.
func ReconnectPolicy(maxDelay time.Duration) Policy {
	return Policy{InitialDelay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: maxDelay}
}

// Backoff returns the delay sequence of the policy without randomization.
func (p Policy) Backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialDelay
	b.RandomizationFactor = 0
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	} else {
		b.Multiplier = 1
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	} else {
		// effectively uncapped
		b.MaxInterval = 24 * time.Hour
	}
	b.Reset()
	return b
}

// Delays lists the waits between attempts of a bounded policy.
func (p Policy) Delays() []time.Duration {
	if p.Attempts <= 1 {
		return nil
	}
	b := p.Backoff()
	out := make([]time.Duration, 0, p.Attempts-1)
	for i := 1; i < p.Attempts; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

// Do runs op until it succeeds, the attempts are exhausted, op returns a
// permanent error, or ctx is cancelled. It returns the number of attempts made
// and the last error.
func Do(ctx context.Context, p Policy, op func(ctx context.Context, attempt int) error) (int, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	b := p.Backoff()

	var err error
	attempt := 0
	for {
		attempt++
		err = op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return attempt, perm.Unwrap()
		}
		if p.Attempts > 0 && attempt >= p.Attempts {
			return attempt, err
		}
		if serr := sleep(ctx, b.NextBackOff()); serr != nil {
			return attempt, err
		}
	}
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Sleep waits for d honoring ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
