package retry

import (
	"errors"
	"math"
	"math/rand"
	"time"
)

// Retryer decides whether, and after how long, a failed backend call is
// attempted again.
type Retryer interface {
	// NextDelay is called after attempt (0 for the first call) failed with
	// lastErr. It returns the wait before the next attempt, or false to give up.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset is called after a call succeeds.
	Reset()
}

// Hinter is implemented by backend errors that carry the server's own wait
// hint, like the Retry-After header of a rest.StatusError.
type Hinter interface {
	RetryAfter() (time.Duration, bool)
}

// Backoff waits Initial after the first failure and multiplies the wait by
// Multiplier after every further one, capped at Max. A server hint found in
// the error replaces the computed wait but is still capped at Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64

	// MaxRetries is the number of retries after the first call; 0 retries
	// until the context is done.
	MaxRetries int

	// Jitter spreads each computed wait by up to this fraction in either
	// direction. Hints are never jittered.
	Jitter float64
}

// Exponential starts at 100ms and doubles up to 5s, for at most 5 retries.
func Exponential() *Backoff {
	return &Backoff{
		Initial:    100 * time.Millisecond,
		Max:        5 * time.Second,
		Multiplier: 2,
		MaxRetries: 5,
		Jitter:     0.3,
	}
}

// Fixed waits delay between attempts.
func Fixed(delay time.Duration, maxRetries int) *Backoff {
	return &Backoff{
		Initial:    delay,
		Max:        delay,
		Multiplier: 1,
		MaxRetries: maxRetries,
	}
}

func (b *Backoff) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if b.MaxRetries > 0 && attempt >= b.MaxRetries {
		return 0, false
	}

	var h Hinter
	if errors.As(lastErr, &h) {
		if wait, ok := h.RetryAfter(); ok {
			return b.capped(float64(wait)), true
		}
	}

	delay := b.capped(float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt)))
	if b.Jitter > 0 {
		//nolint:gosec // jitter is not security sensitive
		delay += time.Duration(float64(delay) * b.Jitter * (2*rand.Float64() - 1))
	}
	return max(delay, 0), true
}

func (b *Backoff) capped(d float64) time.Duration {
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

func (b *Backoff) Reset() {}
