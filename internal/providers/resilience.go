package providers

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Backoff defines the delay schedule between repeated provider queries.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	// Jitter is the +/- fraction applied to each delay (0.25 = ±25%).
	Jitter float64
}

// DefaultBackoff returns the schedule used for address polling.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial: 1 * time.Second,
		Max:     10 * time.Second,
		Factor:  1.5,
	}
}

// Delay calculates the delay before attempt (zero based).
func (b Backoff) Delay(attempt int) time.Duration {
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	delay := float64(b.Initial) * math.Pow(factor, float64(attempt))

	if b.Jitter > 0 {
		delay += delay * b.Jitter * (2*rand.Float64() - 1)
	}

	if b.Max > 0 && delay > float64(b.Max) {
		delay = float64(b.Max)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// Retry runs fn until it reports done, returns an error, or ctx expires.
// Each attempt is preceded by the backoff delay for that attempt.
func Retry(ctx context.Context, b Backoff, sleep func(context.Context, time.Duration) error, fn func(attempt int) (bool, error)) (int, error) {
	if sleep == nil {
		sleep = Sleep
	}
	for attempt := 0; ; attempt++ {
		delay := b.Delay(attempt)
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
		done, err := fn(attempt)
		if err != nil {
			return attempt + 1, err
		}
		if done {
			return attempt + 1, nil
		}
		log.Trace().Int("attempt", attempt+1).Dur("next_delay", b.Delay(attempt+1)).Msg("condition not met, retrying")
	}
}
