package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	prov "github.com/3cpo-dev/bootnode/internal/providers"
)

// SleepFunc pauses for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type PollOptions struct {
	Backoff prov.Backoff
	// Timeout bounds the total time spent waiting between queries.
	Timeout time.Duration
}

// DefaultPollOptions polls every second, growing to 10s, for at most 5 minutes.
func DefaultPollOptions() PollOptions {
	return PollOptions{Backoff: prov.DefaultBackoff(), Timeout: 5 * time.Minute}
}

// usableAddress reports whether addr looks like an IPv4 or IPv6 address.
func usableAddress(addr string) bool {
	return addr != "" && strings.ContainsAny(addr, ".:")
}

// budgetSleep wraps sleep so the cumulative wait never exceeds limit.
func budgetSleep(sleep SleepFunc, limit time.Duration) SleepFunc {
	var waited time.Duration
	return func(ctx context.Context, d time.Duration) error {
		if limit > 0 && waited+d > limit {
			return ErrTimedOut
		}
		waited += d
		return sleep(ctx, d)
	}
}

// WaitForAddress queries the instance's public address once per tick until a
// usable address appears. ErrNotFound keeps the loop going; any other query
// error stops it. It returns the address and the number of queries issued.
func WaitForAddress(ctx context.Context, c prov.Compute, instanceID string, opts PollOptions, sleep SleepFunc) (string, int, error) {
	if sleep == nil {
		sleep = prov.Sleep
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var addr string
	queries, err := prov.Retry(ctx, opts.Backoff, budgetSleep(sleep, opts.Timeout), func(attempt int) (bool, error) {
		got, err := c.PublicAddress(ctx, instanceID)
		switch {
		case errors.Is(err, prov.ErrNotFound):
			log.Debug().Str("instance", instanceID).Int("attempt", attempt+1).Msg("instance not visible yet")
			return false, nil
		case err != nil:
			return false, err
		case !usableAddress(got):
			log.Debug().Str("instance", instanceID).Int("attempt", attempt+1).Msg("no public address yet")
			return false, nil
		}
		addr = got
		return true, nil
	})
	if err != nil {
		if errors.Is(err, ErrTimedOut) || errors.Is(err, context.DeadlineExceeded) {
			return "", queries, fmt.Errorf("waiting for public address of %s after %d queries: %w", instanceID, queries, ErrTimedOut)
		}
		return "", queries, fmt.Errorf("describe %s: %w", instanceID, err)
	}
	return addr, queries, nil
}
