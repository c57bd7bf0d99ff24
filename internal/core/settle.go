package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	xssh "golang.org/x/crypto/ssh"

	prov "github.com/3cpo-dev/bootnode/internal/providers"
	gssh "github.com/3cpo-dev/bootnode/internal/ssh"
	"github.com/3cpo-dev/bootnode/pkg/api"
)

// Settle modes.
const (
	// SettleProbe waits until the node's SSH daemon completes key exchange.
	SettleProbe = "probe"
	// SettleDelay waits a fixed duration.
	SettleDelay = "delay"
)

type SettleOptions struct {
	Mode          string
	Delay         time.Duration
	ProbeTimeout  time.Duration
	ProbeInterval time.Duration
	// Port is the SSH port recorded in known_hosts.
	Port int
}

func DefaultSettleOptions() SettleOptions {
	return SettleOptions{
		Mode:          SettleProbe,
		Delay:         30 * time.Second,
		ProbeTimeout:  3 * time.Minute,
		ProbeInterval: 2 * time.Second,
		Port:          22,
	}
}

// HostKeyProber attempts one SSH key exchange with host.
type HostKeyProber interface {
	HostKey(ctx context.Context, host string) (xssh.PublicKey, error)
}

// settle blocks until the node should accept connections. In probe mode a
// probe that never succeeds falls back to the fixed delay.
func (o *Orchestrator) settle(ctx context.Context, res *Result) error {
	s := o.opts.Settle
	if s.Mode == SettleProbe {
		key, attempts, err := o.probe(ctx, res.Address)
		if err == nil {
			log.Info().Str("node", res.Request.Name).Str("address", res.Address).Int("attempts", attempts).
				Str("host_key", xssh.FingerprintSHA256(key)).Msg("ssh is reachable")
			if o.opts.KnownHosts != "" {
				addr := gssh.JoinHostPort(res.Address, s.Port)
				if err := gssh.AppendKnownHost(o.opts.KnownHosts, addr, key); err != nil {
					o.diagnose(res, api.StageSettling, fmt.Errorf("record host key: %w", err))
				}
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.diagnose(res, api.StageSettling, fmt.Errorf("ssh probe after %d attempts: %w", attempts, err))
		log.Warn().Dur("delay", s.Delay).Msg("probe gave up, falling back to fixed delay")
	}
	log.Info().Str("node", res.Request.Name).Dur("delay", s.Delay).Msg("settling")
	return o.sleep(ctx, s.Delay)
}

func (o *Orchestrator) probe(ctx context.Context, host string) (xssh.PublicKey, int, error) {
	s := o.opts.Settle
	if s.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ProbeTimeout)
		defer cancel()
	}
	var key xssh.PublicKey
	b := prov.Backoff{Initial: s.ProbeInterval, Factor: 1}
	attempts, err := prov.Retry(ctx, b, budgetSleep(o.sleep, s.ProbeTimeout), func(attempt int) (bool, error) {
		k, err := o.opts.Prober.HostKey(ctx, host)
		if err != nil {
			log.Debug().Err(err).Str("host", host).Int("attempt", attempt+1).Msg("ssh not ready")
			return false, nil
		}
		key = k
		return true, nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		err = ErrTimedOut
	}
	return key, attempts, err
}
