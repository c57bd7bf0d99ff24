// Package localssh attaches to an existing host instead of launching one.
// It lets the bootstrap flow run against a machine that is already up.
package localssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/3cpo-dev/bootnode/internal/providers"
)

type Provider struct {
	cfg providers.Config
}

func New(cfg providers.Config) *Provider { return &Provider{cfg: cfg} }

func (p *Provider) Name() string { return "localssh" }

func (p *Provider) Defaults() providers.Defaults {
	return providers.Defaults{Region: "local", Image: "existing", Size: "existing", TagKey: "name"}
}

// Connect resolves the configured host once so the session always reports an
// IP address.
func (p *Provider) Connect(ctx context.Context, _ string) (providers.Compute, error) {
	host := p.cfg.LocalSSH.Host
	if host == "" {
		return nil, errors.New("localssh: host is not configured")
	}
	addr, err := resolve(ctx, host)
	if err != nil {
		return nil, err
	}
	return &Compute{host: addr, keyFile: p.cfg.LocalSSH.KeyFile}, nil
}

// resolve returns host as an IP address, preferring IPv4.
func resolve(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return ip.String(), nil
	}
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return "", fmt.Errorf("localssh: resolve host %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return "", fmt.Errorf("localssh: host %s has no addresses", host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && ip.To4() != nil {
			return a, nil
		}
	}
	return addrs[0], nil
}

// Compute treats the configured host as the launched instance.
type Compute struct {
	host    string
	keyFile string
}

func (c *Compute) Identity(context.Context) (string, error) { return "localssh", nil }

// CreateKeyPair hands back the configured key so it is stored under the node name.
func (c *Compute) CreateKeyPair(_ context.Context, name string) (*providers.KeyMaterial, error) {
	if c.keyFile == "" {
		return nil, errors.New("localssh: key_file is not configured")
	}
	b, err := os.ReadFile(c.keyFile)
	if err != nil {
		return nil, fmt.Errorf("localssh: read key: %w", err)
	}
	return &providers.KeyMaterial{Name: name, PrivateKey: b}, nil
}

func (c *Compute) LaunchInstance(_ context.Context, req providers.LaunchRequest) (string, error) {
	return fmt.Sprintf("local-%s", req.Name), nil
}

// TagInstance is a no-op for local attachments.
func (c *Compute) TagInstance(context.Context, string, string, string) error { return nil }

func (c *Compute) PublicAddress(context.Context, string) (string, error) { return c.host, nil }
