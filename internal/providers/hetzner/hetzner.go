package hetzner

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	prov "github.com/3cpo-dev/bootnode/internal/providers"
	gssh "github.com/3cpo-dev/bootnode/internal/ssh"
)

const (
	DefaultLocation   = "fsn1"
	DefaultImage      = "ubuntu-24.04"
	DefaultServerType = "cx22"
	DefaultLabelKey   = "name"
)

type Provider struct{ cfg prov.Config }

func New(cfg prov.Config) *Provider { return &Provider{cfg: cfg} }

func (p *Provider) Name() string { return "hetzner" }

func (p *Provider) Defaults() prov.Defaults {
	h := p.cfg.Hetzner
	return prov.Defaults{
		Region: firstNonEmpty(h.Location, DefaultLocation),
		Image:  firstNonEmpty(h.Image, DefaultImage),
		Size:   firstNonEmpty(h.ServerType, DefaultServerType),
		TagKey: DefaultLabelKey,
	}
}

func (p *Provider) token() (string, error) {
	t := p.cfg.Hetzner.Token
	if t == "" {
		return "", fmt.Errorf("hetzner token missing; set hetzner.token or HCLOUD_TOKEN")
	}
	return t, nil
}

func (p *Provider) Connect(ctx context.Context, region string) (prov.Compute, error) {
	tok, err := p.token()
	if err != nil {
		return nil, err
	}
	opts := []hcloud.ClientOption{hcloud.WithToken(tok), hcloud.WithApplication("bootnode", "")}
	if p.cfg.Hetzner.Endpoint != "" {
		opts = append(opts, hcloud.WithEndpoint(p.cfg.Hetzner.Endpoint))
	}
	return NewCompute(hcloud.NewClient(opts...), tok, region), nil
}

// Compute manages servers in a single Hetzner location.
type Compute struct {
	client   *hcloud.Client
	token    string
	location string
	keys     map[string]*hcloud.SSHKey
}

func NewCompute(client *hcloud.Client, token, location string) *Compute {
	return &Compute{client: client, token: token, location: location, keys: map[string]*hcloud.SSHKey{}}
}

// Identity returns a redacted token hint; Hetzner tokens carry no key id.
func (c *Compute) Identity(_ context.Context) (string, error) {
	if len(c.token) < 4 {
		return "", errors.New("token too short")
	}
	return "****" + c.token[len(c.token)-4:], nil
}

// CreateKeyPair generates the key locally and registers its public half.
func (c *Compute) CreateKeyPair(ctx context.Context, name string) (*prov.KeyMaterial, error) {
	privPEM, pub, err := gssh.GenerateEd25519(name)
	if err != nil {
		return nil, err
	}
	key, _, err := c.client.SSHKey.Create(ctx, hcloud.SSHKeyCreateOpts{
		Name:      name,
		PublicKey: pub,
	})
	if err != nil {
		return nil, fmt.Errorf("create ssh key %s: %w", name, err)
	}
	c.keys[name] = key
	return &prov.KeyMaterial{Name: name, PrivateKey: privPEM}, nil
}

func (c *Compute) LaunchInstance(ctx context.Context, req prov.LaunchRequest) (string, error) {
	key, ok := c.keys[req.KeyName]
	if !ok {
		var err error
		key, _, err = c.client.SSHKey.GetByName(ctx, req.KeyName)
		if err != nil {
			return "", fmt.Errorf("lookup ssh key %s: %w", req.KeyName, err)
		}
	}
	opts := hcloud.ServerCreateOpts{
		Name:       req.Name,
		ServerType: &hcloud.ServerType{Name: req.Size},
		Image:      &hcloud.Image{Name: req.Image},
		UserData:   req.UserData,
	}
	if key != nil {
		opts.SSHKeys = []*hcloud.SSHKey{key}
	}
	if c.location != "" {
		opts.Location = &hcloud.Location{Name: c.location}
	}
	res, _, err := c.client.Server.Create(ctx, opts)
	if err != nil {
		return "", fmt.Errorf("create server: %w", err)
	}
	if res.Server == nil {
		return "", errors.New("create server: no server returned")
	}
	return strconv.FormatInt(res.Server.ID, 10), nil
}

func (c *Compute) TagInstance(ctx context.Context, instanceID, key, value string) error {
	server, err := c.server(ctx, instanceID)
	if err != nil {
		return err
	}
	labels := make(map[string]string, len(server.Labels)+1)
	for k, v := range server.Labels {
		labels[k] = v
	}
	labels[key] = value
	if _, _, err := c.client.Server.Update(ctx, server, hcloud.ServerUpdateOpts{Labels: labels}); err != nil {
		return fmt.Errorf("label server %s: %w", instanceID, err)
	}
	return nil
}

func (c *Compute) PublicAddress(ctx context.Context, instanceID string) (string, error) {
	server, err := c.server(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if server.PublicNet.IPv4.IP == nil || server.PublicNet.IPv4.IP.IsUnspecified() {
		return "", nil
	}
	return server.PublicNet.IPv4.IP.String(), nil
}

func (c *Compute) server(ctx context.Context, instanceID string) (*hcloud.Server, error) {
	id, err := strconv.ParseInt(instanceID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid server id %q: %w", instanceID, err)
	}
	server, _, err := c.client.Server.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get server %d: %w", id, err)
	}
	if server == nil {
		return nil, fmt.Errorf("get server %d: %w", id, prov.ErrNotFound)
	}
	return server, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
