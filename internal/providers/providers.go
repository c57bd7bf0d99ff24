package providers

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Compute.PublicAddress while the provider does not
// yet know about a freshly launched instance.
var ErrNotFound = errors.New("instance not found")

// Defaults are the values substituted for empty operator input.
type Defaults struct {
	Region string
	Image  string
	Size   string
	TagKey string
}

// KeyMaterial is the private half of a provider key pair.
type KeyMaterial struct {
	Name       string
	PrivateKey []byte
}

type LaunchRequest struct {
	Name    string
	Image   string
	Size    string
	KeyName string
	// UserData is an optional cloud-init document.
	UserData string
}

// Compute is a provider session bound to one region and one set of credentials.
type Compute interface {
	// Identity returns the credential identifier in use (access key id, token hint).
	Identity(ctx context.Context) (string, error)
	CreateKeyPair(ctx context.Context, name string) (*KeyMaterial, error)
	// LaunchInstance starts exactly one instance and returns its identifier.
	LaunchInstance(ctx context.Context, req LaunchRequest) (string, error)
	TagInstance(ctx context.Context, instanceID, key, value string) error
	// PublicAddress returns "" until the provider has assigned an address.
	PublicAddress(ctx context.Context, instanceID string) (string, error)
}

type Provider interface {
	Name() string
	Defaults() Defaults
	// Connect resolves credentials once and returns a session for region.
	Connect(ctx context.Context, region string) (Compute, error)
}
