package core

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/3cpo-dev/bootnode/internal/bootstrap"
	prov "github.com/3cpo-dev/bootnode/internal/providers"
)

// ConfigDir resolves $XDG_CONFIG_HOME/bootnode or ~/.config/bootnode.
func ConfigDir() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, _ := os.UserHomeDir()
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "bootnode")
}

// DefaultConfig returns the configuration used when no file is present.
// Provider-specific image and region defaults live with each provider.
func DefaultConfig() prov.Config {
	var cfg prov.Config
	cfg.Provider = "aws"
	cfg.KeysDir = "keys"
	cfg.StatePath = filepath.Join(ConfigDir(), "state.db")
	cfg.KnownHosts = filepath.Join(ConfigDir(), "known_hosts")
	cfg.Poll.Interval = time.Second
	cfg.Poll.MaxInterval = 10 * time.Second
	cfg.Poll.Backoff = 1.5
	cfg.Poll.Timeout = 5 * time.Minute
	cfg.Settle.Mode = SettleProbe
	cfg.Settle.Delay = 30 * time.Second
	cfg.Settle.ProbeTimeout = 3 * time.Minute
	cfg.Settle.ProbeInterval = 2 * time.Second
	cfg.Settle.Port = 22
	cfg.Bootstrap.Binary = bootstrap.DefaultBinary
	cfg.Bootstrap.Playbook = bootstrap.DefaultPlaybook
	cfg.CloudInit.Packages = []string{"python3"}
	return cfg
}

// LoadConfig reads YAML configuration over the defaults. If path is empty,
// it resolves config.yaml under ConfigDir and tolerates its absence.
func LoadConfig(path string) (prov.Config, error) {
	cfg := DefaultConfig()
	explicit := path != ""
	if !explicit {
		path = filepath.Join(ConfigDir(), "config.yaml")
	}
	f, err := os.Open(path)
	switch {
	case err == nil:
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return cfg, fmt.Errorf("open config: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}

	// Secrets come from secrets.env so tokens stay out of the YAML file.
	// The process environment wins over the file.
	secrets, err := LoadSecretsEnv("")
	if err != nil {
		return cfg, err
	}
	for _, k := range []string{"HCLOUD_TOKEN", "AWS_PROFILE"} {
		if v := os.Getenv(k); v != "" {
			secrets[k] = v
		}
	}
	if t := secrets["HCLOUD_TOKEN"]; t != "" {
		cfg.Hetzner.Token = t
	}
	if p := secrets["AWS_PROFILE"]; p != "" && cfg.AWS.Profile == "" {
		cfg.AWS.Profile = p
	}
	return cfg, nil
}

func validateConfig(cfg prov.Config) error {
	switch cfg.Settle.Mode {
	case SettleProbe, SettleDelay:
	default:
		return fmt.Errorf("config: settle.mode must be %q or %q, got %q", SettleProbe, SettleDelay, cfg.Settle.Mode)
	}
	if cfg.Poll.Interval <= 0 {
		return errors.New("config: poll.interval must be positive")
	}
	if cfg.Poll.Backoff < 1 {
		return fmt.Errorf("config: poll.backoff must be >= 1, got %v", cfg.Poll.Backoff)
	}
	return nil
}
