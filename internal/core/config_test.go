package core

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HCLOUD_TOKEN", "")
	t.Setenv("AWS_PROFILE", "")
	return filepath.Join(dir, "bootnode")
}

func TestLoadConfigDefaultsWhenMissing(t *testing.T) {
	dir := isolateConfig(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "aws", cfg.Provider)
	assert.Equal(t, "keys", cfg.KeysDir)
	assert.Equal(t, filepath.Join(dir, "state.db"), cfg.StatePath)
	assert.Equal(t, time.Second, cfg.Poll.Interval)
	assert.Equal(t, 5*time.Minute, cfg.Poll.Timeout)
	assert.Equal(t, SettleProbe, cfg.Settle.Mode)
	assert.Equal(t, 30*time.Second, cfg.Settle.Delay)
	assert.Equal(t, "playbooks/install-polkadot.yml", cfg.Bootstrap.Playbook)
}

func TestLoadConfigExplicitMissing(t *testing.T) {
	isolateConfig(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigFile(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
provider: hetzner
keys_dir: /tmp/keys
aws:
  region: us-east-1
hetzner:
  location: nbg1
poll:
  interval: 2s
  timeout: 1m
settle:
  mode: delay
  delay: 45s
bootstrap:
  user: ubuntu
  extra_vars:
    chain: kusama
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "hetzner", cfg.Provider)
	assert.Equal(t, "/tmp/keys", cfg.KeysDir)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "nbg1", cfg.Hetzner.Location)
	assert.Equal(t, 2*time.Second, cfg.Poll.Interval)
	assert.Equal(t, time.Minute, cfg.Poll.Timeout)
	assert.Equal(t, 1.5, cfg.Poll.Backoff)
	assert.Equal(t, SettleDelay, cfg.Settle.Mode)
	assert.Equal(t, 45*time.Second, cfg.Settle.Delay)
	assert.Equal(t, "ubuntu", cfg.Bootstrap.User)
	assert.Equal(t, map[string]string{"chain": "kusama"}, cfg.Bootstrap.ExtraVars)
}

func TestLoadConfigRejectsBadSettleMode(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("settle:\n  mode: nap\n"), 0o600))
	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "settle.mode")
}

func TestLoadConfigSecrets(t *testing.T) {
	dir := isolateConfig(t)
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secrets.env"), []byte("# tokens\nHCLOUD_TOKEN=from-file\nAWS_PROFILE=ops\n"), 0o600))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Hetzner.Token)
	assert.Equal(t, "ops", cfg.AWS.Profile)

	t.Setenv("HCLOUD_TOKEN", "from-env")
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Hetzner.Token)
}

func TestLoadSecretsEnvMissing(t *testing.T) {
	vals, err := LoadSecretsEnv(filepath.Join(t.TempDir(), "secrets.env"))
	require.NoError(t, err)
	assert.Empty(t, vals)
}
