package bootstrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/rs/zerolog/log"
)

const (
	DefaultBinary   = "ansible-playbook"
	DefaultPlaybook = "playbooks/install-polkadot.yml"
)

// Target identifies the node a playbook is applied to.
type Target struct {
	Address  string
	KeyPath  string
	NodeName string
}

// ExitError is returned when the playbook process ran and exited non-zero.
type ExitError struct {
	Code   int
	Stderr string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("bootstrap exited with code %d", e.Code)
	}
	return fmt.Sprintf("bootstrap exited with code %d: %s", e.Code, e.Stderr)
}

// Runner invokes ansible-playbook against a single host.
type Runner struct {
	Binary    string
	Playbook  string
	User      string
	ExtraVars map[string]string
	// Env is appended to the current process environment.
	Env []string
}

// Args builds the ansible-playbook argument list for t. The inventory is the
// single address followed by a comma so ansible treats it as a host list.
func (r *Runner) Args(t Target) []string {
	args := []string{
		"-i", t.Address + ",",
		"--private-key", t.KeyPath,
		"-e", "nodeName=" + t.NodeName,
	}
	if r.User != "" {
		args = append(args, "-u", r.User)
	}
	keys := make([]string, 0, len(r.ExtraVars))
	for k := range r.ExtraVars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", k+"="+r.ExtraVars[k])
	}
	playbook := r.Playbook
	if playbook == "" {
		playbook = DefaultPlaybook
	}
	return append(args, playbook)
}

// Run executes the playbook and blocks until the process exits. It returns
// captured stdout on success. A non-zero exit yields *ExitError carrying
// stderr; a spawn failure is returned as is.
func (r *Runner) Run(ctx context.Context, t Target) (string, error) {
	bin := r.Binary
	if bin == "" {
		bin = DefaultBinary
	}
	args := r.Args(t)
	cmd := exec.CommandContext(ctx, bin, args...)

	env := os.Environ()
	env = append(env, "ANSIBLE_HOST_KEY_CHECKING=false")
	env = append(env, "ANSIBLE_RETRY_FILES_ENABLED=false")
	cmd.Env = append(env, r.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Info().Str("binary", bin).Strs("args", args).Msg("running bootstrap playbook")
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), &ExitError{Code: exitErr.ExitCode(), Stderr: stderr.String()}
	}
	return stdout.String(), fmt.Errorf("start %s: %w", bin, err)
}
