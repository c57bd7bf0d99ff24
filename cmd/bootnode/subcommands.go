package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/3cpo-dev/bootnode/internal/bootstrap"
	core "github.com/3cpo-dev/bootnode/internal/core"
	"github.com/3cpo-dev/bootnode/internal/prompt"
	prov "github.com/3cpo-dev/bootnode/internal/providers"
	gssh "github.com/3cpo-dev/bootnode/internal/ssh"
	"github.com/3cpo-dev/bootnode/internal/telemetry"
	"github.com/3cpo-dev/bootnode/pkg/api"
)

// orchestratorOptions maps configuration onto a run of the named provider.
func orchestratorOptions(cfg prov.Config, provider string, d prov.Defaults) core.Options {
	return core.Options{
		Provider: provider,
		KeysDir:  cfg.KeysDir,
		Size:     d.Size,
		TagKey:   d.TagKey,
		UserData: prov.CloudInitUserData(cfg.CloudInit.Packages),
		Poll: core.PollOptions{
			Backoff: prov.Backoff{
				Initial: cfg.Poll.Interval,
				Max:     cfg.Poll.MaxInterval,
				Factor:  cfg.Poll.Backoff,
			},
			Timeout: cfg.Poll.Timeout,
		},
		Settle: core.SettleOptions{
			Mode:          cfg.Settle.Mode,
			Delay:         cfg.Settle.Delay,
			ProbeTimeout:  cfg.Settle.ProbeTimeout,
			ProbeInterval: cfg.Settle.ProbeInterval,
			Port:          cfg.Settle.Port,
		},
		KnownHosts: cfg.KnownHosts,
		Prober:     gssh.Prober{Port: cfg.Settle.Port, Timeout: 10 * time.Second},
		Bootstrapper: &bootstrap.Runner{
			Binary:    cfg.Bootstrap.Binary,
			Playbook:  cfg.Bootstrap.Playbook,
			User:      cfg.Bootstrap.User,
			ExtraVars: cfg.Bootstrap.ExtraVars,
		},
	}
}

// Provision one node
func newProvisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Provision a node and run the bootstrap playbook on it",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			spec := api.NodeSpec{}
			spec.Name, _ = cmd.Flags().GetString("name")
			spec.Provider, _ = cmd.Flags().GetString("provider")
			spec.Region, _ = cmd.Flags().GetString("region")
			spec.Image, _ = cmd.Flags().GetString("image")
			yes, _ := cmd.Flags().GetBool("yes")
			if spec.Provider == "" {
				spec.Provider = cfg.Provider
			}
			p, err := newRegistry(cfg).Get(spec.Provider)
			if err != nil {
				return err
			}
			d := p.Defaults()

			var asker prompt.Prompter = prompt.NewForm(os.Stdin, os.Stderr)
			if yes {
				asker = prompt.Static{}
			}
			spec, err = asker.Ask(ctx, spec, d)
			if err != nil {
				return err
			}
			req := core.ResolveRequest(spec, d, nil)
			log.Info().Str("node", req.Name).Str("provider", p.Name()).Str("region", req.Region).Str("image", req.Image).Msg("provisioning")

			compute, err := p.Connect(ctx, req.Region)
			if err != nil {
				return err
			}
			opts := orchestratorOptions(cfg, p.Name(), d)
			if store, err := core.NewStore(cfg.StatePath); err != nil {
				log.Warn().Err(err).Msg("run ledger unavailable")
			} else {
				defer store.Close()
				opts.Recorder = store
			}
			metrics := telemetry.NewCollector()
			opts.Metrics = metrics

			res, runErr := core.NewOrchestrator(compute, opts).Run(ctx, req)
			renderSummary(cmd.OutOrStdout(), res, runErr)
			if err := metrics.Flush(cfg.Telemetry.MetricsFile); err != nil {
				log.Warn().Err(err).Msg("could not write metrics")
			}
			return runErr
		},
	}
	cmd.Flags().String("name", "", "node name (default node-<uuid>)")
	cmd.Flags().String("provider", "", "provider name (default from config)")
	cmd.Flags().String("region", "", "region/location (provider-specific)")
	cmd.Flags().String("image", "", "image id (provider-specific)")
	cmd.Flags().BoolP("yes", "y", false, "do not prompt; empty values take their defaults")
	return cmd
}

// List recorded nodes
func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List provisioned nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := core.NewStore(cfg.StatePath)
			if err != nil {
				return err
			}
			defer store.Close()
			runs, err := store.ListRuns(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no nodes recorded")
				return nil
			}
			for _, r := range runs {
				fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%s\t%s\n", r.NodeName, r.Provider, r.Region, r.InstanceID, r.Address, renderStatus(r.Status, r.Stage))
			}
			return nil
		},
	}
}

// defaultUsers is the login user of each provider's default image.
var defaultUsers = map[string]string{
	"aws":      "ubuntu",
	"hetzner":  "root",
	"localssh": "root",
}

// nodeClient builds an SSH client for a recorded node.
func nodeClient(cmd *cobra.Command, cfg prov.Config) (*gssh.Client, error) {
	node, _ := cmd.Flags().GetString("node")
	user, _ := cmd.Flags().GetString("user")
	store, err := core.NewStore(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	run, err := store.FindRun(cmd.Context(), node)
	if err != nil {
		return nil, err
	}
	if run.Address == "" {
		return nil, fmt.Errorf("node %s has no public address (stage %s)", node, run.Stage)
	}
	keyPath := run.KeyPath
	if keyPath == "" {
		keyPath = gssh.KeyPath(cfg.KeysDir, node)
	}
	signer, err := gssh.LoadPrivateKeySigner(keyPath)
	if err != nil {
		return nil, err
	}
	kh, err := gssh.LoadKnownHostsCallback(cfg.KnownHosts)
	if err != nil {
		return nil, err
	}
	if user == "" {
		user = cfg.Bootstrap.User
	}
	if user == "" {
		user = defaultUsers[run.Provider]
	}
	return &gssh.Client{
		Addr:       gssh.JoinHostPort(run.Address, cfg.Settle.Port),
		User:       user,
		Signer:     signer,
		KnownHosts: kh,
		Timeout:    15 * time.Second,
		Retries:    2,
		Backoff:    500 * time.Millisecond,
	}, nil
}

// Run a command on a node over SSH
func newSSHCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ssh [command]",
		Short: "Run a command on a provisioned node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := nodeClient(cmd, cfg)
			if err != nil {
				return err
			}
			command := strings.Join(args, " ")
			if command == "" {
				command = "uname -a"
			}
			stdout, stderr, err := c.RunCommand(cmd.Context(), command)
			fmt.Fprint(cmd.OutOrStdout(), stdout)
			fmt.Fprint(cmd.ErrOrStderr(), stderr)
			return err
		},
	}
	cmd.Flags().String("node", "", "node name")
	cmd.Flags().String("user", "", "login user (default from config or provider)")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

// Copy files to/from a node
func newScpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scp",
		Short: "Copy files to or from a node using SFTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			push, _ := cmd.Flags().GetStringSlice("push")
			pull, _ := cmd.Flags().GetStringSlice("pull")
			if len(push) == 0 && len(pull) == 0 {
				return errors.New("nothing to copy: use --push or --pull")
			}
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := nodeClient(cmd, cfg)
			if err != nil {
				return err
			}
			cli, err := gssh.Dial(cmd.Context(), c)
			if err != nil {
				return err
			}
			defer cli.Close()
			for _, pair := range push {
				local, remote, err := splitTransfer("--push", pair)
				if err != nil {
					return err
				}
				if err := gssh.PushFile(cmd.Context(), cli, local, remote); err != nil {
					return err
				}
				log.Info().Str("local", local).Str("remote", remote).Msg("pushed")
			}
			for _, pair := range pull {
				remote, local, err := splitTransfer("--pull", pair)
				if err != nil {
					return err
				}
				if err := gssh.PullFile(cmd.Context(), cli, remote, local); err != nil {
					return err
				}
				log.Info().Str("remote", remote).Str("local", local).Msg("pulled")
			}
			return nil
		},
	}
	cmd.Flags().String("node", "", "node name")
	cmd.Flags().String("user", "", "login user (default from config or provider)")
	cmd.Flags().StringSlice("push", nil, "local:remote pairs to upload via SFTP")
	cmd.Flags().StringSlice("pull", nil, "remote:local pairs to download via SFTP")
	_ = cmd.MarkFlagRequired("node")
	return cmd
}

func splitTransfer(flag, pair string) (string, string, error) {
	parts := strings.SplitN(pair, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid %s pair: %s", flag, pair)
	}
	return parts[0], parts[1], nil
}
