package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	core "github.com/3cpo-dev/bootnode/internal/core"
	prov "github.com/3cpo-dev/bootnode/internal/providers"
	"github.com/3cpo-dev/bootnode/internal/providers/amazon"
	"github.com/3cpo-dev/bootnode/internal/providers/hetzner"
	"github.com/3cpo-dev/bootnode/internal/providers/localssh"
)

var (
	version   = "0.1.0"
	commit    = ""
	buildDate = ""
)

// newRegistry builds the provider registry from configuration.
var newRegistry = func(cfg prov.Config) *prov.Registry {
	reg := prov.NewRegistry()
	reg.Register(amazon.New(cfg))
	reg.Register(hetzner.New(cfg))
	reg.Register(localssh.New(cfg))
	return reg
}

// Create the root command
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootnode",
		Short: "Bootnode: provision and bootstrap a single cloud node",
		Long:  "Bootnode creates a key pair and an instance, waits for it to become reachable and hands it to an Ansible playbook.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "info", "Set log level. Available: trace, debug, info, warn, error, fatal")
	cmd.PersistentFlags().String("config", "", "config file (default $XDG_CONFIG_HOME/bootnode/config.yaml)")
	cmd.PersistentFlags().String("proxy", "", "HTTP Proxy (Useful for debugging. Example: http://127.0.0.1:8080)")

	cmd.PersistentPreRun = func(c *cobra.Command, args []string) {
		levelStr, _ := c.Flags().GetString("log")
		switch levelStr {
		case "trace":
			zerolog.SetGlobalLevel(zerolog.TraceLevel)
		case "debug":
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		case "info":
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		case "warn":
			zerolog.SetGlobalLevel(zerolog.WarnLevel)
		case "error":
			zerolog.SetGlobalLevel(zerolog.ErrorLevel)
		case "fatal":
			zerolog.SetGlobalLevel(zerolog.FatalLevel)
		default:
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
		if proxy, _ := c.Flags().GetString("proxy"); proxy != "" {
			_ = os.Setenv("HTTP_PROXY", proxy)
			_ = os.Setenv("HTTPS_PROXY", proxy)
		}
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newProvisionCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newSSHCmd())
	cmd.AddCommand(newScpCmd())
	cmd.AddCommand(newProvidersCmd())
	return cmd
}

// Create the version command
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bootnode %s (%s) %s\n", version, commit, buildDate)
		},
	}
}

// Create the providers command
func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List supported providers and their defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			reg := newRegistry(cfg)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "default: %s\n", cfg.Provider)
			for _, name := range reg.Names() {
				p, _ := reg.Get(name)
				d := p.Defaults()
				fmt.Fprintf(out, "%s\tregion=%s\timage=%s\tsize=%s\n", name, d.Region, d.Image, d.Size)
			}
			return nil
		},
	}
}

func loadConfig(cmd *cobra.Command) (prov.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	return core.LoadConfig(cfgPath)
}

// Setup the logger
func setupLogger() {
	level := zerolog.InfoLevel
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(level)
}

// Main entry point
func main() {
	setupLogger()
	root := newRootCmd()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
