// Package cli implements the netcheck command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pilot-net/netcheck/agent"
	"github.com/pilot-net/netcheck/agent/internal/config"
	"github.com/pilot-net/netcheck/agent/internal/executor"
)

// options are the persistent flags shared by every command.
type options struct {
	configFile string
	output     string
	noColor    bool
	verbose    bool
}

// NewRootCmd returns the root command for the netcheck CLI.
func NewRootCmd() *cobra.Command {
	o := &options{}

	rootCmd := &cobra.Command{
		Use:           "netcheck",
		Short:         "netcheck - vendor profile network diagnostics",
		Long:          "netcheck runs vendor profile diagnostics, live path traces and one-off network probes from this machine.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch o.output {
			case "text", "json":
			default:
				return fmt.Errorf("--output must be text or json, got %q", o.output)
			}
			if o.noColor {
				color.NoColor = true
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&o.configFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVarP(&o.output, "output", "o", "text", "output format: text|json")
	rootCmd.PersistentFlags().BoolVar(&o.noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(newProfilesCmd(o))
	rootCmd.AddCommand(newRunCmd(o))
	rootCmd.AddCommand(newTraceCmd(o))
	rootCmd.AddCommand(newReportsCmd(o))
	rootCmd.AddCommand(newToolCmd(o))
	rootCmd.AddCommand(newServeCmd(o))
	rootCmd.AddCommand(newHashTokenCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func (o *options) json() bool {
	return o.output == "json"
}

// loadConfig loads and validates configuration. Quiet commands only log
// warnings unless --verbose is set.
func (o *options) loadConfig(quiet bool) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case o.verbose:
		cfg.Log.Level = "debug"
	case quiet:
		cfg.Log.Level = "warn"
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := agent.NewLogger(cfg.Log, nil)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func (o *options) openApp(ctx context.Context, quiet bool) (*agent.App, error) {
	cfg, logger, err := o.loadConfig(quiet)
	if err != nil {
		return nil, err
	}
	return agent.New(ctx, cfg, logger)
}

func (o *options) openGateway() (*executor.Local, *config.Config, error) {
	cfg, logger, err := o.loadConfig(true)
	if err != nil {
		return nil, nil, err
	}
	gw, err := agent.NewGateway(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return gw, cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version info",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "netcheck %s\n", agent.Version)
			return nil
		},
	}
}
