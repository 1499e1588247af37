package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/config"
	"github.com/kacper-wojtaszczyk/hrrr-extract/internal/observability"
)

// commandContext carries what every subcommand needs once flags are parsed.
type commandContext struct {
	configFlag string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	c := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "hrrr-extract",
		Short:         "Extract HRRR point forecasts into a deduplicated table",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&c.configFlag, "config", "c", "", "Configuration file path (TOML)")

	rootCmd.AddCommand(newIngestCommand(c))
	rootCmd.AddCommand(newInventoryCommand(c))
	rootCmd.AddCommand(newVariablesCommand(c))

	return rootCmd
}

func (c *commandContext) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(strings.TrimSpace(c.configFlag))
	if err != nil {
		return usageError{fmt.Errorf("load config: %w", err)}
	}

	logger, err := observability.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return usageError{err}
	}
	slog.SetDefault(logger)

	c.cfg = cfg
	c.logger = logger
	return nil
}
