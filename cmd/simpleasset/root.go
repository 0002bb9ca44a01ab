package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tendant/simple-asset/pkg/simpleasset/config"
)

type commandContext struct {
	configFile string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:   "simpleasset",
		Short: "Cross-provider asset cache",
		Long: `Simple Asset keeps one canonical record per generated media asset and
caches the identifier each generation provider assigned to it, so an asset
produced by one provider can be reused as input to another without
re-uploading.

Configuration is read from an optional TOML file (--config) and then from
SIMPLEASSET_* environment variables, which win. A .env file in the working
directory is loaded first.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&ctx.configFile, "config", "c", "", "TOML configuration file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&ctx.verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newSweepCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))
	rootCmd.AddCommand(newEnvCommand())

	return rootCmd
}

// load builds the server configuration from the config file and environment.
func (c *commandContext) load(extra ...config.Option) (*config.ServerConfig, error) {
	var opts []config.Option
	if path := strings.TrimSpace(c.configFile); path != "" {
		opts = append(opts, config.WithTOMLFile(path))
	}
	opts = append(opts, config.WithEnv())
	opts = append(opts, extra...)
	return config.Load(opts...)
}

func (c *commandContext) logger(cfg *config.ServerConfig) *slog.Logger {
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg != nil && cfg.Environment == "production" {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	return slog.New(handler)
}

func newEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables simpleasset reads",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), config.EnvUsage())
			return nil
		},
	}
}
