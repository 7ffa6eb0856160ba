package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mirrorbuddy/reliability/internal/config"
)

const serviceName = "reliabilityd"

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Feature flag and graceful degradation control plane",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config file (default: ./reliability.yaml or /etc/reliability/reliability.yaml)")
	root.PersistentFlags().String("log-level", "", "override log.level")

	root.AddCommand(
		newServeCmd(),
		newProbeCmd(),
		newTokenCmd(),
		newVersionCmd(),
	)

	return root
}

// loadConfig resolves configuration with flag > env > file > default
// precedence.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	v := config.New()
	if err := v.BindPFlag("log.level", cmd.Flags().Lookup("log-level")); err != nil {
		return nil, fmt.Errorf("binding log-level flag: %w", err)
	}

	path, _ := cmd.Flags().GetString("config")
	return config.Load(v, path)
}

// newLogger builds the process logger.
func newLogger(cfg config.LogConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	w := out
	if cfg.Format == "console" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}
