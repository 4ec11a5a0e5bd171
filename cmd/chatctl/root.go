package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/whisper/polyglot/internal/config"
)

var version = "1.0.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "chatctl",
		Short: "Operator CLI for the polyglot chat server",
		Long: `chatctl manages the polyglot chat server's schema and exercises its
translation pipeline from the command line.

Settings are read from the environment (and .env) exactly as the server
reads them.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(newMigrateCmd(), newTranslateCmd(), newLanguagesCmd())
	return root
}

// loadConfig reads the server configuration and builds a logger that writes
// to the command's stderr.
func loadConfig(cmd *cobra.Command) (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	log := cfg.NewLogger()
	log.SetOutput(cmd.ErrOrStderr())
	return cfg, log, nil
}
