package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "gene",
		Short: "Gene - configurable conversational assistant",
		Long: `Gene is a chat assistant with selectable knowledge domains, personas,
response styles and models. It serves a web UI and HTTP/WebSocket API, or
runs as a terminal REPL.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// The REPL owns stdout, so its logs go to stderr.
			w := cmd.OutOrStdout()
			if cmd.Name() == "chat" {
				w = cmd.ErrOrStderr()
			}
			logger, err := newLogger(w, logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file found, using environment variables")
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.AddCommand(newServeCmd(), newChatCmd(), newCatalogCmd())
	return root
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
