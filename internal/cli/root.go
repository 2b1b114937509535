// Package cli wires the conversation engine into two commands: an
// interactive line REPL (`archway chat`) and a headless bridge exposing the
// inspection API (`archway serve`).
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/error505/archway/internal/config"
)

const version = "0.1.0"

var (
	cfgPath string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "archway",
	Short:   "streaming client for multi-agent architecture chat",
	Version: version,
	Long: `Archway drives a conversation with an architecture-design agent team:
it streams agent output over a real-time channel, reconstructs per-agent
messages from deltas, tracks run lifecycle and trace events, and extracts
diagram/IaC payloads from the final reply. When the channel is unavailable,
turns fall back to the synchronous chat endpoint.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
}

// setupLogging configures the default slog handler. Logs go to stderr so the
// chat REPL keeps stdout for conversation output.
func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
