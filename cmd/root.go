package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/audiolibrelab/streamcapture/internal/config"

	"github.com/spf13/cobra"
)

var (
	cfg          *config.Config
	cfgFile      string
	verboseLevel int
)

var rootCmd = &cobra.Command{
	Use:   "streamcapture",
	Short: "Detect application audio streams and record them",
	Long: `StreamCapture watches the desktop audio server for playback streams
from configured applications (Teams meetings, YouTube, ...).

In record mode a matching stream is captured to a timestamped WAV file until
it has been gone for the grace period. In notify mode a desktop notification
offers a ready-to-run capture command instead.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Configure slog based on verbose level
		setupLogging(verboseLevel)

		// config init must work without a valid config file
		if cmd.Name() == "init" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/streamcapture/config.yaml)")
	rootCmd.PersistentFlags().IntVarP(&verboseLevel, "verbose", "v", 0, "verbose level: 0=info, 1=debug, 2=recorder output, 3=max tracing")

	// Add subcommands
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(streamsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
}

// setupLogging configures slog based on the verbose level
func setupLogging(level int) {
	var slogLevel slog.Level
	switch level {
	case 0:
		slogLevel = slog.LevelInfo
	case 1, 2, 3:
		// Level 3 will additionally set environment variables
		slogLevel = slog.LevelDebug
	default:
		slogLevel = slog.LevelInfo
	}

	// Configure text handler for clean terminal output
	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}
	handler := slog.NewTextHandler(os.Stderr, opts)
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// Set environment variables for maximum tracing (level 3)
	if level >= 3 {
		os.Setenv("PULSE_LOG", "4")
		os.Setenv("PIPEWIRE_DEBUG", "3")
	}
}
