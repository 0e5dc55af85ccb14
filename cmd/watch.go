package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiolibrelab/streamcapture/internal/archive"
	"github.com/audiolibrelab/streamcapture/internal/audio"
	"github.com/audiolibrelab/streamcapture/internal/config"
	"github.com/audiolibrelab/streamcapture/internal/events"
	"github.com/audiolibrelab/streamcapture/internal/history"
	"github.com/audiolibrelab/streamcapture/internal/recorder"
	"github.com/audiolibrelab/streamcapture/internal/server"
	"github.com/audiolibrelab/streamcapture/internal/service"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch audio streams and record or announce matches",
	Long: `Poll the audio server and react to streams matching the configured targets.

The loop runs until interrupted (Ctrl+C or SIGTERM). An active recording is
stopped and finalized before exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, _ := cmd.Flags().GetString("mode")
		once, _ := cmd.Flags().GetBool("once")
		listen, _ := cmd.Flags().GetString("status-listen")

		if mode != "" {
			cfg.Mode = mode
		}
		if listen != "" {
			cfg.Status.Listen = listen
		}
		if err := cfg.Validate(); err != nil {
			return &config.ConfigurationError{File: cfgFile, Err: err}
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		manager := recorder.NewManager(cfg.Capture, cfg.Paths.StateDir)
		lister := audio.NewLister(cfg.Audio.Backend)

		if once {
			st, err := pollOnce(ctx, cfg, lister, manager)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		}

		if cfg.Mode == config.ModeRecord && cfg.Paths.StateDir != "" {
			if _, err := recorder.ReapOrphan(cfg.Paths.StateDir, cfg.Capture.StopTimeout); err != nil {
				slog.Warn("Failed to clean up recorder from previous run", "error", err)
			}
		}

		sinks, closers := buildSinks(ctx, cfg)
		for _, c := range closers {
			defer c.Close()
		}
		dispatcher := events.NewDispatcher(sinks...)
		defer dispatcher.Close()

		svc, err := service.New(cfg, lister, manager, dispatcher)
		if err != nil {
			return err
		}

		if cfg.Status.Listen != "" {
			srv := server.New(svc, cfg.Status.Listen, cfg.Detection.PollInterval)
			go func() {
				if err := srv.Start(ctx); err != nil {
					slog.Error("Status server failed", "error", err)
				}
			}()
		}

		return svc.Run(ctx)
	},
}

// pollOnce classifies the current streams without recording or publishing
// anything. The poll runs the notify path with events discarded.
func pollOnce(ctx context.Context, cfg *config.Config, lister audio.Lister, launcher service.Recorder) (service.Status, error) {
	dry := *cfg
	dry.Mode = config.ModeNotify

	svc, err := service.New(&dry, lister, launcher, events.Discard)
	if err != nil {
		return service.Status{}, err
	}
	svc.Tick(ctx)

	st := svc.Status()
	st.Mode = cfg.Mode
	return st, nil
}

// buildSinks creates the configured event sinks. A sink whose backend cannot
// be reached is skipped with a warning.
func buildSinks(ctx context.Context, cfg *config.Config) ([]events.Sink, []io.Closer) {
	var sinks []events.Sink
	var closers []io.Closer

	if cfg.Events.Desktop.Enabled || cfg.Mode == config.ModeNotify {
		sinks = append(sinks, events.NewDesktopSink(cfg.Events.Desktop.Title, cfg.Events.Desktop.AutoCopy))
	}

	if len(cfg.Events.Kafka.Brokers) > 0 {
		sinks = append(sinks, events.NewKafkaSink(cfg.Events.Kafka.Brokers, cfg.Events.Kafka.Topic))
	}

	if cfg.History.DatabaseURL != "" {
		store, err := history.Open(ctx, cfg.History.DatabaseURL)
		if err != nil {
			slog.Warn("Session history disabled", "error", err)
		} else {
			sinks = append(sinks, events.NewHistorySink(store))
			closers = append(closers, store)
		}
	}

	if cfg.Archive.Endpoint != "" {
		store, err := archive.New(ctx, cfg.Archive)
		if err != nil {
			slog.Warn("Recording archive disabled", "error", err)
		} else {
			sinks = append(sinks, events.NewArchiveSink(store, cfg.Archive.DeleteLocal))
		}
	}

	return sinks, closers
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

func init() {
	watchCmd.Flags().String("mode", "", "operating mode: record or notify (overrides config)")
	watchCmd.Flags().Bool("once", false, "poll once without recording or sending events, print the status and exit")
	watchCmd.Flags().String("status-listen", "", "address for the HTTP status endpoint, e.g. 127.0.0.1:8765 (overrides config)")
}
