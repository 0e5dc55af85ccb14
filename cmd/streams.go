package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/audio"
	"github.com/audiolibrelab/streamcapture/internal/classify"
	"github.com/audiolibrelab/streamcapture/internal/recorder"
	"github.com/audiolibrelab/streamcapture/internal/session"

	"github.com/spf13/cobra"
)

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "List active audio streams and how they classify",
	Long: `Query the audio server once and list every playback stream together with
the target group it matches.

Useful for writing target patterns: the application, media and binary fields
shown here are the texts the patterns are tested against.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		showCommand, _ := cmd.Flags().GetBool("show-command")
		idsOnly, _ := cmd.Flags().GetBool("ids")
		asJSON, _ := cmd.Flags().GetBool("json")

		classifier, err := classify.New(cfg.Targets, true)
		if err != nil {
			return fmt.Errorf("failed to build classifier: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		lister := audio.NewLister(cfg.Audio.Backend)
		streams, err := lister.List(ctx)
		if err != nil {
			return fmt.Errorf("failed to list streams: %w", err)
		}

		if idsOnly {
			for _, s := range streams {
				if _, ok := classifier.Classify(s); ok {
					fmt.Fprintln(cmd.OutOrStdout(), s.ID)
				}
			}
			return nil
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), streamRows(streams, classifier))
		}

		if len(streams) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "No active streams (%s)\n", lister.Backend())
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tGROUP\tSTATE\tAPPLICATION\tMEDIA\tBINARY\tMONITOR")
		for _, row := range streamRows(streams, classifier) {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\n",
				row.ID, dash(row.Group), row.State, dash(row.Application), dash(row.Media), dash(row.Binary), dash(row.Monitor))
		}
		w.Flush()

		if showCommand {
			manager := recorder.NewManager(cfg.Capture, "")
			layout := session.NewLayout(cfg)
			now := time.Now()

			fmt.Fprintln(cmd.OutOrStdout())
			for _, row := range streamRows(streams, classifier) {
				if row.Group == "" {
					continue
				}
				source := cfg.Capture.Source
				if source == "" {
					source = row.Stream.CaptureSource()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "# %s (#%d)\n%s\n",
					row.Stream.Description(), row.ID, manager.CommandLine(layout.Path(row.Group, now), source))
			}
		}

		return nil
	},
}

type streamRow struct {
	audio.Stream
	Group string `json:"group,omitempty"`
	State string `json:"state"`
}

func streamRows(streams []audio.Stream, classifier *classify.Classifier) []streamRow {
	rows := make([]streamRow, 0, len(streams))
	for _, s := range streams {
		row := streamRow{Stream: s, State: "playing"}
		if s.Corked {
			row.State = "corked"
		}
		if group, ok := classifier.Classify(s); ok {
			row.Group = group
		}
		rows = append(rows, row)
	}
	return rows
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func init() {
	streamsCmd.Flags().Bool("show-command", false, "print a capture command for every matching stream")
	streamsCmd.Flags().Bool("ids", false, "print only the IDs of matching streams")
	streamsCmd.Flags().Bool("json", false, "print streams as JSON")
}
