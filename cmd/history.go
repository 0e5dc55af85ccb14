package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/audiolibrelab/streamcapture/internal/history"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent recording sessions",
	Long:  `List recording sessions stored in the PostgreSQL history database (history.database_url).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		if cfg.History.DatabaseURL == "" {
			return fmt.Errorf("session history is not configured (set history.database_url)")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		store, err := history.Open(ctx, cfg.History.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()

		sessions, err := store.Recent(ctx, limit)
		if err != nil {
			return err
		}

		if asJSON {
			return printJSON(cmd.OutOrStdout(), sessions)
		}

		if len(sessions) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded yet")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "STARTED\tGROUP\tSTATUS\tDURATION\tSIZE\tOUTPUT")
		for _, s := range sessions {
			status := s.Status
			if s.Unclean {
				status += " (unclean)"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
				s.StartedAt.Local().Format(time.DateTime), s.Group, status, s.Duration.Round(time.Second), s.Size, s.Output)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "number of sessions to show")
	historyCmd.Flags().Bool("json", false, "print sessions as JSON")
}
