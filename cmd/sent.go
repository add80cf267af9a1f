package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"outreach/pipeline/internal/sendlog"
)

var (
	sentToday bool
	sentJSON  bool
)

var sentCmd = &cobra.Command{
	Use:   "sent",
	Short: "List messages recorded in the send log",
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := OpenWorkspace(cmd.Context())
		if err != nil {
			return err
		}
		defer w.Close()

		entries := w.Log.Entries()
		if sentToday {
			entries = onDay(entries, time.Now())
		}

		if sentJSON {
			if entries == nil {
				entries = []sendlog.Entry{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		}

		out := cmd.OutOrStdout()
		for _, e := range entries {
			score := "-"
			if e.Score != nil {
				score = fmt.Sprintf("%.0f", *e.Score)
			}
			fmt.Fprintf(out, "%s  %-5s %-24s %s\n",
				e.Date.Local().Format("2006-01-02 15:04"), score, truncName(e.Name, 24), e.ProfileURL)
		}
		fmt.Fprintf(out, "%d message(s)", len(entries))
		if sentToday {
			fmt.Fprintf(out, " today (cap %d)", w.Config.Limits.DailySendCap)
		}
		fmt.Fprintln(out)
		return nil
	},
}

func init() {
	sentCmd.Flags().BoolVar(&sentToday, "today", false, "Only messages sent today")
	sentCmd.Flags().BoolVar(&sentJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(sentCmd)
}

func onDay(entries []sendlog.Entry, day time.Time) []sendlog.Entry {
	y, m, d := day.Local().Date()
	var out []sendlog.Entry
	for _, e := range entries {
		ey, em, ed := e.Date.Local().Date()
		if ey == y && em == m && ed == d {
			out = append(out, e)
		}
	}
	return out
}

func truncName(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
