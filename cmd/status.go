package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"outreach/pipeline/internal/records"
)

var statusJSON bool

// StatusReport is the status command's JSON shape.
type StatusReport struct {
	Account   string           `json:"account"`
	Backend   string           `json:"backend"`
	Summary   *records.Summary `json:"summary"`
	SentToday int              `json:"sent_today"`
	DailyCap  int              `json:"daily_cap"`
	LogTotal  int              `json:"send_log_entries"`
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show per-state counts, eligible work and integrity issues",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, err := OpenWorkspace(ctx)
		if err != nil {
			return err
		}
		defer w.Close()

		t, err := w.Store.Load(ctx)
		if err != nil {
			return fmt.Errorf("loading records: %w", err)
		}

		report := &StatusReport{
			Account:   w.Config.Account,
			Backend:   w.Config.Store.Backend,
			Summary:   t.Summarize(),
			SentToday: w.Log.CountOn(time.Now()),
			DailyCap:  w.Config.Limits.DailySendCap,
			LogTotal:  len(w.Log.Entries()),
		}

		if statusJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		printStatus(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(statusCmd)
}

var stateOrder = []string{"new", "fetched", "scored", "skipped", "messaged", "sent"}

func printStatus(out io.Writer, r *StatusReport) {
	s := r.Summary

	// Progress bar
	barLen := int(s.Progress * 20)
	if barLen > 20 {
		barLen = 20
	}
	bar := strings.Repeat("█", barLen) + strings.Repeat("░", 20-barLen)
	fmt.Fprintf(out, "\n  Account %s (%s): %d profiles\n", r.Account, r.Backend, s.Total)
	fmt.Fprintf(out, "  Resolved: %.0f%%  [%s]\n\n", s.Progress*100, bar)

	fmt.Fprintln(out, "  STATES")
	fmt.Fprintln(out, "  ────────────────────────────────────────")
	for _, st := range stateOrder {
		fmt.Fprintf(out, "  %-9s %5d\n", st, s.ByState[st])
	}

	fmt.Fprintln(out, "\n  ELIGIBLE")
	fmt.Fprintln(out, "  ────────────────────────────────────────")
	for _, stage := range records.Stages {
		fmt.Fprintf(out, "  %-9s %5d\n", stage, s.Eligible[stage])
	}

	fmt.Fprintf(out, "\n  Sent today: %d / %d", r.SentToday, r.DailyCap)
	if r.SentToday >= r.DailyCap {
		fmt.Fprint(out, "  (cap reached)")
	}
	fmt.Fprintf(out, "\n  Send log entries: %d\n", r.LogTotal)
	if s.Unresolved > 0 {
		fmt.Fprintf(out, "  Unresolved names: %d (outreach cleanup removes those without progress)\n", s.Unresolved)
	}
	if s.SendErrors > 0 {
		fmt.Fprintf(out, "  Records with a send error: %d\n", s.SendErrors)
	}

	if len(s.Issues) > 0 {
		fmt.Fprintf(out, "\n  INTEGRITY (%d issues)\n", len(s.Issues))
		fmt.Fprintln(out, "  ────────────────────────────────────────")
		limit := 10
		if len(s.Issues) < limit {
			limit = len(s.Issues)
		}
		for _, is := range s.Issues[:limit] {
			fmt.Fprintf(out, "    %s  %s\n", truncURL(is.ProfileURL, 50), is.Problem)
		}
		if len(s.Issues) > limit {
			fmt.Fprintf(out, "    ... and %d more\n", len(s.Issues)-limit)
		}
	}
	fmt.Fprintln(out)
}

func truncURL(u string, max int) string {
	u = strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "www.")
	if len(u) <= max {
		return u
	}
	return u[:max-3] + "..."
}
