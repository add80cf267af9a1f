package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"outreach/pipeline/internal/hook"
	"outreach/pipeline/internal/llm"
	"outreach/pipeline/internal/pipeline"
	"outreach/pipeline/internal/records"
)

var (
	runLimit  int
	runCap    int
	runDryRun bool
	runJSON   bool
)

var runCmd = &cobra.Command{
	Use:   "run <fetch|score|message|send>",
	Short: "Run one pipeline stage over every eligible record",
	Long: `Processes every record eligible for the stage, in profile URL order.
The table is saved after each record, so an interrupted run resumes where it
stopped. Per-record failures are logged and counted; the run continues.

The send stage stops once the daily send cap is reached, counting messages
already sent today.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"fetch", "score", "message", "send"},
	RunE: func(cmd *cobra.Command, args []string) error {
		stage, err := records.ParseStage(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		w, err := OpenWorkspace(ctx)
		if err != nil {
			return err
		}
		defer w.Close()

		runner := w.Runner()
		runner.Limit = runLimit
		runner.DryRun = runDryRun
		if runCap > 0 {
			runner.DailyCap = runCap
		}

		var collab pipeline.Collaborators
		if !runDryRun {
			lock, err := w.Lock(ctx)
			if err != nil {
				return err
			}
			defer lock.Release()

			collab, err = buildCollaborators(w, stage)
			if err != nil {
				return err
			}
		}

		result, err := runner.Run(ctx, stage, collab)
		if result != nil {
			if runJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				_ = enc.Encode(result)
			} else {
				printRunResult(cmd.ErrOrStderr(), result, runDryRun)
			}
		}
		return err
	},
}

func init() {
	runCmd.Flags().IntVar(&runLimit, "limit", 0, "Process at most N records (0 = all eligible)")
	runCmd.Flags().IntVar(&runCap, "cap", 0, "Override limits.daily_send_cap for this run")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "List eligible records without calling collaborators")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Output the run result as JSON")
	rootCmd.AddCommand(runCmd)
}

// buildCollaborators wires the stage to its configured implementation:
// the hook command for fetch and send, the language model for score and
// message.
func buildCollaborators(w *Workspace, stage records.Stage) (pipeline.Collaborators, error) {
	cfg := w.Config
	var c pipeline.Collaborators
	switch stage {
	case records.StageFetch, records.StageSend:
		h, err := hook.New(cfg.Hook.Command, cfg.Hook.Timeout, w.Logger)
		if err != nil {
			return c, err
		}
		c.Fetcher, c.Sender = h, h
	case records.StageScore, records.StageMessage:
		completer, err := llm.New(llm.Config{
			Provider:    cfg.LLM.Provider,
			Model:       cfg.LLM.Model,
			APIKey:      cfg.LLM.APIKey,
			Endpoint:    cfg.LLM.Endpoint,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
			Binary:      cfg.LLM.Binary,
			Timeout:     cfg.LLM.Timeout,
		}, w.Logger)
		if err != nil {
			return c, err
		}
		c.Scorer = &llm.Scorer{
			LLM:       completer,
			Rubric:    cfg.LLM.Rubric,
			Threshold: cfg.LLM.Threshold,
			Logger:    w.Logger.Named("scorer"),
		}
		c.Composer = &llm.Composer{
			LLM:          completer,
			Instructions: cfg.LLM.Instructions,
			SenderName:   cfg.LLM.SenderName,
			MaxChars:     cfg.LLM.MaxMessageChars,
		}
	}
	return c, nil
}

func printRunResult(out io.Writer, r *pipeline.RunResult, dryRun bool) {
	if dryRun {
		fmt.Fprintf(out, "\n[run] === DRY RUN: %s ===\n", r.Stage)
		for i, u := range r.Pending {
			fmt.Fprintf(out, "  %d. %s\n", i+1, pipeline.ShortProfileURL(u, 72))
		}
		fmt.Fprintf(out, "\n[run] Would process %d of %d eligible record(s).\n", len(r.Pending), r.Eligible)
		return
	}

	fmt.Fprintf(out, "\n[run] %s finished in %s (run %s)\n",
		r.Stage, pipeline.Elapsed(r.Duration), shortID(r.RunID))
	fmt.Fprintf(out, "  eligible=%d attempted=%d succeeded=%d failed=%d skipped=%d",
		r.Eligible, r.Attempted, r.Succeeded, r.Failed, r.Skipped)
	if r.Stage == records.StageSend {
		fmt.Fprintf(out, " deferred=%d", r.Deferred)
	}
	fmt.Fprintln(out)
	if r.Deferred > 0 {
		fmt.Fprintf(out, "  Daily send cap reached; %d record(s) left for tomorrow.\n", r.Deferred)
	}
	if r.Failed > 0 {
		fmt.Fprintf(out, "  %d failure(s) stay eligible; rerun the stage to retry.\n", r.Failed)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
