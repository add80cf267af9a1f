package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"outreach/pipeline/internal/pipeline"
	"outreach/pipeline/internal/records"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset <score|message>",
	Short: "Clear a stage's outputs so it runs again",
	Long: `reset score clears scores, decisions and exclusion reasons, and with them
any generated messages, so records are rescored. reset message clears only
generated messages. Fetched profiles and send history are kept; records
already sent are never reset.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"score", "message"},
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

		lock, err := w.Lock(ctx)
		if err != nil {
			return err
		}
		defer lock.Release()

		confirm := promptConfirm(cmd.InOrStdin(), cmd.ErrOrStderr())
		if resetYes {
			confirm = nil
		}

		n, err := w.Runner().Reset(ctx, stage, confirm)
		switch {
		case errors.Is(err, pipeline.ErrNothingToReset):
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to reset.")
			return nil
		case errors.Is(err, pipeline.ErrResetDeclined):
			fmt.Fprintln(cmd.OutOrStdout(), "Reset cancelled; nothing changed.")
			return nil
		case err != nil:
			return err
		}
		if n == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Nothing to reset.")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %s for %d record(s).\n", stage, n)
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(resetCmd)
}

// promptConfirm asks a y/N question on out and reads the answer from in.
// Anything but y or yes declines, including end of input.
func promptConfirm(in io.Reader, out io.Writer) pipeline.ConfirmFunc {
	br := bufio.NewReader(in)
	return func(what string, n int) (bool, error) {
		fmt.Fprintf(out, "%s %d record(s)? [y/N] ", what, n)
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
