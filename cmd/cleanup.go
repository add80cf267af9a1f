package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"outreach/pipeline/internal/pipeline"
)

var cleanupYes bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove unresolved-name records that never progressed past discovery",
	RunE: func(cmd *cobra.Command, args []string) error {
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
		if cleanupYes {
			confirm = nil
		}
		removed, err := w.Runner().Cleanup(ctx, confirm)
		if errors.Is(err, pipeline.ErrResetDeclined) {
			fmt.Fprintln(cmd.OutOrStdout(), "Cleanup cancelled; nothing changed.")
			return nil
		}
		if err != nil {
			return err
		}
		if len(removed) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No unresolved records to remove.")
			return nil
		}
		for _, u := range removed {
			fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", u)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %d record(s).\n", len(removed))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupYes, "yes", "y", false, "Skip the confirmation prompt")
	rootCmd.AddCommand(cleanupCmd)
}
