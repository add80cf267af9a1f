package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"outreach/pipeline/internal/pipeline"
)

var (
	importFile  string
	importStdin bool
	importJSON  bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Merge discovered connections into the record store",
	Long: `Reads discovery output and merges it into the record store. Input is CSV
with a header naming at least profile_url (name and connected_date optional),
or JSON lines with the same keys. Existing progress is never overwritten, and
importing the same file twice changes nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var src io.Reader
		switch {
		case importStdin || importFile == "-":
			src = cmd.InOrStdin()
		case importFile != "":
			f, err := os.Open(importFile)
			if err != nil {
				return err
			}
			defer f.Close()
			src = f
		default:
			return fmt.Errorf("specify --file <path> or --stdin")
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

		result, err := pipeline.Import(ctx, w.Store, src, w.Logger.Named("import"))
		if err != nil {
			return err
		}

		if importJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Imported %d row(s): %d new, %d updated, %d unchanged",
			result.Rows, result.Merge.Created, result.Merge.Updated, result.Merge.Unchanged)
		if result.Invalid > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), ", %d invalid skipped", result.Invalid)
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "Read discovery output from file")
	importCmd.Flags().BoolVar(&importStdin, "stdin", false, "Read discovery output from stdin")
	importCmd.Flags().BoolVar(&importJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(importCmd)
}
