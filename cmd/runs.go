package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/cicqte/internal/analyze"
	"github.com/derickschaefer/cicqte/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect result collections saved with 'estimate --save'",
	Long: `Commands for listing, showing and deleting saved result collections.

Saved runs live in the run store (db_path in config.json, CICQTE_DB_PATH, or
--db) and persist until deleted.`,
}

// ─── runs list ────────────────────────────────────────────────────────────────

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved runs, newest first",
	Example: `  cicqte runs list
  cicqte runs list --format csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		started := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		st, err := deps.Store()
		if err != nil {
			return err
		}

		runs, err := st.ListRuns()
		if err != nil {
			return fmt.Errorf("listing runs: %w", err)
		}
		if len(runs) == 0 && resolveFormat(deps.Config.Format) == "table" {
			fmt.Fprintln(cmd.OutOrStdout(), "No saved runs.")
			fmt.Fprintln(cmd.OutOrStdout(), "  Use: cicqte estimate <panel-file> --save")
			return nil
		}
		return emit(cmd, deps, newResult(model.KindRuns, "runs list", runs, len(runs), started))
	},
}

// ─── runs show ────────────────────────────────────────────────────────────────

var runsShowSummary bool

var runsShowCmd = &cobra.Command{
	Use:   "show <RUN-ID>",
	Short: "Show a saved result collection",
	Example: `  cicqte runs show 3f6c…
  cicqte runs show 3f6c… --summary --format md
  cicqte runs show 3f6c… --format jsonl > qte.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		started := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		st, err := deps.Store()
		if err != nil {
			return err
		}

		rc, ok, err := st.GetRun(args[0])
		if err != nil {
			return fmt.Errorf("reading run: %w", err)
		}
		if !ok {
			return fmt.Errorf("run %q not found", args[0])
		}

		var result *model.Result
		if runsShowSummary {
			sum := analyze.SummarizeReplicates(rc)
			result = newResult(model.KindSummary, "runs show", sum, len(sum.Rows), started)
		} else {
			result = newResult(model.KindCollection, "runs show", rc, len(rc.Replicates), started)
		}
		result.Warnings = collectionWarnings(rc)
		return emit(cmd, deps, result)
	},
}

// ─── runs delete ──────────────────────────────────────────────────────────────

var runsDeleteCmd = &cobra.Command{
	Use:     "delete <RUN-ID>",
	Short:   "Delete a saved run",
	Example: `  cicqte runs delete 3f6c…`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		st, err := deps.Store()
		if err != nil {
			return err
		}

		if _, ok, err := st.GetRun(args[0]); err != nil {
			return fmt.Errorf("reading run: %w", err)
		} else if !ok {
			return fmt.Errorf("run %q not found", args[0])
		}
		if err := st.DeleteRun(args[0]); err != nil {
			return fmt.Errorf("deleting run: %w", err)
		}
		if err := st.DeleteReplicates(args[0]); err != nil {
			return fmt.Errorf("deleting spilled replicates: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted run %s\n", args[0])
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsDeleteCmd)

	runsShowCmd.Flags().BoolVar(&runsShowSummary, "summary", false, "print the replicate summary instead of the full collection")
}
