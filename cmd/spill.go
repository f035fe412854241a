package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/cicqte/internal/app"
	"github.com/derickschaefer/cicqte/internal/store"
)

var spillCmd = &cobra.Command{
	Use:   "spill",
	Short: "Inspect and manage the run store and kept spill files",
	Long: `Commands for inspecting and clearing bbolt databases written by cicqte.

By default they act on the run store. Pass --file to inspect a spill file kept
with 'estimate --keep-spill'.`,
}

var spillFile string

// openTarget opens the --file spill database if given, otherwise the run
// store. The returned closer is a no-op for the run store, which deps owns.
func openTarget(deps *app.Deps) (*store.Store, func(), error) {
	if spillFile == "" {
		st, err := deps.Store()
		return st, func() {}, err
	}
	st, err := store.Open(spillFile)
	if err != nil {
		return nil, nil, err
	}
	return st, func() { st.Close() }, nil
}

// ─── spill stats ──────────────────────────────────────────────────────────────

var spillStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts and sizes for each bucket",
	Example: `  cicqte spill stats
  cicqte spill stats --file /tmp/cicqte-spill-123/spill.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		st, done, err := openTarget(deps)
		if err != nil {
			return err
		}
		defer done()

		stats, err := st.Stats()
		if err != nil {
			return fmt.Errorf("reading store stats: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n\n", st.Path())
		printSimpleTable(cmd.OutOrStdout(), []string{"BUCKET", "ROWS", "SIZE"}, func(add func(...string)) {
			for _, s := range stats {
				add(s.Name, fmt.Sprintf("%d", s.Count), humanBytes(s.Bytes))
			}
		})
		return nil
	},
}

// ─── spill clear ──────────────────────────────────────────────────────────────

var (
	spillClearAll    bool
	spillClearBucket string
)

var spillClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete entries from the store",
	Long: `Delete entries from one or all buckets.

Note: bbolt does not shrink the database file after clearing. Free pages are
reused internally on the next write.`,
	Example: `  cicqte spill clear --bucket replicates
  cicqte spill clear --all`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !spillClearAll && spillClearBucket == "" {
			return fmt.Errorf("specify --all or --bucket <name>\n\nBuckets: %s", strings.Join(store.AllBuckets, ", "))
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		st, done, err := openTarget(deps)
		if err != nil {
			return err
		}
		defer done()

		if spillClearAll {
			if err := st.ClearAll(); err != nil {
				return fmt.Errorf("clearing all buckets: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Cleared all buckets")
			return nil
		}
		if err := st.ClearBucket(spillClearBucket); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared bucket %q\n", spillClearBucket)
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(spillCmd)
	spillCmd.AddCommand(spillStatsCmd)
	spillCmd.AddCommand(spillClearCmd)

	spillCmd.PersistentFlags().StringVar(&spillFile, "file", "", "bbolt file to act on instead of the run store")
	spillClearCmd.Flags().BoolVar(&spillClearAll, "all", false, "clear all buckets")
	spillClearCmd.Flags().StringVar(&spillClearBucket, "bucket", "", "clear one bucket: "+strings.Join(store.AllBuckets, "|"))
}
