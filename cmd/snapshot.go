package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/derickschaefer/cicqte/internal/app"
	"github.com/derickschaefer/cicqte/internal/model"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Save and replay cicqte invocations",
	Long: `Snapshots save the arguments of a cicqte command under a name so it can be
replayed later. Estimation is seeded, so replaying an estimate snapshot
against the same panel file reproduces the same result collection.

Everything after "--" is saved verbatim as the argument list:

  cicqte snapshot save baseline -- estimate panel.csv --reps 200 --seed 7
  cicqte snapshot list
  cicqte snapshot run <ID>`,
}

// newSnapshotID returns a UUIDv7. Its leading timestamp makes IDs, and so
// the store's key order, follow creation time.
func newSnapshotID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generating snapshot id: %w", err)
	}
	return id.String(), nil
}

// lookupSnapshot opens the run store and fetches id.
func lookupSnapshot(deps *app.Deps, id string) (model.Snapshot, error) {
	st, err := deps.Store()
	if err != nil {
		return model.Snapshot{}, err
	}
	snap, ok, err := st.GetSnapshot(id)
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}
	if !ok {
		return model.Snapshot{}, fmt.Errorf("snapshot %q not found", id)
	}
	return snap, nil
}

// ─── snapshot save ────────────────────────────────────────────────────────────

var snapshotSaveCommand = &cobra.Command{
	Use:   "save <NAME> -- <ARGS...>",
	Short: "Save a cicqte invocation under a name",
	Example: `  cicqte snapshot save es-h3 -- estimate panel.csv --es --horizon 3
  cicqte snapshot save summary-md -- estimate panel.csv --summary --format md`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dash := cmd.ArgsLenAtDash()
		if dash != 1 || len(args) < 2 {
			return fmt.Errorf(`usage: cicqte snapshot save <NAME> -- <ARGS...>`)
		}
		name := strings.TrimSpace(args[0])
		if name == "" {
			return fmt.Errorf("snapshot name must not be empty")
		}
		saved := args[1:]
		if saved[0] == "cicqte" {
			saved = saved[1:]
		}
		if len(saved) == 0 {
			return fmt.Errorf("nothing to save after --")
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		st, err := deps.Store()
		if err != nil {
			return err
		}

		id, err := newSnapshotID()
		if err != nil {
			return err
		}
		snap := model.Snapshot{ID: id, Name: name, Args: saved, CreatedAt: time.Now().UTC()}
		if err := st.PutSnapshot(snap); err != nil {
			return fmt.Errorf("saving snapshot: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved snapshot %s  (%s)\n", id, name)
		return nil
	},
}

// ─── snapshot list ────────────────────────────────────────────────────────────

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snapshots, oldest first",
	Example: `  cicqte snapshot list
  cicqte snapshot list --format json`,
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

		snaps, err := st.ListSnapshots()
		if err != nil {
			return fmt.Errorf("listing snapshots: %w", err)
		}
		if len(snaps) == 0 && resolveFormat(deps.Config.Format) == "table" {
			fmt.Fprintln(cmd.OutOrStdout(), "No snapshots saved.")
			fmt.Fprintln(cmd.OutOrStdout(), "  Use: cicqte snapshot save <NAME> -- <ARGS...>")
			return nil
		}
		return emit(cmd, deps, newResult(model.KindSnapshots, "snapshot list", snaps, len(snaps), started))
	},
}

// ─── snapshot show ────────────────────────────────────────────────────────────

var snapshotShowCmd = &cobra.Command{
	Use:     "show <ID>",
	Short:   "Show one snapshot",
	Example: `  cicqte snapshot show 0192…`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		snap, err := lookupSnapshot(deps, args[0])
		if err != nil {
			return err
		}
		printKVTable(cmd.OutOrStdout(), [][]string{
			{"id", snap.ID},
			{"name", snap.Name},
			{"command", "cicqte " + snap.CommandLine()},
			{"created", snap.CreatedAt.Format(time.RFC3339)},
		})
		return nil
	},
}

// ─── snapshot run ─────────────────────────────────────────────────────────────

var snapshotRunCmd = &cobra.Command{
	Use:   "run <ID>",
	Short: "Replay a saved snapshot",
	Long: `Re-executes the saved arguments with the current cicqte binary. Standard
input, output and error pass through to the replayed command.`,
	Example: `  cicqte snapshot run 0192…`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		snap, err := lookupSnapshot(deps, args[0])
		// The replayed command may open the same store; release the lock first.
		deps.Close()
		if err != nil {
			return err
		}

		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("finding executable: %w", err)
		}
		c := exec.CommandContext(cmd.Context(), self, snap.Args...)
		c.Stdin = cmd.InOrStdin()
		c.Stdout = cmd.OutOrStdout()
		c.Stderr = cmd.ErrOrStderr()

		if !deps.Config.Quiet {
			fmt.Fprintf(cmd.ErrOrStderr(), "▶ cicqte %s\n\n", snap.CommandLine())
		}
		return c.Run()
	},
}

// ─── snapshot delete ──────────────────────────────────────────────────────────

var snapshotDeleteCmd = &cobra.Command{
	Use:     "delete <ID>",
	Short:   "Delete a saved snapshot",
	Example: `  cicqte snapshot delete 0192…`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		snap, err := lookupSnapshot(deps, args[0])
		if err != nil {
			return err
		}
		st, err := deps.Store()
		if err != nil {
			return err
		}
		if err := st.DeleteSnapshot(snap.ID); err != nil {
			return fmt.Errorf("deleting snapshot: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted snapshot %s  (%s)\n", snap.ID, snap.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.AddCommand(snapshotSaveCommand)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
	snapshotCmd.AddCommand(snapshotRunCmd)
	snapshotCmd.AddCommand(snapshotDeleteCmd)
}
