package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/derickschaefer/cicqte/internal/config"
	"github.com/derickschaefer/cicqte/internal/render"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage cicqte configuration",
	Long: `Read and write cicqte configuration stored in config.json.

Values resolve in three layers: config.json, then CICQTE_* environment
variables (CICQTE_REPS, CICQTE_N_MIN, CICQTE_DB_PATH, ...), then flags.`,
}

var configInitForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a template config.json in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFile
		if globalFlags.Config != "" {
			path = globalFlags.Config
		}
		if _, err := os.Stat(path); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.WriteFile(path, config.Template()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Created %s\n", path)
		fmt.Fprintln(cmd.OutOrStdout(), "  Edit the defaults section to change estimation defaults.")
		return nil
	},
}

// resolvedConfig is the flattened view printed by `config get`.
type resolvedConfig struct {
	ConfigFile string         `json:"config_file" yaml:"config_file"`
	Format     string         `json:"default_format" yaml:"default_format"`
	DBPath     string         `json:"db_path" yaml:"db_path"`
	SpillDir   string         `json:"spill_dir" yaml:"spill_dir"`
	Options    map[string]any `json:"defaults" yaml:"defaults"`
}

var configGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current resolved configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		cfg := deps.Config
		opts, err := cfg.Options()
		if err != nil {
			return err
		}

		src := "(not found)"
		if cfg.ConfigPath != "" {
			src = cfg.ConfigPath
		}
		spillDir := cfg.SpillDir
		if spillDir == "" {
			spillDir = "(system temp)"
		}

		probs := make([]string, len(opts.Probs))
		for i, p := range opts.Probs {
			probs[i] = strconv.FormatFloat(p, 'g', -1, 64)
		}
		out := resolvedConfig{
			ConfigFile: src,
			Format:     cfg.Format,
			DBPath:     cfg.DBPath,
			SpillDir:   spillDir,
			Options: map[string]any{
				"outcome": opts.Columns.Outcome,
				"cohort":  opts.Columns.Cohort,
				"period":  opts.Columns.Period,
				"unit":    opts.Columns.Unit,
				"probs":   strings.Join(probs, ","),
				"n_min":   opts.NMin,
				"boot":    string(opts.Mode),
				"reps":    opts.Reps,
				"qtype":   int(opts.Rule),
				"es":      opts.EventStudy,
				"horizon": opts.Horizon,
				"round":   opts.RoundDigits,
				"cores":   opts.Parallelism,
				"seed":    opts.Seed,
				"weights": opts.Weighting.String(),
			},
		}

		switch resolveFormat(cfg.Format) {
		case render.FormatJSON, render.FormatJSONL:
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		case render.FormatYAML:
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(out)
		default:
			rows := [][]string{
				{"config_file", out.ConfigFile},
				{"default_format", out.Format},
				{"db_path", out.DBPath},
				{"spill_dir", out.SpillDir},
			}
			for _, k := range []string{"outcome", "cohort", "period", "unit", "probs", "n_min", "boot", "reps", "qtype", "es", "horizon", "round", "cores", "seed", "weights"} {
				rows = append(rows, []string{k, fmt.Sprint(out.Options[k])})
			}
			printKVTable(cmd.OutOrStdout(), rows)
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGetCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
}

// printKVTable renders a two-column key/value list with aligned columns.
func printKVTable(w io.Writer, rows [][]string) {
	maxKey := 0
	for _, r := range rows {
		if len(r[0]) > maxKey {
			maxKey = len(r[0])
		}
	}
	for _, r := range rows {
		padding := strings.Repeat(" ", maxKey-len(r[0]))
		fmt.Fprintf(w, "  %s%s  %s\n", r[0], padding, r[1])
	}
}
