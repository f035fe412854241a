package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/derickschaefer/cicqte/internal/analyze"
	"github.com/derickschaefer/cicqte/internal/bootstrap"
	"github.com/derickschaefer/cicqte/internal/cic"
	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
	"github.com/derickschaefer/cicqte/internal/panel"
	"github.com/derickschaefer/cicqte/internal/pipeline"
	"github.com/derickschaefer/cicqte/internal/resample"
	"github.com/derickschaefer/cicqte/internal/util"
)

var estimateFlags struct {
	InputFormat string
	Outcome     string
	Cohort      string
	Period      string
	Unit        string
	Probs       string
	NMin        int
	Boot        string
	Reps        int
	QType       int
	ES          bool
	Horizon     int
	Round       int
	Reduced     bool
	Spill       bool
	KeepSpill   bool
	SpillDir    string
	Cores       int
	Seed        uint64
	Weights     string
	Save        bool
	Summary     bool
}

var estimateCmd = &cobra.Command{
	Use:   "estimate <panel-file|->",
	Short: "Estimate quantile treatment effects for a staggered panel",
	Long: `Estimate CiC quantile treatment effects from a long-format panel with one
row per unit and period.

The panel is read as csv, tsv, jsonl or xlsx (detected from the extension, or
set with --input-format; "-" reads stdin). Column names default to outcome,
cohort, period and unit. Cohort is the period in which the unit is first
treated; units whose cohort lies beyond the last period are never treated.

Option defaults come from config.json and CICQTE_* environment variables;
flags given here override both.`,
	Example: `  cicqte estimate panel.csv
  cicqte estimate panel.csv --outcome earnings --cohort first_treat --probs 0.1:0.9:0.1
  cicqte estimate panel.jsonl --es --horizon 3 --reps 200 --save
  cicqte estimate panel.csv --boot none --format jsonl | jq .effect
  cicqte estimate panel.csv --summary --format md`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		started := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		opts, err := deps.Config.Options()
		if err != nil {
			return err
		}
		if err := applyEstimateFlags(cmd.Flags(), &opts); err != nil {
			return err
		}

		var format pipeline.Format
		if estimateFlags.InputFormat != "" {
			if format, err = pipeline.ParseFormat(estimateFlags.InputFormat); err != nil {
				return err
			}
		}

		rc, err := runEstimate(cmd.Context(), args[0], format, opts, deps.NewCollector())
		if err != nil {
			return err
		}

		if estimateFlags.Save {
			st, err := deps.Store()
			if err != nil {
				return err
			}
			if err := st.PutRun(rc); err != nil {
				return fmt.Errorf("saving run: %w", err)
			}
			if !deps.Config.Quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "✓ Saved run %s\n", rc.RunID)
			}
		}

		var result *model.Result
		if estimateFlags.Summary {
			sum := analyze.SummarizeReplicates(rc)
			result = newResult(model.KindSummary, "estimate", sum, len(sum.Rows), started)
		} else {
			result = newResult(model.KindCollection, "estimate", rc, len(rc.Replicates), started)
		}
		result.Warnings = collectionWarnings(rc)
		return emit(cmd, deps, result)
	},
}

// runEstimate reads the panel at path and runs the bootstrap over it.
func runEstimate(ctx context.Context, path string, format pipeline.Format, opts bootstrap.Options, collector *diag.Collector) (*model.ResultCollection, error) {
	driver, err := bootstrap.NewDriver(opts, collector)
	if err != nil {
		return nil, err
	}
	frame, err := pipeline.ReadFile(path, format)
	if err != nil {
		return nil, err
	}
	raw, err := panel.FromFrame(frame, opts.Columns, collector)
	if err != nil {
		return nil, err
	}
	prep, err := panel.Prepare(raw, opts.NMin, collector)
	if err != nil {
		return nil, err
	}
	return driver.Run(ctx, prep)
}

// collectionWarnings lists run-level warnings and a count of the
// replicate-scoped ones kept on each replicate.
func collectionWarnings(rc *model.ResultCollection) []string {
	out := warningStrings(rc.Warnings)
	n := 0
	for _, rep := range rc.Replicates {
		n += len(rep.Warnings)
	}
	if n > 0 {
		out = append(out, fmt.Sprintf("%d replicate-level warnings recorded (use --format json to inspect)", n))
	}
	return out
}

// applyEstimateFlags overrides o with every flag set on the command line.
func applyEstimateFlags(fs *pflag.FlagSet, o *bootstrap.Options) error {
	f := &estimateFlags
	if fs.Changed("outcome") {
		o.Columns.Outcome = f.Outcome
	}
	if fs.Changed("cohort") {
		o.Columns.Cohort = f.Cohort
	}
	if fs.Changed("period") {
		o.Columns.Period = f.Period
	}
	if fs.Changed("unit") {
		o.Columns.Unit = f.Unit
	}
	if fs.Changed("probs") {
		probs, err := util.ParseFloats(f.Probs)
		if err != nil {
			return diag.WrapValidation(err, "--probs")
		}
		o.Probs = probs
	}
	if fs.Changed("n-min") {
		o.NMin = f.NMin
	}
	if fs.Changed("boot") {
		m, err := resample.ParseMode(f.Boot)
		if err != nil {
			return err
		}
		o.Mode = m
	}
	if fs.Changed("reps") {
		o.Reps = f.Reps
	}
	if fs.Changed("qtype") {
		r, err := analyze.ParseRule(f.QType)
		if err != nil {
			return err
		}
		o.Rule = r
	}
	if fs.Changed("es") {
		o.EventStudy = f.ES
	}
	if fs.Changed("horizon") {
		o.Horizon = f.Horizon
	}
	if fs.Changed("round") {
		o.RoundDigits = f.Round
	}
	if fs.Changed("reduced") {
		o.Reduced = f.Reduced
	}
	if fs.Changed("spill") {
		o.Spill = f.Spill
	}
	if fs.Changed("keep-spill") {
		o.KeepSpill = f.KeepSpill
		if f.KeepSpill {
			o.Spill = true
		}
	}
	if fs.Changed("spill-dir") {
		o.SpillDir = f.SpillDir
	}
	if fs.Changed("cores") {
		o.Parallelism = f.Cores
	}
	if fs.Changed("seed") {
		o.Seed = f.Seed
	}
	if fs.Changed("weights") {
		w, err := cic.ParseWeighting(f.Weights)
		if err != nil {
			return err
		}
		o.Weighting = w
	}
	return nil
}

func init() {
	rootCmd.AddCommand(estimateCmd)

	d := bootstrap.DefaultOptions()
	f := estimateCmd.Flags()
	f.StringVar(&estimateFlags.InputFormat, "input-format", "", "panel format: csv|tsv|jsonl|xlsx (default: from extension)")
	f.StringVar(&estimateFlags.Outcome, "outcome", "outcome", "outcome column")
	f.StringVar(&estimateFlags.Cohort, "cohort", "cohort", "cohort (first treated period) column")
	f.StringVar(&estimateFlags.Period, "period", "period", "period column")
	f.StringVar(&estimateFlags.Unit, "unit", "unit", "unit identifier column")
	f.StringVar(&estimateFlags.Probs, "probs", "0.1:0.9:0.1", "quantile probabilities: comma list or from:to:by")
	f.IntVar(&estimateFlags.NMin, "n-min", d.NMin, "minimum observations per cell and per cohort")
	f.StringVar(&estimateFlags.Boot, "boot", string(d.Mode), "bootstrap mode: none|uniform|weighted")
	f.IntVar(&estimateFlags.Reps, "reps", d.Reps, "bootstrap replications (forced to 1 with --boot none)")
	f.IntVar(&estimateFlags.QType, "qtype", int(d.Rule), "quantile rule, Hyndman-Fan type 1..9")
	f.BoolVar(&estimateFlags.ES, "es", d.EventStudy, "decompose effects by event time")
	f.IntVar(&estimateFlags.Horizon, "horizon", d.Horizon, "maximum event time with --es (-1: unlimited)")
	f.IntVar(&estimateFlags.Round, "round", d.RoundDigits, "round the imputation grid to this many decimals (-1: off)")
	f.BoolVar(&estimateFlags.Reduced, "reduced", d.Reduced, "drop per-combination distributions from the output")
	f.BoolVar(&estimateFlags.Spill, "spill", d.Spill, "spill replicates to a temporary bbolt file instead of memory")
	f.BoolVar(&estimateFlags.KeepSpill, "keep-spill", d.KeepSpill, "keep the spill file after the run (implies --spill)")
	f.StringVar(&estimateFlags.SpillDir, "spill-dir", "", "directory for spill files (default: system temp)")
	f.IntVar(&estimateFlags.Cores, "cores", d.Parallelism, "replicates run in parallel")
	f.Uint64Var(&estimateFlags.Seed, "seed", d.Seed, "random seed")
	f.StringVar(&estimateFlags.Weights, "weights", d.Weighting.String(), "aggregation weights: n1 or n1,n0")
	f.BoolVar(&estimateFlags.Save, "save", false, "save the result collection in the run store")
	f.BoolVar(&estimateFlags.Summary, "summary", false, "print the replicate summary instead of the full collection")
}
