package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/cicqte/internal/analyze"
	"github.com/derickschaefer/cicqte/internal/chart"
	"github.com/derickschaefer/cicqte/internal/model"
	"github.com/derickschaefer/cicqte/internal/pipeline"
)

var chartCmd = &cobra.Command{
	Use:   "chart",
	Short: "Draw QTE curves in the terminal",
	Long: `Chart commands draw the replicate-mean QTE curve of a saved run, or of the
JSONL stream written by 'estimate --format jsonl' when no run ID is given.

Event-study runs draw one chart per event time; --event picks one.

Pipeline examples:
  cicqte estimate panel.csv --format jsonl | cicqte chart plot
  cicqte estimate panel.csv --es --format jsonl | cicqte chart bar --event 0
  cicqte chart plot 3f6c…`,
}

var chartFlags struct {
	Event  int
	Width  int
	Height int
}

// loadChartCurves returns the curves of the run named in args, or of the
// QTE stream on stdin.
func loadChartCurves(cmd *cobra.Command, args []string) ([]chart.Curve, error) {
	var rc *model.ResultCollection
	if len(args) == 1 {
		deps, err := buildDeps()
		if err != nil {
			return nil, err
		}
		defer deps.Close()
		st, err := deps.Store()
		if err != nil {
			return nil, err
		}
		run, ok, err := st.GetRun(args[0])
		if err != nil {
			return nil, fmt.Errorf("reading run: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("run %q not found", args[0])
		}
		rc = run
	} else {
		var err error
		if rc, err = pipeline.ReadQTEJSONL(cmd.InOrStdin()); err != nil {
			return nil, err
		}
	}

	sum := analyze.SummarizeReplicates(rc)
	curves := chart.FromSummary(sum)
	if chartFlags.Event < 0 || !sum.EventStudy {
		return curves, nil
	}
	for i, r := range uniqueEvents(sum) {
		if r == chartFlags.Event {
			return curves[i : i+1], nil
		}
	}
	return nil, fmt.Errorf("event time %d not realized (max %d)", chartFlags.Event, rc.MaxHorizon)
}

// uniqueEvents lists the event times of sum in row order.
func uniqueEvents(sum analyze.Summary) []int {
	var out []int
	for _, r := range sum.Rows {
		if len(out) == 0 || out[len(out)-1] != r.EventTime {
			out = append(out, r.EventTime)
		}
	}
	return out
}

// ─── chart bar ───────────────────────────────────────────────────────────────

var chartBarCmd = &cobra.Command{
	Use:   "bar [RUN-ID]",
	Short: "One horizontal bar per probability",
	Long: `Renders the mean effect at each probability as a bar extending left or right
of a zero line.`,
	Example: `  cicqte estimate panel.csv --format jsonl | cicqte chart bar
  cicqte chart bar 3f6c… --width 100`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		curves, err := loadChartCurves(cmd, args)
		if err != nil {
			return err
		}
		for i, c := range curves {
			if i > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			if err := chart.Bar(cmd.OutOrStdout(), c, chart.BarOptions{Width: chartFlags.Width}); err != nil {
				return err
			}
		}
		return nil
	},
}

// ─── chart plot ──────────────────────────────────────────────────────────────

var chartPlotCmd = &cobra.Command{
	Use:   "plot [RUN-ID]",
	Short: "Line chart of effect against probability",
	Long: `Renders the mean QTE curve with effect ticks on the y axis and probabilities
on the x axis. Width auto-detects from $COLUMNS (falls back to 80).`,
	Example: `  cicqte estimate panel.csv --format jsonl | cicqte chart plot
  cicqte chart plot 3f6c… --height 8`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		curves, err := loadChartCurves(cmd, args)
		if err != nil {
			return err
		}
		for i, c := range curves {
			if i > 0 {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			opts := chart.PlotOptions{Width: chartFlags.Width, Height: chartFlags.Height}
			if err := chart.Plot(cmd.OutOrStdout(), c, opts); err != nil {
				return err
			}
		}
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(chartCmd)
	chartCmd.AddCommand(chartBarCmd)
	chartCmd.AddCommand(chartPlotCmd)

	pf := chartCmd.PersistentFlags()
	pf.IntVar(&chartFlags.Event, "event", -1, "event time to draw for event-study runs (-1: all)")
	pf.IntVar(&chartFlags.Width, "width", 0, "chart width in characters (default: $COLUMNS, fallback 80)")
	chartPlotCmd.Flags().IntVar(&chartFlags.Height, "height", 12, "plot height in rows")
}
