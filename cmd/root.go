// Package cmd implements the cicqte CLI command tree.
// This file defines the root command and registers all global persistent flags.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/cicqte/internal/app"
	"github.com/derickschaefer/cicqte/internal/config"
	"github.com/derickschaefer/cicqte/internal/render"
)

// globalFlags holds the parsed values of all persistent (global) flags.
// Commands read from this struct via the deps they receive.
var globalFlags struct {
	Config  string
	DBPath  string
	Format  string
	Out     string
	Quiet   bool
	Verbose bool
	Debug   bool
}

// rootCmd is the base command. Running `cicqte` with no subcommand
// prints help.
var rootCmd = &cobra.Command{
	Use:   "cicqte",
	Short: "cicqte — changes-in-changes quantile treatment effects",
	Long: `cicqte estimates quantile treatment effects under a generalized
changes-in-changes design for staggered multi-cohort panels.

Every valid (treated cohort, comparison cohort, post period, pre period)
combination yields a counterfactual outcome distribution. Distributions are
pooled across combinations and bootstrap replications, optionally split by
event time.

Quick start:
  cicqte simulate --out panel.csv         # write a synthetic panel
  cicqte estimate panel.csv --reps 50     # estimate the QTE curve
  cicqte estimate panel.csv --es --save   # event study, saved to the run store
  cicqte runs list`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called by main. An interrupt cancels the
// running command's context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// buildDeps resolves config and constructs the dependency container.
// Called at the start of each command's RunE.
func buildDeps() (*app.Deps, error) {
	cfg, err := config.Load(globalFlags.Config)
	if err != nil {
		return nil, err
	}

	// Apply CLI flag overrides
	cfg.Quiet = globalFlags.Quiet
	cfg.Verbose = globalFlags.Verbose
	cfg.Debug = globalFlags.Debug
	if globalFlags.Format != "" {
		cfg.Format = globalFlags.Format
	}
	if globalFlags.DBPath != "" {
		cfg.DBPath = globalFlags.DBPath
	}
	if !render.Valid(cfg.Format) {
		return nil, fmt.Errorf("unknown output format %q (valid: table|json|jsonl|csv|tsv|md|yaml)", cfg.Format)
	}

	logger := newLogger(os.Stderr, cfg)
	slog.SetDefault(logger)
	return app.New(cfg, logger), nil
}

// newLogger builds the stderr text logger. Warnings are shown by default;
// --verbose adds info, --debug adds debug, --quiet leaves only errors.
func newLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case cfg.Debug:
		level = slog.LevelDebug
	case cfg.Verbose:
		level = slog.LevelInfo
	case cfg.Quiet:
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&globalFlags.Config, "config", "",
		"config file (default: ./config.json if present)")
	pf.StringVar(&globalFlags.DBPath, "db", "",
		"run store path (overrides CICQTE_DB_PATH and config.json)")
	pf.StringVar(&globalFlags.Format, "format", "",
		"output format: table|json|jsonl|csv|tsv|md|yaml (default: table)")
	pf.StringVar(&globalFlags.Out, "out", "",
		"write output to file instead of stdout")
	pf.BoolVar(&globalFlags.Quiet, "quiet", false,
		"suppress all non-error output")
	pf.BoolVar(&globalFlags.Verbose, "verbose", false,
		"log progress and show timing stats after output")
	pf.BoolVar(&globalFlags.Debug, "debug", false,
		"log debug detail")
}
