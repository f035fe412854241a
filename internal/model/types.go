// Package model defines the canonical data types used throughout cicqte:
// the panel, the combination and distribution types produced by the
// estimator, the per-replicate output, and the result envelope every
// command returns.
package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/derickschaefer/cicqte/internal/diag"
)

// ─── Panel Types ──────────────────────────────────────────────────────────────

// NeverTreated is the cohort of a unit with no adoption period, read from an
// empty, NA or infinite cohort cell. It matches no period.
const NeverTreated = math.MinInt

// Observation is one row of the panel. Cohort is the period in which the
// unit adopts treatment.
type Observation struct {
	Unit    string  `json:"unit" yaml:"unit"`
	Cohort  int     `json:"cohort" yaml:"cohort"`
	Period  int     `json:"period" yaml:"period"`
	Outcome float64 `json:"outcome" yaml:"outcome"`
}

// Panel is an ordered sequence of observations. Row order carries no meaning
// for estimation.
type Panel struct {
	Obs []Observation `json:"observations" yaml:"observations"`
}

// Len returns the number of rows.
func (p *Panel) Len() int { return len(p.Obs) }

// Outcomes returns every outcome value in row order.
func (p *Panel) Outcomes() []float64 {
	out := make([]float64, len(p.Obs))
	for i, o := range p.Obs {
		out[i] = o.Outcome
	}
	return out
}

// PanelIndex holds the replicate-invariant cohort and period sets of a
// prepared panel. Shift is the amount added to raw cohort and period values
// so that the first period is 1.
type PanelIndex struct {
	Cohorts    []int `json:"cohorts"`
	Periods    []int `json:"periods"`
	LastCohort int   `json:"last_cohort"`
	Shift      int   `json:"shift"`
}

// ─── Combination Types ────────────────────────────────────────────────────────

// CombinationSpec identifies one 2×2 comparison: treated cohort c1 against
// comparison cohort c2, post period t1 against pre period t0.
type CombinationSpec struct {
	Treated    int `json:"treated"`
	Comparison int `json:"comparison"`
	Post       int `json:"post"`
	Pre        int `json:"pre"`
}

// EventTime is the number of periods since the treated cohort adopted.
func (s CombinationSpec) EventTime() int { return s.Post - s.Treated }

// Key is the canonical string form, used in warnings and store keys.
func (s CombinationSpec) Key() string {
	return fmt.Sprintf("c1=%d|c2=%d|t1=%d|t0=%d", s.Treated, s.Comparison, s.Post, s.Pre)
}

// Distribution is an empirical CDF stored as ordered (value, cumulative
// probability) pairs. Values is strictly increasing; Cum is nondecreasing,
// ends at 1, and Cum[i] is the proportion of the sample ≤ Values[i].
type Distribution struct {
	Values []float64 `json:"values"`
	Cum    []float64 `json:"cum"`
}

// CombinationResult is the estimate for one CombinationSpec. Treated and
// Counterfactual are nil in reduced-output mode.
type CombinationResult struct {
	Spec           CombinationSpec `json:"spec"`
	Treated        *Distribution   `json:"treated,omitempty"`
	Counterfactual *Distribution   `json:"counterfactual,omitempty"`
	N1             int             `json:"n1"`
	N0             int             `json:"n0"`
}

// ─── Replicate Output ─────────────────────────────────────────────────────────

// QTE is one quantile treatment effect curve. EventTime is nil for the pooled
// curve.
type QTE struct {
	EventTime *int      `json:"event_time,omitempty" yaml:"event_time,omitempty"`
	Probs     []float64 `json:"probs" yaml:"probs"`
	Effects   []float64 `json:"effects" yaml:"effects"`
}

// ReplicateStatus is the terminal state of one bootstrap replicate.
// Degraded takes precedence over CompletedWithSkips and is set whenever the
// event horizon was clamped, either for the whole run (requested horizon
// above the data maximum) or for this replicate alone.
type ReplicateStatus string

const (
	StatusCompleted          ReplicateStatus = "completed"
	StatusCompletedWithSkips ReplicateStatus = "completed_with_skips"
	StatusDegraded           ReplicateStatus = "degraded"
)

// Replicate is the output of one bootstrap replication.
type Replicate struct {
	Index        int                 `json:"index" yaml:"index"`
	Status       ReplicateStatus     `json:"status" yaml:"status"`
	Combinations []CombinationResult `json:"combinations,omitempty" yaml:"-"`
	QTE          []QTE               `json:"qte" yaml:"qte"`
	Horizon      int                 `json:"horizon" yaml:"horizon"`
	Estimated    int                 `json:"estimated" yaml:"estimated"`
	Skipped      int                 `json:"skipped" yaml:"skipped"`
	Warnings     []diag.Warning      `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// RunConfig is the option snapshot attached to a ResultCollection.
type RunConfig struct {
	Outcome     string  `json:"outcome" yaml:"outcome"`
	Cohort      string  `json:"cohort" yaml:"cohort"`
	Period      string  `json:"period" yaml:"period"`
	Unit        string  `json:"unit" yaml:"unit"`
	NMin        int     `json:"n_min" yaml:"n_min"`
	Boot        string  `json:"boot" yaml:"boot"`
	Reps        int     `json:"reps" yaml:"reps"`
	QType       int     `json:"qtype" yaml:"qtype"`
	Horizon     int     `json:"horizon" yaml:"horizon"`
	RoundDigits int     `json:"round_digits" yaml:"round_digits"`
	Reduced     bool    `json:"reduced" yaml:"reduced"`
	Spill       bool    `json:"spill" yaml:"spill"`
	Parallelism int     `json:"parallelism" yaml:"parallelism"`
	Seed        uint64  `json:"seed" yaml:"seed"`
	Weights     string  `json:"weights" yaml:"weights"`
	GridSize    int     `json:"grid_size" yaml:"grid_size"`
	Specs       int     `json:"combinations" yaml:"combinations"`
	Elapsed     float64 `json:"elapsed_seconds" yaml:"elapsed_seconds"`
}

// ResultCollection is the sole artifact handed to summary and plotting
// consumers. It is immutable once assembled.
type ResultCollection struct {
	RunID      string         `json:"run_id" yaml:"run_id"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
	Probs      []float64      `json:"probs" yaml:"probs"`
	EventStudy bool           `json:"event_study" yaml:"event_study"`
	MaxHorizon int            `json:"max_horizon" yaml:"max_horizon"`
	Config     RunConfig      `json:"config" yaml:"config"`
	Replicates []Replicate    `json:"replicates" yaml:"replicates"`
	Warnings   []diag.Warning `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// ─── Result Envelope ─────────────────────────────────────────────────────────

// ResultStats carries timing metadata for a command result.
type ResultStats struct {
	DurationMs int64 `json:"duration_ms" yaml:"duration_ms"`
	Items      int   `json:"items" yaml:"items"`
}

// Result is the uniform envelope returned by every command.
// The Data field holds the typed payload; Kind identifies what is in it.
// Renderers switch on Kind to format output appropriately.
type Result struct {
	Kind        string      `json:"kind" yaml:"kind"`
	GeneratedAt time.Time   `json:"generated_at" yaml:"generated_at"`
	Command     string      `json:"command" yaml:"command"`
	Data        interface{} `json:"data" yaml:"data"`
	Warnings    []string    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Stats       ResultStats `json:"stats" yaml:"stats"`
}

// Kind constants for Result.Kind.
const (
	KindCollection = "result_collection"
	KindSummary    = "replicate_summary"
	KindRuns       = "runs"
	KindSnapshots  = "snapshots"
	KindPanel      = "panel"
)

// RunInfo is the listing row for a saved ResultCollection.
type RunInfo struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	Outcome    string    `json:"outcome" yaml:"outcome"`
	Replicates int       `json:"replicates" yaml:"replicates"`
	EventStudy bool      `json:"event_study" yaml:"event_study"`
	MaxHorizon int       `json:"max_horizon" yaml:"max_horizon"`
}

// Snapshot is a saved cicqte invocation. Args excludes the binary name.
type Snapshot struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Args      []string  `json:"args" yaml:"args"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// CommandLine joins Args for display, quoting any argument that would not
// survive shell word splitting.
func (s Snapshot) CommandLine() string {
	parts := make([]string, len(s.Args))
	for i, a := range s.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = strconv.Quote(a)
		}
		parts[i] = a
	}
	return strings.Join(parts, " ")
}
