package bootstrap

import (
	"fmt"
	"sort"
	"time"

	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
)

// Assemble merges replicate outcomes into a ResultCollection, reading spilled
// replicates back through spiller. Replicates are ordered by index and
// MaxHorizon is the largest horizon any replicate realized. Only run-level
// warnings are attached to the collection; replicate-scoped warnings travel
// with their replicate.
func Assemble(runID string, opts Options, outcomes []Outcome, spiller Spiller, warnings []diag.Warning) (*model.ResultCollection, error) {
	sorted := make([]Outcome, len(outcomes))
	copy(sorted, outcomes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	rc := &model.ResultCollection{
		RunID:      runID,
		CreatedAt:  time.Now().UTC(),
		Probs:      append([]float64(nil), opts.Probs...),
		EventStudy: opts.EventStudy,
		Config:     runConfig(opts),
		Replicates: make([]model.Replicate, 0, len(sorted)),
	}

	for _, out := range sorted {
		rep := out.Replicate
		if rep == nil {
			if out.Handle == "" {
				return nil, fmt.Errorf("replicate %d: no result and no spill handle", out.Index)
			}
			if spiller == nil {
				return nil, fmt.Errorf("replicate %d: spilled as %s but no spill store is open", out.Index, out.Handle)
			}
			var err error
			if rep, err = spiller.GetReplicate(out.Handle); err != nil {
				return nil, fmt.Errorf("reading back replicate %d: %w", out.Index, err)
			}
		}
		if rep.Horizon > rc.MaxHorizon {
			rc.MaxHorizon = rep.Horizon
		}
		rc.Replicates = append(rc.Replicates, *rep)
	}

	for _, w := range warnings {
		if w.Replicate == diag.RunLevel {
			rc.Warnings = append(rc.Warnings, w)
		}
	}
	return rc, nil
}

// runConfig snapshots the options onto the result.
func runConfig(o Options) model.RunConfig {
	return model.RunConfig{
		Outcome:     o.Columns.Outcome,
		Cohort:      o.Columns.Cohort,
		Period:      o.Columns.Period,
		Unit:        o.Columns.Unit,
		NMin:        o.NMin,
		Boot:        string(o.Mode),
		Reps:        o.Reps,
		QType:       int(o.Rule),
		Horizon:     o.Horizon,
		RoundDigits: o.RoundDigits,
		Reduced:     o.Reduced,
		Spill:       o.Spill,
		Parallelism: o.Parallelism,
		Seed:        o.Seed,
		Weights:     o.Weighting.String(),
	}
}
