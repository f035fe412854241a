// Package bootstrap runs the estimator once per bootstrap replicate across a
// bounded worker pool and assembles the replicate outputs into a
// ResultCollection.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/derickschaefer/cicqte/internal/analyze"
	"github.com/derickschaefer/cicqte/internal/cic"
	"github.com/derickschaefer/cicqte/internal/combo"
	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
	"github.com/derickschaefer/cicqte/internal/panel"
	"github.com/derickschaefer/cicqte/internal/resample"
	"github.com/derickschaefer/cicqte/internal/store"
)

// Spiller persists replicate state outside the heap and hands back a handle.
// *store.Store satisfies it.
type Spiller interface {
	PutReplicate(runID string, rep *model.Replicate) (store.Handle, error)
	GetReplicate(h store.Handle) (*model.Replicate, error)
}

// Outcome is what a finished replicate leaves behind: either the replicate
// itself or, when spilled, only its handle.
type Outcome struct {
	Index     int
	Replicate *model.Replicate
	Handle    store.Handle
}

// Driver runs the bootstrap.
type Driver struct {
	opts      Options
	collector *diag.Collector
	spiller   Spiller
	logger    *slog.Logger
}

// NewDriver validates opts and returns a Driver recording warnings on
// collector.
func NewDriver(opts Options, collector *diag.Collector) (*Driver, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if collector == nil {
		collector = diag.NewCollector(nil)
	}
	return &Driver{
		opts:      opts,
		collector: collector,
		logger:    slog.Default().With("component", "bootstrap"),
	}, nil
}

// WithSpiller routes replicate output through s instead of a run-scoped
// temporary store. Spilling is enabled regardless of Options.Spill.
func (d *Driver) WithSpiller(s Spiller) *Driver {
	d.spiller = s
	return d
}

// plan is the replicate-invariant state shared read-only by every worker.
type plan struct {
	runID   string
	base    *model.Panel
	specs   []model.CombinationSpec
	grid    []float64
	horizon int
	clamped bool // requested horizon exceeded the data maximum
	reps    int
	sampler *resample.Resampler
	spiller Spiller
}

// Run executes every replicate against prep and returns the assembled
// collection. The first fatal error in any replicate cancels the rest and is
// returned.
func (d *Driver) Run(ctx context.Context, prep *panel.Prepared) (*model.ResultCollection, error) {
	start := time.Now()
	o := d.opts

	reps := o.Reps
	if o.Mode == resample.ModeNone && reps > 1 {
		d.collector.Warnf(diag.WarnConfiguration, diag.RunLevel, "",
			"bootstrap disabled: replication count %d coerced to 1", reps)
		reps = 1
	}
	if o.Weighting.UsesN0() {
		d.collector.Warnf(diag.WarnConfiguration, diag.RunLevel, "",
			"weights %s requested: pooling weights both arms by treated-cell size (n1)", o.Weighting)
	}

	grid := analyze.Grid(prep.Panel.Outcomes(), o.RoundDigits)

	all, err := combo.Enumerate(prep.Index, combo.NoHorizon)
	if err != nil {
		return nil, err
	}
	maxH := combo.MaxHorizon(all)
	horizon := combo.NoHorizon
	clamped := false
	specs := all
	if o.EventStudy {
		horizon = o.Horizon
		switch {
		case horizon < 0:
			horizon = maxH
		case horizon > maxH:
			d.collector.Warnf(diag.WarnEventStudyAdjustment, diag.RunLevel, "",
				"requested event horizon %d exceeds the data-supported maximum %d; clamped", o.Horizon, maxH)
			horizon = maxH
			clamped = true
		}
		specs = combo.Filter(all, horizon)
	}

	p := &plan{
		runID:   uuid.NewString(),
		base:    prep.Panel,
		specs:   specs,
		grid:    grid,
		horizon: horizon,
		clamped: clamped,
		reps:    reps,
		sampler: resample.New(o.Mode, o.Seed),
		spiller: d.spiller,
	}

	if p.spiller == nil && o.Spill {
		st, cleanup, err := d.openSpill()
		if err != nil {
			return nil, err
		}
		defer cleanup()
		p.spiller = st
	}

	d.logger.Info("bootstrap starting",
		"run_id", p.runID,
		"replicates", reps,
		"combinations", len(specs),
		"grid", len(grid),
		"horizon", horizon,
		"parallelism", o.Parallelism,
		"spill", p.spiller != nil)

	outcomes := make([]Outcome, reps)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Parallelism)
	for j := 0; j < reps; j++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out, err := d.replicate(gctx, p, j)
			if err != nil {
				return err
			}
			outcomes[j] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rc, err := Assemble(p.runID, o, outcomes, p.spiller, d.collector.Warnings())
	if err != nil {
		return nil, err
	}
	rc.Config.GridSize = len(grid)
	rc.Config.Specs = len(specs)
	rc.Config.Reps = reps
	rc.Config.Elapsed = time.Since(start).Seconds()

	d.logger.Info("bootstrap finished",
		"run_id", p.runID,
		"max_horizon", rc.MaxHorizon,
		"warnings", len(rc.Warnings),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return rc, nil
}

// openSpill creates a run-scoped bbolt file in a fresh temporary directory.
// cleanup closes the store and, unless KeepSpill is set, removes the
// directory.
func (d *Driver) openSpill() (*store.Store, func(), error) {
	dir, err := os.MkdirTemp(d.opts.SpillDir, "cicqte-spill-*")
	if err != nil {
		return nil, nil, fmt.Errorf("creating spill directory: %w", err)
	}
	st, err := store.Open(filepath.Join(dir, "spill.db"))
	if err != nil {
		os.RemoveAll(dir)
		return nil, nil, err
	}
	d.logger.Debug("spill store opened", "path", st.Path())
	cleanup := func() {
		if err := st.Close(); err != nil {
			d.logger.Warn("closing spill store", "error", err)
		}
		if d.opts.KeepSpill {
			d.logger.Info("spill store kept", "path", st.Path())
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			d.logger.Warn("removing spill directory", "path", dir, "error", err)
		}
	}
	return st, cleanup, nil
}

// replicate runs Resample → Estimate → Aggregate → Spill for replicate j.
func (d *Driver) replicate(ctx context.Context, p *plan, j int) (Outcome, error) {
	o := d.opts
	sample := p.sampler.Draw(p.base, j)

	results := make([]model.CombinationResult, 0, len(p.specs))
	skipped := 0
	for _, spec := range p.specs {
		r, ok, w := cic.EstimateCell(sample, spec, o.Rule, o.NMin)
		if !ok {
			w.Replicate = j
			d.collector.Add(*w)
			skipped++
			continue
		}
		results = append(results, r)
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}

	rep := &model.Replicate{
		Index:     j,
		Status:    model.StatusCompleted,
		Estimated: len(results),
		Skipped:   skipped,
	}
	if skipped > 0 {
		rep.Status = model.StatusCompletedWithSkips
	}

	if o.EventStudy {
		qtes, realized, err := cic.AggregateEventStudy(results, p.grid, o.Probs, p.horizon)
		if err != nil {
			return Outcome{}, fmt.Errorf("replicate %d: %w", j, err)
		}
		rep.QTE = qtes
		rep.Horizon = realized
		if p.clamped {
			// The run-level adjustment warning already names the clamp.
			rep.Status = model.StatusDegraded
		}
		if realized < p.horizon {
			d.collector.Warnf(diag.WarnEventStudyAdjustment, j, "",
				"realized event horizon %d is below the configured horizon %d; clamped for this replicate", realized, p.horizon)
			rep.Status = model.StatusDegraded
		}
	} else {
		q, err := cic.Aggregate(results, p.grid, o.Probs)
		if err != nil {
			return Outcome{}, fmt.Errorf("replicate %d: %w", j, err)
		}
		rep.QTE = []model.QTE{q}
		rep.Horizon = realizedHorizon(results)
	}

	if o.Reduced {
		for i := range results {
			results[i].Treated = nil
			results[i].Counterfactual = nil
		}
	}
	rep.Combinations = results
	rep.Warnings = d.collector.ForReplicate(j)

	if p.spiller != nil {
		h, err := p.spiller.PutReplicate(p.runID, rep)
		if err != nil {
			return Outcome{}, fmt.Errorf("replicate %d: %w", j, err)
		}
		return Outcome{Index: j, Handle: h}, nil
	}
	return Outcome{Index: j, Replicate: rep}, nil
}

func realizedHorizon(results []model.CombinationResult) int {
	m := 0
	for _, r := range results {
		if e := r.Spec.EventTime(); e > m {
			m = e
		}
	}
	return m
}
