// Package resample draws the per-replicate bootstrap panels.
//
// Every draw is seeded from the base seed and the replicate index alone, so
// replicate j produces the same panel regardless of which worker runs it or
// in what order replicates complete.
package resample

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
)

// Mode selects the resampling scheme.
type Mode string

const (
	// ModeNone uses the base panel verbatim (bootstrap disabled).
	ModeNone Mode = "none"
	// ModeUniform draws rows with replacement, unweighted.
	ModeUniform Mode = "uniform"
	// ModeWeighted draws rows with replacement, weighted by the occupancy
	// of each row's (cohort, period) cell.
	ModeWeighted Mode = "weighted"
)

// Modes lists the accepted mode names.
var Modes = []Mode{ModeNone, ModeUniform, ModeWeighted}

// ParseMode validates a mode name. "false"/"off" are accepted as ModeNone
// and "normal" as ModeUniform for compatibility with existing scripts.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "none", "off", "false", "disabled":
		return ModeNone, nil
	case "uniform", "normal":
		return ModeUniform, nil
	case "weighted", "cell":
		return ModeWeighted, nil
	}
	return "", diag.Validationf("bootstrap mode %q: must be one of none|uniform|weighted", s)
}

// Resampler produces replicate panels from one base panel.
type Resampler struct {
	mode Mode
	seed uint64
}

// New returns a Resampler for mode seeded with seed.
func New(mode Mode, seed uint64) *Resampler {
	return &Resampler{mode: mode, seed: seed}
}

// Mode returns the configured mode.
func (r *Resampler) Mode() Mode { return r.mode }

// source returns the deterministic random source for replicate j.
func (r *Resampler) source(j int) *rand.PCG {
	return rand.NewPCG(r.seed, uint64(j)+0x9e3779b97f4a7c15)
}

// Draw returns the panel for replicate j. In ModeNone the base panel itself
// is returned and must not be modified by the caller.
func (r *Resampler) Draw(base *model.Panel, j int) *model.Panel {
	n := base.Len()
	if r.mode == ModeNone || n == 0 {
		return base
	}
	src := r.source(j)
	out := &model.Panel{Obs: make([]model.Observation, n)}

	switch r.mode {
	case ModeWeighted:
		cat := distuv.NewCategorical(cellWeights(base), src)
		for i := range out.Obs {
			out.Obs[i] = base.Obs[int(cat.Rand())]
		}
	default:
		rng := rand.New(src)
		for i := range out.Obs {
			out.Obs[i] = base.Obs[rng.IntN(n)]
		}
	}
	return out
}

type cell struct{ cohort, period int }

// cellWeights assigns each row the number of rows sharing its
// (cohort, period) cell.
func cellWeights(p *model.Panel) []float64 {
	counts := make(map[cell]int)
	for _, o := range p.Obs {
		counts[cell{o.Cohort, o.Period}]++
	}
	w := make([]float64, p.Len())
	for i, o := range p.Obs {
		w[i] = float64(counts[cell{o.Cohort, o.Period}])
	}
	return w
}
