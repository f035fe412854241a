package cic

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
)

// ─── Weighting ────────────────────────────────────────────────────────────────

// Basis names the cell size a pool is weighted by.
type Basis string

const (
	BasisN1 Basis = "n1"
	BasisN0 Basis = "n0"
)

// Weighting selects the weight basis of the treated and counterfactual pools.
//
// Both fields are validated, but pooling currently weights by n1 regardless
// of either setting; see UsesN0.
type Weighting struct {
	Treated        Basis `json:"treated" validate:"oneof=n1 n0"`
	Counterfactual Basis `json:"counterfactual" validate:"oneof=n1 n0"`
}

// DefaultWeighting weights both pools by treated-cell size.
var DefaultWeighting = Weighting{Treated: BasisN1, Counterfactual: BasisN1}

// ParseWeighting accepts "n1", "n0", or a "treated,counterfactual" pair such
// as "n1,n0".
func ParseWeighting(s string) (Weighting, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) == 1 {
		parts = append(parts, parts[0])
	}
	if len(parts) != 2 {
		return Weighting{}, diag.Validationf("weights %q: expected n1|n0 or a treated,counterfactual pair", s)
	}
	var out [2]Basis
	for i, p := range parts {
		switch b := Basis(strings.TrimSpace(p)); b {
		case BasisN1, BasisN0:
			out[i] = b
		default:
			return Weighting{}, diag.Validationf("weights %q: %q must be n1 or n0", s, p)
		}
	}
	return Weighting{Treated: out[0], Counterfactual: out[1]}, nil
}

// String returns the "treated,counterfactual" form.
func (w Weighting) String() string {
	return fmt.Sprintf("%s,%s", w.Treated, w.Counterfactual)
}

// UsesN0 reports whether either pool requested control-cell weighting, which
// the pooling step does not apply.
func (w Weighting) UsesN0() bool {
	return w.Treated == BasisN0 || w.Counterfactual == BasisN0
}

// Weights returns each result's treated-cell size divided by the total
// treated-cell size of results.
func Weights(results []model.CombinationResult) []float64 {
	w := make([]float64, len(results))
	for i, r := range results {
		w[i] = float64(r.N1)
	}
	total := floats.Sum(w)
	if total == 0 {
		return w
	}
	floats.Scale(1/total, w)
	return w
}

// ─── Pooling ──────────────────────────────────────────────────────────────────

// Pool evaluates every distribution on grid and returns the weighted
// pointwise sum, clamped to [0,1]. weights must have len(dists) entries.
func Pool(dists []*model.Distribution, weights []float64, grid []float64) []float64 {
	cum := make([]float64, len(grid))
	for k, d := range dists {
		if d == nil || weights[k] == 0 {
			continue
		}
		// grid and d.Values are both ascending; walk them together.
		j, f := 0, 0.0
		for i, g := range grid {
			for j < len(d.Values) && d.Values[j] <= g {
				f = d.Cum[j]
				j++
			}
			cum[i] += weights[k] * f
		}
	}
	for i, v := range cum {
		if v < 0 {
			cum[i] = 0
		} else if v > 1 {
			cum[i] = 1
		}
	}
	return cum
}

// invertTol absorbs floating-point error accumulated in the weighted sum.
const invertTol = 1e-12

// InvertGrid returns the smallest grid value whose cumulative probability is
// at least p. If none reaches p, the largest grid value is returned.
func InvertGrid(grid, cum []float64, p float64) float64 {
	i := sort.Search(len(cum), func(i int) bool { return cum[i] >= p-invertTol })
	if i == len(cum) {
		i = len(cum) - 1
	}
	return grid[i]
}

// curve differences treated and counterfactual inverses at each probability.
func curve(grid, treatedCum, cfCum, probs []float64) []float64 {
	out := make([]float64, len(probs))
	for i, p := range probs {
		out[i] = InvertGrid(grid, treatedCum, p) - InvertGrid(grid, cfCum, p)
	}
	return out
}

func treatedDists(results []model.CombinationResult) []*model.Distribution {
	out := make([]*model.Distribution, len(results))
	for i := range results {
		out[i] = results[i].Treated
	}
	return out
}

func counterfactualDists(results []model.CombinationResult) []*model.Distribution {
	out := make([]*model.Distribution, len(results))
	for i := range results {
		out[i] = results[i].Counterfactual
	}
	return out
}

// Aggregate pools all results of one replicate and returns the QTE curve.
func Aggregate(results []model.CombinationResult, grid, probs []float64) (model.QTE, error) {
	if len(results) == 0 {
		return model.QTE{}, diag.DataSufficiencyf("no combination could be estimated")
	}
	if len(grid) == 0 {
		return model.QTE{}, diag.DataSufficiencyf("imputation grid is empty")
	}
	w := Weights(results)
	treatedCum := Pool(treatedDists(results), w, grid)
	cfCum := Pool(counterfactualDists(results), w, grid)
	return model.QTE{Probs: probs, Effects: curve(grid, treatedCum, cfCum, probs)}, nil
}

// AggregateEventStudy returns one QTE curve per event time 0..horizon that
// has at least one result, and the largest event time realized. The
// counterfactual pool is built once over all results; each event time pools
// only its own treated distributions, weighted within the bucket.
func AggregateEventStudy(results []model.CombinationResult, grid, probs []float64, horizon int) ([]model.QTE, int, error) {
	if len(results) == 0 {
		return nil, 0, diag.DataSufficiencyf("no combination could be estimated")
	}
	if len(grid) == 0 {
		return nil, 0, diag.DataSufficiencyf("imputation grid is empty")
	}
	cfCum := Pool(counterfactualDists(results), Weights(results), grid)

	buckets := make(map[int][]model.CombinationResult)
	realized := -1
	for _, r := range results {
		e := r.Spec.EventTime()
		if e < 0 || e > horizon {
			continue
		}
		buckets[e] = append(buckets[e], r)
		if e > realized {
			realized = e
		}
	}
	if realized < 0 {
		return nil, 0, diag.DataSufficiencyf("no combination falls within event horizon %d", horizon)
	}

	var out []model.QTE
	for e := 0; e <= realized; e++ {
		bucket, ok := buckets[e]
		if !ok {
			continue
		}
		treatedCum := Pool(treatedDists(bucket), Weights(bucket), grid)
		et := e
		out = append(out, model.QTE{
			EventTime: &et,
			Probs:     probs,
			Effects:   curve(grid, treatedCum, cfCum, probs),
		})
	}
	return out, realized, nil
}
