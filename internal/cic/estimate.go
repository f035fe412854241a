// Package cic implements the Changes-in-Changes estimation core: the 2×2
// counterfactual construction for one (treated, comparison, post, pre)
// combination, and the pooling of many such estimates into quantile
// treatment effects.
package cic

import (
	"fmt"

	"github.com/derickschaefer/cicqte/internal/analyze"
	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
)

// Cells holds the outcomes of the four cells of one 2×2 comparison.
type Cells struct {
	TreatedPost    []float64 // y11
	TreatedPre     []float64 // y10
	ComparisonPost []float64 // y01
	ComparisonPre  []float64 // y00
}

// Split restricts p to the cohorts and periods of spec and sorts each row
// into its cell. Membership in the treated arm is cohort == spec.Treated.
func Split(p *model.Panel, spec model.CombinationSpec) Cells {
	var c Cells
	for _, o := range p.Obs {
		if o.Cohort != spec.Treated && o.Cohort != spec.Comparison {
			continue
		}
		treated := o.Cohort == spec.Treated
		switch {
		case o.Period == spec.Post && treated:
			c.TreatedPost = append(c.TreatedPost, o.Outcome)
		case o.Period == spec.Pre && treated:
			c.TreatedPre = append(c.TreatedPre, o.Outcome)
		case o.Period == spec.Post:
			c.ComparisonPost = append(c.ComparisonPost, o.Outcome)
		case o.Period == spec.Pre:
			c.ComparisonPre = append(c.ComparisonPre, o.Outcome)
		}
	}
	return c
}

// smallest returns the name and size of the smallest cell.
func (c Cells) smallest() (string, int) {
	name, n := "treated/post", len(c.TreatedPost)
	for _, x := range []struct {
		name string
		n    int
	}{
		{"treated/pre", len(c.TreatedPre)},
		{"comparison/post", len(c.ComparisonPost)},
		{"comparison/pre", len(c.ComparisonPre)},
	} {
		if x.n < n {
			name, n = x.name, x.n
		}
	}
	return name, n
}

// Counterfactual maps the treated arm's pre-period outcomes through the
// comparison arm's change between periods: each treated pre outcome is
// ranked in the comparison pre distribution, and that rank is looked up in
// the comparison post distribution under rule.
func Counterfactual(c Cells, rule analyze.Rule) []float64 {
	ranks := analyze.NewECDF(c.ComparisonPre).EvalMany(c.TreatedPre)
	return analyze.Quantiles(c.ComparisonPost, ranks, rule)
}

// EstimateCell computes the treated and counterfactual distributions of one
// combination. When any cell has fewer than nMin rows it returns ok=false and
// a data sufficiency warning instead; the caller fills in the replicate.
func EstimateCell(p *model.Panel, spec model.CombinationSpec, rule analyze.Rule, nMin int) (model.CombinationResult, bool, *diag.Warning) {
	c := Split(p, spec)
	if name, n := c.smallest(); n < nMin {
		return model.CombinationResult{Spec: spec}, false, &diag.Warning{
			Kind:        diag.WarnDataSufficiency,
			Replicate:   diag.RunLevel,
			Combination: spec.Key(),
			Message:     skipMessage(name, n, nMin),
		}
	}

	treated := analyze.NewECDF(c.TreatedPost).Distribution()
	cf := analyze.NewECDF(Counterfactual(c, rule)).Distribution()
	return model.CombinationResult{
		Spec:           spec,
		Treated:        &treated,
		Counterfactual: &cf,
		N1:             len(c.TreatedPost),
		N0:             len(c.ComparisonPost),
	}, true, nil
}

func skipMessage(cell string, n, nMin int) string {
	return fmt.Sprintf("skipped: %s cell has %d rows, fewer than the minimum of %d", cell, n, nMin)
}
