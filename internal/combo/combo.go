// Package combo enumerates the valid 2×2 comparisons of a staggered panel.
package combo

import (
	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
)

// NoHorizon disables the event-time restriction.
const NoHorizon = -1

// Enumerate returns every CombinationSpec (c1, c2, t1, t0) with
//
//	c1 neither the first nor the last cohort,
//	c2 > c1,
//	c1 ≤ t1 ≤ lastCohort-1 and t1 < c2,
//	t0 < c1,
//
// ordered by c1, c2, t1, t0 ascending. When horizon ≥ 0 only post periods
// with t1-c1 ≤ horizon are kept.
func Enumerate(idx model.PanelIndex, horizon int) ([]model.CombinationSpec, error) {
	cohorts := idx.Cohorts
	if len(cohorts) < 3 {
		return nil, diag.Validationf("not enough cohorts: need at least 3 to form a treated cohort with a pre-period and a comparison cohort, got %d", len(cohorts))
	}
	treated := cohorts[1 : len(cohorts)-1]

	var specs []model.CombinationSpec
	for ci, c1 := range treated {
		// Cohorts after c1 in the full (sorted) list.
		for _, c2 := range cohorts[ci+2:] {
			for _, t1 := range idx.Periods {
				if t1 < c1 || t1 > idx.LastCohort-1 || t1 >= c2 {
					continue
				}
				if horizon >= 0 && t1-c1 > horizon {
					continue
				}
				for _, t0 := range idx.Periods {
					if t0 >= c1 {
						break
					}
					specs = append(specs, model.CombinationSpec{
						Treated:    c1,
						Comparison: c2,
						Post:       t1,
						Pre:        t0,
					})
				}
			}
		}
	}
	if len(specs) == 0 {
		return nil, diag.Validationf("not enough cohorts: no valid treated/comparison/period combination exists")
	}
	return specs, nil
}

// MaxHorizon returns the largest event time t1-c1 among specs, or 0 if specs
// is empty.
func MaxHorizon(specs []model.CombinationSpec) int {
	m := 0
	for _, s := range specs {
		if e := s.EventTime(); e > m {
			m = e
		}
	}
	return m
}

// Filter returns the specs whose event time does not exceed horizon.
func Filter(specs []model.CombinationSpec, horizon int) []model.CombinationSpec {
	if horizon < 0 {
		return specs
	}
	out := make([]model.CombinationSpec, 0, len(specs))
	for _, s := range specs {
		if s.EventTime() <= horizon {
			out = append(out, s)
		}
	}
	return out
}
