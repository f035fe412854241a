// Package analyze implements the empirical distribution primitives used by
// the estimator: step-function CDFs, the nine Hyndman–Fan sample quantile
// rules, and a descriptive summary of QTE curves across replicates.
// All functions are pure; no I/O.
package analyze

import (
	"math"
	"sort"

	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
)

// ─── Empirical CDF ────────────────────────────────────────────────────────────

// ECDF is a right-continuous empirical distribution function.
type ECDF struct {
	d model.Distribution
}

// NewECDF builds the empirical CDF of xs. Ties collapse into a single step.
// xs is not modified.
func NewECDF(xs []float64) ECDF {
	if len(xs) == 0 {
		return ECDF{}
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	n := float64(len(sorted))
	values := make([]float64, 0, len(sorted))
	cum := make([]float64, 0, len(sorted))
	for i := 0; i < len(sorted); {
		j := i
		for j < len(sorted) && sorted[j] == sorted[i] {
			j++
		}
		values = append(values, sorted[i])
		cum = append(cum, float64(j)/n)
		i = j
	}
	// Guard against 0.9999999 from the final division.
	cum[len(cum)-1] = 1
	return ECDF{d: model.Distribution{Values: values, Cum: cum}}
}

// FromDistribution wraps an existing step function.
func FromDistribution(d model.Distribution) ECDF { return ECDF{d: d} }

// Distribution returns the underlying (value, cumulative) pairs.
func (e ECDF) Distribution() model.Distribution { return e.d }

// Len returns the number of steps.
func (e ECDF) Len() int { return len(e.d.Values) }

// Eval returns the proportion of the sample ≤ x.
func (e ECDF) Eval(x float64) float64 {
	// First index with Values[i] > x.
	i := sort.Search(len(e.d.Values), func(i int) bool { return e.d.Values[i] > x })
	if i == 0 {
		return 0
	}
	return e.d.Cum[i-1]
}

// EvalMany evaluates the ECDF at each of xs.
func (e ECDF) EvalMany(xs []float64) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = e.Eval(x)
	}
	return out
}

// ─── Quantile rules ───────────────────────────────────────────────────────────

// Rule selects one of the nine Hyndman–Fan (1996) sample quantile
// definitions, numbered as in R's quantile(type=).
type Rule int

const (
	RuleInverseCDF      Rule = 1 // inverse of the ECDF
	RuleAveragedInverse Rule = 2 // inverse ECDF, averaging at discontinuities
	RuleNearestEven     Rule = 3 // nearest even order statistic (SAS)
	RuleLinearCDF       Rule = 4 // linear interpolation of the ECDF
	RuleHydrologist     Rule = 5 // piecewise linear, knots at (k-0.5)/n
	RuleWeibull         Rule = 6 // p[k] = k/(n+1) (Minitab, SPSS)
	RuleDefault         Rule = 7 // p[k] = (k-1)/(n-1) (R, Excel)
	RuleMedianUnbiased  Rule = 8 // approximately median-unbiased
	RuleNormalUnbiased  Rule = 9 // approximately unbiased for normal data
)

// ParseRule validates a quantile rule code.
func ParseRule(code int) (Rule, error) {
	if code < 1 || code > 9 {
		return 0, diag.Validationf("quantile rule %d: must be one of 1..9", code)
	}
	return Rule(code), nil
}

// fuzz matches the tolerance R applies when flooring the order-statistic index.
const fuzz = 4 * 2.220446049250313e-16

// Quantile returns the p-quantile of sorted under rule. sorted must be in
// ascending order and non-empty; p is clamped to [0,1].
func Quantile(sorted []float64, p float64, rule Rule) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p < 0 {
		p = 0
	} else if p > 1 {
		p = 1
	}
	nf := float64(n)

	var j int
	var h float64
	if rule <= RuleNearestEven {
		nppm := nf * p
		if rule == RuleNearestEven {
			nppm = nf*p - 0.5
		}
		j = int(math.Floor(nppm + fuzz))
		fj := float64(j)
		switch rule {
		case RuleInverseCDF:
			if nppm > fj {
				h = 1
			}
		case RuleAveragedInverse:
			if nppm > fj {
				h = 1
			} else {
				h = 0.5
			}
		case RuleNearestEven:
			if nppm != fj || j%2 != 0 {
				h = 1
			}
		}
	} else {
		var a, b float64
		switch rule {
		case RuleLinearCDF:
			a, b = 0, 1
		case RuleHydrologist:
			a, b = 0.5, 0.5
		case RuleWeibull:
			a, b = 0, 0
		case RuleDefault:
			a, b = 1, 1
		case RuleMedianUnbiased:
			a, b = 1.0/3, 1.0/3
		default:
			a, b = 3.0/8, 3.0/8
		}
		nppm := a + p*(nf+1-a-b)
		j = int(math.Floor(nppm + fuzz))
		h = nppm - float64(j)
		if math.Abs(h) < fuzz {
			h = 0
		}
	}

	lo, hi := padded(sorted, j+1), padded(sorted, j+2)
	switch {
	case h == 0:
		return lo
	case h == 1:
		return hi
	case lo == hi:
		return lo
	default:
		return (1-h)*lo + h*hi
	}
}

// padded indexes sorted as if it were extended by two copies of its minimum
// on the left and two copies of its maximum on the right.
func padded(sorted []float64, k int) float64 {
	i := k - 2
	if i < 0 {
		return sorted[0]
	}
	if i >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	return sorted[i]
}

// Quantiles evaluates Quantile at each of ps. xs need not be sorted.
func Quantiles(xs, ps []float64, rule Rule) []float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = Quantile(sorted, p, rule)
	}
	return out
}

// ─── Rounding ─────────────────────────────────────────────────────────────────

// Round rounds v to digits decimal places. Negative digits leaves v unchanged.
func Round(v float64, digits int) float64 {
	if digits < 0 {
		return v
	}
	scale := math.Pow(10, float64(digits))
	return math.Round(v*scale) / scale
}

// Grid returns the sorted distinct values of xs after rounding.
func Grid(xs []float64, digits int) []float64 {
	rounded := make([]float64, len(xs))
	for i, x := range xs {
		rounded[i] = Round(x, digits)
	}
	sort.Float64s(rounded)
	out := rounded[:0]
	for _, v := range rounded {
		if len(out) == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}
