// Package panel turns a raw tabular input into the normalized panel the
// estimator runs on. Column references are resolved once, up front, into
// indices; preparation then drops never-eligible units, re-indexes periods
// so the first observed period is 1, and removes undersized cohorts.
package panel

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
)

// Frame is a raw table: a header row and string cells, as read from a file.
type Frame struct {
	Header []string
	Rows   [][]string
}

// ─── Column resolution ────────────────────────────────────────────────────────

// Columns names the four panel roles.
type Columns struct {
	Outcome string `json:"outcome"`
	Cohort  string `json:"cohort"`
	Period  string `json:"period"`
	Unit    string `json:"unit"`
}

// Resolved holds the header index of each role.
type Resolved struct {
	Outcome, Cohort, Period, Unit int
}

// Resolve maps every column name to exactly one header position. Matching is
// exact after trimming surrounding whitespace.
func (c Columns) Resolve(header []string) (Resolved, error) {
	pos := make(map[string][]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		pos[h] = append(pos[h], i)
	}

	lookup := func(role, name string) (int, error) {
		name = strings.TrimSpace(name)
		if name == "" {
			return 0, diag.Validationf("%s column is not set", role)
		}
		idx := pos[name]
		switch len(idx) {
		case 0:
			return 0, diag.Validationf("%s column %q not found in header %v", role, name, header)
		case 1:
			return idx[0], nil
		default:
			return 0, diag.Validationf("%s column %q is ambiguous: matches %d header columns", role, name, len(idx))
		}
	}

	var r Resolved
	var err error
	if r.Outcome, err = lookup("outcome", c.Outcome); err != nil {
		return r, err
	}
	if r.Cohort, err = lookup("cohort", c.Cohort); err != nil {
		return r, err
	}
	if r.Period, err = lookup("period", c.Period); err != nil {
		return r, err
	}
	if r.Unit, err = lookup("unit", c.Unit); err != nil {
		return r, err
	}

	seen := map[int]string{}
	for _, x := range []struct {
		role string
		idx  int
	}{{"outcome", r.Outcome}, {"cohort", r.Cohort}, {"period", r.Period}, {"unit", r.Unit}} {
		if prev, dup := seen[x.idx]; dup {
			return r, diag.Validationf("%s and %s columns both resolve to %q", prev, x.role, header[x.idx])
		}
		seen[x.idx] = x.role
	}
	return r, nil
}

// ─── Parsing ──────────────────────────────────────────────────────────────────

// isMissing reports whether a cell denotes a missing value.
func isMissing(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", ".", "NA", "NAN", "NULL":
		return true
	}
	return false
}

func parseInt(cell string) (int, error) {
	cell = strings.TrimSpace(cell)
	if v, err := strconv.Atoi(cell); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a number")
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer")
	}
	return int(f), nil
}

// parseCohort is parseInt that also reads a missing or infinite cell as
// model.NeverTreated.
func parseCohort(cell string) (int, error) {
	if isMissing(cell) {
		return model.NeverTreated, nil
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil && math.IsInf(f, 0) {
		return model.NeverTreated, nil
	}
	return parseInt(cell)
}

// FromFrame parses frame into a Panel. Rows with a missing outcome are
// dropped and counted. A missing or infinite cohort marks a never-treated
// unit, which Prepare drops. Any other unparseable cell, or an empty unit,
// is a validation error.
func FromFrame(frame *Frame, cols Columns, collector *diag.Collector) (*model.Panel, error) {
	r, err := cols.Resolve(frame.Header)
	if err != nil {
		return nil, err
	}
	width := max(r.Outcome, r.Cohort, r.Period, r.Unit) + 1

	p := &model.Panel{Obs: make([]model.Observation, 0, len(frame.Rows))}
	missing := 0
	for i, row := range frame.Rows {
		line := i + 2 // 1-based, after the header
		if len(row) < width {
			return nil, diag.Validationf("row %d: expected at least %d cells, got %d", line, width, len(row))
		}
		if isMissing(row[r.Outcome]) {
			missing++
			continue
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(row[r.Outcome]), 64)
		if err != nil {
			return nil, diag.WrapValidation(err, "row %d: outcome %q", line, row[r.Outcome])
		}
		if math.IsInf(y, 0) {
			return nil, diag.Validationf("row %d: outcome %q is not finite", line, row[r.Outcome])
		}
		unit := strings.TrimSpace(row[r.Unit])
		if unit == "" {
			return nil, diag.Validationf("row %d: unit is empty", line)
		}
		g, err := parseCohort(row[r.Cohort])
		if err != nil {
			return nil, diag.WrapValidation(err, "row %d: cohort %q", line, row[r.Cohort])
		}
		t, err := parseInt(row[r.Period])
		if err != nil {
			return nil, diag.WrapValidation(err, "row %d: period %q", line, row[r.Period])
		}
		p.Obs = append(p.Obs, model.Observation{
			Unit:    unit,
			Cohort:  g,
			Period:  t,
			Outcome: y,
		})
	}
	if missing > 0 && collector != nil {
		collector.Warnf(diag.WarnMissingOutcome, diag.RunLevel, "",
			"dropped %d of %d rows with a missing outcome", missing, len(frame.Rows))
	}
	if len(p.Obs) == 0 {
		return nil, diag.DataSufficiencyf("panel has no rows with an observed outcome")
	}
	return p, nil
}

// ─── Preparation ──────────────────────────────────────────────────────────────

// Prepared is the normalized panel together with its replicate-invariant
// cohort and period sets.
type Prepared struct {
	Panel        *model.Panel
	Index        model.PanelIndex
	CohortSizes  map[int]int
	DroppedUnits int
}

// Prepare validates and normalizes raw. raw is not modified.
func Prepare(raw *model.Panel, nMin int, collector *diag.Collector) (*Prepared, error) {
	if nMin < 1 {
		return nil, diag.Validationf("minimum cell size must be positive, got %d", nMin)
	}
	if raw == nil || raw.Len() == 0 {
		return nil, diag.DataSufficiencyf("panel is empty")
	}

	// 1. Drop units whose cohort never appears as a period. This covers
	// model.NeverTreated.
	periodSet := make(map[int]bool)
	for _, o := range raw.Obs {
		periodSet[o.Period] = true
	}
	eligible := make([]model.Observation, 0, raw.Len())
	dropped := make(map[string]bool)
	for _, o := range raw.Obs {
		if !periodSet[o.Cohort] {
			dropped[o.Unit] = true
			continue
		}
		eligible = append(eligible, o)
	}
	if len(eligible) == 0 {
		return nil, diag.DataSufficiencyf("no unit has a cohort that matches an observed period")
	}

	// 2. Shift cohort and period together so the first period is 1.
	first := eligible[0].Period
	for _, o := range eligible {
		if o.Period < first {
			first = o.Period
		}
	}
	shift := 1 - first
	for i := range eligible {
		eligible[i].Period += shift
		eligible[i].Cohort += shift
	}

	// 3. Cohort sizes in unique units.
	units := make(map[int]map[string]bool)
	for _, o := range eligible {
		if units[o.Cohort] == nil {
			units[o.Cohort] = make(map[string]bool)
		}
		units[o.Cohort][o.Unit] = true
	}
	sizes := make(map[int]int, len(units))
	for g, u := range units {
		sizes[g] = len(u)
	}

	// 4. Drop undersized cohorts.
	var small []int
	for g, n := range sizes {
		if n < nMin {
			small = append(small, g)
		}
	}
	sort.Ints(small)
	if len(small) == len(sizes) {
		return nil, diag.DataSufficiencyf("all %d cohorts have fewer than %d units", len(sizes), nMin)
	}
	if len(small) > 0 {
		smallSet := make(map[int]bool, len(small))
		for _, g := range small {
			smallSet[g] = true
		}
		kept := eligible[:0]
		for _, o := range eligible {
			if !smallSet[o.Cohort] {
				kept = append(kept, o)
			}
		}
		eligible = kept
		if collector != nil {
			collector.Warnf(diag.WarnCohortSize, diag.RunLevel, "",
				"dropped %d of %d cohorts (%.1f%%) with fewer than %d units: %v",
				len(small), len(sizes), 100*float64(len(small))/float64(len(sizes)), nMin, unshift(small, shift))
		}
		for _, g := range small {
			delete(sizes, g)
		}
	}

	idx := model.PanelIndex{Shift: shift}
	cohortSet := make(map[int]bool)
	periodSet = make(map[int]bool)
	for _, o := range eligible {
		cohortSet[o.Cohort] = true
		periodSet[o.Period] = true
	}
	idx.Cohorts = sortedKeys(cohortSet)
	idx.Periods = sortedKeys(periodSet)
	idx.LastCohort = idx.Cohorts[len(idx.Cohorts)-1]

	slog.Info("panel prepared",
		"rows", len(eligible),
		"cohorts", len(idx.Cohorts),
		"periods", len(idx.Periods),
		"dropped_units", len(dropped),
		"shift", shift)

	return &Prepared{
		Panel:        &model.Panel{Obs: eligible},
		Index:        idx,
		CohortSizes:  sizes,
		DroppedUnits: len(dropped),
	}, nil
}

func sortedKeys(m map[int]bool) []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// unshift maps re-indexed values back to the caller's original scale.
func unshift(vals []int, shift int) []int {
	out := make([]int, len(vals))
	for i, v := range vals {
		out[i] = v - shift
	}
	return out
}
