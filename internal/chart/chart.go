// Package chart draws QTE curves in the terminal.
//
//   - Bar: one horizontal bar per probability, left or right of a zero line
//   - Plot: effect against probability on a box-drawn line chart
//
// NaN effects are skipped by Bar and left as gaps by Plot.
package chart

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/derickschaefer/cicqte/internal/analyze"
)

// Point is one curve point: the probability and the effect there.
type Point struct {
	Prob   float64
	Effect float64
}

// Curve is a labelled QTE curve.
type Curve struct {
	Title  string
	Points []Point
}

// FromSummary returns one curve of replicate-mean effects per event time in
// sum, or a single pooled curve.
func FromSummary(sum analyze.Summary) []Curve {
	var out []Curve
	idx := map[int]int{}
	for _, r := range sum.Rows {
		i, ok := idx[r.EventTime]
		if !ok {
			title := fmt.Sprintf("QTE (mean of %d replicates)", sum.Replicates)
			if sum.EventStudy {
				title = fmt.Sprintf("QTE at event time %d (mean of %d replicates)", r.EventTime, r.N)
			}
			i = len(out)
			idx[r.EventTime] = i
			out = append(out, Curve{Title: title})
		}
		out[i].Points = append(out[i].Points, Point{Prob: r.Prob, Effect: r.Mean})
	}
	return out
}

// ─── Bar ─────────────────────────────────────────────────────────────────────

// BarOptions controls horizontal bar rendering.
type BarOptions struct {
	// Width is the total character width. 0 reads $COLUMNS, falling back to 80.
	Width int
}

// Bar renders c as one bar per probability:
//
//	QTE (mean of 50 replicates)
//	0.1   0.84  │████████
//	0.5   1.02  │██████████
//	0.9  -0.31 ███│
func Bar(w io.Writer, c Curve, opts BarOptions) error {
	width := opts.Width
	if width <= 0 {
		width = termWidth()
	}

	var pts []Point
	for _, p := range c.Points {
		if !math.IsNaN(p.Effect) {
			pts = append(pts, p)
		}
	}
	if len(pts) == 0 {
		return fmt.Errorf("chart bar: %q has no finite effects", c.Title)
	}

	// The zero line is always inside the range so bars read as signed.
	lo, hi := 0.0, 0.0
	labelW, valW := 0, 0
	for _, p := range pts {
		lo = math.Min(lo, p.Effect)
		hi = math.Max(hi, p.Effect)
		labelW = max(labelW, len(formatProb(p.Prob)))
		valW = max(valW, len(formatFloat(p.Effect)))
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	area := max(width-labelW-valW-4, 4)
	zero := int(math.Round(-lo / span * float64(area-1)))

	fmt.Fprintln(w, c.Title)
	for _, p := range pts {
		fmt.Fprintf(w, "%-*s  %*s  %s\n", labelW, formatProb(p.Prob), valW, formatFloat(p.Effect),
			signedBar(p.Effect, span, area, zero))
	}
	return nil
}

// signedBar fills from the zero column toward v, scaled so span covers area.
func signedBar(v, span float64, area, zero int) string {
	buf := []rune(strings.Repeat(" ", area))
	if zero >= 0 && zero < area {
		buf[zero] = '│'
	}
	n := int(math.Round(math.Abs(v) / span * float64(area-1)))
	if v >= 0 {
		for i := zero + 1; i <= zero+n && i < area; i++ {
			buf[i] = '█'
		}
	} else {
		for i := max(zero-n, 0); i < zero; i++ {
			buf[i] = '█'
		}
	}
	return strings.TrimRight(string(buf), " ")
}

// ─── Plot ─────────────────────────────────────────────────────────────────────

// PlotOptions controls line chart rendering.
type PlotOptions struct {
	// Width is the total character width including the y-axis labels.
	// 0 reads $COLUMNS, falling back to 80.
	Width int
	// Height is the number of chart rows. 0 means 12.
	Height int
}

// Plot renders c as a line chart with effect ticks on the y axis and the
// first, middle and last probabilities on the x axis.
func Plot(w io.Writer, c Curve, opts PlotOptions) error {
	width := opts.Width
	if width <= 0 {
		width = termWidth()
	}
	height := opts.Height
	if height <= 0 {
		height = 12
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	finite := 0
	for _, p := range c.Points {
		if math.IsNaN(p.Effect) {
			continue
		}
		finite++
		lo = math.Min(lo, p.Effect)
		hi = math.Max(hi, p.Effect)
	}
	if finite < 2 {
		return fmt.Errorf("chart plot: need at least 2 finite effects, got %d", finite)
	}

	ticks := yTicks(lo, hi, height)
	tickW := 0
	for _, t := range ticks {
		tickW = max(tickW, len(formatFloat(t)))
	}
	plotW := max(width-tickW-1, 10)

	grid := buildGrid(columns(c.Points, plotW), lo, hi, height)

	fmt.Fprintln(w, c.Title)
	for row := 0; row < height; row++ {
		label := ""
		for _, t := range ticks {
			if math.Abs(rowOf(t, lo, hi, height)-float64(row)) < 0.5 {
				label = formatFloat(t)
				break
			}
		}
		axis := " "
		if label != "" {
			axis = "┤"
		}
		fmt.Fprintf(w, "%*s%s%s\n", tickW, label, axis, string(grid[row]))
	}
	fmt.Fprintf(w, "%s└%s\n", strings.Repeat(" ", tickW), strings.Repeat("─", plotW))
	fmt.Fprintf(w, "%s %s\n", strings.Repeat(" ", tickW), xLabels(c.Points, plotW))
	return nil
}

// columns spreads pts over n columns. Each column takes the mean effect of
// the points falling in it; columns between points interpolate linearly so
// the curve stays connected.
func columns(pts []Point, n int) []float64 {
	cols := make([]float64, n)
	if len(pts) == 1 {
		for i := range cols {
			cols[i] = pts[0].Effect
		}
		return cols
	}
	for col := range cols {
		// Position of this column along the point index axis.
		x := float64(col) / float64(n-1) * float64(len(pts)-1)
		i := int(math.Floor(x))
		if i >= len(pts)-1 {
			cols[col] = pts[len(pts)-1].Effect
			continue
		}
		a, b := pts[i].Effect, pts[i+1].Effect
		if math.IsNaN(a) || math.IsNaN(b) {
			cols[col] = math.NaN()
			continue
		}
		cols[col] = a + (x-float64(i))*(b-a)
	}
	return cols
}

// rowOf maps v to a fractional row, 0 at hi and height-1 at lo.
func rowOf(v, lo, hi float64, height int) float64 {
	if hi == lo {
		return float64(height) / 2
	}
	return (hi - v) / (hi - lo) * float64(height-1)
}

// buildGrid draws cols into a height×len(cols) grid, joining neighbouring
// columns with box-drawing characters. NaN columns stay blank.
func buildGrid(cols []float64, lo, hi float64, height int) [][]rune {
	grid := make([][]rune, height)
	for r := range grid {
		grid[r] = []rune(strings.Repeat(" ", len(cols)))
	}

	const gap = -1
	rows := make([]int, len(cols))
	for c, v := range cols {
		if math.IsNaN(v) {
			rows[c] = gap
			continue
		}
		rows[c] = min(max(int(math.Round(rowOf(v, lo, hi, height))), 0), height-1)
	}

	for c, r := range rows {
		if r == gap {
			continue
		}
		prev, next := gap, gap
		if c > 0 {
			prev = rows[c-1]
		}
		if c < len(rows)-1 {
			next = rows[c+1]
		}

		switch {
		case prev == gap && next == gap:
			grid[r][c] = '·'
		case (prev == gap || prev == r) && (next == gap || next == r):
			grid[r][c] = '─'
		case next != gap && next > r && (prev == gap || prev <= r):
			grid[r][c] = '╮'
		case next != gap && next < r && (prev == gap || prev >= r):
			grid[r][c] = '╯'
		case prev != gap && prev < r:
			grid[r][c] = '╰'
		case prev != gap && prev > r:
			grid[r][c] = '╭'
		default:
			grid[r][c] = '─'
		}

		// Vertical run from the previous column's row.
		if prev != gap && prev != r {
			a, b := min(prev, r), max(prev, r)
			for fill := a + 1; fill < b; fill++ {
				if grid[fill][c] == ' ' {
					grid[fill][c] = '│'
				}
			}
		}
	}
	return grid
}

// ─── Axes ─────────────────────────────────────────────────────────────────────

// yTicks returns evenly spaced tick values from lo to hi.
func yTicks(lo, hi float64, height int) []float64 {
	if hi == lo {
		return []float64{lo}
	}
	n := 4
	if height <= 6 {
		n = 3
	}
	ticks := make([]float64, n)
	for i := range ticks {
		ticks[i] = lo + float64(i)*(hi-lo)/float64(n-1)
	}
	return ticks
}

// xLabels places the first, middle and last probabilities under the axis.
func xLabels(pts []Point, width int) string {
	if len(pts) == 0 {
		return ""
	}
	buf := []rune(strings.Repeat(" ", width))
	put := func(pos int, s string) {
		for i, ch := range s {
			if pos+i >= 0 && pos+i < len(buf) {
				buf[pos+i] = ch
			}
		}
	}
	first := formatProb(pts[0].Prob)
	mid := formatProb(pts[len(pts)/2].Prob)
	last := formatProb(pts[len(pts)-1].Prob)
	put(0, first)
	put(width/2-len(mid)/2, mid)
	put(width-len(last), last)
	return strings.TrimRight(string(buf), " ")
}

// ─── Formatting ───────────────────────────────────────────────────────────────

func formatProb(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}

// formatFloat trims trailing zeros but keeps one decimal. Magnitudes below 1
// keep four decimals.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	if v == 0 {
		return "0"
	}
	prec := 2
	if math.Abs(v) < 1 {
		prec = 4
	}
	s := strings.TrimRight(strconv.FormatFloat(v, 'f', prec, 64), "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

// termWidth reads $COLUMNS, defaulting to 80.
func termWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if n, err := strconv.Atoi(cols); err == nil && n > 20 {
			return n
		}
	}
	return 80
}
