// Package render converts Result values into human-readable or machine-parseable
// output. Every tabular kind is first flattened into a sheet; the table, csv,
// tsv and markdown writers then share it. JSON and YAML encode the envelope.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/derickschaefer/cicqte/internal/analyze"
	"github.com/derickschaefer/cicqte/internal/model"
	"github.com/derickschaefer/cicqte/internal/pipeline"
)

// Format constants matching --format flag values.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatTSV   = "tsv"
	FormatMD    = "md"
	FormatYAML  = "yaml"
)

// Formats lists every accepted --format value.
var Formats = []string{FormatTable, FormatJSON, FormatJSONL, FormatCSV, FormatTSV, FormatMD, FormatYAML}

// Valid reports whether format is a known output format.
func Valid(format string) bool {
	for _, f := range Formats {
		if f == format {
			return true
		}
	}
	return false
}

// Render writes result to w in the specified format.
func Render(w io.Writer, result *model.Result, format string) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, result)
	case FormatYAML:
		return renderYAML(w, result)
	case FormatJSONL:
		return renderJSONL(w, result)
	case FormatCSV:
		return renderDelimited(w, result, ',')
	case FormatTSV:
		return renderDelimited(w, result, '\t')
	case FormatMD:
		return renderMarkdown(w, result)
	default:
		return renderTable(w, result)
	}
}

// ─── JSON / YAML ──────────────────────────────────────────────────────────────

func renderJSON(w io.Writer, result *model.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func renderYAML(w io.Writer, result *model.Result) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(result); err != nil {
		return err
	}
	return enc.Close()
}

// ─── JSONL ────────────────────────────────────────────────────────────────────

func renderJSONL(w io.Writer, result *model.Result) error {
	enc := json.NewEncoder(w)
	switch data := result.Data.(type) {
	case *model.ResultCollection:
		return pipeline.WriteQTEJSONL(w, data)
	case *model.Panel:
		return pipeline.WritePanel(w, data, pipeline.FormatJSONL)
	case analyze.Summary:
		for _, row := range data.Rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	case []model.RunInfo:
		for _, ri := range data {
			if err := enc.Encode(ri); err != nil {
				return err
			}
		}
		return nil
	case []model.Snapshot:
		for _, sn := range data {
			if err := enc.Encode(sn); err != nil {
				return err
			}
		}
		return nil
	default:
		return enc.Encode(result.Data)
	}
}

// ─── Sheets ───────────────────────────────────────────────────────────────────

// sheet is the flat form of a tabular payload. Numeric columns are right
// aligned in tables.
type sheet struct {
	title   string
	header  []string
	numeric []bool
	rows    [][]string
}

func (s *sheet) add(cols ...string) { s.rows = append(s.rows, cols) }

// sheetsFor flattens result.Data. ok is false when the kind has no tabular form.
func sheetsFor(result *model.Result) ([]*sheet, bool) {
	switch data := result.Data.(type) {
	case *model.ResultCollection:
		return []*sheet{replicateSheet(data), summarySheet(analyze.SummarizeReplicates(data))}, true
	case analyze.Summary:
		return []*sheet{summarySheet(data)}, true
	case []model.RunInfo:
		return []*sheet{runsSheet(data)}, true
	case []model.Snapshot:
		return []*sheet{snapshotsSheet(data)}, true
	case *model.Panel:
		return []*sheet{panelSheet(data)}, true
	}
	return nil, false
}

// curveSheet is the long form of every QTE curve point, used by csv and tsv.
func curveSheet(rc *model.ResultCollection) *sheet {
	s := &sheet{header: []string{"run_id", "replicate", "status", "event_time", "prob", "effect"}}
	for _, rep := range rc.Replicates {
		for _, q := range rep.QTE {
			e := ""
			if q.EventTime != nil {
				e = strconv.Itoa(*q.EventTime)
			}
			for i, p := range q.Probs {
				s.add(rc.RunID, strconv.Itoa(rep.Index), string(rep.Status), e,
					formatProb(p), formatValue(q.Effects[i]))
			}
		}
	}
	return s
}

func replicateSheet(rc *model.ResultCollection) *sheet {
	s := &sheet{
		title:   fmt.Sprintf("Run %s: %d replicates, %d combinations", rc.RunID, len(rc.Replicates), rc.Config.Specs),
		header:  []string{"REP", "STATUS", "HORIZON", "ESTIMATED", "SKIPPED", "WARNINGS"},
		numeric: []bool{true, false, true, true, true, true},
	}
	for _, rep := range rc.Replicates {
		h := "-"
		if rc.EventStudy {
			h = strconv.Itoa(rep.Horizon)
		}
		s.add(strconv.Itoa(rep.Index), string(rep.Status), h,
			strconv.Itoa(rep.Estimated), strconv.Itoa(rep.Skipped), strconv.Itoa(len(rep.Warnings)))
	}
	return s
}

func summarySheet(sum analyze.Summary) *sheet {
	s := &sheet{
		title:   fmt.Sprintf("QTE summary over %d replicates", sum.Replicates),
		header:  []string{"EVENT", "PROB", "N", "MEAN", "STD", "LO 2.5%", "HI 97.5%"},
		numeric: []bool{false, true, true, true, true, true, true},
	}
	for _, r := range sum.Rows {
		e := "pooled"
		if sum.EventStudy {
			e = strconv.Itoa(r.EventTime)
		}
		s.add(e, formatProb(r.Prob), strconv.Itoa(r.N),
			formatValue(r.Mean), formatValue(r.Std), formatValue(r.Lo), formatValue(r.Hi))
	}
	return s
}

func runsSheet(runs []model.RunInfo) *sheet {
	s := &sheet{
		header:  []string{"RUN ID", "CREATED", "OUTCOME", "REPS", "EVENT STUDY", "MAX HORIZON"},
		numeric: []bool{false, false, false, true, false, true},
	}
	for _, r := range runs {
		es, h := "no", "-"
		if r.EventStudy {
			es, h = "yes", strconv.Itoa(r.MaxHorizon)
		}
		s.add(r.RunID, r.CreatedAt.Format(time.RFC3339), r.Outcome, strconv.Itoa(r.Replicates), es, h)
	}
	return s
}

func snapshotsSheet(snaps []model.Snapshot) *sheet {
	s := &sheet{header: []string{"ID", "NAME", "COMMAND", "CREATED"}}
	for _, sn := range snaps {
		s.add(sn.ID, sn.Name, sn.CommandLine(), sn.CreatedAt.Format(time.RFC3339))
	}
	return s
}

func panelSheet(p *model.Panel) *sheet {
	s := &sheet{
		header:  []string{"UNIT", "COHORT", "PERIOD", "OUTCOME"},
		numeric: []bool{false, true, true, true},
	}
	for _, o := range p.Obs {
		s.add(o.Unit, strconv.Itoa(o.Cohort), strconv.Itoa(o.Period), formatValue(o.Outcome))
	}
	return s
}

// ─── Table ────────────────────────────────────────────────────────────────────

func renderTable(w io.Writer, result *model.Result) error {
	sheets, ok := sheetsFor(result)
	if !ok {
		return renderJSON(w, result)
	}
	for i, s := range sheets {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if s.title != "" {
			fmt.Fprintln(w, s.title)
		}
		tw := tablewriter.NewWriter(w)
		tw.SetHeader(s.header)
		tw.SetBorder(true)
		tw.SetRowLine(false)
		tw.SetAutoFormatHeaders(false)
		tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
		tw.SetAlignment(tablewriter.ALIGN_LEFT)
		if len(s.numeric) == len(s.header) {
			align := make([]int, len(s.header))
			for j, num := range s.numeric {
				if num {
					align[j] = tablewriter.ALIGN_RIGHT
				} else {
					align[j] = tablewriter.ALIGN_LEFT
				}
			}
			tw.SetColumnAlignment(align)
		}
		tw.SetAutoWrapText(false)
		tw.AppendBulk(s.rows)
		tw.Render()
	}
	return nil
}

// ─── CSV / TSV ────────────────────────────────────────────────────────────────

func renderDelimited(w io.Writer, result *model.Result, sep rune) error {
	var s *sheet
	switch data := result.Data.(type) {
	case *model.ResultCollection:
		s = curveSheet(data)
	case *model.Panel:
		format := pipeline.FormatCSV
		if sep == '\t' {
			format = pipeline.FormatTSV
		}
		return pipeline.WritePanel(w, data, format)
	default:
		sheets, ok := sheetsFor(result)
		if !ok {
			return fmt.Errorf("%s results have no delimited form; use --format json", result.Kind)
		}
		s = sheets[0]
	}

	cw := csv.NewWriter(w)
	cw.Comma = sep
	header := make([]string, len(s.header))
	for i, h := range s.header {
		header[i] = strings.ToLower(strings.ReplaceAll(h, " ", "_"))
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	if err := cw.WriteAll(s.rows); err != nil {
		return err
	}
	return cw.Error()
}

// ─── Markdown ─────────────────────────────────────────────────────────────────

func renderMarkdown(w io.Writer, result *model.Result) error {
	sheets, ok := sheetsFor(result)
	if !ok {
		return renderJSON(w, result)
	}
	for i, s := range sheets {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if s.title != "" {
			fmt.Fprintf(w, "**%s**\n\n", mdEscape(s.title))
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(s.header, " | "))
		seps := make([]string, len(s.header))
		for j := range seps {
			seps[j] = "---"
			if j < len(s.numeric) && s.numeric[j] {
				seps[j] = "---:"
			}
		}
		fmt.Fprintf(w, "|%s|\n", strings.Join(seps, "|"))
		for _, row := range s.rows {
			cells := make([]string, len(row))
			for j, c := range row {
				cells[j] = mdEscape(c)
			}
			fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
		}
	}
	return nil
}

// ─── Warnings / Stats Footer ─────────────────────────────────────────────────

// PrintFooter writes warnings, and stats when verbose mode is on.
func PrintFooter(w io.Writer, result *model.Result, verbose bool) {
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "⚠  %s\n", warn)
	}
	if verbose {
		fmt.Fprintf(w, "\n[%s • %d items • %dms]\n",
			result.GeneratedAt.Format(time.RFC3339),
			result.Stats.Items,
			result.Stats.DurationMs,
		)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// formatValue formats an estimate for display with up to six decimals,
// trimming trailing zeros but keeping one digit after the point.
// NaN renders as "NA".
func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "NA"
	}
	if math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	s := strings.TrimRight(fmt.Sprintf("%.6f", v), "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	if s == "-0.0" {
		s = "0.0"
	}
	return s
}

// formatProb prints a probability in its shortest exact form.
func formatProb(p float64) string {
	return strconv.FormatFloat(p, 'g', -1, 64)
}

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
