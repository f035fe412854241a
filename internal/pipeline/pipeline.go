// Package pipeline reads panel files into raw frames and writes panels and
// QTE curves back out. JSONL is the canonical pipe format; CSV, TSV and XLSX
// are accepted for input.
package pipeline

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/derickschaefer/cicqte/internal/model"
	"github.com/derickschaefer/cicqte/internal/panel"
)

// Format names a tabular file format.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatTSV   Format = "tsv"
	FormatJSONL Format = "jsonl"
	FormatXLSX  Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatTSV, FormatJSONL, FormatXLSX:
		return f, nil
	case "ndjson", "json":
		return FormatJSONL, nil
	}
	return "", fmt.Errorf("unknown input format %q (valid: csv, tsv, jsonl, xlsx)", s)
}

// DetectFormat infers the format from a file extension, defaulting to CSV.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".tab":
		return FormatTSV
	case ".jsonl", ".ndjson", ".json":
		return FormatJSONL
	case ".xlsx", ".xlsm":
		return FormatXLSX
	}
	return FormatCSV
}

// ─── Reading ──────────────────────────────────────────────────────────────────

// ReadFile opens path and reads it as format. An empty format is detected
// from the extension. path "-" reads stdin.
func ReadFile(path string, format Format) (*panel.Frame, error) {
	if format == "" {
		format = DetectFormat(path)
	}
	if path == "-" {
		return ReadFrame(os.Stdin, format)
	}
	if format == FormatXLSX {
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()
		return readWorkbook(f)
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening panel file: %w", err)
	}
	defer fh.Close()
	return ReadFrame(fh, format)
}

// ReadFrame reads a header row and data rows from r.
func ReadFrame(r io.Reader, format Format) (*panel.Frame, error) {
	switch format {
	case FormatCSV:
		return readDelimited(r, ',')
	case FormatTSV:
		return readDelimited(r, '\t')
	case FormatJSONL:
		return readJSONL(r)
	case FormatXLSX:
		f, err := excelize.OpenReader(r)
		if err != nil {
			return nil, fmt.Errorf("reading workbook: %w", err)
		}
		defer f.Close()
		return readWorkbook(f)
	}
	return nil, fmt.Errorf("unknown input format %q", format)
}

func readDelimited(r io.Reader, sep rune) (*panel.Frame, error) {
	cr := csv.NewReader(r)
	cr.Comma = sep
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("no header row read from input (is it empty?)")
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	frame := &panel.Frame{Header: header}
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(frame.Rows)+2, err)
		}
		frame.Rows = append(frame.Rows, rec)
	}
	return frame, nil
}

// readJSONL reads one JSON object per line. The header is the union of keys
// in first-seen order; keys first seen on the same line are sorted. Numbers
// keep their literal text and null becomes an empty (missing) cell.
func readJSONL(r io.Reader) (*panel.Frame, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var records []map[string]any
	index := map[string]int{}
	frame := &panel.Frame{}

	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNum++
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(line))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("line %d: invalid JSON: %w", lineNum, err)
		}
		var fresh []string
		for k := range rec {
			if _, ok := index[k]; !ok {
				fresh = append(fresh, k)
			}
		}
		sort.Strings(fresh)
		for _, k := range fresh {
			index[k] = len(frame.Header)
			frame.Header = append(frame.Header, k)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no records read from input (is stdin empty?)")
	}

	for i, rec := range records {
		row := make([]string, len(frame.Header))
		for k, v := range rec {
			cell, err := cellString(v)
			if err != nil {
				return nil, fmt.Errorf("record %d, field %q: %w", i+1, k, err)
			}
			row[index[k]] = cell
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

func cellString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case json.Number:
		return x.String(), nil
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	}
	return "", fmt.Errorf("unexpected value type %T", v)
}

// readWorkbook reads the first sheet that has a header and at least one row.
func readWorkbook(f *excelize.File) (*panel.Frame, error) {
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q: %w", sheet, err)
		}
		if len(rows) < 2 {
			continue
		}
		frame := &panel.Frame{Header: rows[0]}
		for _, row := range rows[1:] {
			// GetRows trims trailing empty cells; pad to the header width.
			for len(row) < len(frame.Header) {
				row = append(row, "")
			}
			frame.Rows = append(frame.Rows, row)
		}
		return frame, nil
	}
	return nil, fmt.Errorf("workbook has no sheet with a header and data rows")
}

// ─── Writing ──────────────────────────────────────────────────────────────────

// PanelHeader is the column order WritePanel emits.
var PanelHeader = []string{"unit", "cohort", "period", "outcome"}

func panelRow(o model.Observation) []string {
	return []string{
		o.Unit,
		strconv.Itoa(o.Cohort),
		strconv.Itoa(o.Period),
		strconv.FormatFloat(o.Outcome, 'g', -1, 64),
	}
}

// WritePanel writes p to w as csv, tsv, jsonl or xlsx.
func WritePanel(w io.Writer, p *model.Panel, format Format) error {
	switch format {
	case FormatCSV, FormatTSV:
		cw := csv.NewWriter(w)
		if format == FormatTSV {
			cw.Comma = '\t'
		}
		if err := cw.Write(PanelHeader); err != nil {
			return err
		}
		for _, o := range p.Obs {
			if err := cw.Write(panelRow(o)); err != nil {
				return err
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, o := range p.Obs {
			if err := enc.Encode(o); err != nil {
				return err
			}
		}
		return nil
	case FormatXLSX:
		return writeWorkbook(w, p)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func writeWorkbook(w io.Writer, p *model.Panel) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	header := make([]any, len(PanelHeader))
	for i, h := range PanelHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	for i, o := range p.Obs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{o.Unit, o.Cohort, o.Period, o.Outcome}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// QTERecord is one point of a QTE curve in the JSONL stream.
type QTERecord struct {
	RunID     string  `json:"run_id"`
	Replicate int     `json:"replicate"`
	EventTime *int    `json:"event_time"`
	Prob      float64 `json:"prob"`
	Effect    float64 `json:"effect"`
}

// WriteQTEJSONL writes every curve point of rc as one JSON line, ordered by
// replicate, event time, then probability.
func WriteQTEJSONL(w io.Writer, rc *model.ResultCollection) error {
	enc := json.NewEncoder(w)
	for _, rep := range rc.Replicates {
		for _, q := range rep.QTE {
			for i, p := range q.Probs {
				rec := QTERecord{
					RunID:     rc.RunID,
					Replicate: rep.Index,
					EventTime: q.EventTime,
					Prob:      p,
					Effect:    q.Effects[i],
				}
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// ReadQTEJSONL rebuilds the curves of a collection from the stream written
// by WriteQTEJSONL. Replicates come back in index order; the per-combination
// detail and configuration are not part of the stream.
func ReadQTEJSONL(r io.Reader) (*model.ResultCollection, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	type curveKey struct {
		rep   int
		event int
	}
	rc := &model.ResultCollection{}
	reps := map[int]*model.Replicate{}
	curves := map[curveKey]*model.QTE{}
	var order []curveKey

	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNum++
		if line == "" {
			continue
		}
		var rec QTERecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("line %d: invalid QTE record: %w", lineNum, err)
		}
		if rc.RunID == "" {
			rc.RunID = rec.RunID
		}
		if _, ok := reps[rec.Replicate]; !ok {
			reps[rec.Replicate] = &model.Replicate{Index: rec.Replicate, Status: model.StatusCompleted}
		}
		k := curveKey{rep: rec.Replicate, event: -1}
		if rec.EventTime != nil {
			k.event = *rec.EventTime
			rc.EventStudy = true
			rc.MaxHorizon = max(rc.MaxHorizon, k.event)
		}
		q, ok := curves[k]
		if !ok {
			q = &model.QTE{EventTime: rec.EventTime}
			curves[k] = q
			order = append(order, k)
		}
		q.Probs = append(q.Probs, rec.Prob)
		q.Effects = append(q.Effects, rec.Effect)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading input: %w", err)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no QTE records read from input (is stdin empty?)")
	}

	for _, k := range order {
		reps[k.rep].QTE = append(reps[k.rep].QTE, *curves[k])
	}
	idx := make([]int, 0, len(reps))
	for j := range reps {
		idx = append(idx, j)
	}
	sort.Ints(idx)
	for _, j := range idx {
		rep := reps[j]
		rep.Horizon = rc.MaxHorizon
		rc.Replicates = append(rc.Replicates, *rep)
	}
	rc.Probs = rc.Replicates[0].QTE[0].Probs
	return rc, nil
}
