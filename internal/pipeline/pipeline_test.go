package pipeline_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/derickschaefer/cicqte/internal/model"
	"github.com/derickschaefer/cicqte/internal/panel"
	"github.com/derickschaefer/cicqte/internal/pipeline"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

func jsonl(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}

var cols = panel.Columns{Outcome: "outcome", Cohort: "cohort", Period: "period", Unit: "unit"}

func samplePanel() *model.Panel {
	return &model.Panel{Obs: []model.Observation{
		{Unit: "a", Cohort: 2, Period: 1, Outcome: 1.5},
		{Unit: "a", Cohort: 2, Period: 2, Outcome: -2.25},
		{Unit: "b", Cohort: 3, Period: 1, Outcome: 0},
		{Unit: "b", Cohort: 3, Period: 2, Outcome: 10},
	}}
}

func roundTrip(t *testing.T, format pipeline.Format) *model.Panel {
	t.Helper()
	var buf bytes.Buffer
	if err := pipeline.WritePanel(&buf, samplePanel(), format); err != nil {
		t.Fatalf("WritePanel(%s): %v", format, err)
	}
	frame, err := pipeline.ReadFrame(&buf, format)
	if err != nil {
		t.Fatalf("ReadFrame(%s): %v", format, err)
	}
	p, err := panel.FromFrame(frame, cols, nil)
	if err != nil {
		t.Fatalf("FromFrame(%s): %v", format, err)
	}
	return p
}

// ─── Formats ──────────────────────────────────────────────────────────────────

func TestParseFormat(t *testing.T) {
	cases := map[string]pipeline.Format{
		"csv":    pipeline.FormatCSV,
		" TSV ":  pipeline.FormatTSV,
		"jsonl":  pipeline.FormatJSONL,
		"ndjson": pipeline.FormatJSONL,
		"xlsx":   pipeline.FormatXLSX,
	}
	for in, want := range cases {
		got, err := pipeline.ParseFormat(in)
		if err != nil {
			t.Errorf("ParseFormat(%q): %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseFormat(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := pipeline.ParseFormat("parquet"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestDetectFormat(t *testing.T) {
	cases := map[string]pipeline.Format{
		"panel.csv":        pipeline.FormatCSV,
		"panel.TSV":        pipeline.FormatTSV,
		"dir/panel.ndjson": pipeline.FormatJSONL,
		"panel.xlsx":       pipeline.FormatXLSX,
		"panel":            pipeline.FormatCSV,
		"-":                pipeline.FormatCSV,
	}
	for in, want := range cases {
		if got := pipeline.DetectFormat(in); got != want {
			t.Errorf("DetectFormat(%q) = %q, want %q", in, got, want)
		}
	}
}

// ─── Reading ──────────────────────────────────────────────────────────────────

func TestReadCSV_StripsBOM(t *testing.T) {
	input := "\ufeffunit,cohort,period,outcome\nu1,2,1,3.5\n"
	frame, err := pipeline.ReadFrame(strings.NewReader(input), pipeline.FormatCSV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Header[0] != "unit" {
		t.Errorf("header[0]: expected unit, got %q", frame.Header[0])
	}
	if len(frame.Rows) != 1 || frame.Rows[0][3] != "3.5" {
		t.Errorf("unexpected rows: %v", frame.Rows)
	}
}

func TestReadCSV_Empty(t *testing.T) {
	if _, err := pipeline.ReadFrame(strings.NewReader(""), pipeline.FormatCSV); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestReadTSV(t *testing.T) {
	input := "unit\tcohort\tperiod\toutcome\nu1\t2\t1\t3.5\nu1\t2\t2\tNA\n"
	frame, err := pipeline.ReadFrame(strings.NewReader(input), pipeline.FormatTSV)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frame.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(frame.Rows))
	}
	if frame.Rows[1][3] != "NA" {
		t.Errorf("row 2 outcome: expected NA, got %q", frame.Rows[1][3])
	}
}

func TestReadJSONL_UnionHeaderAndNulls(t *testing.T) {
	input := jsonl(
		`{"unit":"u1","cohort":2,"period":1,"outcome":1.25}`,
		``,
		`{"unit":"u2","cohort":3,"period":1,"outcome":null,"weight":2}`,
	)
	frame, err := pipeline.ReadFrame(strings.NewReader(input), pipeline.FormatJSONL)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// First line keys sorted, then the new key from line two.
	want := []string{"cohort", "outcome", "period", "unit", "weight"}
	if strings.Join(frame.Header, ",") != strings.Join(want, ",") {
		t.Fatalf("header: expected %v, got %v", want, frame.Header)
	}
	if frame.Rows[0][1] != "1.25" {
		t.Errorf("row 1 outcome: expected literal 1.25, got %q", frame.Rows[0][1])
	}
	if frame.Rows[0][4] != "" {
		t.Errorf("row 1 weight: expected empty, got %q", frame.Rows[0][4])
	}
	if frame.Rows[1][1] != "" {
		t.Errorf("row 2 outcome: expected empty for null, got %q", frame.Rows[1][1])
	}

	p, err := panel.FromFrame(frame, cols, nil)
	if err != nil {
		t.Fatalf("FromFrame: %v", err)
	}
	if p.Len() != 1 {
		t.Errorf("expected the null-outcome row to be dropped, got %d rows", p.Len())
	}
}

func TestReadJSONL_Errors(t *testing.T) {
	cases := map[string]string{
		"invalid": jsonl(`{"unit":"u1"}`, `{not json}`),
		"nested":  jsonl(`{"unit":{"id":1}}`),
		"empty":   "\n\n",
	}
	for name, input := range cases {
		if _, err := pipeline.ReadFrame(strings.NewReader(input), pipeline.FormatJSONL); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestReadFrame_UnknownFormat(t *testing.T) {
	if _, err := pipeline.ReadFrame(strings.NewReader("x"), pipeline.Format("dta")); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

// ─── Round trips ──────────────────────────────────────────────────────────────

func TestWritePanel_RoundTrip(t *testing.T) {
	want := samplePanel()
	for _, f := range []pipeline.Format{pipeline.FormatCSV, pipeline.FormatTSV, pipeline.FormatJSONL, pipeline.FormatXLSX} {
		got := roundTrip(t, f)
		if got.Len() != want.Len() {
			t.Errorf("%s: expected %d rows, got %d", f, want.Len(), got.Len())
			continue
		}
		for i := range want.Obs {
			if got.Obs[i] != want.Obs[i] {
				t.Errorf("%s: row %d: expected %+v, got %+v", f, i, want.Obs[i], got.Obs[i])
			}
		}
	}
}

func TestWritePanel_CSVHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := pipeline.WritePanel(&buf, samplePanel(), pipeline.FormatCSV); err != nil {
		t.Fatal(err)
	}
	lines := nonEmptyLines(buf.String())
	if lines[0] != "unit,cohort,period,outcome" {
		t.Errorf("header: got %q", lines[0])
	}
	if lines[2] != "a,2,2,-2.25" {
		t.Errorf("row 2: got %q", lines[2])
	}
}

func TestWritePanel_UnknownFormat(t *testing.T) {
	if err := pipeline.WritePanel(&bytes.Buffer{}, samplePanel(), "dta"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

// ─── QTE stream ───────────────────────────────────────────────────────────────

func TestWriteQTEJSONL(t *testing.T) {
	e0, e1 := 0, 1
	rc := &model.ResultCollection{
		RunID: "run-1",
		Replicates: []model.Replicate{
			{Index: 0, QTE: []model.QTE{
				{EventTime: &e0, Probs: []float64{0.25, 0.75}, Effects: []float64{1, 2}},
				{EventTime: &e1, Probs: []float64{0.25, 0.75}, Effects: []float64{3, 4}},
			}},
			{Index: 1, QTE: []model.QTE{
				{EventTime: &e0, Probs: []float64{0.25, 0.75}, Effects: []float64{5, 6}},
			}},
		},
	}
	var buf bytes.Buffer
	if err := pipeline.WriteQTEJSONL(&buf, rc); err != nil {
		t.Fatal(err)
	}
	lines := nonEmptyLines(buf.String())
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d", len(lines))
	}
	var last pipeline.QTERecord
	if err := json.Unmarshal([]byte(lines[5]), &last); err != nil {
		t.Fatal(err)
	}
	if last.RunID != "run-1" || last.Replicate != 1 || last.Prob != 0.75 || last.Effect != 6 {
		t.Errorf("unexpected last record: %+v", last)
	}
	if last.EventTime == nil || *last.EventTime != 0 {
		t.Errorf("event_time: expected 0, got %v", last.EventTime)
	}
}

func TestWriteQTEJSONL_PooledHasNullEventTime(t *testing.T) {
	rc := &model.ResultCollection{
		RunID:      "r",
		Replicates: []model.Replicate{{QTE: []model.QTE{{Probs: []float64{0.5}, Effects: []float64{1}}}}},
	}
	var buf bytes.Buffer
	if err := pipeline.WriteQTEJSONL(&buf, rc); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"event_time":null`) {
		t.Errorf("expected null event_time, got %s", buf.String())
	}
}

func TestReadQTEJSONL_RebuildsCurves(t *testing.T) {
	e0, e1 := 0, 1
	src := &model.ResultCollection{
		RunID: "run-2",
		Replicates: []model.Replicate{
			{Index: 1, QTE: []model.QTE{
				{EventTime: &e0, Probs: []float64{0.25, 0.75}, Effects: []float64{5, 6}},
			}},
			{Index: 0, QTE: []model.QTE{
				{EventTime: &e0, Probs: []float64{0.25, 0.75}, Effects: []float64{1, 2}},
				{EventTime: &e1, Probs: []float64{0.25, 0.75}, Effects: []float64{3, 4}},
			}},
		},
	}
	var buf bytes.Buffer
	if err := pipeline.WriteQTEJSONL(&buf, src); err != nil {
		t.Fatal(err)
	}

	rc, err := pipeline.ReadQTEJSONL(&buf)
	if err != nil {
		t.Fatalf("ReadQTEJSONL: %v", err)
	}
	if rc.RunID != "run-2" || !rc.EventStudy || rc.MaxHorizon != 1 {
		t.Fatalf("unexpected collection header: id=%s es=%v h=%d", rc.RunID, rc.EventStudy, rc.MaxHorizon)
	}
	if len(rc.Replicates) != 2 || rc.Replicates[0].Index != 0 {
		t.Fatalf("replicates should be ordered by index: %+v", rc.Replicates)
	}
	r0 := rc.Replicates[0]
	if len(r0.QTE) != 2 || *r0.QTE[1].EventTime != 1 || r0.QTE[1].Effects[1] != 4 {
		t.Errorf("replicate 0 curves: %+v", r0.QTE)
	}
	if len(rc.Probs) != 2 || rc.Probs[0] != 0.25 {
		t.Errorf("probs: %v", rc.Probs)
	}
}

func TestReadQTEJSONL_Errors(t *testing.T) {
	if _, err := pipeline.ReadQTEJSONL(strings.NewReader("")); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := pipeline.ReadQTEJSONL(strings.NewReader("{not json}\n")); err == nil {
		t.Error("expected error for invalid record")
	}
}
