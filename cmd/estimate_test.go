package cmd

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/derickschaefer/cicqte/internal/config"
	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
	"github.com/derickschaefer/cicqte/internal/resample"
)

func TestApplyEstimateFlagsOverridesConfig(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "config.json")
	raw := `{"defaults":{"reps":9,"horizon":2,"es":true,"boot":"uniform","outcome":"y"}}`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	opts, err := cfg.Options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}

	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })
	fs := estimateCmd.Flags()
	for name, v := range map[string]string{
		"reps":       "3",
		"keep-spill": "true",
		"probs":      "0.25,0.75",
		"weights":    "n1,n0",
	} {
		if err := fs.Set(name, v); err != nil {
			t.Fatalf("set --%s: %v", name, err)
		}
	}
	if err := applyEstimateFlags(fs, &opts); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if opts.Reps != 3 {
		t.Errorf("reps: flag should win, got %d", opts.Reps)
	}
	if opts.Horizon != 2 || !opts.EventStudy {
		t.Errorf("unset flags should keep config values, got horizon=%d es=%v", opts.Horizon, opts.EventStudy)
	}
	if opts.Mode != resample.ModeUniform {
		t.Errorf("boot: got %q want uniform", opts.Mode)
	}
	if opts.Columns.Outcome != "y" || opts.Columns.Cohort != "cohort" {
		t.Errorf("columns: got %+v", opts.Columns)
	}
	if !opts.Spill || !opts.KeepSpill {
		t.Errorf("--keep-spill should imply --spill, got spill=%v keep=%v", opts.Spill, opts.KeepSpill)
	}
	if len(opts.Probs) != 2 || opts.Probs[1] != 0.75 {
		t.Errorf("probs: got %v", opts.Probs)
	}
	if opts.Weighting.String() != "n1,n0" {
		t.Errorf("weights: got %s", opts.Weighting)
	}
}

func TestApplyEstimateFlagsRejectsBadValues(t *testing.T) {
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	for name, v := range map[string]string{
		"boot":    "jackknife",
		"qtype":   "11",
		"probs":   "0.1,abc",
		"weights": "n2",
	} {
		resetFlags(rootCmd)
		fs := estimateCmd.Flags()
		if err := fs.Set(name, v); err != nil {
			t.Fatalf("set --%s: %v", name, err)
		}
		opts, err := (&config.Config{}).Options()
		if err != nil {
			t.Fatal(err)
		}
		err = applyEstimateFlags(fs, &opts)
		if !errors.Is(err, diag.ErrValidation) {
			t.Errorf("--%s=%s: expected validation error, got %v", name, v, err)
		}
	}
}

func TestCollectionWarnings(t *testing.T) {
	rc := &model.ResultCollection{
		Warnings: []diag.Warning{{Kind: diag.WarnConfiguration, Replicate: diag.RunLevel, Message: "n0 weighting"}},
		Replicates: []model.Replicate{
			{Index: 0, Warnings: []diag.Warning{{Kind: diag.WarnDataSufficiency, Replicate: 0, Message: "a"}}},
			{Index: 1, Warnings: []diag.Warning{
				{Kind: diag.WarnDataSufficiency, Replicate: 1, Message: "b"},
				{Kind: diag.WarnDataSufficiency, Replicate: 1, Message: "c"},
			}},
		},
	}
	got := collectionWarnings(rc)
	if len(got) != 2 {
		t.Fatalf("expected 2 warnings, got %v", got)
	}
	if got[0] != "configuration: n0 weighting" {
		t.Errorf("run-level warning: got %q", got[0])
	}
	if !strings.HasPrefix(got[1], "3 replicate-level warnings") {
		t.Errorf("replicate count: got %q", got[1])
	}
}

// ─── end to end ───────────────────────────────────────────────────────────────

type envelope struct {
	Kind string                 `json:"kind"`
	Data model.ResultCollection `json:"data"`
}

func simulatePanel(t *testing.T, dir string, args ...string) string {
	t.Helper()
	path := filepath.Join(dir, "panel.csv")
	mustRun(t, append([]string{"simulate", "--units", "120", "--out", path, "--quiet"}, args...)...)
	return path
}

// staggeredArgs widens the simulated design so event times 0 and 1 both
// occur: treated cohorts 3 and 4, with cohort 3 observed through period 4
// before cohort 5 adopts.
var staggeredArgs = []string{"--cohorts", "2,3,4,5", "--periods", "1-5", "--spread", "0"}

func TestSimulateThenEstimate(t *testing.T) {
	dir := isolate(t)
	panelPath := simulatePanel(t, dir)

	out := mustRun(t, "estimate", panelPath,
		"--format", "json", "--reps", "2", "--boot", "uniform", "--cores", "2",
		"--probs", "0.25,0.5,0.75", "--quiet")

	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if env.Kind != model.KindCollection {
		t.Fatalf("kind: got %q", env.Kind)
	}
	rc := env.Data
	if len(rc.Replicates) != 2 {
		t.Fatalf("expected 2 replicates, got %d", len(rc.Replicates))
	}
	for _, rep := range rc.Replicates {
		if len(rep.QTE) != 1 {
			t.Fatalf("replicate %d: expected one pooled curve, got %d", rep.Index, len(rep.QTE))
		}
		for i, e := range rep.QTE[0].Effects {
			if math.Abs(e-1) > 0.5 {
				t.Errorf("replicate %d p=%g: effect %g too far from 1", rep.Index, rep.QTE[0].Probs[i], e)
			}
		}
	}
}

func TestEstimateBootNoneIsDeterministic(t *testing.T) {
	dir := isolate(t)
	panelPath := simulatePanel(t, dir, "--noise", "0.2")

	args := []string{"estimate", panelPath, "--format", "json", "--boot", "none", "--reps", "50", "--quiet"}
	var a, b envelope
	if err := json.Unmarshal([]byte(mustRun(t, args...)), &a); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(mustRun(t, args...)), &b); err != nil {
		t.Fatal(err)
	}
	if len(a.Data.Replicates) != 1 {
		t.Fatalf("--boot none should run one replicate, got %d", len(a.Data.Replicates))
	}
	ea, eb := a.Data.Replicates[0].QTE[0].Effects, b.Data.Replicates[0].QTE[0].Effects
	for i := range ea {
		if ea[i] != eb[i] {
			t.Fatalf("effect %d differs between runs: %g vs %g", i, ea[i], eb[i])
		}
	}
}

func TestEstimateEventStudySummaryCSV(t *testing.T) {
	dir := isolate(t)
	panelPath := simulatePanel(t, dir, staggeredArgs...)

	out := mustRun(t, "estimate", panelPath,
		"--es", "--horizon", "1", "--reps", "2", "--probs", "0.5",
		"--summary", "--format", "csv", "--quiet")

	lines := strings.Split(strings.TrimSpace(out), "\n")
	if !strings.HasPrefix(lines[0], "event,prob,n,mean") {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	// Event times 0 and 1; an event study has no pooled curve.
	if len(lines) != 3 {
		t.Fatalf("expected 2 summary rows, got:\n%s", out)
	}
	if !strings.HasPrefix(lines[1], "0,0.5,2,") || !strings.HasPrefix(lines[2], "1,0.5,2,") {
		t.Fatalf("unexpected rows:\n%s", out)
	}
}

func TestEstimateSaveAndRuns(t *testing.T) {
	dir := isolate(t)
	panelPath := simulatePanel(t, dir)
	db := filepath.Join(dir, "runs.db")

	_, errOut, err := run(t, "estimate", panelPath, "--db", db, "--reps", "2", "--save", "--format", "json")
	if err != nil {
		t.Fatalf("estimate --save: %v\n%s", err, errOut)
	}
	if !strings.Contains(errOut, "Saved run ") {
		t.Fatalf("expected save confirmation on stderr, got:\n%s", errOut)
	}
	runID := strings.Fields(errOut[strings.Index(errOut, "Saved run ")+len("Saved run "):])[0]

	out := mustRun(t, "runs", "list", "--db", db, "--format", "json", "--quiet")
	var listEnv struct {
		Data []model.RunInfo `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &listEnv); err != nil {
		t.Fatalf("decode runs: %v\n%s", err, out)
	}
	runs := listEnv.Data
	if len(runs) != 1 || runs[0].RunID != runID || runs[0].Replicates != 2 {
		t.Fatalf("unexpected runs listing: %+v", runs)
	}

	out = mustRun(t, "runs", "show", runID, "--db", db, "--format", "json", "--quiet")
	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if env.Data.RunID != runID || len(env.Data.Replicates) != 2 {
		t.Fatalf("unexpected saved run: id=%s reps=%d", env.Data.RunID, len(env.Data.Replicates))
	}

	out = mustRun(t, "spill", "stats", "--db", db)
	if !strings.Contains(out, "runs") {
		t.Fatalf("stats missing runs bucket:\n%s", out)
	}

	mustRun(t, "runs", "delete", runID, "--db", db)
	out = mustRun(t, "runs", "list", "--db", db)
	if !strings.Contains(out, "No saved runs.") {
		t.Fatalf("expected empty listing after delete, got:\n%s", out)
	}
}

func TestEstimateMissingColumnIsValidationError(t *testing.T) {
	dir := isolate(t)
	panelPath := simulatePanel(t, dir)

	_, _, err := run(t, "estimate", panelPath, "--outcome", "earnings", "--quiet")
	if !errors.Is(err, diag.ErrValidation) {
		t.Fatalf("expected validation error for unknown column, got %v", err)
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	isolate(t)
	_, _, err := run(t, "runs", "list", "--format", "xml")
	if err == nil || !strings.Contains(err.Error(), "unknown output format") {
		t.Fatalf("expected format error, got %v", err)
	}
}

func TestEstimateJSONLIntoChart(t *testing.T) {
	dir := isolate(t)
	panelPath := simulatePanel(t, dir, staggeredArgs...)

	stream := mustRun(t, "estimate", panelPath, "--es", "--reps", "2", "--format", "jsonl", "--quiet")

	rootCmd.SetIn(strings.NewReader(stream))
	t.Cleanup(func() { rootCmd.SetIn(nil) })
	out := mustRun(t, "chart", "bar", "--event", "1", "--width", "60")
	if !strings.Contains(out, "event time 1") || strings.Contains(out, "event time 0") {
		t.Fatalf("expected only the event time 1 chart:\n%s", out)
	}
	if !strings.Contains(out, "│█") {
		t.Fatalf("expected positive bars for a positive effect:\n%s", out)
	}
}
