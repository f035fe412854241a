package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func TestOutputWriterDefault(t *testing.T) {
	globalFlags.Out = ""
	w, closeFn, err := outputWriter(os.Stdout)
	if err != nil {
		t.Fatalf("outputWriter default: %v", err)
	}
	if w != os.Stdout {
		t.Fatalf("expected stdout writer passthrough")
	}
	if err := closeFn(); err != nil {
		t.Fatalf("default closer should be nil error, got: %v", err)
	}
}

func TestOutputWriterFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.txt")
	globalFlags.Out = p
	t.Cleanup(func() { globalFlags.Out = "" })

	w, closeFn, err := outputWriter(os.Stdout)
	if err != nil {
		t.Fatalf("outputWriter file: %v", err)
	}
	if w == os.Stdout {
		t.Fatalf("expected file writer, got stdout")
	}
	if err := closeFn(); err != nil {
		t.Fatalf("closing output writer: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("expected output file to exist: %v", err)
	}
}

func TestResolveFormat(t *testing.T) {
	t.Cleanup(func() { globalFlags.Format = "" })

	globalFlags.Format = ""
	if got := resolveFormat(""); got != "table" {
		t.Fatalf("empty format: got %q want table", got)
	}
	if got := resolveFormat("csv"); got != "csv" {
		t.Fatalf("config format: got %q want csv", got)
	}
	globalFlags.Format = "json"
	if got := resolveFormat("csv"); got != "json" {
		t.Fatalf("flag should win: got %q want json", got)
	}
}

func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{
		12:      "12 B",
		2048:    "2.0 KB",
		3 << 20: "3.0 MB",
	}
	for in, want := range cases {
		if got := humanBytes(in); got != want {
			t.Errorf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestParseIntList(t *testing.T) {
	got, err := parseIntList("1-4")
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Fatalf("range: got %v", got)
	}

	got, err = parseIntList(" 2, 3,5 ")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 3 || got[2] != 5 {
		t.Fatalf("list: got %v", got)
	}

	for _, bad := range []string{"", "4-1", "a-3", "1,x"} {
		if _, err := parseIntList(bad); err == nil {
			t.Errorf("parseIntList(%q): expected error", bad)
		}
	}
}

// ─── command harness ──────────────────────────────────────────────────────────

// resetFlags restores every flag in the tree to its default. Cobra keeps
// parsed values in package globals between executions.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// isolate runs the test in an empty working directory with no CICQTE_*
// variables, so no config.json or environment layer leaks in.
func isolate(t *testing.T) string {
	t.Helper()
	for _, kv := range os.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(k, "CICQTE_") {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

// run executes the root command with args and returns stdout and stderr.
func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, errOut, err := run(t, args...)
	if err != nil {
		t.Fatalf("cicqte %s: %v\nstderr:\n%s", strings.Join(args, " "), err, errOut)
	}
	return out
}
