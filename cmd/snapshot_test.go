package cmd

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/derickschaefer/cicqte/internal/model"
)

func TestSnapshotSaveNeedsDash(t *testing.T) {
	dir := isolate(t)
	db := dir + "/runs.db"
	if _, _, err := run(t, "snapshot", "save", "--db", db, "baseline", "estimate"); err == nil {
		t.Fatal("expected usage error without --")
	}
	if _, _, err := run(t, "snapshot", "save", "--db", db, "baseline", "--", "cicqte"); err == nil {
		t.Fatal("expected error when only the binary name follows --")
	}
}

func TestNewSnapshotIDIsUUIDv7(t *testing.T) {
	id, err := newSnapshotID()
	if err != nil {
		t.Fatalf("newSnapshotID: %v", err)
	}
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("snapshot id is not a UUID: %q", id)
	}
	if u.Version() != 7 {
		t.Fatalf("expected version 7, got %d", u.Version())
	}
}

func TestNewSnapshotIDUniqueness(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id, err := newSnapshotID()
		if err != nil {
			t.Fatal(err)
		}
		if seen[id] {
			t.Fatalf("duplicate snapshot id generated: %q", id)
		}
		seen[id] = true
	}
}

func TestNewSnapshotIDSortability(t *testing.T) {
	a, _ := newSnapshotID()
	time.Sleep(2 * time.Millisecond)
	b, _ := newSnapshotID()
	if a >= b {
		t.Fatalf("expected increasing lexical order across time: a=%q b=%q", a, b)
	}
}

func TestSnapshotLifecycle(t *testing.T) {
	dir := isolate(t)
	db := dir + "/runs.db"

	out := mustRun(t, "snapshot", "save", "--db", db, "baseline", "--", "cicqte", "estimate", "panel file.csv", "--reps", "5")
	if !strings.Contains(out, "Saved snapshot") {
		t.Fatalf("unexpected save output: %q", out)
	}
	id := strings.Fields(strings.TrimPrefix(out, "✓ Saved snapshot "))[0]

	out = mustRun(t, "snapshot", "show", id, "--db", db)
	if !strings.Contains(out, `cicqte estimate "panel file.csv" --reps 5`) {
		t.Fatalf("unexpected command line:\n%s", out)
	}
	if strings.Contains(out, "cicqte cicqte") {
		t.Fatalf("command line kept the binary name:\n%s", out)
	}

	out = mustRun(t, "snapshot", "list", "--db", db)
	if !strings.Contains(out, "baseline") {
		t.Fatalf("list missing snapshot:\n%s", out)
	}

	out = mustRun(t, "snapshot", "list", "--db", db, "--format", "json")
	var env struct {
		Kind string           `json:"kind"`
		Data []model.Snapshot `json:"data"`
	}
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if env.Kind != model.KindSnapshots || len(env.Data) != 1 || env.Data[0].ID != id {
		t.Fatalf("unexpected list envelope: %+v", env)
	}
	if got := env.Data[0].Args; len(got) != 4 || got[0] != "estimate" {
		t.Fatalf("saved args = %q", got)
	}

	mustRun(t, "snapshot", "delete", id, "--db", db)
	if _, _, err := run(t, "snapshot", "show", id, "--db", db); err == nil {
		t.Fatal("expected not-found error after delete")
	}
	out = mustRun(t, "snapshot", "list", "--db", db)
	if !strings.Contains(out, "No snapshots saved.") {
		t.Fatalf("expected empty list, got:\n%s", out)
	}
}
