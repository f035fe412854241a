package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derickschaefer/cicqte/internal/diag"
	"github.com/derickschaefer/cicqte/internal/model"
	"github.com/derickschaefer/cicqte/internal/store"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

// testDB opens a fresh isolated database in t.TempDir().
// It is closed and deleted automatically when the test ends.
func testDB(t *testing.T) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	require.NoError(t, err, "store.Open")
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeReplicate(index int) *model.Replicate {
	e := 1
	return &model.Replicate{
		Index:  index,
		Status: model.StatusCompletedWithSkips,
		Combinations: []model.CombinationResult{{
			Spec:           model.CombinationSpec{Treated: 2, Comparison: 4, Post: 3, Pre: 1},
			Treated:        &model.Distribution{Values: []float64{1, 2}, Cum: []float64{0.5, 1}},
			Counterfactual: &model.Distribution{Values: []float64{0, 1.5}, Cum: []float64{0.25, 1}},
			N1:             10,
			N0:             12,
		}},
		QTE:       []model.QTE{{EventTime: &e, Probs: []float64{0.25, 0.5}, Effects: []float64{1, 0.5}}},
		Horizon:   1,
		Estimated: 1,
		Skipped:   1,
		Warnings: []diag.Warning{{
			Kind:        diag.WarnDataSufficiency,
			Replicate:   index,
			Combination: "c1=2|c2=3|t1=2|t0=1",
			Message:     "skipped",
		}},
	}
}

func makeRun(id string, created time.Time) *model.ResultCollection {
	return &model.ResultCollection{
		RunID:      id,
		CreatedAt:  created,
		Probs:      []float64{0.5},
		EventStudy: true,
		MaxHorizon: 2,
		Config:     model.RunConfig{Outcome: "earnings", Reps: 3},
		Replicates: []model.Replicate{*makeReplicate(0), *makeReplicate(1), *makeReplicate(2)},
	}
}

// ─── Open ─────────────────────────────────────────────────────────────────────

func TestOpen_CreatesNestedDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "spill.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, path, s.Path())
}

func TestOpen_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(path)
	require.NoError(t, err)
	_, err = s.PutReplicate("r1", makeReplicate(0))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = store.Open(path)
	require.NoError(t, err)
	defer s.Close()
	keys, err := s.ListReplicateKeys("r1")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

// ─── Replicates ───────────────────────────────────────────────────────────────

func TestReplicateKey(t *testing.T) {
	assert.Equal(t, store.Handle("run:abc|rep:000042"), store.ReplicateKey("abc", 42))
}

func TestReplicate_RoundTrip(t *testing.T) {
	s := testDB(t)
	want := makeReplicate(7)

	h, err := s.PutReplicate("run-1", want)
	require.NoError(t, err)
	assert.Equal(t, store.ReplicateKey("run-1", 7), h)

	got, err := s.GetReplicate(h)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGetReplicate_Missing(t *testing.T) {
	s := testDB(t)
	_, err := s.GetReplicate(store.ReplicateKey("nope", 0))
	assert.Error(t, err)
}

func TestListReplicateKeys_OrderAndIsolation(t *testing.T) {
	s := testDB(t)
	for _, j := range []int{10, 2, 0, 1} {
		_, err := s.PutReplicate("a", makeReplicate(j))
		require.NoError(t, err)
	}
	_, err := s.PutReplicate("ab", makeReplicate(0))
	require.NoError(t, err)

	keys, err := s.ListReplicateKeys("a")
	require.NoError(t, err)
	assert.Equal(t, []store.Handle{
		store.ReplicateKey("a", 0),
		store.ReplicateKey("a", 1),
		store.ReplicateKey("a", 2),
		store.ReplicateKey("a", 10),
	}, keys)
}

func TestDeleteReplicates(t *testing.T) {
	s := testDB(t)
	for j := 0; j < 3; j++ {
		_, err := s.PutReplicate("a", makeReplicate(j))
		require.NoError(t, err)
	}
	_, err := s.PutReplicate("b", makeReplicate(0))
	require.NoError(t, err)

	require.NoError(t, s.DeleteReplicates("a"))

	keys, err := s.ListReplicateKeys("a")
	require.NoError(t, err)
	assert.Empty(t, keys)
	keys, err = s.ListReplicateKeys("b")
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

// ─── Runs ─────────────────────────────────────────────────────────────────────

func TestRun_RoundTrip(t *testing.T) {
	s := testDB(t)
	want := makeRun("r-1", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, s.PutRun(want))

	got, ok, err := s.GetRun("r-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.RunID, got.RunID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Len(t, got.Replicates, 3)
	assert.Equal(t, want.Replicates[1].QTE, got.Replicates[1].QTE)
}

func TestGetRun_Missing(t *testing.T) {
	s := testDB(t)
	rc, ok, err := s.GetRun("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, rc)
}

func TestPutRun_RequiresID(t *testing.T) {
	s := testDB(t)
	assert.Error(t, s.PutRun(&model.ResultCollection{}))
}

func TestListRuns_NewestFirst(t *testing.T) {
	s := testDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.PutRun(makeRun("old", base)))
	require.NoError(t, s.PutRun(makeRun("new", base.Add(time.Hour))))

	runs, err := s.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].RunID)
	assert.Equal(t, "old", runs[1].RunID)
	assert.Equal(t, 3, runs[0].Replicates)
	assert.Equal(t, "earnings", runs[0].Outcome)
	assert.True(t, runs[0].EventStudy)
}

func TestDeleteRun(t *testing.T) {
	s := testDB(t)
	require.NoError(t, s.PutRun(makeRun("r", time.Now())))
	require.NoError(t, s.DeleteRun("r"))
	_, ok, err := s.GetRun("r")
	require.NoError(t, err)
	assert.False(t, ok)
}

// ─── Snapshots ────────────────────────────────────────────────────────────────

func TestSnapshot_CRUD(t *testing.T) {
	s := testDB(t)
	now := time.Now().UTC().Truncate(time.Second)
	// Keys sort lexically; the listing follows key order.
	snaps := []model.Snapshot{
		{ID: "0002", Name: "second", Args: []string{"estimate", "b.csv"}, CreatedAt: now.Add(time.Minute)},
		{ID: "0001", Name: "first", Args: []string{"estimate", "a.csv", "--reps", "10"}, CreatedAt: now},
	}
	for _, sn := range snaps {
		require.NoError(t, s.PutSnapshot(sn))
	}

	got, ok, err := s.GetSnapshot("0001")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"estimate", "a.csv", "--reps", "10"}, got.Args)

	list, err := s.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "first", list[0].Name)

	require.NoError(t, s.DeleteSnapshot("0001"))
	_, ok, err = s.GetSnapshot("0001")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Error(t, s.PutSnapshot(model.Snapshot{Name: "no id"}))
}

// ─── Stats & Maintenance ──────────────────────────────────────────────────────

func TestStats(t *testing.T) {
	s := testDB(t)
	_, err := s.PutReplicate("a", makeReplicate(0))
	require.NoError(t, err)
	_, err = s.PutReplicate("a", makeReplicate(1))
	require.NoError(t, err)
	require.NoError(t, s.PutRun(makeRun("r", time.Now())))

	stats, err := s.Stats()
	require.NoError(t, err)
	require.Len(t, stats, 3)

	byName := map[string]store.BucketStats{}
	for _, b := range stats {
		byName[b.Name] = b
	}
	assert.Equal(t, 2, byName["replicates"].Count)
	assert.Equal(t, 1, byName["runs"].Count)
	assert.Equal(t, 0, byName["snapshots"].Count)
	assert.Greater(t, byName["replicates"].Bytes, int64(0))
}

func TestClearBucket(t *testing.T) {
	s := testDB(t)
	_, err := s.PutReplicate("a", makeReplicate(0))
	require.NoError(t, err)
	require.NoError(t, s.PutRun(makeRun("r", time.Now())))

	require.NoError(t, s.ClearBucket("replicates"))

	keys, err := s.ListReplicateKeys("a")
	require.NoError(t, err)
	assert.Empty(t, keys)
	_, ok, err := s.GetRun("r")
	require.NoError(t, err)
	assert.True(t, ok, "runs bucket must survive clearing replicates")
}

func TestClearBucket_Unknown(t *testing.T) {
	s := testDB(t)
	assert.Error(t, s.ClearBucket("_meta"))
	assert.Error(t, s.ClearBucket("series"))
}

func TestClearAll(t *testing.T) {
	s := testDB(t)
	_, err := s.PutReplicate("a", makeReplicate(0))
	require.NoError(t, err)
	require.NoError(t, s.PutRun(makeRun("r", time.Now())))
	require.NoError(t, s.PutSnapshot(model.Snapshot{ID: "x", CreatedAt: time.Now()}))

	require.NoError(t, s.ClearAll())

	stats, err := s.Stats()
	require.NoError(t, err)
	for _, b := range stats {
		assert.Zero(t, b.Count, b.Name)
	}
}
