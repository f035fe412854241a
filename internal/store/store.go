// Package store provides a thin bbolt wrapper for cicqte's on-disk state.
//
// The same Store type backs two lifecycles. A run-scoped spill store lives in
// a temporary directory and holds per-replicate state while a bootstrap is in
// flight; it is deleted with the run. The user store accumulates saved result
// collections and snapshots until explicitly cleared.
//
// Buckets:
//
//	replicates  spilled replicate state keyed by run + replicate index
//	runs        saved ResultCollections keyed by run id
//	snapshots   saved invocations, keyed by time-ordered id
//	_meta       schema version, created_at
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/derickschaefer/cicqte/internal/model"
)

// Current schema version. Bump when bucket layout or key format changes.
const schemaVersion = 1

// Bucket name constants.
var (
	bucketReplicates = []byte("replicates")
	bucketRuns       = []byte("runs")
	bucketSnapshots  = []byte("snapshots")
	bucketInternal   = []byte("_meta")
)

// AllBuckets lists every top-level bucket for stats and clear operations.
var AllBuckets = []string{"replicates", "runs", "snapshots"}

// Store wraps a bbolt database.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt database at path.
// Parent directories are created automatically.
// Runs schema migrations on every open.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening db %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the filesystem path of the open database.
func (s *Store) Path() string {
	return s.db.Path()
}

// ─── Migrations ───────────────────────────────────────────────────────────────

// migrate ensures all buckets exist and schema is current.
func (s *Store) migrate() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketReplicates, bucketRuns, bucketSnapshots, bucketInternal} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketInternal)
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(fmt.Sprintf("%d", schemaVersion))); err != nil {
				return err
			}
			if err := meta.Put([]byte("created_at"), []byte(time.Now().UTC().Format(time.RFC3339))); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─── Replicates (spill) ───────────────────────────────────────────────────────

// Handle identifies one spilled replicate. It is the opaque key returned by
// PutReplicate and accepted by GetReplicate.
type Handle string

// ReplicateKey builds the canonical key for a spilled replicate.
// Format: run:<runID>|rep:<index, zero-padded to 6 digits>
// Zero padding keeps a run's replicates in index order under a cursor scan.
func ReplicateKey(runID string, index int) Handle {
	return Handle(fmt.Sprintf("run:%s|rep:%06d", runID, index))
}

// PutReplicate spills rep under its run and index and returns its handle.
func (s *Store) PutReplicate(runID string, rep *model.Replicate) (Handle, error) {
	h := ReplicateKey(runID, rep.Index)
	b, err := json.Marshal(rep)
	if err != nil {
		return "", fmt.Errorf("encoding replicate %d: %w", rep.Index, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketReplicates).Put([]byte(h), b)
	})
	if err != nil {
		return "", fmt.Errorf("spilling replicate %d: %w", rep.Index, err)
	}
	return h, nil
}

// GetReplicate reads back a spilled replicate.
func (s *Store) GetReplicate(h Handle) (*model.Replicate, error) {
	var rep *model.Replicate
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketReplicates).Get([]byte(h))
		if v == nil {
			return fmt.Errorf("replicate %s not found", h)
		}
		rep = new(model.Replicate)
		return json.Unmarshal(v, rep)
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

// ListReplicateKeys returns the handles spilled for runID in index order.
func (s *Store) ListReplicateKeys(runID string) ([]Handle, error) {
	prefix := []byte("run:" + runID + "|")
	var keys []Handle
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketReplicates).Cursor()
		for k, _ := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, _ = c.Next() {
			keys = append(keys, Handle(k))
		}
		return nil
	})
	return keys, err
}

// DeleteReplicates removes every spilled replicate of runID.
func (s *Store) DeleteReplicates(runID string) error {
	keys, err := s.ListReplicateKeys(runID)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReplicates)
		for _, k := range keys {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

// ─── Runs ─────────────────────────────────────────────────────────────────────

func runKey(id string) []byte { return []byte("run:" + id) }

// PutRun saves a result collection under its run id.
func (s *Store) PutRun(rc *model.ResultCollection) error {
	if rc.RunID == "" {
		return fmt.Errorf("result collection has no run id")
	}
	b, err := json.Marshal(rc)
	if err != nil {
		return fmt.Errorf("encoding run: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).Put(runKey(rc.RunID), b)
	})
}

// GetRun retrieves a saved result collection.
// Returns (rc, true, nil) if found, (nil, false, nil) if not found.
func (s *Store) GetRun(id string) (*model.ResultCollection, bool, error) {
	var rc *model.ResultCollection
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRuns).Get(runKey(id))
		if v == nil {
			return nil
		}
		rc = new(model.ResultCollection)
		return json.Unmarshal(v, rc)
	})
	if err != nil {
		return nil, false, err
	}
	return rc, rc != nil, nil
}

// ListRuns returns a summary row per saved run, newest first.
func (s *Store) ListRuns() ([]model.RunInfo, error) {
	var runs []model.RunInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(k, v []byte) error {
			var rc model.ResultCollection
			if err := json.Unmarshal(v, &rc); err != nil {
				return fmt.Errorf("decoding %s: %w", k, err)
			}
			runs = append(runs, model.RunInfo{
				RunID:      rc.RunID,
				CreatedAt:  rc.CreatedAt,
				Outcome:    rc.Config.Outcome,
				Replicates: len(rc.Replicates),
				EventStudy: rc.EventStudy,
				MaxHorizon: rc.MaxHorizon,
			})
			return nil
		})
	})
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, err
}

// DeleteRun removes a saved run.
func (s *Store) DeleteRun(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRuns).Delete(runKey(id))
	})
}

// ─── Snapshots ────────────────────────────────────────────────────────────────

func snapKey(id string) []byte { return []byte("snap:" + id) }

// PutSnapshot saves snap under snap:<ID>.
func (s *Store) PutSnapshot(snap model.Snapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("snapshot has no id")
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Put(snapKey(snap.ID), b)
	})
}

// GetSnapshot looks up a snapshot by ID. ok is false when it does not exist.
func (s *Store) GetSnapshot(id string) (snap model.Snapshot, ok bool, err error) {
	err = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSnapshots).Get(snapKey(id))
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &snap)
	})
	return snap, ok && err == nil, err
}

// ListSnapshots returns every snapshot in key order. IDs are UUIDv7, so key
// order is creation order.
func (s *Store) ListSnapshots() ([]model.Snapshot, error) {
	var snaps []model.Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(_, v []byte) error {
			var snap model.Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			snaps = append(snaps, snap)
			return nil
		})
	})
	return snaps, err
}

// DeleteSnapshot removes a snapshot by ID. Deleting a missing ID is not an
// error.
func (s *Store) DeleteSnapshot(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).Delete(snapKey(id))
	})
}

// ─── Stats & Maintenance ──────────────────────────────────────────────────────

// BucketStats holds row count and byte size for a single bucket.
type BucketStats struct {
	Name  string
	Count int
	Bytes int64
}

// Stats returns row counts and approximate sizes for all buckets, sorted by
// bucket name.
func (s *Store) Stats() ([]BucketStats, error) {
	var stats []BucketStats
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range AllBuckets {
			b := tx.Bucket([]byte(name))
			if b == nil {
				continue
			}
			var count int
			var bytes int64
			b.ForEach(func(k, v []byte) error {
				count++
				bytes += int64(len(k) + len(v))
				return nil
			})
			stats = append(stats, BucketStats{Name: name, Count: count, Bytes: bytes})
		}
		return nil
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats, err
}

// ClearBucket deletes all entries in the named bucket.
func (s *Store) ClearBucket(name string) error {
	known := false
	for _, b := range AllBuckets {
		if b == name {
			known = true
		}
	}
	if !known {
		return fmt.Errorf("unknown bucket %q (buckets: %s)", name, strings.Join(AllBuckets, ", "))
	}
	bname := []byte(name)
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bname); err != nil {
			return fmt.Errorf("clearing bucket %s: %w", name, err)
		}
		_, err := tx.CreateBucket(bname)
		return err
	})
}

// ClearAll deletes all entries from every user-facing bucket.
func (s *Store) ClearAll() error {
	for _, name := range AllBuckets {
		if err := s.ClearBucket(name); err != nil {
			return err
		}
	}
	return nil
}
