package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketWorkloads = []byte("workloads")
	bucketActions   = []byte("actions")
	bucketLocks     = []byte("locks")
	bucketLogs      = []byte("logs")      // one nested bucket per workload
	bucketLogMarks  = []byte("log_marks") // workload/container -> latest runtime timestamp
)

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "burrow.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketWorkloads,
			bucketActions,
			bucketLocks,
			bucketLogs,
			bucketLogMarks,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})

	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func put(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put([]byte(key), data)
}

// Workload operations
func (s *BoltStore) CreateWorkload(workload *types.Workload) error {
	if workload.ID == "" {
		workload.ID = uuid.New().String()
	}
	now := s.now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkloads)
		if b.Get([]byte(workload.ID)) != nil {
			return fmt.Errorf("workload %s: %w", workload.ID, ErrExists)
		}
		cp := *workload
		if cp.State == "" {
			cp.State = types.WorkloadStateInitial
		}
		cp.Version = 1
		cp.CreatedAt = now
		cp.UpdatedAt = now
		if err := put(b, cp.ID, &cp); err != nil {
			return err
		}
		*workload = cp
		return nil
	})
}

func getWorkload(tx *bolt.Tx, id string) (*types.Workload, error) {
	data := tx.Bucket(bucketWorkloads).Get([]byte(id))
	if data == nil {
		return nil, fmt.Errorf("workload %s: %w", id, ErrNotFound)
	}
	var workload types.Workload
	if err := json.Unmarshal(data, &workload); err != nil {
		return nil, err
	}
	return &workload, nil
}

func (s *BoltStore) GetWorkload(id string) (*types.Workload, error) {
	var workload *types.Workload
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		workload, err = getWorkload(tx, id)
		return err
	})
	return workload, err
}

func (s *BoltStore) ListWorkloads() ([]*types.Workload, error) {
	return s.listWorkloads(func(*types.Workload) bool { return true })
}

func (s *BoltStore) ListWorkloadsByTenant(tenant string) ([]*types.Workload, error) {
	return s.listWorkloads(func(w *types.Workload) bool { return w.Tenant == tenant })
}

func (s *BoltStore) listWorkloads(match func(*types.Workload) bool) ([]*types.Workload, error) {
	var workloads []*types.Workload
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkloads)
		return b.ForEach(func(k, v []byte) error {
			var workload types.Workload
			if err := json.Unmarshal(v, &workload); err != nil {
				return err
			}
			if match(&workload) {
				workloads = append(workloads, &workload)
			}
			return nil
		})
	})
	return workloads, err
}

func (s *BoltStore) UpdateWorkload(workload *types.Workload) error {
	return s.saveWorkload(workload, true)
}

func (s *BoltStore) ForceUpdateWorkload(workload *types.Workload) error {
	return s.saveWorkload(workload, false)
}

func (s *BoltStore) saveWorkload(workload *types.Workload, checkVersion bool) error {
	now := s.now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		existing, err := getWorkload(tx, workload.ID)
		if err != nil {
			return err
		}
		if checkVersion && existing.Version != workload.Version {
			return fmt.Errorf("workload %s at version %d, have %d: %w",
				workload.ID, existing.Version, workload.Version, ErrConflict)
		}
		cp := *workload
		cp.Version = existing.Version + 1
		cp.CreatedAt = existing.CreatedAt
		cp.UpdatedAt = now
		if err := put(tx.Bucket(bucketWorkloads), cp.ID, &cp); err != nil {
			return err
		}
		workload.Version = cp.Version
		workload.UpdatedAt = cp.UpdatedAt
		return nil
	})
}

func (s *BoltStore) DeleteWorkload(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketWorkloads).Delete([]byte(id)); err != nil {
			return err
		}

		for _, name := range [][]byte{bucketActions, bucketLocks} {
			b := tx.Bucket(name)
			var keys [][]byte
			err := b.ForEach(func(k, v []byte) error {
				var ref struct{ WorkloadID string }
				if err := json.Unmarshal(v, &ref); err != nil {
					return err
				}
				if ref.WorkloadID == id {
					keys = append(keys, append([]byte(nil), k...))
				}
				return nil
			})
			if err != nil {
				return err
			}
			for _, k := range keys {
				if err := b.Delete(k); err != nil {
					return err
				}
			}
		}

		logs := tx.Bucket(bucketLogs)
		if logs.Bucket([]byte(id)) != nil {
			if err := logs.DeleteBucket([]byte(id)); err != nil {
				return err
			}
		}

		marks := tx.Bucket(bucketLogMarks)
		if marks.Bucket([]byte(id)) != nil {
			return marks.DeleteBucket([]byte(id))
		}
		return nil
	})
}

// Action operations
func (s *BoltStore) CreateAction(action *types.Action) error {
	if action.ID == "" {
		action.ID = uuid.New().String()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = s.now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if _, err := getWorkload(tx, action.WorkloadID); err != nil {
			return err
		}
		b := tx.Bucket(bucketActions)
		if b.Get([]byte(action.ID)) != nil {
			return fmt.Errorf("action %s: %w", action.ID, ErrExists)
		}
		return put(b, action.ID, action)
	})
}

func (s *BoltStore) GetAction(id string) (*types.Action, error) {
	var action types.Action
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketActions).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("action %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &action)
	})
	if err != nil {
		return nil, err
	}
	return &action, nil
}

func (s *BoltStore) ListActionsByWorkload(workloadID string) ([]*types.Action, error) {
	var actions []*types.Action
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActions).ForEach(func(k, v []byte) error {
			var action types.Action
			if err := json.Unmarshal(v, &action); err != nil {
				return err
			}
			if action.WorkloadID == workloadID {
				actions = append(actions, &action)
			}
			return nil
		})
	})
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].CreatedAt.Before(actions[j].CreatedAt)
	})
	return actions, err
}

func (s *BoltStore) UpdateAction(action *types.Action) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketActions)
		if b.Get([]byte(action.ID)) == nil {
			return fmt.Errorf("action %s: %w", action.ID, ErrNotFound)
		}
		return put(b, action.ID, action)
	})
}

// Lock operations
func locksByWorkload(tx *bolt.Tx, workloadID string) ([]*types.ActionLock, error) {
	var locks []*types.ActionLock
	err := tx.Bucket(bucketLocks).ForEach(func(k, v []byte) error {
		var lock types.ActionLock
		if err := json.Unmarshal(v, &lock); err != nil {
			return err
		}
		if lock.WorkloadID == workloadID {
			locks = append(locks, &lock)
		}
		return nil
	})
	return locks, err
}

func (s *BoltStore) ListLocksByWorkload(workloadID string) ([]*types.ActionLock, error) {
	var locks []*types.ActionLock
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		locks, err = locksByWorkload(tx, workloadID)
		return err
	})
	return locks, err
}

// UpdateLock runs fn inside a single read-write transaction. bbolt allows
// one writer at a time, so the rows fn sees cannot change before it returns.
func (s *BoltStore) UpdateLock(workloadID string, fn LockUpdateFunc) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		locks, err := locksByWorkload(tx, workloadID)
		if err != nil {
			return err
		}
		next, err := fn(locks)
		if err != nil {
			return err
		}
		if next == nil {
			return nil
		}
		if next.ID == "" {
			next.ID = uuid.New().String()
		}
		next.WorkloadID = workloadID
		return put(tx.Bucket(bucketLocks), next.ID, next)
	})
}

// Log operations
func seqKey(n uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, n)
	return k
}

func (s *BoltStore) AppendLogs(entries ...*types.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	now := s.now().UTC()
	return s.db.Update(func(tx *bolt.Tx) error {
		logs := tx.Bucket(bucketLogs)
		marks := tx.Bucket(bucketLogMarks)
		for _, e := range entries {
			if e.WorkloadID == "" {
				return fmt.Errorf("log entry without workload")
			}
			if e.ID == "" {
				e.ID = uuid.New().String()
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}

			b, err := logs.CreateBucketIfNotExists([]byte(e.WorkloadID))
			if err != nil {
				return fmt.Errorf("failed to create log bucket: %w", err)
			}
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(seqKey(seq), data); err != nil {
				return err
			}

			if e.RuntimeTimestamp == nil || e.ContainerID == "" {
				continue
			}
			mb, err := marks.CreateBucketIfNotExists([]byte(e.WorkloadID))
			if err != nil {
				return err
			}
			if cur := mb.Get([]byte(e.ContainerID)); cur != nil {
				var prev time.Time
				if err := prev.UnmarshalBinary(cur); err == nil && !e.RuntimeTimestamp.After(prev) {
					continue
				}
			}
			ts, err := e.RuntimeTimestamp.UTC().MarshalBinary()
			if err != nil {
				return err
			}
			if err := mb.Put([]byte(e.ContainerID), ts); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListLogs returns a workload's entries ordered by LogEntry.Timestamp;
// entries with equal timestamps keep insertion order.
func (s *BoltStore) ListLogs(workloadID string) ([]*types.LogEntry, error) {
	var entries []*types.LogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogs).Bucket([]byte(workloadID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var e types.LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp().Before(entries[j].Timestamp())
	})
	return entries, nil
}

func (s *BoltStore) LatestRuntimeTimestamp(workloadID, containerID string) (*time.Time, error) {
	var latest *time.Time
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLogMarks).Bucket([]byte(workloadID))
		if b == nil {
			return nil
		}
		data := b.Get([]byte(containerID))
		if data == nil {
			return nil
		}
		var ts time.Time
		if err := ts.UnmarshalBinary(data); err != nil {
			return err
		}
		latest = &ts
		return nil
	})
	return latest, err
}
