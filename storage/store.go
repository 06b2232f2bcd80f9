package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/example/warden/types"
)

// Bucket names in bbolt
var (
	bucketWorkloads = []byte("workloads")
	bucketHandles   = []byte("handles")
	bucketMeta      = []byte("meta")
)

var (
	// ErrNotFound means no workload exists for the given id or handle
	ErrNotFound = errors.New("workload not found")
	// ErrExists means a workload with the given id already exists
	ErrExists = errors.New("workload already exists")
	// ErrHandleExists means another record already points at the handle
	ErrHandleExists = errors.New("handle already registered")
	// ErrConflict means the caller's revision is stale
	ErrConflict = errors.New("revision conflict")
)

// Store is the workload repository: an in-memory btree index for fast
// lookups backed by bbolt for durability. The handle bucket enforces
// that no two records ever point at the same physical resource.
type Store struct {
	mu sync.RWMutex

	// In-memory index for fast lookups
	index *btree.BTreeG[*types.Workload]

	// handle string -> workload ID
	handleIdx map[string]string

	// On-disk storage
	db *bbolt.DB

	// Monotonic store revision, bumped on every write
	currentRev int64

	// Path to storage directory
	dir string
}

// Open opens (or creates) the repository under dir
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	dbPath := filepath.Join(dir, "warden.db")

	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketWorkloads, bucketHandles, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	store := &Store{
		index: btree.NewG[*types.Workload](32, func(a, b *types.Workload) bool {
			return a.ID < b.ID
		}),
		handleIdx: make(map[string]string),
		db:        db,
		dir:       dir,
	}

	store.loadRevision()

	if err := store.rebuildIndex(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to rebuild index: %w", err)
	}

	return store, nil
}

// Close closes the repository
func (s *Store) Close() error {
	return s.db.Close()
}

// CurrentRevision returns the store-wide revision number
func (s *Store) CurrentRevision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

// Count returns the number of workload records
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Len()
}

// Helper functions

func (s *Store) loadRevision() {
	_ = s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketMeta)
		if bucket == nil {
			return nil
		}

		data := bucket.Get([]byte("current_revision"))
		if data != nil {
			s.currentRev = bytesToInt64(data)
		}
		return nil
	})
}

func (s *Store) rebuildIndex() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketWorkloads)

		return bucket.ForEach(func(k, v []byte) error {
			var w types.Workload
			if err := json.Unmarshal(v, &w); err != nil {
				return fmt.Errorf("corrupt record %s: %w", k, err)
			}
			s.index.ReplaceOrInsert(&w)
			if w.HasHandle() {
				s.handleIdx[w.Handle.String()] = w.ID
			}
			return nil
		})
	})
}

func int64ToBytes(n int64) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func bytesToInt64(b []byte) int64 {
	var n int64
	_, _ = fmt.Sscanf(string(b), "%d", &n)
	return n
}
