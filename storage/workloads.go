package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/example/warden/lifecycle"
	"github.com/example/warden/types"
)

// Create inserts a new workload record. The record gets revision 1.
// A record without a handle may only be created in pending state.
func (s *Store) Create(w *types.Workload) error {
	if w.ID == "" {
		return fmt.Errorf("workload id is required")
	}
	if !w.Status.Valid() {
		return fmt.Errorf("unknown status %q", w.Status)
	}
	if !w.HasHandle() && w.Status != types.StatusPending {
		return fmt.Errorf("workload %s without handle cannot be %s", w.ID, w.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.index.Get(&types.Workload{ID: w.ID}); found {
		return fmt.Errorf("create %s: %w", w.ID, ErrExists)
	}
	if w.HasHandle() {
		if owner, taken := s.handleIdx[w.Handle.String()]; taken {
			return fmt.Errorf("handle %s held by %s: %w", w.Handle, owner, ErrHandleExists)
		}
	}

	now := time.Now().UTC()
	w.Rev = 1
	if w.CreatedAt.IsZero() {
		w.CreatedAt = now
	}
	if w.StatusChangedAt.IsZero() {
		w.StatusChangedAt = now
	}
	w.UpdatedAt = now

	if err := s.put(w); err != nil {
		return err
	}

	s.index.ReplaceOrInsert(w.Clone())
	if w.HasHandle() {
		s.handleIdx[w.Handle.String()] = w.ID
	}
	return nil
}

// Get returns a copy of the workload with the given id
func (s *Store) Get(id string) (*types.Workload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, found := s.index.Get(&types.Workload{ID: id})
	if !found {
		return nil, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	return existing.Clone(), nil
}

// GetByHandle returns the workload holding the given resource handle
func (s *Store) GetByHandle(h types.Handle) (*types.Workload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.handleIdx[h.String()]
	if !ok {
		return nil, fmt.Errorf("get by handle %s: %w", h, ErrNotFound)
	}
	existing, found := s.index.Get(&types.Workload{ID: id})
	if !found {
		return nil, fmt.Errorf("get by handle %s: %w", h, ErrNotFound)
	}
	return existing.Clone(), nil
}

// List returns copies of all workloads matching the filter, ordered by id
func (s *Store) List(filter types.WorkloadFilter) ([]types.Workload, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []types.Workload
	s.index.Ascend(func(w *types.Workload) bool {
		if w.Matches(filter) {
			results = append(results, *w.Clone())
		}
		return true
	})
	return results, nil
}

// UpdateStatus transitions a workload to a new status. The transition
// is validated against the state machine, stamped with the time it
// happened, and guarded by a compare-and-swap on the record revision.
// msg becomes the record's diagnostic message in error state and is
// cleared on every other transition.
func (s *Store) UpdateStatus(id string, expectedRev int64, to types.Status, msg string) (*types.Workload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found := s.index.Get(&types.Workload{ID: id})
	if !found {
		return nil, fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}
	if existing.Rev != expectedRev {
		return nil, fmt.Errorf("update status %s: rev %d, expected %d: %w",
			id, existing.Rev, expectedRev, ErrConflict)
	}
	if err := lifecycle.ValidateTransition(existing.Status, to); err != nil {
		return nil, fmt.Errorf("update status %s: %w", id, err)
	}

	updated := existing.Clone()
	updated.Status = to
	updated.Rev++
	now := time.Now().UTC()
	updated.StatusChangedAt = now
	updated.UpdatedAt = now
	if to == types.StatusError {
		updated.LastError = msg
	} else {
		updated.LastError = ""
	}

	if err := s.put(updated); err != nil {
		return nil, err
	}

	s.index.ReplaceOrInsert(updated)
	return updated.Clone(), nil
}

// Delete removes a workload record, guarded by a compare-and-swap on
// the record revision. The handle mapping is released with it.
func (s *Store) Delete(id string, expectedRev int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, found := s.index.Get(&types.Workload{ID: id})
	if !found {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	if existing.Rev != expectedRev {
		return fmt.Errorf("delete %s: rev %d, expected %d: %w",
			id, existing.Rev, expectedRev, ErrConflict)
	}

	s.currentRev++
	rev := s.currentRev

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketWorkloads).Delete([]byte(id)); err != nil {
			return err
		}
		if existing.HasHandle() {
			if err := tx.Bucket(bucketHandles).Delete([]byte(existing.Handle.String())); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put([]byte("current_revision"), int64ToBytes(rev))
	})
	if err != nil {
		s.currentRev--
		return err
	}

	s.index.Delete(existing)
	if existing.HasHandle() {
		delete(s.handleIdx, existing.Handle.String())
	}
	return nil
}

// put writes a record and the handle mapping in one transaction,
// bumping the store revision. Caller must hold s.mu.
func (s *Store) put(w *types.Workload) error {
	s.currentRev++
	rev := s.currentRev

	err := s.db.Update(func(tx *bbolt.Tx) error {
		value, err := json.Marshal(w)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketWorkloads).Put([]byte(w.ID), value); err != nil {
			return err
		}
		if w.HasHandle() {
			if err := tx.Bucket(bucketHandles).Put([]byte(w.Handle.String()), []byte(w.ID)); err != nil {
				return err
			}
		}
		return tx.Bucket(bucketMeta).Put([]byte("current_revision"), int64ToBytes(rev))
	})
	if err != nil {
		s.currentRev--
		return err
	}
	return nil
}
