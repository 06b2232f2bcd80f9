package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/example/warden/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testWorkload(id string, status types.Status, handle types.Handle) *types.Workload {
	return &types.Workload{
		ID:         id,
		Status:     status,
		Provenance: types.ProvenanceNative,
		Handle:     handle,
		Ports:      []int{8080},
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	store := openTestStore(t)

	w := testWorkload("wl-1", types.StatusRunning, types.Handle{Node: "node-a", ID: "vm-1"})
	if err := store.Create(w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if w.Rev != 1 {
		t.Errorf("new record rev = %d, want 1", w.Rev)
	}
	if w.StatusChangedAt.IsZero() {
		t.Error("Create must stamp StatusChangedAt")
	}

	got, err := store.Get("wl-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.ID != "wl-1" || got.Status != types.StatusRunning {
		t.Errorf("Get returned %+v", got)
	}

	// Mutating the returned copy must not affect the store
	got.Status = types.StatusStopped
	again, _ := store.Get("wl-1")
	if again.Status != types.StatusRunning {
		t.Error("Get must return an isolated copy")
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestStore_Create_DuplicateID(t *testing.T) {
	store := openTestStore(t)

	w := testWorkload("wl-1", types.StatusRunning, types.Handle{Node: "node-a", ID: "vm-1"})
	if err := store.Create(w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dup := testWorkload("wl-1", types.StatusRunning, types.Handle{Node: "node-a", ID: "vm-2"})
	if err := store.Create(dup); !errors.Is(err, ErrExists) {
		t.Errorf("duplicate id error = %v, want ErrExists", err)
	}
}

func TestStore_Create_HandleUniqueness(t *testing.T) {
	store := openTestStore(t)

	handle := types.Handle{Node: "node-a", ID: "vm-1"}
	if err := store.Create(testWorkload("wl-1", types.StatusRunning, handle)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	err := store.Create(testWorkload("wl-2", types.StatusRunning, handle))
	if !errors.Is(err, ErrHandleExists) {
		t.Errorf("duplicate handle error = %v, want ErrHandleExists", err)
	}

	// Only the first record must exist
	if store.Count() != 1 {
		t.Errorf("Count() = %d, want 1", store.Count())
	}
}

func TestStore_Create_NoHandleRequiresPending(t *testing.T) {
	store := openTestStore(t)

	tests := []struct {
		name    string
		status  types.Status
		wantErr bool
	}{
		{name: "pending without handle", status: types.StatusPending, wantErr: false},
		{name: "running without handle", status: types.StatusRunning, wantErr: true},
		{name: "removing without handle", status: types.StatusRemoving, wantErr: true},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &types.Workload{
				ID:         "wl-" + string(rune('a'+i)),
				Status:     tt.status,
				Provenance: types.ProvenanceNative,
			}
			err := store.Create(w)
			if (err != nil) != tt.wantErr {
				t.Errorf("Create error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStore_GetByHandle(t *testing.T) {
	store := openTestStore(t)

	handle := types.Handle{Node: "node-a", ID: "vm-1"}
	if err := store.Create(testWorkload("wl-1", types.StatusRunning, handle)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.GetByHandle(handle)
	if err != nil {
		t.Fatalf("GetByHandle failed: %v", err)
	}
	if got.ID != "wl-1" {
		t.Errorf("GetByHandle returned %s, want wl-1", got.ID)
	}

	_, err = store.GetByHandle(types.Handle{Node: "node-b", ID: "vm-9"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown handle error = %v, want ErrNotFound", err)
	}
}

func TestStore_List(t *testing.T) {
	store := openTestStore(t)

	records := []*types.Workload{
		testWorkload("wl-1", types.StatusRunning, types.Handle{Node: "node-a", ID: "vm-1"}),
		testWorkload("wl-2", types.StatusStopped, types.Handle{Node: "node-a", ID: "vm-2"}),
		testWorkload("wl-3", types.StatusRunning, types.Handle{Node: "node-b", ID: "vm-3"}),
	}
	for _, w := range records {
		if err := store.Create(w); err != nil {
			t.Fatalf("Create %s failed: %v", w.ID, err)
		}
	}

	all, err := store.List(types.WorkloadFilter{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("List returned %d records, want 3", len(all))
	}
	// Ordered by id
	if all[0].ID != "wl-1" || all[2].ID != "wl-3" {
		t.Errorf("List order: %s, %s, %s", all[0].ID, all[1].ID, all[2].ID)
	}

	running, err := store.List(types.WorkloadFilter{Status: types.StatusRunning})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(running) != 2 {
		t.Errorf("running filter returned %d records, want 2", len(running))
	}

	nodeB, err := store.List(types.WorkloadFilter{Node: "node-b"})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(nodeB) != 1 || nodeB[0].ID != "wl-3" {
		t.Errorf("node filter returned %+v", nodeB)
	}
}

func TestStore_UpdateStatus(t *testing.T) {
	store := openTestStore(t)

	w := testWorkload("wl-1", types.StatusRunning, types.Handle{Node: "node-a", ID: "vm-1"})
	if err := store.Create(w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	before := w.StatusChangedAt

	updated, err := store.UpdateStatus("wl-1", 1, types.StatusRemoving, "")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != types.StatusRemoving {
		t.Errorf("status = %s, want removing", updated.Status)
	}
	if updated.Rev != 2 {
		t.Errorf("rev = %d, want 2", updated.Rev)
	}
	if updated.StatusChangedAt.Before(before) {
		t.Error("UpdateStatus must re-stamp StatusChangedAt")
	}
}

func TestStore_UpdateStatus_ErrorMessage(t *testing.T) {
	store := openTestStore(t)

	w := testWorkload("wl-1", types.StatusProvisioning, types.Handle{Node: "node-a", ID: "vm-1"})
	if err := store.Create(w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	marked, err := store.UpdateStatus("wl-1", 1, types.StatusError, "stuck in provisioning for 2h")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if marked.LastError != "stuck in provisioning for 2h" {
		t.Errorf("LastError = %q", marked.LastError)
	}

	// Moving out of error clears the message
	cleared, err := store.UpdateStatus("wl-1", marked.Rev, types.StatusRemoving, "")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if cleared.LastError != "" {
		t.Errorf("LastError = %q, want empty after leaving error state", cleared.LastError)
	}
}

func TestStore_UpdateStatus_Conflict(t *testing.T) {
	store := openTestStore(t)

	w := testWorkload("wl-1", types.StatusRunning, types.Handle{Node: "node-a", ID: "vm-1"})
	if err := store.Create(w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if _, err := store.UpdateStatus("wl-1", 1, types.StatusStopped, ""); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	// Second writer still holds rev 1
	_, err := store.UpdateStatus("wl-1", 1, types.StatusRemoving, "")
	if !errors.Is(err, ErrConflict) {
		t.Errorf("stale rev error = %v, want ErrConflict", err)
	}

	// The first writer's outcome must be intact
	got, _ := store.Get("wl-1")
	if got.Status != types.StatusStopped {
		t.Errorf("status = %s, want stopped", got.Status)
	}
}

func TestStore_UpdateStatus_InvalidTransition(t *testing.T) {
	store := openTestStore(t)

	w := testWorkload("wl-1", types.StatusRunning, types.Handle{Node: "node-a", ID: "vm-1"})
	if err := store.Create(w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	marked, err := store.UpdateStatus("wl-1", 1, types.StatusError, "boom")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	// error -> running is not a legal transition
	if _, err := store.UpdateStatus("wl-1", marked.Rev, types.StatusRunning, ""); err == nil {
		t.Error("error -> running must be rejected")
	}
}

func TestStore_Delete(t *testing.T) {
	store := openTestStore(t)

	handle := types.Handle{Node: "node-a", ID: "vm-1"}
	w := testWorkload("wl-1", types.StatusRunning, handle)
	if err := store.Create(w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Delete("wl-1", 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := store.Get("wl-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
	if _, err := store.GetByHandle(handle); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByHandle after delete = %v, want ErrNotFound", err)
	}

	// The handle must be reusable once released
	if err := store.Create(testWorkload("wl-2", types.StatusRunning, handle)); err != nil {
		t.Errorf("handle not released after delete: %v", err)
	}
}

func TestStore_Delete_Conflict(t *testing.T) {
	store := openTestStore(t)

	w := testWorkload("wl-1", types.StatusRunning, types.Handle{Node: "node-a", ID: "vm-1"})
	if err := store.Create(w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.UpdateStatus("wl-1", 1, types.StatusRemoving, ""); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}

	if err := store.Delete("wl-1", 1); !errors.Is(err, ErrConflict) {
		t.Errorf("stale delete error = %v, want ErrConflict", err)
	}
	if _, err := store.Get("wl-1"); err != nil {
		t.Error("record must survive a conflicted delete")
	}
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()

	store, err := Open(dir)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	handle := types.Handle{Node: "node-a", ID: "vm-1"}
	w := testWorkload("wl-1", types.StatusRunning, handle)
	w.Labels = map[string]string{"env": "prod"}
	if err := store.Create(w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	revBefore := store.CurrentRevision()
	if err := store.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	got, err := reopened.Get("wl-1")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Status != types.StatusRunning || got.Labels["env"] != "prod" {
		t.Errorf("record lost fields across reopen: %+v", got)
	}
	if _, err := reopened.GetByHandle(handle); err != nil {
		t.Errorf("handle index not rebuilt: %v", err)
	}
	if reopened.CurrentRevision() != revBefore {
		t.Errorf("revision = %d, want %d", reopened.CurrentRevision(), revBefore)
	}
}

func TestStore_CurrentRevision_Monotonic(t *testing.T) {
	store := openTestStore(t)

	if store.CurrentRevision() != 0 {
		t.Errorf("empty store revision = %d, want 0", store.CurrentRevision())
	}

	w := testWorkload("wl-1", types.StatusRunning, types.Handle{Node: "node-a", ID: "vm-1"})
	_ = store.Create(w)
	rev1 := store.CurrentRevision()

	_, _ = store.UpdateStatus("wl-1", 1, types.StatusStopped, "")
	rev2 := store.CurrentRevision()

	if !(rev2 > rev1 && rev1 > 0) {
		t.Errorf("revision not monotonic: %d then %d", rev1, rev2)
	}
}

func TestStore_StatusChangedAt_Advances(t *testing.T) {
	store := openTestStore(t)

	w := testWorkload("wl-1", types.StatusRunning, types.Handle{Node: "node-a", ID: "vm-1"})
	w.StatusChangedAt = time.Now().Add(-time.Hour)
	if err := store.Create(w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	updated, err := store.UpdateStatus("wl-1", 1, types.StatusStopped, "")
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if time.Since(updated.StatusChangedAt) > time.Minute {
		t.Error("StatusChangedAt must be stamped at transition time")
	}
}
