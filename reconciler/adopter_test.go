package reconciler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/warden/platform"
	"github.com/example/warden/storage"
	"github.com/example/warden/types"
)

func TestAdopter_AdoptsStoppedResource(t *testing.T) {
	store := newTestStore(t)
	journal := newTestJournal(t)
	mock := NewMockPlatform()

	h := types.Handle{Node: "node-a", ID: "vm-legacy"}
	cfg := map[string]string{"image": "debian-12", "cpus": "2"}
	mock.addWithConfig(h, types.StatusStopped, cfg)

	adopter := NewAdopter(store, mock, journal, nil, testOptions())
	w, err := adopter.Adopt(context.Background(), h)
	if err != nil {
		t.Fatalf("Adopt() error = %v", err)
	}

	if w.ID == "" {
		t.Error("adopted workload has no id")
	}
	if w.Name != "vm-legacy" {
		t.Errorf("Name = %q, want vm-legacy", w.Name)
	}
	if w.Status != types.StatusStopped {
		t.Errorf("Status = %s, want the platform's actual state", w.Status)
	}
	if w.Provenance != types.ProvenanceAdopted {
		t.Errorf("Provenance = %s, want adopted", w.Provenance)
	}
	if w.ConfigSnapshot == nil {
		t.Fatal("adopted workload has no config snapshot")
	}
	if w.ConfigSnapshot.Config["image"] != "debian-12" {
		t.Errorf("snapshot config = %v, want captured platform config", w.ConfigSnapshot.Config)
	}
	if time.Since(w.ConfigSnapshot.CapturedAt) > time.Minute {
		t.Errorf("CapturedAt = %v, want capture time", w.ConfigSnapshot.CapturedAt)
	}

	// The record is findable by handle afterwards
	stored, err := store.GetByHandle(h)
	if err != nil {
		t.Fatalf("GetByHandle() after adopt error = %v", err)
	}
	if stored.ID != w.ID {
		t.Errorf("stored id = %s, want %s", stored.ID, w.ID)
	}
}

func TestAdopter_StatusComesFromPlatform(t *testing.T) {
	tests := []struct {
		name     string
		platform types.Status
	}{
		{"running resource", types.StatusRunning},
		{"stopped resource", types.StatusStopped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			journal := newTestJournal(t)
			mock := NewMockPlatform()

			h := types.Handle{Node: "node-a", ID: "vm-1"}
			mock.addWithConfig(h, tt.platform, map[string]string{})

			adopter := NewAdopter(store, mock, journal, nil, testOptions())
			w, err := adopter.Adopt(context.Background(), h)
			if err != nil {
				t.Fatalf("Adopt() error = %v", err)
			}
			if w.Status != tt.platform {
				t.Errorf("Status = %s, want %s", w.Status, tt.platform)
			}
		})
	}
}

func TestAdopter_RejectsAlreadyManagedHandle(t *testing.T) {
	store := newTestStore(t)
	journal := newTestJournal(t)
	mock := NewMockPlatform()

	h := types.Handle{Node: "node-a", ID: "vm-1"}
	seedWorkload(t, store, &types.Workload{
		ID: "w-existing", Status: types.StatusRunning,
		Provenance: types.ProvenanceNative, Handle: h,
	})

	adopter := NewAdopter(store, mock, journal, nil, testOptions())
	_, err := adopter.Adopt(context.Background(), h)
	if !IsAlreadyManaged(err) {
		t.Fatalf("Adopt() error = %v, want AlreadyManagedError", err)
	}

	var managed *AlreadyManagedError
	errors.As(err, &managed)
	if managed.WorkloadID != "w-existing" {
		t.Errorf("WorkloadID = %s, want w-existing", managed.WorkloadID)
	}

	if calls := mock.Calls(); len(calls) != 0 {
		t.Errorf("platform touched for an already managed handle: %v", calls)
	}
	if store.Count() != 1 {
		t.Errorf("record count = %d, want 1", store.Count())
	}
}

func TestAdopter_ResourceMissing(t *testing.T) {
	store := newTestStore(t)
	journal := newTestJournal(t)
	mock := NewMockPlatform()

	adopter := NewAdopter(store, mock, journal, nil, testOptions())
	_, err := adopter.Adopt(context.Background(), types.Handle{Node: "node-a", ID: "vm-ghost"})
	if !errors.Is(err, platform.ErrNotFound) {
		t.Fatalf("Adopt() error = %v, want platform.ErrNotFound", err)
	}
	if store.Count() != 0 {
		t.Errorf("record created for a missing resource: count %d", store.Count())
	}
}

func TestAdopter_ConfigFailureCreatesNothing(t *testing.T) {
	store := newTestStore(t)
	journal := newTestJournal(t)
	mock := NewMockPlatform()

	h := types.Handle{Node: "node-a", ID: "vm-1"}
	mock.add(h, types.StatusRunning)
	mock.configErr = errors.New("guest agent timeout")

	adopter := NewAdopter(store, mock, journal, nil, testOptions())
	_, err := adopter.Adopt(context.Background(), h)
	if err == nil {
		t.Fatal("Adopt() succeeded with config capture failing")
	}
	if store.Count() != 0 {
		t.Errorf("half-observed resource entered the store: count %d", store.Count())
	}
}

// racingCreateRepo seeds a competing record for the same handle just
// before the adopter's create lands
type racingCreateRepo struct {
	Repository
	store *storage.Store
	raced bool
}

func (r *racingCreateRepo) Create(w *types.Workload) error {
	if !r.raced {
		r.raced = true
		_ = r.store.Create(&types.Workload{
			ID: "w-winner", Status: types.StatusRunning,
			Provenance: types.ProvenanceAdopted, Handle: w.Handle,
		})
	}
	return r.Repository.Create(w)
}

func TestAdopter_LosesCreationRace(t *testing.T) {
	store := newTestStore(t)
	journal := newTestJournal(t)
	mock := NewMockPlatform()

	h := types.Handle{Node: "node-a", ID: "vm-contested"}
	mock.addWithConfig(h, types.StatusRunning, map[string]string{})

	repo := &racingCreateRepo{Repository: store, store: store}
	adopter := NewAdopter(repo, mock, journal, nil, testOptions())

	_, err := adopter.Adopt(context.Background(), h)
	if !IsAlreadyManaged(err) {
		t.Fatalf("Adopt() error = %v, want AlreadyManagedError", err)
	}

	var managed *AlreadyManagedError
	errors.As(err, &managed)
	if managed.WorkloadID != "w-winner" {
		t.Errorf("WorkloadID = %s, want the race winner", managed.WorkloadID)
	}

	// Only the winner's record exists
	if store.Count() != 1 {
		t.Errorf("record count = %d, want 1", store.Count())
	}
	if w, err := store.GetByHandle(h); err != nil || w.ID != "w-winner" {
		t.Errorf("handle owner = %v, %v, want w-winner", w, err)
	}
}

func TestAdopter_AdmissionDenied(t *testing.T) {
	store := newTestStore(t)
	journal := newTestJournal(t)
	mock := NewMockPlatform()

	h := types.Handle{Node: "node-a", ID: "vm-1"}
	mock.addWithConfig(h, types.StatusRunning, map[string]string{})

	admission := &MockAdmission{deny: map[string][]string{
		"adopt": {"node-a is drained"},
	}}
	adopter := NewAdopter(store, mock, journal, admission, testOptions())

	_, err := adopter.Adopt(context.Background(), h)
	if !IsDenied(err) {
		t.Fatalf("Adopt() error = %v, want DeniedError", err)
	}
	if calls := mock.Calls(); len(calls) != 0 {
		t.Errorf("platform touched despite denial: %v", calls)
	}
	if store.Count() != 0 {
		t.Errorf("record created despite denial: count %d", store.Count())
	}
}
