package reconciler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/example/warden/alert"
	"github.com/example/warden/audit"
	"github.com/example/warden/netalloc"
	"github.com/example/warden/platform"
	"github.com/example/warden/policy"
	"github.com/example/warden/storage"
	"github.com/example/warden/types"
)

// MockPlatform is an in-memory platform with scriptable failures
type MockPlatform struct {
	mu         sync.Mutex
	resources  map[string]*platform.State
	configs    map[string]map[string]string
	inspectErr error
	stopErr    error
	destroyErr error
	configErr  error
	ignoreStop bool
	onInspect  func()
	gate       chan struct{}
	calls      []string
}

func NewMockPlatform() *MockPlatform {
	return &MockPlatform{
		resources: make(map[string]*platform.State),
		configs:   make(map[string]map[string]string),
	}
}

func (m *MockPlatform) add(h types.Handle, status types.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[h.String()] = &platform.State{Status: status, Raw: string(status)}
}

func (m *MockPlatform) addWithConfig(h types.Handle, status types.Status, cfg map[string]string) {
	m.add(h, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[h.String()] = cfg
}

func (m *MockPlatform) remove(h types.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.resources, h.String())
}

func (m *MockPlatform) record(op string, h types.Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, op+" "+h.String())
}

func (m *MockPlatform) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockPlatform) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if len(c) >= len(op) && c[:len(op)] == op {
			count++
		}
	}
	return count
}

func (m *MockPlatform) Inspect(ctx context.Context, h types.Handle) (*platform.State, error) {
	m.record("inspect", h)

	m.mu.Lock()
	gate := m.gate
	hook := m.onInspect
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if hook != nil {
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.inspectErr != nil {
		return nil, m.inspectErr
	}
	state, ok := m.resources[h.String()]
	if !ok {
		return nil, platform.ErrNotFound
	}
	copied := *state
	return &copied, nil
}

func (m *MockPlatform) Stop(ctx context.Context, h types.Handle) error {
	m.record("stop", h)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopErr != nil {
		return m.stopErr
	}
	state, ok := m.resources[h.String()]
	if !ok {
		return platform.ErrNotFound
	}
	if !m.ignoreStop {
		state.Status = types.StatusStopped
	}
	return nil
}

func (m *MockPlatform) Destroy(ctx context.Context, h types.Handle) error {
	m.record("destroy", h)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.destroyErr != nil {
		return m.destroyErr
	}
	if _, ok := m.resources[h.String()]; !ok {
		return platform.ErrNotFound
	}
	delete(m.resources, h.String())
	return nil
}

func (m *MockPlatform) Config(ctx context.Context, h types.Handle) (map[string]string, error) {
	m.record("config", h)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configErr != nil {
		return nil, m.configErr
	}
	cfg, ok := m.configs[h.String()]
	if !ok {
		return nil, platform.ErrNotFound
	}
	return cfg, nil
}

// recordedAlert captures one notification for assertions
type recordedAlert struct {
	Severity alert.Severity
	Message  string
	Fields   map[string]string
}

// MockNotifier records every notification it receives
type MockNotifier struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (m *MockNotifier) Notify(ctx context.Context, sev alert.Severity, msg string, fields map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, recordedAlert{Severity: sev, Message: msg, Fields: fields})
	return nil
}

func (m *MockNotifier) BySeverity(sev alert.Severity) []recordedAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []recordedAlert
	for _, a := range m.alerts {
		if a.Severity == sev {
			matched = append(matched, a)
		}
	}
	return matched
}

// MockAdmission denies the configured actions with canned reasons
type MockAdmission struct {
	deny map[string][]string
}

func (m *MockAdmission) Evaluate(ctx context.Context, input policy.AdmissionInput) (policy.AdmissionDecision, error) {
	if reasons, ok := m.deny[input.Action]; ok {
		return policy.AdmissionDecision{Allow: false, Reasons: reasons}, nil
	}
	return policy.AdmissionDecision{Allow: true}, nil
}

// Test fixtures

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	store, err := storage.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestJournal(t *testing.T) *audit.Log {
	t.Helper()
	journal, err := audit.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open journal: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func newTestAllocator(t *testing.T) *netalloc.RangeAllocator {
	t.Helper()
	alloc, err := netalloc.NewRangeAllocator(7000, 7100)
	if err != nil {
		t.Fatalf("Failed to create allocator: %v", err)
	}
	return alloc
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.PlatformTimeout = 0
	opts.StopWait = 200 * time.Millisecond
	opts.StopPoll = 10 * time.Millisecond
	return opts
}

func seedWorkload(t *testing.T, store *storage.Store, w *types.Workload) *types.Workload {
	t.Helper()
	if err := store.Create(w); err != nil {
		t.Fatalf("Failed to seed workload %s: %v", w.ID, err)
	}
	return w
}
