package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// memStore implements domain.Store in memory with JSON round-tripping, so
// tests see the same decoding behavior as the real backends.
type memStore struct {
	mu       sync.Mutex
	data     map[string][]byte
	writes   int
	setErr   error
	lastMany map[string]any
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (m *memStore) Get(key string, dst any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

func (m *memStore) Set(key string, value any) error {
	return m.SetMany(map[string]any{key: value})
}

func (m *memStore) SetMany(values map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	encoded := make(map[string][]byte, len(values))
	for k, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		encoded[k] = raw
	}
	for k, raw := range encoded {
		m.data[k] = raw
	}
	m.writes++
	m.lastMany = values
	return nil
}

func (m *memStore) Close() error { return nil }

// fakeAdapter implements domain.ProxyAdapter and records the call sequence.
type fakeAdapter struct {
	mu           sync.Mutex
	calls        []string
	applyOutcome domain.ApplyOutcome
	applyErr     error
	verify       *domain.Verification
	verifyErr    error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{applyOutcome: domain.OutcomeApplied}
}

func (f *fakeAdapter) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeAdapter) sequence() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeAdapter) Platform() string { return "test" }

func (f *fakeAdapter) Apply(ctx context.Context, p domain.Profile) *domain.ApplyResult {
	f.record("apply:" + p.ID)
	r := &domain.ApplyResult{Outcome: f.applyOutcome, Platform: "test", Targets: []string{"Wi-Fi"}, Err: f.applyErr}
	if f.applyOutcome == domain.OutcomeFailed {
		r.Steps = []domain.StepResult{{Target: "Wi-Fi", Command: "set", Success: false, ExitCode: 1}}
	}
	return r
}

func (f *fakeAdapter) Disable(ctx context.Context) *domain.ApplyResult {
	f.record("disable")
	return &domain.ApplyResult{Outcome: domain.OutcomeApplied, Platform: "test"}
}

func (f *fakeAdapter) Verify(ctx context.Context, p domain.Profile) (*domain.Verification, error) {
	f.record("verify:" + p.ID)
	return f.verify, f.verifyErr
}

func (f *fakeAdapter) ListManagedTargets(ctx context.Context) ([]string, error) {
	return []string{"Wi-Fi"}, nil
}

// fakeBackend implements domain.FirewallBackend with per-rule errors.
type fakeBackend struct {
	applyErr  map[string]error
	removeErr map[string]error
	status    map[string]domain.FirewallStatusKind
	applied   []string
	removed   []string
}

func (f *fakeBackend) Platform() string { return "test" }

func (f *fakeBackend) Apply(ctx context.Context, r domain.FirewallRule) (domain.FirewallRule, error) {
	f.applied = append(f.applied, r.ID)
	if err := f.applyErr[r.ID]; err != nil {
		var manual *domain.RequiresManualActionError
		if errors.As(err, &manual) {
			r.AnchorFile = manual.Artifact
		}
		return r, err
	}
	return r, nil
}

func (f *fakeBackend) Remove(ctx context.Context, r domain.FirewallRule) error {
	f.removed = append(f.removed, r.ID)
	return f.removeErr[r.ID]
}

func (f *fakeBackend) Status(ctx context.Context, r domain.FirewallRule) domain.FirewallStatusKind {
	if s, ok := f.status[r.ID]; ok {
		return s
	}
	return domain.FirewallNotApplied
}

// mockFileSystemManager implements domain.FileSystemManager for testing.
type mockFileSystemManager struct {
	existingPaths map[string]bool
}

func (m *mockFileSystemManager) Exists(path string) bool {
	return m.existingPaths[path]
}

func (m *mockFileSystemManager) Delete(path string) error {
	delete(m.existingPaths, path)
	return nil
}

func (m *mockFileSystemManager) ExpandHome(path string) string {
	return path // No expansion in tests
}

// mockProcessManager implements domain.ProcessManager for testing.
type mockProcessManager struct {
	byExe map[string][]int
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) { return nil, nil }

func (m *mockProcessManager) FindByExecutable(path string) ([]int, error) {
	return m.byExe[path], nil
}

func (m *mockProcessManager) IsRunning(pid int) bool { return false }

func (m *mockProcessManager) GetCurrentPID() int { return 1 }

// recordingObserver collects state changes.
type recordingObserver struct {
	changes []domain.StateChange
}

func (r *recordingObserver) OnStateChange(c domain.StateChange) {
	r.changes = append(r.changes, c)
}

// memSnapshots implements domain.SnapshotStore in memory.
type memSnapshots struct {
	saved [][]byte
}

func (m *memSnapshots) Save(data []byte) (domain.Snapshot, error) {
	m.saved = append(m.saved, data)
	return domain.Snapshot{Name: fmt.Sprintf("snap-%d", len(m.saved)), Size: int64(len(data))}, nil
}

func (m *memSnapshots) List() ([]domain.Snapshot, error) {
	out := make([]domain.Snapshot, 0, len(m.saved))
	for i := len(m.saved) - 1; i >= 0; i-- {
		out = append(out, domain.Snapshot{Name: fmt.Sprintf("snap-%d", i+1)})
	}
	return out, nil
}

func (m *memSnapshots) Load(name string) ([]byte, error) {
	if len(m.saved) == 0 {
		return nil, &domain.NotFoundError{Kind: "snapshot", ID: name}
	}
	if name == "" {
		return m.saved[len(m.saved)-1], nil
	}
	var i int
	if _, err := fmt.Sscanf(name, "snap-%d", &i); err != nil || i < 1 || i > len(m.saved) {
		return nil, &domain.NotFoundError{Kind: "snapshot", ID: name}
	}
	return m.saved[i-1], nil
}

func httpProfile(name string, port int) domain.Profile {
	return domain.Profile{Name: name, Type: domain.ProfileHTTP, Host: "10.0.0.1", Port: port}
}
