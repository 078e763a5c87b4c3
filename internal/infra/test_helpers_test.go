package infra

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/eliteGoblin/zayproxy/internal/domain"
)

// fakeRunner is a scripted domain.CommandRunner. Responses are matched by
// prefix against "name arg1 arg2 ..."; the first matching prefix wins.
type fakeRunner struct {
	mu        sync.Mutex
	calls     []domain.Command
	timeouts  []time.Duration
	responses []fakeResponse
}

type fakeResponse struct {
	prefix string
	result domain.CommandResult
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{}
}

func (f *fakeRunner) on(prefix string, result domain.CommandResult) *fakeRunner {
	f.responses = append(f.responses, fakeResponse{prefix: prefix, result: result})
	return f
}

func (f *fakeRunner) Run(ctx context.Context, cmd domain.Command, timeout time.Duration) domain.CommandResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)
	f.timeouts = append(f.timeouts, timeout)

	line := commandLine(cmd)
	for _, r := range f.responses {
		if strings.HasPrefix(line, r.prefix) {
			return r.result
		}
	}
	return domain.CommandResult{}
}

// lines returns every invoked command line in order.
func (f *fakeRunner) lines() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = commandLine(c)
	}
	return out
}

func commandLine(cmd domain.Command) string {
	return strings.TrimSpace(cmd.Name + " " + strings.Join(cmd.Args, " "))
}

func ok(stdout string) domain.CommandResult {
	return domain.CommandResult{Stdout: stdout}
}

func exit(code int, output string) domain.CommandResult {
	return domain.CommandResult{ExitStatus: code, Stdout: output}
}

// mockRunner is a testify mock of domain.CommandRunner keyed by command line.
type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, cmd domain.Command, timeout time.Duration) domain.CommandResult {
	args := m.Called(commandLine(cmd), timeout)
	return args.Get(0).(domain.CommandResult)
}

// mockProcessManager is a test double for ProcessManager
type mockProcessManager struct {
	byExe       map[string][]int
	runningPIDs map[int]bool
}

func newMockProcessManager() *mockProcessManager {
	return &mockProcessManager{
		byExe:       make(map[string][]int),
		runningPIDs: make(map[int]bool),
	}
}

func (m *mockProcessManager) FindByName(pattern string) ([]int, error) {
	return nil, nil
}

func (m *mockProcessManager) FindByExecutable(path string) ([]int, error) {
	return m.byExe[path], nil
}

func (m *mockProcessManager) IsRunning(pid int) bool {
	return m.runningPIDs[pid]
}

func (m *mockProcessManager) GetCurrentPID() int {
	return 1
}
