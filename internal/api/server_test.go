package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/zayproxy/internal/domain"
	"github.com/eliteGoblin/zayproxy/internal/infra"
	"github.com/eliteGoblin/zayproxy/internal/usecase"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubAdapter struct {
	outcome domain.ApplyOutcome
}

func (a *stubAdapter) Platform() string { return "test" }

func (a *stubAdapter) Apply(ctx context.Context, p domain.Profile) *domain.ApplyResult {
	r := &domain.ApplyResult{Outcome: a.outcome, Platform: "test", Targets: []string{"Wi-Fi"}}
	if a.outcome == domain.OutcomeFailed {
		r.Steps = []domain.StepResult{{Target: "Wi-Fi", Success: false, ExitCode: 14}}
	}
	return r
}

func (a *stubAdapter) Disable(ctx context.Context) *domain.ApplyResult {
	return &domain.ApplyResult{Outcome: domain.OutcomeApplied, Platform: "test"}
}

func (a *stubAdapter) Verify(ctx context.Context, p domain.Profile) (*domain.Verification, error) {
	return &domain.Verification{Target: "Wi-Fi", Enabled: true, Host: p.Host, Port: p.Port, Matches: true}, nil
}

func (a *stubAdapter) ListManagedTargets(ctx context.Context) ([]string, error) {
	return []string{"Wi-Fi"}, nil
}

type stubBackend struct{}

func (stubBackend) Platform() string { return "test" }
func (stubBackend) Apply(ctx context.Context, r domain.FirewallRule) (domain.FirewallRule, error) {
	return r, nil
}
func (stubBackend) Remove(ctx context.Context, r domain.FirewallRule) error { return nil }
func (stubBackend) Status(ctx context.Context, r domain.FirewallRule) domain.FirewallStatusKind {
	return domain.FirewallEnforced
}

type stubTester struct{}

func (stubTester) Test(ctx context.Context, p domain.Profile) domain.ConnectivityResult {
	return domain.ConnectivityResult{ProfileID: p.ID, Success: true, EgressIP: "203.0.113.7", LatencyMs: 12}
}

type testEnv struct {
	server  *Server
	adapter *stubAdapter
	logs    *infra.LogBuffer
	dir     string
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	dir := t.TempDir()
	store := infra.NewFileStoreWithPath(filepath.Join(dir, "config.json"))
	logger := zap.NewNop()
	adapter := &stubAdapter{outcome: domain.OutcomeApplied}
	profiles := usecase.NewProfileRegistry(store, logger)
	logs := infra.NewLogBuffer(10)

	orch := usecase.NewOrchestrator(store, profiles, adapter, logger)
	svc := Services{
		Profiles:     profiles,
		Rules:        usecase.NewRuleBook(store, logger),
		Firewall:     usecase.NewFirewallController(store, stubBackend{}, infra.NewFileSystemManager(), infra.NewProcessManager(), logger),
		Orchestrator: orch,
		Settings:     usecase.NewSettingsService(store, logger),
		Transfer:     usecase.NewConfigTransfer(store, infra.NewBackupManager(dir, logger), orch, logger),
		Tester:       stubTester{},
		Logs:         logs,
	}
	return &testEnv{server: NewServer(svc, opts, nil, logger), adapter: adapter, logs: logs, dir: dir}
}

// newRequest builds a request addressed to the loopback listener.
func newRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.Host = "127.0.0.1:7788"
	return req
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := newRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var resp Response
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

// decode re-marshals resp.Data into dst.
func decode(t *testing.T, data any, dst any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func (e *testEnv) addProfile(t *testing.T, name string, port int) domain.Profile {
	t.Helper()
	w, resp := e.do(t, http.MethodPost, "/profiles", domain.Profile{Name: name, Type: domain.ProfileHTTP, Host: "10.0.0.1", Port: port})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p domain.Profile
	decode(t, resp.Data, &p)
	return p
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Options{Token: "secret"})
	w, resp := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestBearerAuth(t *testing.T) {
	env := newTestEnv(t, Options{Token: "secret"})

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic secret", want: http.StatusUnauthorized},
		{name: "wrong token", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "valid header", header: "Bearer secret", want: http.StatusOK},
		{name: "valid query", query: "?access_token=secret", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := newRequest(http.MethodGet, "/state"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestLoopbackGuard(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name        string
		method      string
		path        string
		host        string
		origin      string
		contentType string
		want        int
	}{
		{name: "loopback json", method: http.MethodPost, path: "/proxy/disable", host: "127.0.0.1:7788", contentType: "application/json", want: http.StatusOK},
		{name: "localhost with charset", method: http.MethodPost, path: "/proxy/disable", host: "localhost:7788", contentType: "application/json; charset=utf-8", want: http.StatusOK},
		{name: "ipv6 loopback", method: http.MethodGet, path: "/state", host: "[::1]:7788", want: http.StatusOK},
		{name: "loopback origin", method: http.MethodGet, path: "/state", host: "127.0.0.1:7788", origin: "http://localhost:3000", want: http.StatusOK},
		{name: "rebound host", method: http.MethodGet, path: "/state", host: "attacker.example:7788", want: http.StatusForbidden},
		{name: "foreign origin", method: http.MethodGet, path: "/state", host: "127.0.0.1:7788", origin: "http://evil.example", want: http.StatusForbidden},
		{name: "null origin", method: http.MethodGet, path: "/state", host: "127.0.0.1:7788", origin: "null", want: http.StatusForbidden},
		{name: "text plain post", method: http.MethodPost, path: "/proxy/disable", host: "127.0.0.1:7788", contentType: "text/plain", want: http.StatusUnsupportedMediaType},
		{name: "form post", method: http.MethodPost, path: "/proxy/disable", host: "127.0.0.1:7788", contentType: "application/x-www-form-urlencoded", want: http.StatusUnsupportedMediaType},
		{name: "missing content type", method: http.MethodDelete, path: "/logs", host: "127.0.0.1:7788", want: http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader("{}"))
			req.Host = tt.host
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			w := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestCrossSiteImportIsRejected(t *testing.T) {
	env := newTestEnv(t, Options{})
	doc := `{"profiles":[{"id":"evil","name":"evil","type":"http","host":"203.0.113.66","port":8080}],` +
		`"activeProfile":{"id":"evil","name":"evil","type":"http","host":"203.0.113.66","port":8080}}`

	for _, contentType := range []string{"text/plain", "application/json"} {
		req := newRequest(http.MethodPost, "/config/import", strings.NewReader(doc))
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Origin", "http://evil.example")
		w := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(w, req)
		assert.NotEqual(t, http.StatusOK, w.Code, contentType)
	}

	req := newRequest(http.MethodPost, "/proxy/enable", strings.NewReader(""))
	req.Header.Set("Content-Type", "text/plain")
	w := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)

	_, resp := env.do(t, http.MethodGet, "/state", nil)
	var state domain.SystemState
	decode(t, resp.Data, &state)
	assert.False(t, state.Enabled)
	assert.Nil(t, state.ActiveProfile)

	_, resp = env.do(t, http.MethodGet, "/profiles", nil)
	var list struct {
		Profiles []domain.Profile `json:"profiles"`
	}
	decode(t, resp.Data, &list)
	assert.Empty(t, list.Profiles)
}

func TestProfiles_ValidationAndNotFound(t *testing.T) {
	env := newTestEnv(t, Options{})

	w, resp := env.do(t, http.MethodPost, "/profiles", domain.Profile{Name: "bad", Type: domain.ProfileHTTP, Host: "h", Port: 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)

	w, resp = env.do(t, http.MethodGet, "/profiles/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestProxy_EnableFlow(t *testing.T) {
	env := newTestEnv(t, Options{})

	w, resp := env.do(t, http.MethodPost, "/proxy/enable", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, ErrCodeNoActive, resp.Error.Code)

	p := env.addProfile(t, "work", 8080)
	w, _ = env.do(t, http.MethodPost, "/proxy/switch", switchRequest{ProfileID: p.ID})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodPost, "/proxy/enable", nil)
	require.Equal(t, http.StatusOK, w.Code)

	_, resp = env.do(t, http.MethodGet, "/state", nil)
	var state domain.SystemState
	decode(t, resp.Data, &state)
	assert.True(t, state.Enabled)
	assert.Equal(t, p.ID, state.ActiveProfileID())

	_, resp = env.do(t, http.MethodGet, "/proxy/verify", nil)
	var v domain.Verification
	decode(t, resp.Data, &v)
	assert.True(t, v.Matches)

	w, _ = env.do(t, http.MethodPost, "/proxy/disable", nil)
	require.Equal(t, http.StatusOK, w.Code)
	_, resp = env.do(t, http.MethodGet, "/state", nil)
	decode(t, resp.Data, &state)
	assert.False(t, state.Enabled)
}

func TestProxy_EnableFailureMapsToBadGateway(t *testing.T) {
	env := newTestEnv(t, Options{})
	p := env.addProfile(t, "work", 8080)
	env.do(t, http.MethodPost, "/proxy/switch", switchRequest{ProfileID: p.ID})
	env.adapter.outcome = domain.OutcomeFailed

	w, resp := env.do(t, http.MethodPost, "/proxy/enable", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, ErrCodeApplyFailed, resp.Error.Code)
	assert.NotNil(t, resp.Data, "the apply result is returned with the error")
}

func TestRules_TestURL(t *testing.T) {
	env := newTestEnv(t, Options{})
	p := env.addProfile(t, "work", 8080)

	w, _ := env.do(t, http.MethodPost, "/rules", domain.Rule{Pattern: "*.internal.co", ProfileID: p.ID, Enabled: true})
	require.Equal(t, http.StatusCreated, w.Code)

	_, resp := env.do(t, http.MethodPost, "/rules/test", testURLRequest{URL: "https://api.internal.co/x"})
	var m domain.MatchResult
	decode(t, resp.Data, &m)
	assert.True(t, m.Matched)
	assert.Equal(t, p.ID, m.ProfileID)

	w, _ = env.do(t, http.MethodGet, "/pac", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-ns-proxy-autoconfig", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "PROXY 10.0.0.1:8080")
}

func TestFirewall_AddApplyStatus(t *testing.T) {
	env := newTestEnv(t, Options{})
	target := filepath.Join(env.dir, "game")
	require.NoError(t, os.WriteFile(target, []byte("bin"), 0755))

	w, resp := env.do(t, http.MethodPost, "/firewall/rules", domain.NewFirewallRule("Game", target))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rule domain.FirewallRule
	decode(t, resp.Data, &rule)

	_, resp = env.do(t, http.MethodPost, "/firewall/apply", nil)
	var applied domain.FirewallApplyResult
	decode(t, resp.Data, &applied)
	assert.Equal(t, 1, applied.AppliedCount)

	_, resp = env.do(t, http.MethodGet, "/firewall/status", nil)
	var status domain.FirewallStatus
	decode(t, resp.Data, &status)
	assert.Equal(t, 1, status.Enforced)

	w, _ = env.do(t, http.MethodPost, "/firewall/rules/"+rule.ID+"/toggle", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = env.do(t, http.MethodPost, "/firewall/rules", domain.NewFirewallRule("Ghost", "/does/not/exist"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettingsAndTransfer(t *testing.T) {
	env := newTestEnv(t, Options{})
	env.addProfile(t, "work", 8080)

	_, resp := env.do(t, http.MethodPatch, "/settings", map[string]any{"theme": "dark"})
	var settings domain.Settings
	decode(t, resp.Data, &settings)
	assert.Equal(t, "dark", settings.Theme)
	assert.True(t, settings.MinimizeToTray)

	_, resp = env.do(t, http.MethodGet, "/config/export", nil)
	var doc domain.ConfigDocument
	decode(t, resp.Data, &doc)
	require.NotNil(t, doc.Profiles)
	assert.Len(t, *doc.Profiles, 1)

	empty := []domain.Profile{}
	w, _ := env.do(t, http.MethodPost, "/config/import", domain.ConfigDocument{Profiles: &empty})
	require.Equal(t, http.StatusOK, w.Code)

	_, resp = env.do(t, http.MethodGet, "/profiles", nil)
	var list struct {
		Profiles []domain.Profile `json:"profiles"`
	}
	decode(t, resp.Data, &list)
	assert.Empty(t, list.Profiles)
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t, Options{})
	logger := zap.New(env.logs.Core(zap.DebugLevel))
	logger.Info("proxy enabled", zap.String("profile", "p1"))

	_, resp := env.do(t, http.MethodGet, "/logs", nil)
	var body struct {
		Entries []infra.LogEntry `json:"entries"`
	}
	decode(t, resp.Data, &body)
	require.Len(t, body.Entries, 1)
	assert.Equal(t, "proxy enabled", body.Entries[0].Message)

	w, _ := env.do(t, http.MethodGet, "/logs?format=text", nil)
	assert.Contains(t, w.Body.String(), "proxy enabled")
}

func TestEvents_StreamsStateChanges(t *testing.T) {
	env := newTestEnv(t, Options{})
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.server.Hub().Clients() == 1 }, time.Second, 10*time.Millisecond)

	p := env.addProfile(t, "work", 8080)
	env.do(t, http.MethodPost, "/proxy/switch", switchRequest{ProfileID: p.ID})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var change domain.StateChange
	require.NoError(t, json.Unmarshal(msg, &change))
	assert.Equal(t, "switch", change.Reason)
	require.NotNil(t, change.ActiveProfile)
	assert.Equal(t, p.ID, change.ActiveProfile.ID)
}
