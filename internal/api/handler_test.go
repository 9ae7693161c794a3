//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"errors"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agent-relay/internal/agent"
	"github.com/ashureev/agent-relay/internal/config"
	"github.com/ashureev/agent-relay/internal/domain"
	"github.com/ashureev/agent-relay/internal/middleware"
	"github.com/ashureev/agent-relay/internal/store"
	"github.com/ashureev/agent-relay/internal/tasks"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

type fakeInvoker struct {
	mu   sync.Mutex
	res  domain.AgentResult
	reqs []agent.Request
}

func (f *fakeInvoker) Invoke(_ context.Context, req agent.Request) domain.AgentResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return f.res
}

func (f *fakeInvoker) lastRequest() agent.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reqs) == 0 {
		return agent.Request{}
	}
	return f.reqs[len(f.reqs)-1]
}

type staticHistory struct {
	mu      sync.Mutex
	listing agent.HistoryListing
	project string
}

func (s *staticHistory) ListSessions(_ context.Context, project string) (agent.HistoryListing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.project = project
	return s.listing, nil
}

func (s *staticHistory) lastProject() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

type testServer struct {
	srv        *httptest.Server
	dispatcher *tasks.Dispatcher
	invoker    *fakeInvoker
	sessions   *store.JSONFileStore
	history    *staticHistory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sessions, err := store.NewJSONFile(filepath.Join(t.TempDir(), "sessions.json"))
	require.NoError(t, err)

	inv := &fakeInvoker{res: domain.AgentResult{
		ResponseText: "pong", AgentSessionID: "abc", Cost: 0.01, TurnCount: 1, Success: true,
	}}
	d := tasks.NewDispatcher(tasks.NewMemoryRegistry(), inv, sessions, logger)
	hist := &staticHistory{}

	r := chi.NewRouter()
	NewPublicHandler(sessions, "/srv/project", logger).RegisterRoutes(r)
	r.Group(func(r chi.Router) {
		r.Use(middleware.BasicAuth(config.AuthConfig{Username: "u", Password: "p"}, logger))
		NewHandler(d, hist, "/srv/project", 1024, logger).RegisterRoutes(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, dispatcher: d, invoker: inv, sessions: sessions, history: hist}
}

func (ts *testServer) do(t *testing.T, method, path, body string, auth bool) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		req.SetBasicAuth("u", "p")
	}
	resp, err := ts.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp, out
}

func TestHealthAndConfigArePublic(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "agent-api", body["service"])

	resp, body = ts.do(t, http.MethodGet, "/api/config", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/srv/project", body["project_path"])
}

func TestHealthDegradedOnCorruptStore(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, os.WriteFile(ts.sessions.Path(), []byte("{nope"), 0o600))

	resp, body := ts.do(t, http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("store unreachable") }

func TestHealthLogsThroughInjectedLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := NewPublicHandler(failingPinger{}, "/srv/project", slog.New(slog.NewJSONHandler(&buf, nil)))

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, buf.String(), "Health check failed")
	assert.Contains(t, buf.String(), "store unreachable")
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/sessions", "/api/conversations"} {
		resp, _ := ts.do(t, http.MethodGet, path, "", false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
		assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic", path)
	}
	resp, _ := ts.do(t, http.MethodPost, "/api/chat", `{"message":"hi"}`, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSyncChat(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/chat", `{"message":"ping"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pong", body["response"])
	assert.Equal(t, "abc", body["session_id"])
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["turns"])

	id, ok, err := ts.sessions.Get(context.Background(), "default")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "abc", id)

	_, _ = ts.do(t, http.MethodPost, "/api/chat", `{"message":"again"}`, true)
	assert.Equal(t, "abc", ts.invoker.lastRequest().AgentSessionID)
}

func TestSyncChatAgentFailureIs200(t *testing.T) {
	ts := newTestServer(t)
	ts.invoker.mu.Lock()
	ts.invoker.res = domain.Failed(domain.ErrorKindAuth, "", "Agent CLI error: Invalid API key. Please run 'claude login' in your terminal to authenticate.")
	ts.invoker.mu.Unlock()

	resp, body := ts.do(t, http.MethodPost, "/api/chat", `{"message":"ping","conv_id":"c1"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "auth", body["error_kind"])

	_, ok, err := ts.sessions.Get(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestChatValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"bad json", "{"},
		{"blank message", `{"message":"   "}`},
		{"bad conversation id", `{"message":"hi","conversation_id":"../../x"}`},
		{"too large", `{"message":"` + strings.Repeat("x", 2048) + `"}`},
	}
	for _, tt := range tests {
		resp, body := ts.do(t, http.MethodPost, "/api/chat", tt.body, true)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, tt.name)
		assert.NotEmpty(t, body["error"], tt.name)
	}
}

func TestSyncChatCorruptStoreIs500(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, os.WriteFile(ts.sessions.Path(), []byte("{nope"), 0o600))

	resp, _ := ts.do(t, http.MethodPost, "/api/chat", `{"message":"ping"}`, true)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestAsyncTaskFlow(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/sessions/new/chat", `{"message":"ping"}`, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "processing", body["status"])
	taskID, _ := body["task_id"].(string)
	require.NotEmpty(t, taskID)

	ts.dispatcher.Wait()

	path := "/api/sessions/new/tasks/" + taskID
	resp, body = ts.do(t, http.MethodGet, path, "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "completed", body["status"])
	result, _ := body["result"].(map[string]interface{})
	require.NotNil(t, result)
	assert.Equal(t, "pong", result["response"])
	assert.Equal(t, "abc", result["session_id"])

	resp, body = ts.do(t, http.MethodDelete, path, "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cleaned", body["status"])

	resp, body = ts.do(t, http.MethodDelete, path, "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "not_found", body["status"])

	resp, body = ts.do(t, http.MethodGet, path, "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "not_found", body["status"])
	assert.Nil(t, body["result"])
}

func TestAsyncSubmitValidation(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/new/chat", `{"message":""}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/sessions/new/chat", `{"message":"x","timeout":-1}`, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/sessions/new/tasks/not-a-uuid", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAsyncSubmitPassesTimeout(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/sessions/conv-7/chat", `{"message":"x","timeout":45}`, true)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ts.dispatcher.Wait()

	assert.Equal(t, 45*time.Second, ts.invoker.lastRequest().Timeout)
}

func TestReset(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.sessions.Update(ctx, "default", "s1", 1))
	require.NoError(t, ts.sessions.Update(ctx, "q", "s2", 1))
	require.NoError(t, ts.sessions.Update(ctx, "b", "s3", 1))

	resp, body := ts.do(t, http.MethodPost, "/api/reset", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "default", body["conv_id"])

	resp, body = ts.do(t, http.MethodPost, "/api/reset?conv_id=q", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "q", body["conv_id"])

	resp, body = ts.do(t, http.MethodPost, "/api/reset", `{"conversation_id":"b"}`, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "b", body["conv_id"])

	all, err := ts.sessions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestSessionsAndConversations(t *testing.T) {
	ts := newTestServer(t)
	ts.history.mu.Lock()
	ts.history.listing = agent.HistoryListing{Sessions: []domain.HistorySession{
		{SessionID: "h1", Display: "refactor", Project: "/srv/project", Timestamp: 10},
	}}
	ts.history.mu.Unlock()
	require.NoError(t, ts.sessions.Update(context.Background(), "c1", "s1", 2))

	resp, body := ts.do(t, http.MethodGet, "/api/sessions", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/srv/project", ts.history.lastProject())
	sessions, _ := body["sessions"].([]interface{})
	assert.Len(t, sessions, 1)

	resp, body = ts.do(t, http.MethodGet, "/api/conversations", "", true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	convs, _ := body["conversations"].(map[string]interface{})
	require.Contains(t, convs, "c1")
	c1, _ := convs["c1"].(map[string]interface{})
	assert.Equal(t, "s1", c1["session_id"])
	assert.EqualValues(t, 2, c1["turn_count"])
}
