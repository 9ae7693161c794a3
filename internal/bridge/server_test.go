package bridge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agent-relay/internal/agent"
	"github.com/ashureev/agent-relay/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedRunner struct {
	mu   sync.Mutex
	out  agent.RunOutput
	wait bool
	got  agent.Invocation
}

func (s *scriptedRunner) Run(ctx context.Context, inv agent.Invocation) (agent.RunOutput, error) {
	s.mu.Lock()
	s.got = inv
	s.mu.Unlock()
	if s.wait {
		<-ctx.Done()
		return agent.RunOutput{}, ctx.Err()
	}
	return s.out, nil
}

func (s *scriptedRunner) last() agent.Invocation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

type fixedHistory struct{ project string }

func (f *fixedHistory) ListSessions(_ context.Context, project string) (agent.HistoryListing, error) {
	f.project = project
	return agent.HistoryListing{Sessions: []domain.HistorySession{{SessionID: "h1", Project: project}}}, nil
}

func newRouter(s *Server) http.Handler {
	r := chi.NewRouter()
	s.RegisterRoutes(r)
	return r
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExecute(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{out: agent.RunOutput{Stdout: `{"result":"pong"}`, ExitCode: 0}}
	h := newRouter(NewServer(runner, &fixedHistory{}, 0, quietLogger()))

	body := `{"args":["-p","ping","--output-format","json"],"cwd":"/srv/app","timeout":60}`
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	var out agent.RunOutput
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, `{"result":"pong"}`, out.Stdout)
	assert.Equal(t, "/srv/app", runner.last().Dir)
	assert.Equal(t, 60*time.Second, runner.last().Timeout)
	assert.Equal(t, []string{"-p", "ping", "--output-format", "json"}, runner.last().Args)
}

func TestExecuteTimeout(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{wait: true}
	h := newRouter(NewServer(runner, &fixedHistory{}, 50*time.Millisecond, quietLogger()))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`{"args":[],"timeout":600}`)))

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Command timeout"}`, w.Body.String())
}

func TestExecuteBadBody(t *testing.T) {
	t.Parallel()

	h := newRouter(NewServer(&scriptedRunner{}, &fixedHistory{}, 0, quietLogger()))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/execute", strings.NewReader(`nope`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessions(t *testing.T) {
	t.Parallel()

	hist := &fixedHistory{}
	h := newRouter(NewServer(&scriptedRunner{}, hist, 0, quietLogger()))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions?project=%2Fsrv%2Fapp", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/srv/app", hist.project)
	var listing agent.HistoryListing
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Sessions, 1)
}

// The API server's bridge runner and this server agree on the wire format.
func TestBridgeRoundTrip(t *testing.T) {
	t.Parallel()

	runner := &scriptedRunner{out: agent.RunOutput{Stdout: `{"result":"pong","session_id":"abc","num_turns":1}`}}
	srv := httptest.NewServer(newRouter(NewServer(runner, &fixedHistory{}, 0, quietLogger())))
	defer srv.Close()

	inv := agent.NewInvoker(agent.NewBridgeRunner(srv.URL, srv.Client(), quietLogger()), agent.Options{
		Timeout: 30 * time.Second,
		Logger:  quietLogger(),
	})
	res := inv.Invoke(context.Background(), agent.Request{Message: "ping", AgentSessionID: "prev"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "pong", res.ResponseText)
	assert.Equal(t, "abc", res.AgentSessionID)
	assert.Equal(t, []string{"-p", "ping", "--output-format", "json", "--resume", "prev"}, runner.last().Args)
}
