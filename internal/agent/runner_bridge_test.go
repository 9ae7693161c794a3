package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/agent-relay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeRunnerExecute(t *testing.T) {
	t.Parallel()

	var got ExecuteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/execute", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(RunOutput{
			Stdout: `{"result":"pong","session_id":"abc","total_cost_usd":0.02,"num_turns":2}`,
		})
	}))
	defer srv.Close()

	inv := NewInvoker(NewBridgeRunner(srv.URL, srv.Client(), quietLogger()), Options{
		WorkDir: "/home/me/project",
		Timeout: 90 * time.Second,
		Logger:  quietLogger(),
	})
	res := inv.Invoke(context.Background(), Request{Message: "ping"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "pong", res.ResponseText)
	assert.Equal(t, 2, res.TurnCount)
	assert.Equal(t, []string{"-p", "ping", "--output-format", "json"}, got.Args)
	assert.Equal(t, "/home/me/project", got.Cwd)
	assert.Equal(t, 90, got.Timeout)
}

func TestBridgeRunnerCommandTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(BridgeError{Error: BridgeTimeoutMessage})
	}))
	defer srv.Close()

	inv := NewInvoker(NewBridgeRunner(srv.URL, srv.Client(), quietLogger()), Options{Timeout: 3 * time.Second, Logger: quietLogger()})
	res := inv.Invoke(context.Background(), Request{Message: "slow"})

	assert.Equal(t, domain.ErrorKindTimeout, res.ErrorKind)
	assert.Equal(t, "Request timed out after 3 seconds", res.Error)
}

func TestBridgeRunnerUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	inv := NewInvoker(NewBridgeRunner(url, nil, quietLogger()), Options{Timeout: 3 * time.Second, Logger: quietLogger()})
	res := inv.Invoke(context.Background(), Request{Message: "x"})

	assert.Equal(t, domain.ErrorKindTransport, res.ErrorKind)
	assert.Contains(t, res.Error, "Cannot reach agent host bridge")
}

func TestBridgeRunnerListSessions(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sessions", r.URL.Path)
		assert.Equal(t, "/srv/app", r.URL.Query().Get("project"))
		_ = json.NewEncoder(w).Encode(HistoryListing{Sessions: []domain.HistorySession{
			{SessionID: "s1", Display: "fix tests", Project: "/srv/app", Timestamp: 42},
		}})
	}))
	defer srv.Close()

	listing, err := NewBridgeRunner(srv.URL, srv.Client(), quietLogger()).ListSessions(context.Background(), "/srv/app")
	require.NoError(t, err)
	require.Len(t, listing.Sessions, 1)
	assert.Equal(t, "s1", listing.Sessions[0].SessionID)
}
