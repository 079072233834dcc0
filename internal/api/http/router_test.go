package http_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	api "github.com/mind-engage/examprep/internal/api/http"
	"github.com/mind-engage/examprep/internal/apiservice"
	"github.com/mind-engage/examprep/internal/apistub"
	auth "github.com/mind-engage/examprep/internal/auth/middleware"
	"github.com/mind-engage/examprep/internal/db"
	"github.com/mind-engage/examprep/internal/journal"
	"github.com/mind-engage/examprep/internal/session"
)

const fixture = `
tests:
  - id: ti-1
    name: Optics
    time_limit_sec: 1200
    questions:
      - id: q1
        text: Focal length of a plane mirror?
        options: {A: zero, B: infinite, C: "1 m", D: "-1 m"}
      - id: q2
        text: Refractive index of vacuum?
        options: {A: "0", B: "1", C: "1.33", D: "1.5"}
  - id: ti-late
    name: Out of time
    time_limit_sec: 60
    elapsed_sec: 60
    questions:
      - id: q1
        text: anything
        options: {A: a, B: b}
`

// syncBuffer collects access log lines written from server goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type stack struct {
	srv  *httptest.Server
	logs *syncBuffer
	stub *apistub.Store
	auth *auth.AuthService
	mgr  *session.Manager
	hub  *api.Hub
	repo *journal.Repo
	dbh  *sql.DB
}

func newStack(t *testing.T) *stack {
	t.Helper()
	st := &stack{stub: apistub.NewStore(), auth: auth.NewAuthService("test-secret"), hub: api.NewHub(), logs: &syncBuffer{}}
	require.NoError(t, st.stub.Load(strings.NewReader(fixture)))
	upstream := httptest.NewServer(apistub.Router(st.stub))
	t.Cleanup(upstream.Close)

	dbh, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { dbh.Close() })
	st.dbh = dbh
	st.repo = journal.NewRepo(dbh)

	st.mgr = session.NewManager(session.ManagerConfig{SaveWorkers: 2}, session.Deps{
		Backend:  apiservice.New(apiservice.Config{BaseURL: upstream.URL}),
		Sink:     st.hub,
		Observer: journal.NewObserver(st.repo),
	})
	st.srv = httptest.NewServer(api.NewRouter(api.RouterDeps{
		Manager:     st.mgr,
		Hub:         st.hub,
		Auth:        st.auth,
		Journal:     st.repo,
		CORSOrigins: []string{"*"},
		Ready:       dbh.PingContext,
		AccessLog:   log.New(st.logs, "", 0),
	}))
	t.Cleanup(func() {
		st.srv.Close()
		_ = st.mgr.Shutdown(context.Background())
	})
	return st
}

func (st *stack) token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := st.auth.IssueJWT(sub, role, time.Hour)
	require.NoError(t, err)
	return tok
}

func (st *stack) do(t *testing.T, tok, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, st.srv.URL+path, rdr)
	require.NoError(t, err)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	m, _ := out.(map[string]any)
	return resp, m
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	st := newStack(t)
	alice := st.token(t, "alice", "student")

	resp, snap := st.do(t, alice, http.MethodPost, "/sessions", map[string]string{"test_instance_id": "ti-1", "kind": "quiz"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	id := snap["session_id"].(string)
	require.Equal(t, "Optics", snap["test_name"])
	require.Equal(t, "running", snap["phase"])

	resp, snap = st.do(t, alice, http.MethodPost, "/sessions/"+id+"/select", map[string]string{"label": "B"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "B", snap["answers"].(map[string]any)["q1"])

	resp, _ = st.do(t, alice, http.MethodPost, "/sessions/"+id+"/select", map[string]string{"label": "Q"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, snap = st.do(t, alice, http.MethodPost, "/sessions/"+id+"/navigate", map[string]string{"direction": "next"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, snap["index"])

	resp, snap = st.do(t, alice, http.MethodPost, "/sessions/"+id+"/navigate", map[string]int{"index": 99})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, snap["index"])

	resp, _ = st.do(t, alice, http.MethodPost, "/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp, _ = st.do(t, alice, http.MethodPost, "/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	require.Eventually(t, func() bool {
		_, snap := st.do(t, alice, http.MethodGet, "/sessions/"+id, nil)
		return snap["phase"] == "submitted"
	}, 3*time.Second, 20*time.Millisecond)
	_, snap = st.do(t, alice, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, "/quiz/ti-1/result", snap["result_route"])

	_, submitted := st.stub.Stats("ti-1")
	require.True(t, submitted)

	resp, _ = st.do(t, alice, http.MethodDelete, "/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = st.do(t, alice, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOwnershipAndRoles(t *testing.T) {
	st := newStack(t)
	alice := st.token(t, "alice", "student")
	bob := st.token(t, "bob", "student")
	proctor := st.token(t, "pat", "proctor")

	_, snap := st.do(t, alice, http.MethodPost, "/sessions", map[string]string{"test_instance_id": "ti-1"})
	id := snap["session_id"].(string)
	require.Equal(t, "ai_test", snap["kind"])

	resp, _ := st.do(t, bob, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = st.do(t, bob, http.MethodPost, "/sessions/"+id+"/select", map[string]string{"label": "A"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = st.do(t, proctor, http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = st.do(t, proctor, http.MethodPost, "/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = st.do(t, proctor, http.MethodDelete, "/sessions/"+id, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = st.do(t, bob, http.MethodDelete, "/sessions/"+id, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = st.do(t, alice, http.MethodPost, "/sessions/"+id+"/select", map[string]string{"label": "A"})
	require.Equal(t, http.StatusOK, resp.StatusCode, "attempt survives other users' deletes")

	admin := st.token(t, "root", "admin")
	_, other := st.do(t, alice, http.MethodPost, "/sessions", map[string]string{"test_instance_id": "ti-1"})
	resp, _ = st.do(t, admin, http.MethodDelete, "/sessions/"+other["session_id"].(string), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = st.do(t, "", http.MethodGet, "/sessions/"+id, nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = st.do(t, alice, http.MethodGet, "/journal/ti-1", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = st.do(t, proctor, http.MethodGet, "/journal/ti-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoadFailureAnswersBadGateway(t *testing.T) {
	st := newStack(t)
	alice := st.token(t, "alice", "student")

	resp, body := st.do(t, alice, http.MethodPost, "/sessions", map[string]string{"test_instance_id": "does-not-exist"})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Equal(t, session.DashboardRoute, body["redirect"])

	resp, _ = st.do(t, alice, http.MethodPost, "/sessions", map[string]string{"test_instance_id": "ti-1", "kind": "pyq"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	events, err := st.repo.List(context.Background(), "does-not-exist", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, journal.TypeLoadFailed, events[0].Type)
}

func TestStreamDeliversRedirect(t *testing.T) {
	st := newStack(t)
	alice := st.token(t, "alice", "student")

	_, snap := st.do(t, alice, http.MethodPost, "/sessions", map[string]string{"test_instance_id": "ti-1", "kind": "mock_test"})
	id := snap["session_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(st.srv.URL, "http") + "/sessions/" + id + "/stream?access_token=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var first session.Event
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, session.EventState, first.Type)
	require.Equal(t, id, first.State.SessionID)
	require.Eventually(t, func() bool { return st.hub.Subscribers(id) == 1 }, time.Second, 10*time.Millisecond)

	resp, _ := st.do(t, alice, http.MethodPost, "/sessions/"+id+"/submit", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var ev session.Event
		require.NoError(t, conn.ReadJSON(&ev))
		if ev.Type == session.EventRedirect {
			require.Equal(t, "/mock-test/result/ti-1", ev.Route)
			break
		}
	}
}

func TestAccessLogOmitsQueryToken(t *testing.T) {
	st := newStack(t)
	alice := st.token(t, "alice", "student")

	_, snap := st.do(t, alice, http.MethodPost, "/sessions", map[string]string{"test_instance_id": "ti-1"})
	id := snap["session_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(st.srv.URL, "http") + "/sessions/" + id + "/stream?access_token=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	var first session.Event
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.Close())

	resp, _ := st.do(t, "", http.MethodGet, "/sessions/"+id+"?access_token="+alice, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool {
		return strings.Contains(st.logs.String(), "/sessions/"+id+"/stream")
	}, 3*time.Second, 20*time.Millisecond)
	require.NotContains(t, st.logs.String(), alice)
	require.NotContains(t, st.logs.String(), "access_token")
}

func TestExpiredTestSubmitsOnStart(t *testing.T) {
	st := newStack(t)
	alice := st.token(t, "alice", "student")

	resp, snap := st.do(t, alice, http.MethodPost, "/sessions", map[string]string{"test_instance_id": "ti-late"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.EqualValues(t, 0, snap["remaining"])
	require.False(t, snap["running"].(bool))

	require.Eventually(t, func() bool {
		_, submitted := st.stub.Stats("ti-late")
		return submitted
	}, 3*time.Second, 20*time.Millisecond)
}

func TestHealth(t *testing.T) {
	st := newStack(t)
	for _, p := range []string{"/healthz", "/readyz"} {
		resp, _ := st.do(t, "", http.MethodGet, p, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, p)
	}
}
