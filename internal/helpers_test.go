package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"huddle/internal/presence"
	"huddle/internal/storage"
)

type testEnv struct {
	t      *testing.T
	server *Server
	http   *httptest.Server
}

type testUser struct {
	ID    int64
	Name  string
	Token string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	store, err := storage.NewStore("file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))

	server := NewServer(store, ServerOptions{
		Logger:         discardLogger(),
		Registry:       prometheus.NewRegistry(),
		ResolveTimeout: time.Second,
	})
	ts := httptest.NewServer(server.Router("/ws"))
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
		_ = store.Close()
	})
	return &testEnv{t: t, server: server, http: ts}
}

func (env *testEnv) do(method, path, token string, body any) *http.Response {
	env.t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(env.t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, env.http.URL+path, reader)
	require.NoError(env.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.http.Client().Do(req)
	require.NoError(env.t, err)
	env.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (env *testEnv) decode(resp *http.Response, out any) {
	env.t.Helper()
	require.NoError(env.t, json.NewDecoder(resp.Body).Decode(out))
}

func (env *testEnv) signup(name string) testUser {
	env.t.Helper()
	creds := credentialsRequest{Username: name, Password: "secret-" + name}
	resp := env.do(http.MethodPost, "/signup", "", creds)
	require.Equal(env.t, http.StatusCreated, resp.StatusCode)

	resp = env.do(http.MethodPost, "/login", "", creds)
	require.Equal(env.t, http.StatusOK, resp.StatusCode)
	var login loginResponse
	env.decode(resp, &login)
	return testUser{ID: login.UserID, Name: name, Token: login.Token}
}

func (env *testEnv) createGroup(owner testUser, name string, members ...testUser) int64 {
	env.t.Helper()
	resp := env.do(http.MethodPost, "/groups", owner.Token, createGroupRequest{Name: name})
	require.Equal(env.t, http.StatusCreated, resp.StatusCode)
	var group groupDTO
	env.decode(resp, &group)
	for _, member := range members {
		resp := env.do(http.MethodPost, fmt.Sprintf("/groups/%d/members", group.ID), owner.Token, addMemberRequest{Username: member.Name})
		require.Equal(env.t, http.StatusOK, resp.StatusCode)
	}
	return group.ID
}

type testConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func (env *testEnv) dial(user testUser) *testConn {
	env.t.Helper()
	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws?token=" + user.Token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(env.t, err)
	env.t.Cleanup(func() { _ = conn.Close() })
	return &testConn{t: env.t, conn: conn}
}

func (c *testConn) send(env Envelope) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(env))
}

// next reads frames until match accepts one, failing after two seconds.
func (c *testConn) next(match func(Envelope) bool) Envelope {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var env Envelope
		err := c.conn.ReadJSON(&env)
		require.NoError(c.t, err, "waiting for frame")
		if match(env) {
			return env
		}
	}
}

func (c *testConn) close() {
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = c.conn.Close()
}

func eventNamed(name string) func(Envelope) bool {
	return func(env Envelope) bool { return env.Event == name }
}

func countEvent(group int64) string {
	return presence.Event{Kind: presence.KindGroupCount, Group: presence.GroupID(group)}.Name()
}

func mustCount(t *testing.T, env Envelope) int {
	t.Helper()
	n, err := env.Count()
	require.NoError(t, err)
	return n
}
