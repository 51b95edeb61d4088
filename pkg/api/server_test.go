package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/auth"
	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/middleware"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/realtime"
	"github.com/platinummonkey/tasktrax/pkg/settings"
	"github.com/platinummonkey/tasktrax/pkg/tasks"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

type serverFixture struct {
	srv      *httptest.Server
	server   *Server
	store    *docstore.MemoryStore
	registry *realtime.Registry
}

func setupServerTest(t *testing.T, limiter middleware.Limiter) *serverFixture {
	ctx := context.Background()
	store := docstore.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })

	directory := users.NewDirectory(store, users.DirectoryConfig{}, nil)
	_, err := directory.Add(ctx, users.NewUser{ID: "root", Name: "Root", Email: "root@example.com", Role: rbac.RoleAdmin})
	require.NoError(t, err)
	_, err = directory.Add(ctx, users.NewUser{ID: "ann", Name: "Ann", Email: "ann@example.com", Role: rbac.RoleMember})
	require.NoError(t, err)

	settingsService := settings.NewService(store, nil)
	_, err = settingsService.InitializeDefaults(ctx)
	require.NoError(t, err)

	controller := settings.NewController(store, nil, nil)
	require.NoError(t, controller.Start())
	t.Cleanup(controller.Stop)
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, controller.WaitReady(waitCtx))

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	resolver := rbac.NewResolver(controller)
	recorder := audit.NewRecorder(audit.NewNoOpLogger(), nil)
	registry := realtime.NewRegistry()
	t.Cleanup(registry.CloseAll)

	server := NewServer(Deps{
		Store:           store,
		Directory:       directory,
		Authenticator:   auth.HeaderAuthenticator{},
		Resolver:        resolver,
		Rules:           rbac.NewRuleStore(store, settings.Ref, nil),
		Settings:        controller,
		SettingsService: settingsService,
		Tasks: tasks.NewService(store, resolver, directory,
			tasks.NewAppender(store, []byte("k"), metrics), recorder, nil, metrics),
		Recorder:        recorder,
		Limiter:         limiter,
		Registry:        registry,
		LivenessTimeout: time.Minute,
		Health:          observability.NewHealthChecker("test"),
		Metrics:         metrics,
		Gatherer:        reg,
	})
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)
	return &serverFixture{srv: srv, server: server, store: store, registry: registry}
}

func (f *serverFixture) do(t *testing.T, method, path, user string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(auth.UserIDHeader, user)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

type liveMessage struct {
	Type  string `json:"type"`
	State string `json:"state"`
	Tasks []struct {
		ID string `json:"id"`
	} `json:"tasks"`
	Loading  bool                  `json:"loading"`
	Settings *settings.AppSettings `json:"settings"`
}

func (f *serverFixture) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/live?user_id=" + user
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads live messages until match accepts one
func readUntil(t *testing.T, conn *websocket.Conn, match func(liveMessage) bool) liveMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg liveMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func liveTasks(n int) func(liveMessage) bool {
	return func(m liveMessage) bool {
		return m.Type == MessageTasks && m.State == string(realtime.StateLive) && len(m.Tasks) == n
	}
}

func TestServer_Probes(t *testing.T) {
	f := setupServerTest(t, nil)

	resp := f.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	resp = f.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Authentication(t *testing.T) {
	f := setupServerTest(t, nil)

	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/me", "", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/api/me", "ghost", nil).StatusCode)

	resp := f.do(t, http.MethodGet, "/api/me", "ann", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me users.User
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, rbac.RoleMember, me.Role)
}

func TestServer_TaskRoutes(t *testing.T) {
	f := setupServerTest(t, nil)

	resp := f.do(t, http.MethodPost, "/api/tasks", "root", map[string]interface{}{
		"title":    "Quarterly audit",
		"assignee": map[string]string{"id": "ann", "name": "Ann"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created tasks.Task
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "T-001", created.ID)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/tasks/T-001", "ann", nil).StatusCode)
	assert.Equal(t, http.StatusForbidden, f.do(t, http.MethodDelete, "/api/tasks/T-001", "ann", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/tasks/T-001", "root", nil).StatusCode)
}

func TestServer_RateLimit(t *testing.T) {
	limiter := middleware.NewMemoryLimiter(middleware.RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
	f := setupServerTest(t, limiter)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/me", "ann", nil).StatusCode)
	resp := f.do(t, http.MethodGet, "/api/me", "ann", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))

	// Other users and the probes are unaffected
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/me", "root", nil).StatusCode)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).StatusCode)
}

func TestServer_LiveStreamsVisibleTasks(t *testing.T) {
	f := setupServerTest(t, nil)
	createFor := func(title, assignee string) {
		resp := f.do(t, http.MethodPost, "/api/tasks", "root", map[string]interface{}{
			"title":    title,
			"assignee": map[string]string{"id": assignee},
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}
	createFor("Mine", "ann")
	createFor("Not mine", "root")

	conn := f.dial(t, "ann")
	var first, settingsMsg *liveMessage
	readUntil(t, conn, func(m liveMessage) bool {
		switch {
		case liveTasks(1)(m):
			first = &m
		case m.Type == MessageSettings && !m.Loading:
			settingsMsg = &m
		}
		return first != nil && settingsMsg != nil
	})
	assert.Equal(t, "T-001", first.Tasks[0].ID)
	require.NotNil(t, settingsMsg.Settings)
	assert.NotEmpty(t, settingsMsg.Settings.CustomFields["Priority"])

	createFor("Also mine", "ann")
	msg := readUntil(t, conn, liveTasks(2))
	assert.Equal(t, "T-003", msg.Tasks[1].ID)
	assert.Equal(t, 1, f.registry.Len())

	// Promotion to admin widens the view without reconnecting
	resp := f.do(t, http.MethodPut, "/api/users/ann/role", "root", map[string]string{"role": string(rbac.RoleAdmin)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	readUntil(t, conn, liveTasks(3))
}

func TestServer_LiveClosesOnDisconnect(t *testing.T) {
	f := setupServerTest(t, nil)
	conn := f.dial(t, "ann")
	readUntil(t, conn, liveTasks(0))
	require.Equal(t, 1, f.registry.Len())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	conn.Close()
	require.Eventually(t, func() bool { return f.registry.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestServer_LiveRequiresAuth(t *testing.T) {
	f := setupServerTest(t, nil)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/api/live"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOutboxKeepsLatestPerType(t *testing.T) {
	o := newOutbox()
	o.put(MessageTasks, 1)
	o.put(MessageSettings, "a")
	o.put(MessageTasks, 2)

	select {
	case <-o.ready:
	default:
		t.Fatal("outbox not signalled")
	}
	assert.Equal(t, []interface{}{2, "a"}, o.drain())
	assert.Empty(t, o.drain())
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com"})
	r := httptest.NewRequest(http.MethodGet, "/api/live", nil)
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://app.example.com")
	assert.True(t, check(r))
	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(r))
}
