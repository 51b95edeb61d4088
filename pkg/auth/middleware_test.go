package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/contextkeys"
	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

type captureAudit struct {
	mu     sync.Mutex
	events []*audit.AuditEvent
}

func (c *captureAudit) Log(ctx context.Context, e *audit.AuditEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureAudit) Close() error { return nil }

func (c *captureAudit) types() []audit.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audit.EventType, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.EventType)
	}
	return out
}

type middlewareFixture struct {
	directory *users.Directory
	audit     *captureAudit
	recorder  *audit.Recorder
}

func setupMiddlewareTest(t *testing.T) *middlewareFixture {
	store := docstore.NewMemoryStore(nil)
	t.Cleanup(func() { store.Close() })
	directory := users.NewDirectory(store, users.DirectoryConfig{CacheTTL: time.Minute}, nil)

	_, err := directory.Add(context.Background(), users.NewUser{ID: "u1", Name: "Ada", Email: "ada@example.com", Role: rbac.RoleManager})
	require.NoError(t, err)

	captured := &captureAudit{}
	return &middlewareFixture{directory: directory, audit: captured, recorder: audit.NewRecorder(captured, nil)}
}

// whoami echoes the authenticated user id and role
func whoami(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := CurrentUser(r)
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		assert.Equal(t, u.ID, contextkeys.GetUserID(r.Context()))
		_, _ = w.Write([]byte(u.ID + ":" + string(u.Role)))
	})
}

func TestMiddleware_HeaderAuth(t *testing.T) {
	f := setupMiddlewareTest(t)
	h := NewMiddleware(HeaderAuthenticator{}, f.directory, f.recorder, MiddlewareOptions{}).Handler(whoami(t))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set(UserIDHeader, "u1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1:Manager", w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/tasks", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, f.audit.types(), "missing credentials are not a failed login")

	req = httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set(UserIDHeader, "ghost")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMiddleware_Optional(t *testing.T) {
	f := setupMiddlewareTest(t)
	h := NewMiddleware(HeaderAuthenticator{}, f.directory, f.recorder, MiddlewareOptions{Optional: true}).Handler(whoami(t))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMiddleware_OIDCAutoProvision(t *testing.T) {
	f := setupMiddlewareTest(t)
	ti := newTokenIssuer(t)
	h := NewMiddleware(ti.authenticator(), f.directory, f.recorder, MiddlewareOptions{AutoProvision: true}).Handler(whoami(t))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+ti.token(t, map[string]interface{}{"sub": "new-user", "email": "new@example.com"}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "new-user:Member", w.Body.String())

	u, err := f.directory.Get(context.Background(), "new-user")
	require.NoError(t, err)
	assert.Equal(t, "New", u.Name)
}

func TestMiddleware_InvalidTokenAudited(t *testing.T) {
	f := setupMiddlewareTest(t)
	ti := newTokenIssuer(t)
	h := NewMiddleware(ti.authenticator(), f.directory, f.recorder, MiddlewareOptions{}).Handler(whoami(t))

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer forged")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, []audit.EventType{audit.EventTypeAuthLoginFailed}, f.audit.types())
}

func TestSessionHandlers(t *testing.T) {
	f := setupMiddlewareTest(t)
	router := mux.NewRouter()
	router.Use(NewMiddleware(HeaderAuthenticator{}, f.directory, f.recorder, MiddlewareOptions{}).Handler)
	NewSessionHandlers(f.directory, f.recorder).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	req.Header.Set(UserIDHeader, "u1")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	logins, err := f.directory.RecentLogins(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, logins, 1)
	assert.Equal(t, "u1", logins[0].UserID)
	assert.Equal(t, "203.0.113.7", logins[0].IP)

	req = httptest.NewRequest(http.MethodDelete, "/api/session", nil)
	req.Header.Set(UserIDHeader, "u1")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	assert.Equal(t, []audit.EventType{audit.EventTypeAuthLogin, audit.EventTypeAuthLogout}, f.audit.types())
}
