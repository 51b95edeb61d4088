package auth

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/httputil"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// SessionHandlers records sign-ins and sign-outs
type SessionHandlers struct {
	directory *users.Directory
	recorder  *audit.Recorder
}

// NewSessionHandlers creates session handlers
func NewSessionHandlers(directory *users.Directory, recorder *audit.Recorder) *SessionHandlers {
	return &SessionHandlers{directory: directory, recorder: recorder}
}

// RegisterRoutes registers session routes; router is expected to authenticate
func (h *SessionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/session", h.Login).Methods(http.MethodPost)
	router.HandleFunc("/api/session", h.Logout).Methods(http.MethodDelete)
}

// Login handles POST /api/session. Clients call it once after signing in.
func (h *SessionHandlers) Login(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	event := h.event(r, audit.EventTypeAuthLogin, user)
	login, err := h.directory.RecordLogin(r.Context(), *user, event.IPAddress)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("Failed to record login")
		httputil.WriteInternalError(w)
		return
	}
	h.recorder.Record(r.Context(), event)

	_ = httputil.WriteCreated(w, login)
}

// Logout handles DELETE /api/session
func (h *SessionHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	h.recorder.Record(r.Context(), h.event(r, audit.EventTypeAuthLogout, user))
	httputil.WriteNoContent(w)
}

func (h *SessionHandlers) event(r *http.Request, eventType audit.EventType, user *users.User) *audit.AuditEvent {
	return audit.NewRequestEvent(r, eventType, audit.EventStatusSuccess).
		WithActor(audit.Actor{ID: user.ID, Name: user.Name, Role: string(user.Role)}).
		WithResource(audit.ResourceTypeUser, user.ID)
}
