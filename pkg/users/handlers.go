package users

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/httputil"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

// DefaultLoginLimit caps GET /api/logins
const DefaultLoginLimit = 100

// Handlers provides HTTP handlers for user administration
type Handlers struct {
	directory  *Directory
	middleware *rbac.PermissionMiddleware
	recorder   *audit.Recorder
}

// NewHandlers creates new user handlers
func NewHandlers(directory *Directory, middleware *rbac.PermissionMiddleware, recorder *audit.Recorder) *Handlers {
	return &Handlers{
		directory:  directory,
		middleware: middleware,
		recorder:   recorder,
	}
}

// RegisterRoutes registers user routes; router is expected to authenticate
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	manage := h.middleware.RequirePermission(rbac.ActionManageUsers)

	router.HandleFunc("/api/me", h.Me).Methods(http.MethodGet)
	router.HandleFunc("/api/users", h.ListUsers).Methods(http.MethodGet)
	router.Handle("/api/users", manage(http.HandlerFunc(h.CreateUser))).Methods(http.MethodPost)
	router.HandleFunc("/api/users/{id}", h.GetUser).Methods(http.MethodGet)
	router.Handle("/api/users/{id}", manage(http.HandlerFunc(h.DeleteUser))).Methods(http.MethodDelete)
	router.Handle("/api/users/{id}/role", manage(http.HandlerFunc(h.UpdateRole))).Methods(http.MethodPut)
	router.Handle("/api/users/{id}/department", manage(http.HandlerFunc(h.UpdateDepartment))).Methods(http.MethodPut)
	router.Handle("/api/logins", manage(http.HandlerFunc(h.RecentLogins))).Methods(http.MethodGet)
}

var errorMappings = []httputil.ErrorMapping{
	{Err: ErrUserNotFound, Status: http.StatusNotFound},
	{Err: ErrEmailRequired, Status: http.StatusBadRequest},
	{Err: rbac.ErrUnknownRole, Status: http.StatusBadRequest},
	{Err: docstore.ErrAlreadyExists, Status: http.StatusConflict},
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteMappedError(w, err, errorMappings, observability.FromContext(r.Context()))
}

// Me handles GET /api/me
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if u, ok := principal.(*User); ok {
		_ = httputil.WriteSuccess(w, u)
		return
	}
	h.writeUser(w, r, principal.PrincipalID())
}

// ListUsers handles GET /api/users
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	list, err := h.directory.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, list)
}

// GetUser handles GET /api/users/{id}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	h.writeUser(w, r, id)
}

func (h *Handlers) writeUser(w http.ResponseWriter, r *http.Request, id string) {
	u, err := h.directory.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, u)
}

// CreateUser handles POST /api/users
func (h *Handlers) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req NewUser
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.ValidateAll(w, httputil.RequireNonEmpty(req.Email, "email")) {
		return
	}

	u, err := h.directory.Add(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	event := h.event(r, audit.EventTypeAdminUserCreate, u.ID)
	event.Changes = &audit.ChangeDetails{After: u.Snapshot()}
	h.recorder.Record(r.Context(), event)

	_ = httputil.WriteCreated(w, u)
}

// UpdateRoleRequest is the body of PUT /api/users/{id}/role
type UpdateRoleRequest struct {
	Role string `json:"role"`
}

// UpdateRole handles PUT /api/users/{id}/role
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	role, known := rbac.ParseRole(req.Role)
	if !known {
		httputil.WriteValidationError(w, "role must be one of Admin, Manager, Member")
		return
	}

	before, err := h.directory.UpdateRole(r.Context(), id, role)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	event := h.event(r, audit.EventTypeAdminUserRoleChange, id)
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"role": string(before)},
		After:  map[string]interface{}{"role": string(role)},
	}
	h.recorder.Record(r.Context(), event)

	h.writeUser(w, r, id)
}

// UpdateDepartmentRequest is the body of PUT /api/users/{id}/department
type UpdateDepartmentRequest struct {
	Department string `json:"department"`
}

// UpdateDepartment handles PUT /api/users/{id}/department
func (h *Handlers) UpdateDepartment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req UpdateDepartmentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	before, err := h.directory.UpdateDepartment(r.Context(), id, req.Department)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	u, err := h.directory.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	event := h.event(r, audit.EventTypeAdminUserDeptChange, id)
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"department": before},
		After:  map[string]interface{}{"department": u.Department},
	}
	h.recorder.Record(r.Context(), event)

	_ = httputil.WriteSuccess(w, u)
}

// DeleteUser handles DELETE /api/users/{id}
func (h *Handlers) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}

	if principal, ok := rbac.PrincipalFromContext(r.Context()); ok && principal.PrincipalID() == id {
		httputil.WriteBadRequest(w, "cannot delete your own account")
		return
	}

	before, err := h.directory.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.directory.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			httputil.WriteNoContent(w)
			return
		}
		h.writeError(w, r, err)
		return
	}

	event := h.event(r, audit.EventTypeAdminUserDelete, id)
	event.Changes = &audit.ChangeDetails{Before: before.Snapshot()}
	h.recorder.Record(r.Context(), event)

	httputil.WriteNoContent(w)
}

// RecentLogins handles GET /api/logins?limit=N
func (h *Handlers) RecentLogins(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryPositiveInt(r, "limit", DefaultLoginLimit)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	events, err := h.directory.RecentLogins(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, events)
}

func (h *Handlers) event(r *http.Request, eventType audit.EventType, userID string) *audit.AuditEvent {
	principal, _ := rbac.PrincipalFromContext(r.Context())
	return audit.NewRequestEvent(r, eventType, audit.EventStatusSuccess).
		WithActor(rbac.ActorOf(principal)).
		WithResource(audit.ResourceTypeUser, userID)
}
