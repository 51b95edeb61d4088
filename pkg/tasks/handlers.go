package tasks

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tasktrax/pkg/docstore"
	"github.com/platinummonkey/tasktrax/pkg/httputil"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// Handlers provides HTTP handlers for tasks. Permission checks happen in
// the service, so the routes need only an authenticated caller.
type Handlers struct {
	service *Service
}

// NewHandlers creates new task handlers
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// RegisterRoutes registers task routes; router is expected to authenticate
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/tasks", h.ListTasks).Methods(http.MethodGet)
	router.HandleFunc("/api/tasks", h.CreateTask).Methods(http.MethodPost)
	router.HandleFunc("/api/tasks/next-id", h.NextID).Methods(http.MethodGet)
	router.HandleFunc("/api/tasks/{id}", h.GetTask).Methods(http.MethodGet)
	router.HandleFunc("/api/tasks/{id}", h.UpdateTask).Methods(http.MethodPatch)
	router.HandleFunc("/api/tasks/{id}", h.DeleteTask).Methods(http.MethodDelete)
	router.HandleFunc("/api/tasks/{id}/status", h.UpdateStatus).Methods(http.MethodPut)
	router.HandleFunc("/api/tasks/{id}/files", h.UpdateFiles).Methods(http.MethodPut)
	router.HandleFunc("/api/tasks/{id}/comments", h.AddComment).Methods(http.MethodPost)
	router.HandleFunc("/api/tasks/{id}/activity/verify", h.VerifyActivity).Methods(http.MethodGet)
	router.HandleFunc("/api/financials/summary", h.FinancialSummary).Methods(http.MethodGet)
}

var errorMappings = []httputil.ErrorMapping{
	{Err: ErrPermissionDenied, Status: http.StatusForbidden},
	{Err: ErrTaskNotFound, Status: http.StatusNotFound},
	{Err: ErrInvalidDates, Status: http.StatusBadRequest},
	{Err: ErrTitleRequired, Status: http.StatusBadRequest},
	{Err: ErrInvalidStatus, Status: http.StatusBadRequest},
	{Err: ErrEmptyComment, Status: http.StatusBadRequest},
	{Err: ErrUnknownUser, Status: http.StatusBadRequest},
	{Err: docstore.ErrConflict, Status: http.StatusConflict},
	{Err: ErrAllocation, Status: http.StatusServiceUnavailable},
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.WriteMappedError(w, err, errorMappings, observability.FromContext(r.Context()))
}

// actor returns the authenticated caller, writing a 401 when there is none
func actor(w http.ResponseWriter, r *http.Request) (users.User, bool) {
	principal, ok := rbac.PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return users.User{}, false
	}
	if u, ok := principal.(*users.User); ok {
		return *u, true
	}
	return users.User{
		ID:   principal.PrincipalID(),
		Name: principal.PrincipalName(),
		Role: principal.PrincipalRole(),
	}, true
}

// ListTasks handles GET /api/tasks. ?mine=true or ?assignee=ID narrow the
// visible tasks to one assignee.
func (h *Handlers) ListTasks(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	mine, err := httputil.ParseQueryBool(r, "mine", false)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}
	assignee := httputil.ParseQueryString(r, "assignee", "")
	if mine {
		assignee = u.ID
	}

	list, err := h.service.ListVisible(r.Context(), u)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if assignee != "" {
		list = assignedTo(list, assignee)
	}
	_ = httputil.WriteSuccess(w, list)
}

func assignedTo(list []Task, userID string) []Task {
	out := make([]Task, 0, len(list))
	for _, t := range list {
		if t.Assignee != nil && t.Assignee.ID == userID {
			out = append(out, t)
		}
	}
	return out
}

// CreateTask handles POST /api/tasks
func (h *Handlers) CreateTask(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	var draft Draft
	if !httputil.ParseJSONOrError(w, r, &draft) {
		return
	}
	t, err := h.service.Create(r.Context(), u, draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, t)
}

// NextIDResponse is returned by GET /api/tasks/next-id
type NextIDResponse struct {
	ID string `json:"id"`
}

// NextID handles GET /api/tasks/next-id. The id is a preview; Create
// allocates its own.
func (h *Handlers) NextID(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	if err := h.service.authorize(r.Context(), u, rbac.ActionCreateTasks, ""); err != nil {
		h.writeError(w, r, err)
		return
	}
	id, err := h.service.Allocator().NextID(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, NextIDResponse{ID: id})
}

// GetTask handles GET /api/tasks/{id}
func (h *Handlers) GetTask(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	t, err := h.service.Get(r.Context(), u, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

// UpdateTask handles PATCH /api/tasks/{id}
func (h *Handlers) UpdateTask(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var patch Patch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}
	t, err := h.service.Update(r.Context(), u, id, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

// StatusRequest is the body of PUT /api/tasks/{id}/status
type StatusRequest struct {
	Status Status `json:"status"`
}

// UpdateStatus handles PUT /api/tasks/{id}/status
func (h *Handlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req StatusRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	t, err := h.service.UpdateStatus(r.Context(), u, id, req.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

// FilesRequest is the body of PUT /api/tasks/{id}/files
type FilesRequest struct {
	Files []File `json:"files"`
}

// UpdateFiles handles PUT /api/tasks/{id}/files
func (h *Handlers) UpdateFiles(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req FilesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	t, err := h.service.UpdateFiles(r.Context(), u, id, req.Files)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, t)
}

// CommentRequest is the body of POST /api/tasks/{id}/comments
type CommentRequest struct {
	Text string `json:"text"`
}

// AddComment handles POST /api/tasks/{id}/comments
func (h *Handlers) AddComment(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var req CommentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	entry, err := h.service.Comment(r.Context(), u, id, req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteCreated(w, entry)
}

// DeleteTask handles DELETE /api/tasks/{id}
func (h *Handlers) DeleteTask(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), u, id); err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteNoContent(w)
}

// VerifyResponse is returned by GET /api/tasks/{id}/activity/verify
type VerifyResponse struct {
	Verified bool     `json:"verified"`
	Invalid  []string `json:"invalid,omitempty"`
}

// VerifyActivity handles GET /api/tasks/{id}/activity/verify
func (h *Handlers) VerifyActivity(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	t, err := h.service.Get(r.Context(), u, id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	invalid := h.service.Appender().VerifyTask(t)
	_ = httputil.WriteSuccess(w, VerifyResponse{Verified: len(invalid) == 0, Invalid: invalid})
}

// FinancialSummary handles GET /api/financials/summary?year=&status=&label=.
// status and label may be repeated or comma separated.
func (h *Handlers) FinancialSummary(w http.ResponseWriter, r *http.Request) {
	u, ok := actor(w, r)
	if !ok {
		return
	}
	year, err := httputil.ParseQueryPositiveInt(r, "year", 0)
	if err != nil {
		httputil.WriteValidationError(w, err.Error())
		return
	}

	filter := SummaryFilter{Year: year, Labels: queryList(r, "label")}
	for _, s := range queryList(r, "status") {
		status, ok := ParseStatus(s)
		if !ok {
			httputil.WriteValidationError(w, "unknown status: "+s)
			return
		}
		filter.Statuses = append(filter.Statuses, status)
	}

	summary, err := h.service.Summary(r.Context(), u, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_ = httputil.WriteSuccess(w, summary)
}

func queryList(r *http.Request, key string) []string {
	var out []string
	for _, v := range r.URL.Query()[key] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
