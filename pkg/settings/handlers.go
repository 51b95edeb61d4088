package settings

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/httputil"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/rbac"
)

// Handlers provides HTTP handlers for application settings
type Handlers struct {
	service    *Service
	middleware *rbac.PermissionMiddleware
	recorder   *audit.Recorder
}

// NewHandlers creates new settings handlers
func NewHandlers(service *Service, middleware *rbac.PermissionMiddleware, recorder *audit.Recorder) *Handlers {
	return &Handlers{service: service, middleware: middleware, recorder: recorder}
}

// RegisterRoutes registers settings routes; router is expected to authenticate
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	manage := h.middleware.RequirePermission(rbac.ActionManageSettings)

	router.HandleFunc("/api/settings", h.GetSettings).Methods(http.MethodGet)
	router.Handle("/api/settings/initialize", manage(http.HandlerFunc(h.Initialize))).Methods(http.MethodPost)
	router.Handle("/api/settings/custom-fields/{category}", manage(http.HandlerFunc(h.UpdateCustomFields))).Methods(http.MethodPut)
	router.Handle("/api/settings/custom-fields/{category}", manage(http.HandlerFunc(h.DeleteCategory))).Methods(http.MethodDelete)
}

var errorMappings = []httputil.ErrorMapping{
	{Err: ErrInvalidCategory, Status: http.StatusBadRequest},
	{Err: rbac.ErrUnknownAction, Status: http.StatusBadRequest},
	{Err: rbac.ErrDuplicateRule, Status: http.StatusBadRequest},
}

// SettingsResponse is returned by GET /api/settings
type SettingsResponse struct {
	AppSettings
	// Stored is false when nothing has been initialized yet
	Stored bool `json:"stored"`
}

// GetSettings handles GET /api/settings
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, stored, err := h.service.Get(r.Context())
	if err != nil {
		httputil.WriteMappedError(w, err, errorMappings, observability.FromContext(r.Context()))
		return
	}
	_ = httputil.WriteSuccess(w, SettingsResponse{AppSettings: settings, Stored: stored})
}

// CustomFieldRequest is the body of PUT /api/settings/custom-fields/{category}
type CustomFieldRequest struct {
	Values []string `json:"values"`
}

// UpdateCustomFields handles PUT /api/settings/custom-fields/{category}
func (h *Handlers) UpdateCustomFields(w http.ResponseWriter, r *http.Request) {
	category, ok := httputil.ParsePathStringOrError(w, r, "category")
	if !ok {
		return
	}
	var req CustomFieldRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	before, err := h.service.UpdateCustomFields(r.Context(), category, req.Values)
	if err != nil {
		httputil.WriteMappedError(w, err, errorMappings, observability.FromContext(r.Context()))
		return
	}

	event := h.event(r, audit.EventTypeSettingsChange, category)
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"values": before},
		After:  map[string]interface{}{"values": CleanValues(req.Values)},
	}
	h.recorder.Record(r.Context(), event)

	h.GetSettings(w, r)
}

// DeleteCategory handles DELETE /api/settings/custom-fields/{category}
func (h *Handlers) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	category, ok := httputil.ParsePathStringOrError(w, r, "category")
	if !ok {
		return
	}
	if err := h.service.DeleteCategory(r.Context(), category); err != nil {
		httputil.WriteMappedError(w, err, errorMappings, observability.FromContext(r.Context()))
		return
	}
	h.recorder.Record(r.Context(), h.event(r, audit.EventTypeSettingsChange, category))
	httputil.WriteNoContent(w)
}

// Initialize handles POST /api/settings/initialize
func (h *Handlers) Initialize(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.InitializeDefaults(r.Context()); err != nil {
		httputil.WriteMappedError(w, err, errorMappings, observability.FromContext(r.Context()))
		return
	}
	h.recorder.Record(r.Context(), h.event(r, audit.EventTypeSettingsInitialize, DocumentID))
	h.GetSettings(w, r)
}

func (h *Handlers) event(r *http.Request, eventType audit.EventType, resourceID string) *audit.AuditEvent {
	principal, _ := rbac.PrincipalFromContext(r.Context())
	return audit.NewRequestEvent(r, eventType, audit.EventStatusSuccess).
		WithActor(rbac.ActorOf(principal)).
		WithResource(audit.ResourceTypeSettings, resourceID)
}
