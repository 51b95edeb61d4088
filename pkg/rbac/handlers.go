package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/httputil"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// Handlers provides HTTP handlers for permission rules
type Handlers struct {
	rules      *RuleStore
	resolver   *Resolver
	middleware *PermissionMiddleware
	recorder   *audit.Recorder
	logger     *observability.Logger
}

// NewHandlers creates new rule handlers
func NewHandlers(rules *RuleStore, resolver *Resolver, middleware *PermissionMiddleware, recorder *audit.Recorder, logger *observability.Logger) *Handlers {
	return &Handlers{
		rules:      rules,
		resolver:   resolver,
		middleware: middleware,
		recorder:   recorder,
		logger:     observability.OrNop(logger),
	}
}

// RegisterRoutes registers rule routes; router is expected to authenticate
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	manage := h.middleware.RequirePermission(ActionManageSettings)

	router.HandleFunc("/api/me/permissions", h.MyPermissions).Methods(http.MethodGet)
	router.HandleFunc("/api/settings/rules", h.ListRules).Methods(http.MethodGet)
	router.Handle("/api/settings/rules", manage(http.HandlerFunc(h.ReplaceRules))).Methods(http.MethodPut)
	router.Handle("/api/settings/rules/reset", manage(http.HandlerFunc(h.ResetRules))).Methods(http.MethodPost)
	router.Handle("/api/settings/rules/{action}", manage(http.HandlerFunc(h.SetRule))).Methods(http.MethodPut)
}

var errorMappings = []httputil.ErrorMapping{
	{Err: ErrUnknownAction, Status: http.StatusBadRequest},
	{Err: ErrUnknownRole, Status: http.StatusBadRequest},
	{Err: ErrDuplicateRule, Status: http.StatusBadRequest},
}

// RulesResponse is returned by the rule listing endpoints
type RulesResponse struct {
	Rules []PermissionRule `json:"rules"`
	// Stored is false when the defaults are shown because nothing is stored
	Stored bool `json:"stored"`
}

// ListRules handles GET /api/settings/rules
func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, stored, err := h.rules.EffectiveRules(r.Context())
	if err != nil {
		httputil.WriteMappedError(w, err, errorMappings, observability.FromContext(r.Context()))
		return
	}
	_ = httputil.WriteSuccess(w, RulesResponse{Rules: rules, Stored: stored})
}

// ReplaceRulesRequest is the body of PUT /api/settings/rules
type ReplaceRulesRequest struct {
	Rules []PermissionRule `json:"rules"`
}

// ReplaceRules handles PUT /api/settings/rules
func (h *Handlers) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	var req ReplaceRulesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.rules.ReplaceRules(r.Context(), req.Rules); err != nil {
		httputil.WriteMappedError(w, err, errorMappings, observability.FromContext(r.Context()))
		return
	}

	event := h.event(r, audit.EventTypeAuthzRuleChange, "*")
	event.Metadata["rules"] = len(req.Rules)
	h.recorder.Record(r.Context(), event)

	h.ListRules(w, r)
}

// ResetRules handles POST /api/settings/rules/reset
func (h *Handlers) ResetRules(w http.ResponseWriter, r *http.Request) {
	if err := h.rules.ResetRules(r.Context()); err != nil {
		httputil.WriteMappedError(w, err, errorMappings, observability.FromContext(r.Context()))
		return
	}
	h.recorder.Record(r.Context(), h.event(r, audit.EventTypeAuthzRulesReset, "*"))
	h.ListRules(w, r)
}

// SetRuleRequest is the body of PUT /api/settings/rules/{action}
type SetRuleRequest struct {
	Role    string `json:"role"`
	Allowed *bool  `json:"allowed"`
}

// SetRule handles PUT /api/settings/rules/{action}
func (h *Handlers) SetRule(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "action")
	if !ok {
		return
	}
	action, err := ParseAction(name)
	if err != nil {
		httputil.WriteNotFoundError(w, err.Error())
		return
	}

	var req SetRuleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Allowed == nil {
		httputil.WriteValidationError(w, "allowed is required")
		return
	}
	role, known := ParseRole(req.Role)
	if !known {
		httputil.WriteValidationError(w, "role must be one of Admin, Manager, Member")
		return
	}

	before, after, err := h.rules.SetRule(r.Context(), action, role, *req.Allowed)
	if err != nil {
		httputil.WriteMappedError(w, err, errorMappings, observability.FromContext(r.Context()))
		return
	}

	event := h.event(r, audit.EventTypeAuthzRuleChange, string(action))
	event.Metadata["role"] = role.Key()
	event.Changes = &audit.ChangeDetails{After: ruleMap(after)}
	if before != nil {
		event.Changes.Before = ruleMap(*before)
	}
	h.recorder.Record(r.Context(), event)

	if role == RoleAdmin && action == ActionManageSettings && !*req.Allowed {
		h.logger.Info("Admin Manage Settings rule disabled; admins keep the permission regardless")
	}

	_ = httputil.WriteSuccess(w, after)
}

// PermissionsResponse lists the caller's capabilities
type PermissionsResponse struct {
	Role         Role            `json:"role"`
	Capabilities map[Action]bool `json:"capabilities"`
}

// MyPermissions handles GET /api/me/permissions
func (h *Handlers) MyPermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	role := principal.PrincipalRole()
	_ = httputil.WriteSuccess(w, PermissionsResponse{
		Role:         role,
		Capabilities: h.resolver.Capabilities(role),
	})
}

func (h *Handlers) event(r *http.Request, eventType audit.EventType, resourceID string) *audit.AuditEvent {
	principal, _ := PrincipalFromContext(r.Context())
	return audit.NewRequestEvent(r, eventType, audit.EventStatusSuccess).
		WithActor(ActorOf(principal)).
		WithResource(audit.ResourceTypePermission, resourceID)
}

func ruleMap(r PermissionRule) map[string]interface{} {
	return map[string]interface{}{"admin": r.Admin, "manager": r.Manager, "member": r.Member}
}
