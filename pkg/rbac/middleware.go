package rbac

import (
	"net/http"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/httputil"
	"github.com/platinummonkey/tasktrax/pkg/observability"
)

// PermissionMiddleware guards HTTP routes with resolver decisions
type PermissionMiddleware struct {
	resolver *Resolver
	recorder *audit.Recorder
	metrics  *observability.Metrics
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(resolver *Resolver, recorder *audit.Recorder, metrics *observability.Metrics) *PermissionMiddleware {
	return &PermissionMiddleware{
		resolver: resolver,
		recorder: recorder,
		metrics:  metrics,
	}
}

// RequirePermission rejects requests whose principal may not perform action.
// Requests without a principal get 401; denials get 403 and an audit event.
func (pm *PermissionMiddleware) RequirePermission(action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			role := principal.PrincipalRole()
			allowed := pm.resolver.Can(role, action)
			pm.metrics.PermissionDecision(string(action), role.Key(), allowed)

			if !allowed {
				pm.recorder.Record(r.Context(), audit.NewRequestEvent(r, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied).
					WithActor(ActorOf(principal)).
					WithResource(audit.ResourceTypePermission, string(action)))
				observability.FromContext(r.Context()).WithFields(map[string]interface{}{
					"action": string(action),
					"role":   string(role),
				}).Warn("Permission denied")
				httputil.WriteForbidden(w, "missing permission: "+string(action))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ActorOf converts a principal into an audit actor
func ActorOf(p Principal) audit.Actor {
	if p == nil {
		return audit.Actor{}
	}
	return audit.Actor{ID: p.PrincipalID(), Name: p.PrincipalName(), Role: string(p.PrincipalRole())}
}
