package auth

import (
	"errors"
	"net/http"

	"github.com/platinummonkey/tasktrax/pkg/audit"
	"github.com/platinummonkey/tasktrax/pkg/contextkeys"
	"github.com/platinummonkey/tasktrax/pkg/httputil"
	"github.com/platinummonkey/tasktrax/pkg/observability"
	"github.com/platinummonkey/tasktrax/pkg/users"
)

// MiddlewareOptions tunes Middleware
type MiddlewareOptions struct {
	// AutoProvision creates a Member profile for verified identities that
	// have none yet
	AutoProvision bool
	// Optional lets unauthenticated requests through without a user
	Optional bool
}

// Middleware authenticates requests and stores the caller's profile in
// the request context
type Middleware struct {
	authenticator Authenticator
	directory     *users.Directory
	recorder      *audit.Recorder
	opts          MiddlewareOptions
}

// NewMiddleware creates a new authentication middleware
func NewMiddleware(authenticator Authenticator, directory *users.Directory, recorder *audit.Recorder, opts MiddlewareOptions) *Middleware {
	return &Middleware{
		authenticator: authenticator,
		directory:     directory,
		recorder:      recorder,
		opts:          opts,
	}
}

// Handler wraps an HTTP handler with authentication
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		identity, err := m.authenticator.Authenticate(r)
		if err != nil {
			if errors.Is(err, ErrNoCredentials) && m.opts.Optional {
				next.ServeHTTP(w, r)
				return
			}
			if !errors.Is(err, ErrNoCredentials) {
				event := audit.NewRequestEvent(r, audit.EventTypeAuthLoginFailed, audit.EventStatusFailure)
				event.ErrorMessage = err.Error()
				m.recorder.Record(ctx, event)
				observability.FromContext(ctx).WithError(err).Warn("Authentication failed")
			}
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		user, err := m.directory.Get(ctx, identity.Subject)
		if errors.Is(err, users.ErrUserNotFound) && m.opts.AutoProvision && identity.Email != "" {
			user, err = m.directory.Add(ctx, users.NewUser{
				ID:        identity.Subject,
				Name:      identity.Name,
				Email:     identity.Email,
				AvatarURL: identity.AvatarURL,
			})
		}
		if err != nil {
			if errors.Is(err, users.ErrUserNotFound) {
				httputil.WriteForbidden(w, "no user profile for this account")
				return
			}
			observability.FromContext(ctx).WithError(err).Error("Failed to load user profile")
			httputil.WriteServiceUnavailable(w, "user directory unavailable")
			return
		}
		ctx = contextkeys.WithUser(ctx, user)
		ctx = contextkeys.WithUserID(ctx, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentUser returns the authenticated user stored by Middleware
func CurrentUser(r *http.Request) (*users.User, bool) {
	u, ok := contextkeys.GetUser(r.Context()).(*users.User)
	return u, ok && u != nil
}
