// Package auth identifies the caller.
//
// Two layers live here. Providers expose the signed-in user of a
// long-lived client (the CLI, a websocket connection) and notify listeners
// when it changes:
//
//	session := auth.NewDocumentSession(store, logger)
//	stop := session.OnAuthStateChanged(func(u *users.User, loading bool) { ... })
//	session.Start("uid-123")
//
// A DocumentSession follows users/<uid>, so role changes reach the
// listeners live and a deleted profile signs the session out.
//
// Authenticators resolve an HTTP request to an Identity. OIDCAuthenticator
// verifies bearer ID tokens; HeaderAuthenticator trusts X-User-ID and is
// meant for local development only. Middleware turns the identity into a
// *users.User in the request context:
//
//	mw := auth.NewMiddleware(authenticator, directory, recorder, auth.MiddlewareOptions{})
//	router.Use(mw.Handler)
package auth
