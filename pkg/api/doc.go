// Package api assembles the HTTP surface of the task tracker.
//
// NewServer mounts the domain handlers (session, users, permission rules,
// settings and tasks) behind authentication and optional rate limiting,
// exposes /healthz, /readyz and /metrics without authentication, and
// serves /api/live: a websocket that streams the caller's visible tasks
// and the settings singleton as JSON messages.
//
//	server := api.NewServer(api.Deps{
//		Store:         store,
//		Directory:     directory,
//		Authenticator: auth.HeaderAuthenticator{},
//		Resolver:      resolver,
//		Tasks:         taskService,
//	})
//	http.ListenAndServe(":8080", server)
//
// Every live connection owns a realtime.Controller registered with
// Deps.Registry, so a watchdog can replace subscriptions that went
// silent.
package api
