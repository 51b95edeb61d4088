// Package httputil provides the JSON response helpers, request parsing and
// HTTP middleware shared by the tasktrax API.
//
// # Responses
//
//	httputil.WriteSuccess(w, task)
//	httputil.WriteCreated(w, task)
//	httputil.WriteForbidden(w, "missing permission: Delete Tasks")
//
// Domain errors are translated with a mapping table:
//
//	httputil.WriteMappedError(w, err, []httputil.ErrorMapping{
//		{Err: docstore.ErrNotFound, Status: http.StatusNotFound},
//		{Err: tasks.ErrPermissionDenied, Status: http.StatusForbidden},
//	}, logger)
//
// # Request Parsing
//
//	var req createTaskRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.ParsePathStringOrError(w, r, "id")
//
// # Middleware
//
//	router.Use(httputil.RequestIDMiddleware)
//	router.Use(httputil.LoggingMiddleware(logger))
//	router.Use(httputil.RecoveryMiddleware(logger))
package httputil
