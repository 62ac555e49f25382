// Package httputil provides the JSON reply helpers and request middleware
// used by the authorization service's HTTP surfaces.
//
// # Responses
//
//	httputil.WriteSuccess(w, roles)
//	httputil.WriteCreated(w, override)
//	httputil.WriteErrorMessage(w, http.StatusConflict, "role already exists")
//
// Every error reply has the shape {"error": "...", "request_id": "..."}.
//
// # Requests
//
//	var req GrantRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // 400 already written
//	}
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)(router)
package httputil
