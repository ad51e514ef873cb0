// Package httputil provides the small set of HTTP helpers shared by the ops
// server and the access middleware: JSON error replies, path parsing and
// request-scoped middleware.
//
// # Responses
//
//	httputil.WriteSuccess(w, data)
//	httputil.WriteForbidden(w, "edit access required")
//	httputil.WriteInternalError(w)
//
// Every error body has the shape {"error": "...", "request_id": "..."}.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//	)(router)
//
// RequestIDMiddleware must run before LoggingMiddleware so that request logs
// carry the id.
package httputil
