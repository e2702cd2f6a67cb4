// Package httputil provides shared HTTP plumbing for the API surface:
// JSON response helpers, request parsing, and outer middleware that runs
// before the access-control pipeline.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "limit must be positive")
//	httputil.WriteNotFound(w, "tenant not found")
//
// List endpoints return a ListResponse envelope so clients get paging
// metadata alongside the items:
//
//	httputil.WriteList(w, customers, total, page)
//
// # Request Parsing
//
//	var req loginRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // error response already written
//	}
//
//	page := httputil.ParsePagination(r)
//
// # Middleware
//
// The outer chain runs before authentication and carries no tenant or
// principal state:
//
//	httputil.Chain(
//		httputil.RequestID,
//		httputil.Recovery(logger),
//		httputil.MaxBytes(1<<20),
//	)
//
// Authentication, tenant resolution, and permission checks live in
// pkg/middleware.
package httputil
