// Package middleware adapts the engine to gin.
//
// [Authenticate] turns an "Authorization: Bearer" header into a
// [pubbleauth.Principal] on the request context. It never rejects a request:
// a missing, expired or invalid token just leaves the request anonymous.
// [Authorize] then enforces the requirement an [access.Table] assigns to the
// path, answering 401 when a principal is needed and absent and 403 when the
// principal has the wrong role.
//
// Mount them in that order, after [ClientInfo]:
//
//	r.Use(middleware.ClientInfo(), middleware.Authenticate(engine, table, logger), middleware.Authorize(table))
package middleware
