// Package server provides the status HTTP surface of the daemon.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation registers "METHOD /path" patterns on [http.ServeMux].
//
// # Endpoints
//
// [API] registers:
//   - GET /healthz: coordinator capacity and queue depth
//   - GET /metrics: Prometheus exposition
//   - GET /api/executions?command=&status=&limit=: execution history, newest first
//   - POST /api/executions/cancel?id=: cancel a pending or running execution
//   - POST /api/commands/run?id=: enqueue a command with the api trigger
//
// Errors are JSON objects with an "error" field. Upstream sentinels map to
// 404 (not found), 409 (already active, disabled, invalid transition), and
// 503 (shutting down).
package server
