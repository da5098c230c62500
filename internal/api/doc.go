// Package api implements the HTTP REST API and WebSocket server for Gray Logic Presence.
//
// This package provides:
//   - REST endpoints for monitor management, device presence and transition history
//   - WebSocket watch streams, one presence requester per connection
//   - JWT bearer authentication on mutating routes, with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, metrics, CORS)
//
// # Routes
//
//	GET    /metrics                        Prometheus exposition
//	GET    /api/v1/health
//	GET    /api/v1/metrics                 JSON system summary
//	GET    /api/v1/devices[?state=]
//	GET    /api/v1/monitors[?state=]
//	POST   /api/v1/monitors                (auth)
//	GET    /api/v1/monitors/{id}
//	DELETE /api/v1/monitors/{id}           (auth)
//	PUT    /api/v1/monitors/{id}/mode      (auth)
//	GET    /api/v1/monitors/{id}/history[?limit=]
//	POST   /api/v1/auth/ws-ticket          (auth)
//	GET    /api/v1/ws[?ticket=]
//
// # WebSocket
//
// A client sends {"type":"watch","payload":{"monitors":["<id>",...]}} and
// receives a "presence.state_changed" event for every transition of those
// monitors. "unwatch" with no monitors stops watching everything. Closing the
// connection removes the client from every broker.
//
// # Security
//
// When security.jwt.secret is empty, every route is open. Otherwise mutating
// routes require an HS256 bearer token and WebSocket connections require a
// single-use ticket so the token never appears in a URL.
package api
