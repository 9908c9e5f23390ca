// Package httpserver provides the admin HTTP listener for mchttp-server.
//
// It is separate from the static-content listener and uses net/http:
//
//   - GET /metrics: Prometheus exposition
//   - GET /healthz: liveness
//   - GET /readyz: readiness, failing until the content listener is up
//   - GET /identities: loaded TLS identities and their expiry
//
// Every route runs behind the RequestID, Recover and Audit middleware.
package httpserver
