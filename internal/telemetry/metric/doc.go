// Package metric provides Prometheus metrics for mchttp-server.
//
//   - prometheus.go: Registry with connection, request and identity metrics
//     and the /metrics HTTP handler
//   - collector.go: scrape-time collector for loaded TLS identities
//
// Every Registry method is safe to call on a nil *Registry, so components
// record metrics unconditionally and the server runs unchanged when
// metrics are disabled.
package metric
