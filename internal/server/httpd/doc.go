// Package httpd serves static files over plaintext TCP or TLS with
// SNI-selected virtual hosts.
//
// Each accepted connection carries exactly one request:
//
//   - request.go: HTTP/1.1 request head parser
//   - router.go: virtual-host root selection and path containment
//   - response.go: 200 / 404 response writer
//   - handler.go: parse, route and respond over any io.ReadWriter
//   - acceptor.go: TLS configuration snapshots rebuilt on a schedule
//   - admission.go: optional concurrency cap and accept pacing
//   - server.go: plain and TLS accept loops
//
// Request bodies, persistent connections and chunked encoding are not
// supported. Paths that are missing and paths that escape the virtual-host
// root both produce the same 404.
package httpd
