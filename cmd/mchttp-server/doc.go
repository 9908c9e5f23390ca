// Package main provides the entry point for mchttp-server.
//
// mchttp-server serves static files over plaintext HTTP/1.1 or, with a TLS
// identity source, over TLS with one certificate per virtual host:
//
//   - one request per connection, answered with 200 or 404
//   - virtual hosts selected by the TLS server name
//   - certificates reloaded on a schedule without a restart
//   - optional Prometheus metrics and health endpoints on a separate port
//
// Usage:
//
//	mchttp-server [flags] [files...]
//	mchttp-server -t /etc/letsencrypt/live -d /srv/www
//	mchttp-server --config /etc/mchttp/config.yaml
//
// Each positional file is served at /<file> ahead of any virtual-host
// lookup; -r serves a single file at /.
package main
