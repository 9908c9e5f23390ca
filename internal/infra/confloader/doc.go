// Package confloader loads layered configuration for mchttp-server.
//
// It wraps koanf and merges sources in increasing priority:
//
//  1. Defaults (whatever the target struct already holds)
//  2. A YAML configuration file
//  3. Environment variables (MCHTTP_ prefix)
//  4. Command-line flags, supplied as a flat map via LoadMap
//
// Environment variables name a section and a key separated by the first
// underscore after the prefix: MCHTTP_SERVER_CONN_TIMEOUT=3s sets
// server.conn_timeout.
package confloader
