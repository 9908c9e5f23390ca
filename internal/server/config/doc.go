// Package config defines the mchttp-server configuration.
//
//   - spec.go: ServerConfig, the koanf-tagged structure loaded by
//     internal/infra/confloader from file, environment and flags
//   - default.go: default values
//   - verify.go: validation (addresses, durations, path existence)
//   - snapshot.go: the immutable, canonicalized Snapshot handed to the
//     server at startup, including the virtual-host root table
//   - describe.go: log attributes for the effective configuration
//
// Nothing in this package is mutated after the Snapshot is built.
package config
