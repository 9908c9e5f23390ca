// Package buildinfo exposes build metadata for mchttp-server.
//
// Values are injected at link time:
//
//	go build -ldflags "-X github.com/yndnr/mchttp-go/internal/infra/buildinfo.Version=v0.3.0 \
//	  -X github.com/yndnr/mchttp-go/internal/infra/buildinfo.Commit=$(git rev-parse --short HEAD)"
//
// The Go toolchain version falls back to runtime.Version when not injected.
package buildinfo
