package httpd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/yndnr/mchttp-go/internal/server/config"
	"github.com/yndnr/mchttp-go/internal/server/mimetype"
)

// IndexFile is served for requests that resolve to a directory.
const IndexFile = "index.html"

var (
	// ErrNotFound is returned when no servable file exists for a request.
	ErrNotFound = errors.New("httpd: not found")

	// ErrIllegalAccess is returned when the canonical path leaves the
	// virtual-host root. It wraps ErrNotFound: clients cannot tell the two
	// apart.
	ErrIllegalAccess = fmt.Errorf("%w: path escapes root", ErrNotFound)
)

// Resource is a file selected for a request.
type Resource struct {
	Path        string
	Size        int64
	ContentType string
}

// Router maps request paths to files. It reads the configuration snapshot
// only and is safe for concurrent use.
type Router struct {
	snap *config.Snapshot
}

// NewRouter creates a router over snap.
func NewRouter(snap *config.Snapshot) *Router {
	return &Router{snap: snap}
}

// Resolve returns the file for reqPath on the virtual host serverName.
// An empty serverName selects the default root.
//
// The static path table is consulted first. Otherwise the path is joined
// to the virtual-host root, a directory gets index.html appended, and the
// result is canonicalized. A canonical path outside the canonical root
// yields ErrIllegalAccess.
func (r *Router) Resolve(serverName, reqPath string) (*Resource, error) {
	if file, ok := r.snap.StaticFile(reqPath); ok {
		return stat(file)
	}

	root, ok := r.snap.VHostRoot(serverName)
	if !ok {
		return nil, fmt.Errorf("%w: server name %q", ErrNotFound, serverName)
	}
	root, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("%w: root: %v", ErrNotFound, err)
	}

	candidate := filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(reqPath, "/")))
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		candidate = filepath.Join(candidate, IndexFile)
	}

	canonical, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if !within(root, canonical) {
		return nil, fmt.Errorf("%w: %s", ErrIllegalAccess, candidate)
	}
	return stat(canonical)
}

// within reports whether path is root or lies beneath it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

func stat(path string) (*Resource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrNotFound, path)
	}
	return &Resource{
		Path:        path,
		Size:        info.Size(),
		ContentType: mimetype.Lookup(path),
	}, nil
}
