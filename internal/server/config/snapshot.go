package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DefaultVHost names the root used when a connection carries no server name.
const DefaultVHost = "default"

// VHostTable maps lowercased hostnames, or DefaultVHost, to canonical
// root directories.
type VHostTable map[string]string

// Snapshot is the configuration the server runs with. It is built once by
// NewSnapshot and never modified afterwards, so it can be shared by every
// connection without locking.
type Snapshot struct {
	Addr             string
	TLSPath          string
	ReloadInterval   time.Duration
	WatchTLS         bool
	ConnTimeout      time.Duration
	HandshakeTimeout time.Duration
	MaxConns         int
	AcceptRate       float64
	AcceptBurst      int
	MetricsAddr      string

	dataDir     string
	defaultRoot string
	files       map[string]string
	vhosts      VHostTable
}

// NewSnapshot verifies cfg and resolves every configured path to its
// canonical, symlink-free absolute form.
func NewSnapshot(cfg *ServerConfig) (*Snapshot, error) {
	if err := Verify(cfg); err != nil {
		return nil, err
	}

	s := &Snapshot{
		Addr:             cfg.Server.Addr,
		TLSPath:          cfg.TLS.Path,
		ReloadInterval:   cfg.TLS.ReloadInterval,
		WatchTLS:         cfg.TLS.Watch,
		ConnTimeout:      cfg.Server.ConnTimeout,
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		MaxConns:         cfg.Server.MaxConns,
		AcceptRate:       cfg.Server.AcceptRate,
		AcceptBurst:      cfg.Server.AcceptBurst,
		MetricsAddr:      cfg.Metrics.Addr,
		files:            make(map[string]string, len(cfg.Content.Files)),
		vhosts:           make(VHostTable, len(cfg.Content.VHosts)),
	}

	if cfg.Content.DataDir != "" {
		dir, err := Canonical(cfg.Content.DataDir)
		if err != nil {
			return nil, fmt.Errorf("config: data dir: %w", err)
		}
		s.dataDir = dir
		s.defaultRoot = dir
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config: working directory: %w", err)
		}
		if s.defaultRoot, err = Canonical(wd); err != nil {
			return nil, fmt.Errorf("config: working directory: %w", err)
		}
	}

	for reqPath, file := range cfg.Content.Files {
		p, err := Canonical(file)
		if err != nil {
			return nil, fmt.Errorf("config: file for %s: %w", reqPath, err)
		}
		s.files[StaticPath(reqPath)] = p
	}

	for name, root := range cfg.Content.VHosts {
		p, err := Canonical(root)
		if err != nil {
			return nil, fmt.Errorf("config: root for %s: %w", name, err)
		}
		s.vhosts[strings.ToLower(name)] = p
	}

	return s, nil
}

// Canonical returns the absolute path of p with symlinks resolved.
func Canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(abs)
}

// StaticPath returns the request path a static file argument is served
// under: arguments without a leading slash gain one.
func StaticPath(arg string) string {
	if strings.HasPrefix(arg, "/") {
		return arg
	}
	return "/" + arg
}

// TLSEnabled reports whether the listener terminates TLS.
func (s *Snapshot) TLSEnabled() bool {
	return s.TLSPath != ""
}

// DataDir returns the canonical data directory, or "" when none is set.
func (s *Snapshot) DataDir() string {
	return s.dataDir
}

// StaticFile returns the file configured for an exact request path.
func (s *Snapshot) StaticFile(reqPath string) (string, bool) {
	p, ok := s.files[reqPath]
	return p, ok
}

// StaticPaths returns the configured static request paths in sorted order.
func (s *Snapshot) StaticPaths() []string {
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// VHostRoot returns the root directory for serverName. An explicit table
// entry wins; otherwise a named host lives under the data directory (or the
// working directory) and an unnamed connection uses the default root.
// Names that cannot be a single path element report false.
func (s *Snapshot) VHostRoot(serverName string) (string, bool) {
	name := strings.TrimSuffix(strings.ToLower(serverName), ".")
	if name == "" {
		if root, ok := s.vhosts[DefaultVHost]; ok {
			return root, true
		}
		return s.defaultRoot, true
	}
	if root, ok := s.vhosts[name]; ok {
		return root, true
	}
	if !validHostName(name) {
		return "", false
	}
	return filepath.Join(s.defaultRoot, name), true
}
