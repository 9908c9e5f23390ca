package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Verify validates the configuration and reports every problem found.
func Verify(cfg *ServerConfig) error {
	var errs []error
	errs = append(errs, verifyServer(&cfg.Server)...)
	errs = append(errs, verifyTLS(&cfg.TLS)...)
	errs = append(errs, verifyContent(&cfg.Content)...)
	errs = append(errs, verifyMetrics(&cfg.Metrics)...)
	errs = append(errs, verifyLog(&cfg.Log)...)
	return errors.Join(errs...)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func verifyServer(cfg *ServerSection) []error {
	var errs []error
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		errs = append(errs, invalid("server.addr %q: %v", cfg.Addr, err))
	}
	if cfg.ConnTimeout <= 0 {
		errs = append(errs, invalid("server.conn_timeout must be positive"))
	}
	if cfg.HandshakeTimeout <= 0 {
		errs = append(errs, invalid("server.handshake_timeout must be positive"))
	}
	if cfg.MaxConns < 0 {
		errs = append(errs, invalid("server.max_conns must not be negative"))
	}
	if cfg.AcceptRate < 0 {
		errs = append(errs, invalid("server.accept_rate must not be negative"))
	}
	if cfg.AcceptRate > 0 && cfg.AcceptBurst < 1 {
		errs = append(errs, invalid("server.accept_burst must be at least 1 when accept_rate is set"))
	}
	return errs
}

func verifyTLS(cfg *TLSSection) []error {
	if cfg.Path == "" {
		return nil
	}
	var errs []error
	if _, err := os.Stat(cfg.Path); err != nil {
		errs = append(errs, invalid("tls.path: %v", err))
	}
	if cfg.ReloadInterval <= 0 {
		errs = append(errs, invalid("tls.reload_interval must be positive"))
	}
	return errs
}

func verifyContent(cfg *ContentSection) []error {
	var errs []error
	if cfg.DataDir != "" {
		if err := requireDir(cfg.DataDir); err != nil {
			errs = append(errs, invalid("content.data_dir: %v", err))
		}
	}
	for name, root := range cfg.VHosts {
		if !validHostName(name) {
			errs = append(errs, invalid("content.vhosts: bad hostname %q", name))
			continue
		}
		if err := requireDir(root); err != nil {
			errs = append(errs, invalid("content.vhosts[%s]: %v", name, err))
		}
	}
	for path, file := range cfg.Files {
		if path == "" {
			errs = append(errs, invalid("content.files: empty request path"))
			continue
		}
		if _, err := os.Stat(file); err != nil {
			errs = append(errs, invalid("content.files[%s]: %v", path, err))
		}
	}
	return errs
}

func verifyMetrics(cfg *MetricsSection) []error {
	if cfg.Addr == "" {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		return []error{invalid("metrics.addr %q: %v", cfg.Addr, err)}
	}
	return nil
}

func verifyLog(cfg *LogSection) []error {
	switch strings.ToLower(cfg.Format) {
	case "", "json", "text", "console":
		return nil
	default:
		return []error{invalid("log.format %q: want json, text or console", cfg.Format)}
	}
}

func requireDir(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}

// validHostName reports whether name can be used as a single path element.
func validHostName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`) && !strings.Contains(name, "..")
}
