package config

// LogAttrs returns the effective configuration as slog key/value pairs for
// the startup log line. Nothing in the configuration is secret, so values
// are logged as-is.
func (s *Snapshot) LogAttrs() []any {
	dataDir := s.DataDir()
	if dataDir == "" {
		dataDir = "(working directory)"
	}
	return []any{
		"addr", s.Addr,
		"tls", s.TLSEnabled(),
		"tls_path", s.TLSPath,
		"reload_interval", s.ReloadInterval,
		"conn_timeout", s.ConnTimeout,
		"handshake_timeout", s.HandshakeTimeout,
		"data_dir", dataDir,
		"static_paths", s.StaticPaths(),
		"vhosts", len(s.vhosts),
		"max_conns", s.MaxConns,
		"accept_rate", s.AcceptRate,
		"metrics_addr", s.MetricsAddr,
	}
}
