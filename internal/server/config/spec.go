package config

import "time"

// ServerConfig is the root configuration for mchttp-server.
type ServerConfig struct {
	Server  ServerSection  `koanf:"server"`
	TLS     TLSSection     `koanf:"tls"`
	Content ContentSection `koanf:"content"`
	Metrics MetricsSection `koanf:"metrics"`
	Log     LogSection     `koanf:"log"`
}

// ServerSection configures the listener.
type ServerSection struct {
	// Addr is the TCP bind address.
	Addr string `koanf:"addr"`

	// ConnTimeout bounds request processing on TLS connections, measured
	// from the end of the handshake. Plaintext connections have no timeout.
	ConnTimeout time.Duration `koanf:"conn_timeout"`

	// HandshakeTimeout bounds the TLS handshake.
	HandshakeTimeout time.Duration `koanf:"handshake_timeout"`

	// MaxConns caps concurrently served connections. 0 means unbounded.
	MaxConns int `koanf:"max_conns"`

	// AcceptRate paces accepts in connections per second. 0 disables pacing.
	AcceptRate float64 `koanf:"accept_rate"`

	// AcceptBurst is the token bucket size used with AcceptRate.
	AcceptBurst int `koanf:"accept_burst"`
}

// TLSSection configures TLS. TLS is enabled when Path is set.
type TLSSection struct {
	// Path is a certbot live directory or one half of a .crt/.key pair.
	Path string `koanf:"path"`

	// ReloadInterval is how often identities are reloaded from Path.
	ReloadInterval time.Duration `koanf:"reload_interval"`

	// Watch additionally reloads when files under Path change.
	Watch bool `koanf:"watch"`
}

// ContentSection configures what is served.
type ContentSection struct {
	// DataDir holds one subdirectory per virtual host. When empty the
	// working directory is the default root.
	DataDir string `koanf:"data_dir"`

	// Files maps exact request paths to files, served before any
	// virtual-host lookup.
	Files map[string]string `koanf:"files"`

	// VHosts maps hostnames, or "default", to explicit root directories.
	VHosts map[string]string `koanf:"vhosts"`
}

// MetricsSection configures Prometheus exposition.
type MetricsSection struct {
	// Addr serves /metrics when set.
	Addr string `koanf:"addr"`

	Namespace string `koanf:"namespace"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
