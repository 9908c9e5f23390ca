package config

import "time"

// Default configuration values.
const (
	DefaultAddr             = "0.0.0.0:8080"
	DefaultConnTimeout      = 5 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultReloadInterval   = 60 * time.Second
	DefaultAcceptBurst      = 16

	DefaultMetricsNamespace = "mchttp"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			Addr:             DefaultAddr,
			ConnTimeout:      DefaultConnTimeout,
			HandshakeTimeout: DefaultHandshakeTimeout,
			AcceptBurst:      DefaultAcceptBurst,
		},
		TLS: TLSSection{
			ReloadInterval: DefaultReloadInterval,
		},
		Content: ContentSection{
			Files:  map[string]string{},
			VHosts: map[string]string{},
		},
		Metrics: MetricsSection{
			Namespace: DefaultMetricsNamespace,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
