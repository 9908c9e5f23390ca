package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IdentityInfo describes one loaded TLS identity.
type IdentityInfo struct {
	Name     string
	NotAfter time.Time
	LoadedAt time.Time
}

// IdentitySource reports the identities currently in use.
type IdentitySource interface {
	Identities() []IdentityInfo
}

// IdentityCollector reads identities from its source on every scrape, so
// the exported values always match the published TLS snapshot.
type IdentityCollector struct {
	src      IdentitySource
	loaded   *prometheus.Desc
	notAfter *prometheus.Desc
}

// NewIdentityCollector creates a collector over src.
func NewIdentityCollector(namespace string, src IdentitySource) *IdentityCollector {
	return &IdentityCollector{
		src: src,
		loaded: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "identities_loaded"),
			"TLS identities in the current snapshot.",
			nil, nil,
		),
		notAfter: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "identity_not_after_timestamp_seconds"),
			"Expiry of each loaded leaf certificate as a Unix timestamp.",
			[]string{"server_name"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *IdentityCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.loaded
	ch <- c.notAfter
}

// Collect implements prometheus.Collector.
func (c *IdentityCollector) Collect(ch chan<- prometheus.Metric) {
	ids := c.src.Identities()
	ch <- prometheus.MustNewConstMetric(c.loaded, prometheus.GaugeValue, float64(len(ids)))
	for _, id := range ids {
		ch <- prometheus.MustNewConstMetric(
			c.notAfter, prometheus.GaugeValue,
			float64(id.NotAfter.Unix()), id.Name,
		)
	}
}
