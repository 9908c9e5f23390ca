package httpd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yndnr/mchttp-go/internal/infra/identity"
	"github.com/yndnr/mchttp-go/internal/telemetry/metric"
)

// ErrIdentityReload wraps every failed identity reload.
var ErrIdentityReload = errors.New("httpd: identity reload failed")

// tlsSnapshot is one published TLS configuration. It is never modified.
type tlsSnapshot struct {
	config   *tls.Config
	resolver *identity.Resolver
	loadedAt time.Time
}

// AcceptorManager owns the TLS configuration used for new connections. It
// rebuilds the configuration from the identity source on a schedule and
// publishes each complete result atomically; connections keep the
// configuration they were accepted with.
type AcceptorManager struct {
	path     string
	interval time.Duration
	watch    bool
	logger   *slog.Logger
	metrics  *metric.Registry

	current  atomic.Pointer[tlsSnapshot]
	reloadMu sync.Mutex
	errs     chan error
}

// AcceptorOption configures an AcceptorManager.
type AcceptorOption func(*AcceptorManager)

// WithReloadInterval sets the scheduled reload period.
func WithReloadInterval(d time.Duration) AcceptorOption {
	return func(m *AcceptorManager) {
		m.interval = d
	}
}

// WithWatch enables reloads on file changes in addition to the schedule.
func WithWatch(enabled bool) AcceptorOption {
	return func(m *AcceptorManager) {
		m.watch = enabled
	}
}

// WithAcceptorLogger sets the logger.
func WithAcceptorLogger(l *slog.Logger) AcceptorOption {
	return func(m *AcceptorManager) {
		m.logger = l
	}
}

// WithAcceptorMetrics sets the metrics registry.
func WithAcceptorMetrics(r *metric.Registry) AcceptorOption {
	return func(m *AcceptorManager) {
		m.metrics = r
	}
}

// NewAcceptorManager creates a manager for the identity source at path.
// Call Reload once before serving.
func NewAcceptorManager(path string, opts ...AcceptorOption) *AcceptorManager {
	m := &AcceptorManager{
		path:     path,
		interval: time.Minute,
		logger:   slog.Default(),
		errs:     make(chan error, 1),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Reload loads the identity source and publishes a new configuration. On
// failure the previous configuration stays current.
func (m *AcceptorManager) Reload() error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	res, err := identity.Load(m.path)
	m.metrics.IdentityReloaded(err)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIdentityReload, err)
	}

	m.current.Store(&tlsSnapshot{
		config:   res.TLSConfig(),
		resolver: res,
		loadedAt: time.Now(),
	})

	if res.Len() == 0 {
		m.logger.Warn("no tls identities loaded, every handshake will fail", "path", res.Source())
	} else {
		m.logger.Info("tls identities loaded", "path", res.Source(), "names", res.Names())
	}
	return nil
}

// Current returns the configuration for a newly accepted connection, or
// nil before the first successful Reload.
func (m *AcceptorManager) Current() *tls.Config {
	if s := m.current.Load(); s != nil {
		return s.config
	}
	return nil
}

// Resolver returns the resolver behind Current.
func (m *AcceptorManager) Resolver() *identity.Resolver {
	if s := m.current.Load(); s != nil {
		return s.resolver
	}
	return nil
}

// LoadedAt returns when the current configuration was published.
func (m *AcceptorManager) LoadedAt() time.Time {
	if s := m.current.Load(); s != nil {
		return s.loadedAt
	}
	return time.Time{}
}

// Identities implements metric.IdentitySource.
func (m *AcceptorManager) Identities() []metric.IdentityInfo {
	s := m.current.Load()
	if s == nil {
		return nil
	}
	names := s.resolver.Names()
	out := make([]metric.IdentityInfo, 0, len(names))
	for _, name := range names {
		e, _ := s.resolver.Lookup(name)
		out = append(out, metric.IdentityInfo{
			Name:     name,
			NotAfter: e.Certificate.Leaf.NotAfter,
			LoadedAt: s.loadedAt,
		})
	}
	return out
}

// Errors delivers the first failed scheduled reload. The TLS listener
// treats it as fatal.
func (m *AcceptorManager) Errors() <-chan error {
	return m.errs
}

// Run reloads on the configured schedule, and on source changes when
// watching is enabled, until ctx is cancelled.
func (m *AcceptorManager) Run(ctx context.Context) error {
	c := cron.New(cron.WithLogger(cronLogger{m.logger}))
	spec := "@every " + m.interval.String()
	if _, err := c.AddFunc(spec, m.scheduledReload); err != nil {
		return fmt.Errorf("httpd: schedule reload %q: %w", spec, err)
	}
	c.Start()
	m.logger.Info("identity reload scheduled", "path", m.path, "interval", m.interval, "watch", m.watch)

	var changes <-chan struct{}
	if m.watch {
		w := identity.NewWatcher(m.path, identity.WithLogger(m.logger))
		changes = w.Changes()
		go func() {
			if err := w.Run(ctx); err != nil {
				m.logger.Error("identity watcher stopped", "error", err)
			}
		}()
	}

	for {
		select {
		case <-changes:
			// A change seen mid-write may not parse yet; the next scheduled
			// reload is the one that decides.
			if err := m.Reload(); err != nil {
				m.logger.Warn("identity reload after change failed", "error", err)
			}
		case <-ctx.Done():
			<-c.Stop().Done()
			return nil
		}
	}
}

func (m *AcceptorManager) scheduledReload() {
	err := m.Reload()
	if err == nil {
		return
	}
	m.logger.Error("scheduled identity reload failed", "path", m.path, "error", err)
	select {
	case m.errs <- err:
	default:
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
