package httpd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/mchttp-go/internal/server/config"
	"github.com/yndnr/mchttp-go/internal/telemetry/logger"
	"github.com/yndnr/mchttp-go/internal/telemetry/metric"
)

var (
	// ErrListenerStopped is returned by Serve when a scheduled identity
	// reload fails and the TLS listener shuts down.
	ErrListenerStopped = errors.New("httpd: tls listener stopped")

	// ErrAlreadyServing is returned when Serve is called twice.
	ErrAlreadyServing = errors.New("httpd: server already serving")
)

const (
	closeNotifyTimeout = time.Second
	maxAcceptBackoff   = time.Second
)

// aLongTimeAgo is a deadline that makes blocked I/O return immediately.
var aLongTimeAgo = time.Unix(1, 0)

// Server accepts connections on one listener, plaintext or TLS depending
// on the configuration snapshot, and serves one request per connection.
type Server struct {
	snap     *config.Snapshot
	handler  *Handler
	acceptor *AcceptorManager
	admit    *admission
	metrics  *metric.Registry
	logger   *slog.Logger

	mu      sync.Mutex
	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup

	// connCtx parents every connection and is cancelled when Shutdown
	// gives up waiting.
	connCtx     context.Context
	cancelConns context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithMetrics sets the metrics registry.
func WithMetrics(r *metric.Registry) Option {
	return func(s *Server) {
		s.metrics = r
	}
}

// New creates a server for snap. With TLS configured the identities are
// loaded here, so an unusable identity source fails startup.
func New(snap *config.Snapshot, opts ...Option) (*Server, error) {
	s := &Server{
		snap:   snap,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handler = NewHandler(snap, s.metrics)
	s.admit = newAdmission(snap.MaxConns, snap.AcceptRate, snap.AcceptBurst)
	s.connCtx, s.cancelConns = context.WithCancel(context.Background())

	if snap.TLSEnabled() {
		s.acceptor = NewAcceptorManager(snap.TLSPath,
			WithReloadInterval(snap.ReloadInterval),
			WithWatch(snap.WatchTLS),
			WithAcceptorLogger(s.logger),
			WithAcceptorMetrics(s.metrics),
		)
		if err := s.acceptor.Reload(); err != nil {
			s.cancelConns()
			return nil, err
		}
		if err := s.metrics.RegisterIdentities(s.acceptor); err != nil {
			s.cancelConns()
			return nil, fmt.Errorf("httpd: register identity metrics: %w", err)
		}
	}

	return s, nil
}

// Acceptor returns the TLS acceptor manager, or nil for a plaintext server.
func (s *Server) Acceptor() *AcceptorManager {
	return s.acceptor
}

// Addr returns the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serving reports whether the accept loop is running.
func (s *Server) Serving() bool {
	return s.running.Load()
}

// ListenAndServe listens on the configured address and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.snap.Addr)
	if err != nil {
		return fmt.Errorf("httpd: listen %s: %w", s.snap.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or Shutdown is
// called, both of which return nil. A TLS server also stops, returning an
// error wrapping ErrListenerStopped, when a scheduled identity reload fails.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.ln != nil {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.ln = ln
	s.running.Store(true)
	s.mu.Unlock()

	defer s.running.Store(false)
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.logger.Info("listening", "addr", ln.Addr().String(), "tls", s.acceptor != nil)

	if s.acceptor == nil {
		return s.servePlain(ctx, ln)
	}
	return s.serveTLS(ctx, ln)
}

func (s *Server) servePlain(ctx context.Context, ln net.Listener) error {
	return s.acceptLoop(ctx, ln, metric.ListenerPlain, nil, s.handlePlain)
}

func (s *Server) serveTLS(ctx context.Context, ln net.Listener) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalMu sync.Mutex
		fatal   error
	)
	stopListener := func(err error) {
		fatalMu.Lock()
		if fatal == nil {
			fatal = err
		}
		fatalMu.Unlock()
		s.logger.Error("tls listener stopping", "error", err)
		_ = ln.Close()
	}

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := s.acceptor.Run(runCtx); err != nil {
			stopListener(err)
		}
	}()
	go func() {
		select {
		case err := <-s.acceptor.Errors():
			stopListener(err)
		case <-runCtx.Done():
		}
	}()

	wrap := func(c net.Conn) net.Conn {
		return tls.Server(c, s.acceptor.Current())
	}
	err := s.acceptLoop(runCtx, ln, metric.ListenerTLS, wrap, s.handleTLS)

	cancel()
	<-runDone

	fatalMu.Lock()
	defer fatalMu.Unlock()
	if fatal != nil {
		return fmt.Errorf("%w: %w", ErrListenerStopped, fatal)
	}
	return err
}

// acceptLoop accepts until ln is closed. wrap, when set, runs on the
// accept goroutine so a TLS connection binds the snapshot current at
// accept time.
func (s *Server) acceptLoop(ctx context.Context, ln net.Listener, listener string,
	wrap func(net.Conn) net.Conn, serve func(context.Context, net.Conn)) error {
	var backoff time.Duration
	for {
		if err := s.admit.acquire(ctx); err != nil {
			return nil
		}

		c, err := ln.Accept()
		if err != nil {
			s.admit.release()
			if !s.running.Load() || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.track() {
			_ = c.Close()
			s.admit.release()
			return nil
		}
		if wrap != nil {
			c = wrap(c)
		}
		s.metrics.ConnAccepted(listener)

		go func() {
			defer s.wg.Done()
			defer s.admit.release()
			defer s.metrics.ConnClosed()
			serve(s.connContext(c, listener), c)
		}()
	}
}

// track registers an accepted connection with the shutdown wait group.
// It reports false once Shutdown has begun, so Add never races with Wait.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		return false
	}
	s.wg.Add(1)
	return true
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	if d *= 2; d > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return d
}

// connContext returns the per-connection context carrying its logger and
// connection ID.
func (s *Server) connContext(c net.Conn, listener string) context.Context {
	l := s.logger.With("client", c.RemoteAddr().String(), "listener", listener)
	ctx := logger.WithLogger(s.connCtx, logger.FromSlog(l))
	return logger.WithConnID(ctx, ulid.Make().String())
}

func (s *Server) handlePlain(ctx context.Context, c net.Conn) {
	defer c.Close()
	log := logger.L(ctx)
	log.Debug("connected")

	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(aLongTimeAgo) })
	defer stop()

	if err := s.handler.ServeConn(ctx, c, c.RemoteAddr(), ""); err != nil {
		logConnError(log, err)
	}
	log.Debug("closed")
}

func (s *Server) handleTLS(ctx context.Context, c net.Conn) {
	tc := c.(*tls.Conn)
	defer tc.Close()

	hctx, cancel := context.WithTimeout(ctx, s.snap.HandshakeTimeout)
	err := tc.HandshakeContext(hctx)
	cancel()
	if err != nil {
		s.metrics.HandshakeFailed()
		logger.L(ctx).Info("tls handshake failed", "error", err)
		return
	}

	state := tc.ConnectionState()
	ctx = logger.WithLogger(ctx, logger.FromContext(ctx).With("server_name", state.ServerName))
	log := logger.L(ctx)
	log.Debug("connected",
		"tls_version", tls.VersionName(state.Version),
		"cipher_suite", tls.CipherSuiteName(state.CipherSuite),
	)

	timeout := s.snap.ConnTimeout
	rctx, cancel := context.WithTimeout(ctx, timeout)
	_ = tc.SetDeadline(time.Now().Add(timeout))
	stop := context.AfterFunc(rctx, func() { _ = tc.SetDeadline(aLongTimeAgo) })

	err = s.handler.ServeConn(rctx, tc, tc.RemoteAddr(), state.ServerName)
	stop()
	timedOut := errors.Is(rctx.Err(), context.DeadlineExceeded) || isTimeout(err)
	cancel()

	switch {
	case timedOut:
		s.metrics.ConnTimedOut()
		log.Warn("connection handler timed out", "timeout", timeout)
	case err != nil:
		logConnError(log, err)
	}

	_ = tc.SetWriteDeadline(time.Now().Add(closeNotifyTimeout))
	if err := tc.CloseWrite(); err != nil {
		log.Debug("close notify failed", "error", err)
	}
	log.Debug("closed")
}

func logConnError(log logger.Logger, err error) {
	switch {
	case errors.Is(err, ErrClientEOF):
		log.Debug("client closed before request", "error", err)
	case errors.Is(err, ErrMalformedRequest),
		errors.Is(err, ErrInvalidEncoding),
		errors.Is(err, ErrLineTooLong):
		log.Warn("bad request", "error", err)
	default:
		log.Info("connection error", "error", err)
	}
}

// Shutdown stops accepting and waits for in-flight connections. When ctx
// ends first the remaining connections are aborted and ctx's error is
// returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running.Store(false)
	ln := s.ln
	s.mu.Unlock()

	var firstErr error
	if ln != nil {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.cancelConns()
		return ctx.Err()
	}

	s.cancelConns()
	return firstErr
}
