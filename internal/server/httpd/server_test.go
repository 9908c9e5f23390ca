package httpd

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/mchttp-go/internal/infra/identity"
	"github.com/yndnr/mchttp-go/internal/server/config"
	"github.com/yndnr/mchttp-go/internal/telemetry/metric"
)

const indexBody = "<html></html>"

type testServer struct {
	*Server
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startServer(t *testing.T, snap *config.Snapshot, reg *metric.Registry) *testServer {
	t.Helper()

	s, err := New(snap, WithLogger(discardLogger()), WithMetrics(reg))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts := &testServer{Server: s, addr: ln.Addr().String(), cancel: cancel, done: make(chan error, 1)}
	go func() { ts.done <- s.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = s.Shutdown(shutdownCtx)
	})
	return ts
}

func (ts *testServer) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-ts.done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

// tlsSetup writes an identity for a.test and a matching vhost index.
func tlsSetup(t *testing.T, mutate func(cfg *config.ServerConfig)) (*config.Snapshot, *x509.CertPool, string) {
	t.Helper()
	certDir := t.TempDir()
	cert := writeHostDir(t, certDir, "a.test")
	pool := x509.NewCertPool()
	pool.AddCert(cert)

	snap := newSnapshot(t, func(cfg *config.ServerConfig) {
		cfg.TLS.Path = certDir
		writeFile(t, filepath.Join(cfg.Content.DataDir, "a.test", "index.html"), indexBody)
		if mutate != nil {
			mutate(cfg)
		}
	})
	return snap, pool, certDir
}

func roundTrip(t *testing.T, c net.Conn, request string) string {
	t.Helper()
	_ = c.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.WriteString(c, request); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	return string(out)
}

func TestServer_Plain(t *testing.T) {
	snap := newSnapshot(t, func(cfg *config.ServerConfig) {
		writeFile(t, filepath.Join(cfg.Content.DataDir, "index.html"), indexBody)
	})
	ts := startServer(t, snap, nil)

	if ts.Acceptor() != nil {
		t.Error("Acceptor() on a plaintext server is not nil")
	}

	for _, req := range []string{"GET / HTTP/1.1\r\n\r\n", "GET /index.html HTTP/1.1\r\n\r\n"} {
		c, err := net.Dial("tcp", ts.addr)
		if err != nil {
			t.Fatal(err)
		}
		got := roundTrip(t, c, req)
		c.Close()

		want := "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 13\r\n\r\n" + indexBody
		if got != want {
			t.Errorf("response = %q, want %q", got, want)
		}
	}

	c, err := net.Dial("tcp", ts.addr)
	if err != nil {
		t.Fatal(err)
	}
	if got := roundTrip(t, c, "GET /../../etc/passwd HTTP/1.1\r\n\r\n"); got != "HTTP/1.1 404 Not Found\r\n\r\n" {
		t.Errorf("escape response = %q", got)
	}
	c.Close()

	ts.cancel()
	if err := ts.wait(t); err != nil {
		t.Errorf("Serve() error = %v, want nil on cancel", err)
	}
}

func TestServer_AlreadyServing(t *testing.T) {
	ts := startServer(t, newSnapshot(t, nil), nil)

	deadline := time.Now().Add(5 * time.Second)
	for ts.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	if err := ts.Serve(context.Background(), ln); !errors.Is(err, ErrAlreadyServing) {
		t.Errorf("second Serve() error = %v, want ErrAlreadyServing", err)
	}
}

func TestServer_TLS(t *testing.T) {
	snap, pool, _ := tlsSetup(t, nil)
	reg := metric.NewRegistry("test")
	ts := startServer(t, snap, reg)

	c, dialErr := tls.Dial("tcp", ts.addr, &tls.Config{ServerName: "a.test", RootCAs: pool})
	if dialErr != nil {
		t.Fatalf("handshake with a.test: %v", dialErr)
	}
	// ReadAll returns without error only when the server sends close_notify.
	got := roundTrip(t, c, "GET / HTTP/1.1\r\nHost: a.test\r\n\r\n")
	c.Close()

	want := "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 13\r\n\r\n" + indexBody
	if got != want {
		t.Errorf("response = %q, want %q", got, want)
	}

	t.Run("unmatched server name", func(t *testing.T) {
		_, err := tls.Dial("tcp", ts.addr, &tls.Config{ServerName: "b.test", InsecureSkipVerify: true})
		if err == nil {
			t.Fatal("handshake with b.test succeeded")
		}
	})

	t.Run("no server name", func(t *testing.T) {
		// Dialing an IP address sends no SNI.
		_, err := tls.Dial("tcp", ts.addr, &tls.Config{InsecureSkipVerify: true})
		if err == nil {
			t.Fatal("handshake without SNI succeeded")
		}
	})

	expected := `
# HELP test_tls_handshake_failures_total TLS handshakes that failed or timed out.
# TYPE test_tls_handshake_failures_total counter
test_tls_handshake_failures_total 2
`
	var err error
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		err = testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "test_tls_handshake_failures_total")
		if err == nil {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Errorf("handshake failures not recorded: %v", err)
}

func TestServer_TLSTimeout(t *testing.T) {
	snap, pool, _ := tlsSetup(t, func(cfg *config.ServerConfig) {
		cfg.Server.ConnTimeout = 300 * time.Millisecond
	})
	reg := metric.NewRegistry("test")
	ts := startServer(t, snap, reg)

	stalled, err := tls.Dial("tcp", ts.addr, &tls.Config{ServerName: "a.test", RootCAs: pool})
	if err != nil {
		t.Fatal(err)
	}
	defer stalled.Close()

	// The server keeps accepting while the stalled connection waits.
	c, err := tls.Dial("tcp", ts.addr, &tls.Config{ServerName: "a.test", RootCAs: pool})
	if err != nil {
		t.Fatal(err)
	}
	if got := roundTrip(t, c, "GET / HTTP/1.1\r\n\r\n"); !strings.HasSuffix(got, indexBody) {
		t.Errorf("response = %q", got)
	}
	c.Close()

	start := time.Now()
	_ = stalled.SetReadDeadline(time.Now().Add(5 * time.Second))
	out, err := io.ReadAll(stalled)
	if err != nil {
		t.Fatalf("stalled read error = %v, want close_notify", err)
	}
	if len(out) != 0 {
		t.Errorf("stalled connection received %q", out)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("stalled connection closed after %v", elapsed)
	}

	expected := `
# HELP test_connection_timeouts_total Connections abandoned after the per-connection timeout.
# TYPE test_connection_timeouts_total counter
test_connection_timeouts_total 1
`
	if err := testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected), "test_connection_timeouts_total"); err != nil {
		t.Error(err)
	}
}

func TestServer_ScheduledReloadFailureStopsListener(t *testing.T) {
	snap, _, certDir := tlsSetup(t, func(cfg *config.ServerConfig) {
		cfg.TLS.ReloadInterval = time.Second
	})
	ts := startServer(t, snap, nil)

	writeFile(t, filepath.Join(certDir, "a.test", identity.ChainFile), "corrupted")

	err := ts.wait(t)
	if !errors.Is(err, ErrListenerStopped) {
		t.Fatalf("Serve() error = %v, want ErrListenerStopped", err)
	}
	if !errors.Is(err, ErrIdentityReload) {
		t.Errorf("Serve() error = %v, want it to wrap ErrIdentityReload", err)
	}

	if _, err := net.DialTimeout("tcp", ts.addr, time.Second); err == nil {
		t.Error("listener still accepting after stop")
	}
}

func TestServer_StartupFailsOnBadIdentity(t *testing.T) {
	certDir := t.TempDir()
	writeHostDir(t, certDir, "a.test")
	writeFile(t, filepath.Join(certDir, "a.test", identity.KeyFile), "garbage")

	snap := newSnapshot(t, func(cfg *config.ServerConfig) {
		cfg.TLS.Path = certDir
	})
	if _, err := New(snap, WithLogger(discardLogger())); !errors.Is(err, ErrIdentityReload) {
		t.Errorf("New() error = %v, want ErrIdentityReload", err)
	}
}

func TestServer_Shutdown(t *testing.T) {
	ts := startServer(t, newSnapshot(t, nil), nil)

	deadline := time.Now().Add(5 * time.Second)
	for ts.Addr() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ts.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := ts.wait(t); err != nil {
		t.Errorf("Serve() error = %v, want nil after Shutdown", err)
	}
}

func TestServer_ShutdownAbortsStalledConn(t *testing.T) {
	ts := startServer(t, newSnapshot(t, nil), nil)

	c, err := net.Dial("tcp", ts.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	// Let the server pick the connection up.
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := ts.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Shutdown() error = %v, want DeadlineExceeded", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.Read(make([]byte, 1)); err == nil {
		t.Error("stalled plaintext connection was not closed")
	}
}

// queueListener hands out connections from a channel. Close does not
// unblock a pending Accept, so a connection can arrive after Shutdown.
type queueListener struct {
	conns chan net.Conn
}

func (l *queueListener) Accept() (net.Conn, error) {
	c, ok := <-l.conns
	if !ok {
		return nil, net.ErrClosed
	}
	return c, nil
}

func (l *queueListener) Close() error { return nil }

func (l *queueListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
}

func TestServer_ConnAcceptedAfterShutdown(t *testing.T) {
	s, err := New(newSnapshot(t, nil), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ln := &queueListener{conns: make(chan net.Conn)}
	done := make(chan error, 1)
	go func() { done <- s.Serve(context.Background(), ln) }()

	deadline := time.Now().Add(5 * time.Second)
	for !s.Serving() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	client, server := net.Pipe()
	defer client.Close()
	ln.conns <- server
	close(ln.conns)

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = client.Read(make([]byte, 1))
	var ne net.Error
	if err == nil || (errors.As(err, &ne) && ne.Timeout()) {
		t.Errorf("late connection read error = %v, want closed", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}
