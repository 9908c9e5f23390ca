package httpd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/yndnr/mchttp-go/internal/server/config"
	"github.com/yndnr/mchttp-go/internal/telemetry/logger"
	"github.com/yndnr/mchttp-go/internal/telemetry/metric"
)

// Handler serves one request per connection. The same code path handles
// plaintext and TLS streams.
type Handler struct {
	router  *Router
	metrics *metric.Registry
}

// NewHandler creates a handler over snap. metrics may be nil.
func NewHandler(snap *config.Snapshot, metrics *metric.Registry) *Handler {
	return &Handler{
		router:  NewRouter(snap),
		metrics: metrics,
	}
}

// ServeConn reads one request head from rw and answers it. Parse failures
// return an error without writing any response bytes. Whatever was
// written is flushed before ServeConn returns.
func (h *Handler) ServeConn(ctx context.Context, rw io.ReadWriter, client net.Addr, serverName string) (err error) {
	log := logger.L(ctx)

	req, err := ReadRequest(bufio.NewReader(rw))
	if err != nil {
		h.metrics.ParseFailed(parseFailureReason(err))
		return fmt.Errorf("read request: %w", err)
	}
	req.Client = client
	req.ServerName = serverName

	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	w := NewResponseWriter(rw)
	defer func() {
		if ferr := w.Flush(); ferr != nil && err == nil {
			err = fmt.Errorf("flush: %w", ferr)
		}
		if w.Status() != 0 {
			h.metrics.RequestServed(w.Status(), w.BodyBytes(), time.Since(start))
		}
	}()

	site := serverName
	if site == "" {
		site = config.DefaultVHost
	}

	log.Debug("request head",
		"server", site,
		"method", req.Method,
		"target", req.Target,
		"version", req.Version,
		logger.HeaderAttrs("headers", req.Header),
	)

	res, err := h.router.Resolve(serverName, req.Path)
	if err != nil {
		if errors.Is(err, ErrIllegalAccess) {
			log.Warn("illegal access request",
				"server", site,
				"method", req.Method,
				"path", req.Path,
				"error", err,
			)
		} else {
			log.Info("request not found",
				"server", site,
				"method", req.Method,
				"path", req.Path,
				"status", 404,
				"elapsed", time.Since(start),
			)
		}
		return w.WriteNotFound()
	}

	if err := h.writeResource(w, res); err != nil {
		if w.Status() == 0 {
			log.Info("request not found", "server", site, "path", req.Path, "error", err)
			return w.WriteNotFound()
		}
		return fmt.Errorf("write %s: %w", res.Path, err)
	}

	log.Info("request",
		"server", site,
		"method", req.Method,
		"path", req.Path,
		"file", res.Path,
		"type", res.ContentType,
		"bytes", res.Size,
		"elapsed", time.Since(start),
	)
	return nil
}

// writeResource sends res inline when small and streams it otherwise.
// An error before any byte is buffered leaves the status at 0.
func (h *Handler) writeResource(w *ResponseWriter, res *Resource) error {
	f, err := os.Open(res.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	if res.Size <= InlineBodyLimit {
		body := make([]byte, res.Size)
		if _, err := io.ReadFull(f, body); err != nil {
			return err
		}
		return w.WriteContent(res.ContentType, body)
	}
	return w.WriteFile(res.ContentType, f, res.Size)
}

func parseFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrClientEOF):
		return "eof"
	case errors.Is(err, ErrMalformedRequest):
		return "malformed"
	case errors.Is(err, ErrInvalidEncoding):
		return "encoding"
	case errors.Is(err, ErrLineTooLong):
		return "too_long"
	case isTimeout(err):
		return "timeout"
	default:
		return "io"
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
