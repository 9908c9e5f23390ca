package httpd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// InlineBodyLimit is the largest file read fully into memory before
// writing. Larger files are streamed.
const InlineBodyLimit = 64 * 1024

// ErrShortBody is returned when a file yields fewer bytes than announced.
var ErrShortBody = errors.New("httpd: file shorter than Content-Length")

const (
	statusOK       = "HTTP/1.1 200 OK\r\n"
	statusNotFound = "HTTP/1.1 404 Not Found\r\n\r\n"
)

// ResponseWriter writes one of the two response shapes the server emits.
// Nothing reaches the connection until Flush.
type ResponseWriter struct {
	w      *bufio.Writer
	status int
	body   int64
}

// NewResponseWriter buffers writes to w.
func NewResponseWriter(w io.Writer) *ResponseWriter {
	return &ResponseWriter{w: bufio.NewWriter(w)}
}

// Status returns the status code written, or 0 before any response.
func (rw *ResponseWriter) Status() int {
	return rw.status
}

// BodyBytes returns the number of body bytes written.
func (rw *ResponseWriter) BodyBytes() int64 {
	return rw.body
}

func (rw *ResponseWriter) writeHeader(contentType string, length int64) error {
	rw.status = 200
	if _, err := rw.w.WriteString(statusOK); err != nil {
		return err
	}
	if _, err := rw.w.WriteString("Content-Type: " + contentType + "\r\n"); err != nil {
		return err
	}
	_, err := rw.w.WriteString("Content-Length: " + strconv.FormatInt(length, 10) + "\r\n\r\n")
	return err
}

// WriteContent writes a 200 response with body as its content.
func (rw *ResponseWriter) WriteContent(contentType string, body []byte) error {
	if err := rw.writeHeader(contentType, int64(len(body))); err != nil {
		return err
	}
	n, err := rw.w.Write(body)
	rw.body += int64(n)
	return err
}

// WriteFile writes a 200 response and copies exactly length bytes from r.
func (rw *ResponseWriter) WriteFile(contentType string, r io.Reader, length int64) error {
	if err := rw.writeHeader(contentType, length); err != nil {
		return err
	}
	n, err := io.CopyN(rw.w, r, length)
	rw.body += n
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortBody, n, length)
	}
	return err
}

// WriteNotFound writes a 404 response with no body.
func (rw *ResponseWriter) WriteNotFound() error {
	rw.status = 404
	_, err := rw.w.WriteString(statusNotFound)
	return err
}

// Flush writes any buffered data to the connection.
func (rw *ResponseWriter) Flush() error {
	return rw.w.Flush()
}
