package httpd

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"unicode/utf8"
)

// MaxLineLen limits a single request or header line.
const MaxLineLen = 8 * 1024

var (
	// ErrClientEOF is returned when the client closes before the head ends.
	ErrClientEOF = errors.New("httpd: client EOF")

	// ErrMalformedRequest is returned for a request line that is not
	// exactly method, target and version separated by single spaces.
	ErrMalformedRequest = errors.New("httpd: malformed request line")

	// ErrInvalidEncoding is returned for a line that is not valid UTF-8.
	ErrInvalidEncoding = errors.New("httpd: line is not valid UTF-8")

	// ErrLineTooLong is returned when a line exceeds MaxLineLen.
	ErrLineTooLong = errors.New("httpd: line too long")
)

// Request is a parsed request head. It is owned by the connection that
// read it.
type Request struct {
	Client     net.Addr
	ServerName string

	// Method is lowercased and otherwise uninterpreted.
	Method  string
	Target  string
	Path    string
	Version string

	// Query keys are lowercased; the last duplicate wins.
	Query map[string]string

	// Header keys are lowercased and trimmed; values are trimmed.
	Header map[string]string
}

// ReadRequest reads a request head from r. It stops at the first line of
// two bytes or fewer, which covers both "\n" and "\r\n". No body is read.
func ReadRequest(r *bufio.Reader) (*Request, error) {
	req := &Request{
		Query:  make(map[string]string),
		Header: make(map[string]string),
	}

	for n := 0; ; n++ {
		raw, err := readLine(r)
		if err != nil {
			return nil, err
		}
		if len(raw) <= 2 {
			break
		}
		if !utf8.Valid(raw) {
			return nil, ErrInvalidEncoding
		}

		line := string(trimEOL(raw))
		if n == 0 {
			if err := req.parseRequestLine(line); err != nil {
				return nil, err
			}
			continue
		}

		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		req.Header[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}

	if req.Method == "" {
		return nil, fmt.Errorf("%w: empty request head", ErrMalformedRequest)
	}
	return req, nil
}

func (req *Request) parseRequestLine(line string) error {
	tokens := strings.Split(line, " ")
	if len(tokens) != 3 {
		return fmt.Errorf("%w: %d tokens", ErrMalformedRequest, len(tokens))
	}
	req.Method = strings.ToLower(tokens[0])
	req.Target = tokens[1]
	req.Version = tokens[2]
	req.Path, req.Query = parseTarget(tokens[1])
	return nil
}

// parseTarget percent-decodes target and splits it into path and query.
// If the decoded bytes are not valid UTF-8 the raw target becomes the path
// and the query is empty.
func parseTarget(target string) (string, map[string]string) {
	query := make(map[string]string)
	decoded := unescape(target)
	if !utf8.ValidString(decoded) {
		return target, query
	}
	path, qs, ok := strings.Cut(decoded, "?")
	if !ok {
		return decoded, query
	}
	for _, pair := range strings.Split(qs, "&") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		query[strings.ToLower(k)] = v
	}
	return path, query
}

// unescape decodes %XX sequences. A '%' not followed by two hex digits is
// kept literally and '+' is left alone.
func unescape(s string) string {
	if strings.IndexByte(s, '%') < 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' && i+2 < len(s) && ishex(s[i+1]) && ishex(s[i+2]) {
			b.WriteByte(unhex(s[i+1])<<4 | unhex(s[i+2]))
			i += 2
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func ishex(c byte) bool {
	switch {
	case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		return true
	}
	return false
}

func unhex(c byte) byte {
	switch {
	case '0' <= c && c <= '9':
		return c - '0'
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

// readLine returns the next line including its terminator. A final line
// without a terminator is returned as is; the read after it reports
// ErrClientEOF.
func readLine(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		frag, err := r.ReadSlice('\n')
		buf = append(buf, frag...)
		if len(buf) > MaxLineLen {
			return nil, fmt.Errorf("%w: limit %d", ErrLineTooLong, MaxLineLen)
		}
		switch {
		case err == nil:
			return buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(buf) == 0 {
				return nil, ErrClientEOF
			}
			return buf, nil
		default:
			return nil, err
		}
	}
}

func trimEOL(b []byte) []byte {
	b = bytes.TrimSuffix(b, []byte("\n"))
	return bytes.TrimSuffix(b, []byte("\r"))
}
