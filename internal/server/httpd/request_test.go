package httpd

import (
	"bufio"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func parse(s string) (*Request, error) {
	return ReadRequest(bufio.NewReader(strings.NewReader(s)))
}

func TestReadRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		method  string
		path    string
		version string
		query   map[string]string
		header  map[string]string
	}{
		{
			name:    "simple",
			input:   "GET / HTTP/1.1\r\n\r\n",
			method:  "get",
			path:    "/",
			version: "HTTP/1.1",
			query:   map[string]string{},
			header:  map[string]string{},
		},
		{
			name:    "bare newlines",
			input:   "GET /a HTTP/1.0\n\n",
			method:  "get",
			path:    "/a",
			version: "HTTP/1.0",
			query:   map[string]string{},
			header:  map[string]string{},
		},
		{
			name:    "query last duplicate wins",
			input:   "GET /x?a=1&B=2&a=3 HTTP/1.1\r\n\r\n",
			method:  "get",
			path:    "/x",
			version: "HTTP/1.1",
			query:   map[string]string{"a": "3", "b": "2"},
			header:  map[string]string{},
		},
		{
			name:    "query pair without equals dropped",
			input:   "GET /x?flag&k=v=w HTTP/1.1\r\n\r\n",
			method:  "get",
			path:    "/x",
			version: "HTTP/1.1",
			query:   map[string]string{"k": "v=w"},
			header:  map[string]string{},
		},
		{
			name:    "decoded before query split",
			input:   "GET /a%20b/c%3Fd=1 HTTP/1.1\r\n\r\n",
			method:  "get",
			path:    "/a b/c",
			version: "HTTP/1.1",
			query:   map[string]string{"d": "1"},
			header:  map[string]string{},
		},
		{
			name:    "bad percent escape kept literally",
			input:   "GET /a%zz?x=1 HTTP/1.1\r\n\r\n",
			method:  "get",
			path:    "/a%zz",
			version: "HTTP/1.1",
			query:   map[string]string{"x": "1"},
			header:  map[string]string{},
		},
		{
			name:    "trailing percent in query",
			input:   "GET /index.html?q=100% HTTP/1.1\r\n\r\n",
			method:  "get",
			path:    "/index.html",
			version: "HTTP/1.1",
			query:   map[string]string{"q": "100%"},
			header:  map[string]string{},
		},
		{
			name:    "valid escapes decoded around bad one",
			input:   "GET /%41%g1%42+c HTTP/1.1\r\n\r\n",
			method:  "get",
			path:    "/A%g1B+c",
			version: "HTTP/1.1",
			query:   map[string]string{},
			header:  map[string]string{},
		},
		{
			name:    "decoded invalid utf8 keeps raw target",
			input:   "GET /%ff HTTP/1.1\r\n\r\n",
			method:  "get",
			path:    "/%ff",
			version: "HTTP/1.1",
			query:   map[string]string{},
			header:  map[string]string{},
		},
		{
			name:    "headers lowercased and trimmed",
			input:   "GET / HTTP/1.1\r\nHost: a.test\r\nX-Thing :  v1 \r\nnocolon\r\nx-thing: v2\r\n\r\n",
			method:  "get",
			path:    "/",
			version: "HTTP/1.1",
			query:   map[string]string{},
			header:  map[string]string{"host": "a.test", "x-thing": "v2"},
		},
		{
			name:    "method uninterpreted",
			input:   "BREW /pot HTTP/9\r\n\r\n",
			method:  "brew",
			path:    "/pot",
			version: "HTTP/9",
			query:   map[string]string{},
			header:  map[string]string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parse(tt.input)
			if err != nil {
				t.Fatalf("ReadRequest() error = %v", err)
			}
			if req.Method != tt.method {
				t.Errorf("Method = %q, want %q", req.Method, tt.method)
			}
			if req.Path != tt.path {
				t.Errorf("Path = %q, want %q", req.Path, tt.path)
			}
			if req.Version != tt.version {
				t.Errorf("Version = %q, want %q", req.Version, tt.version)
			}
			if !reflect.DeepEqual(req.Query, tt.query) {
				t.Errorf("Query = %v, want %v", req.Query, tt.query)
			}
			if !reflect.DeepEqual(req.Header, tt.header) {
				t.Errorf("Header = %v, want %v", req.Header, tt.header)
			}
		})
	}
}

func TestReadRequest_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty stream", "", ErrClientEOF},
		{"two tokens", "GET /\r\n\r\n", ErrMalformedRequest},
		{"four tokens", "GET / HTTP/1.1 extra\r\n\r\n", ErrMalformedRequest},
		{"double space", "GET  / HTTP/1.1\r\n\r\n", ErrMalformedRequest},
		{"empty head", "\r\n", ErrMalformedRequest},
		{"invalid utf8 request line", "GET /\xff HTTP/1.1\r\n\r\n", ErrInvalidEncoding},
		{"invalid utf8 header", "GET / HTTP/1.1\r\nX: \xfe\r\n\r\n", ErrInvalidEncoding},
		{"eof before blank line", "GET / HTTP/1.1\r\nHost: a\r\n", ErrClientEOF},
		{"partial final line", "GET / HTTP/1.1", ErrClientEOF},
		{"line too long", "GET /" + strings.Repeat("a", MaxLineLen) + " HTTP/1.1\r\n\r\n", ErrLineTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parse(tt.input)
			if !errors.Is(err, tt.want) {
				t.Fatalf("ReadRequest() error = %v, want %v", err, tt.want)
			}
			if req != nil {
				t.Errorf("ReadRequest() request = %+v, want nil", req)
			}
		})
	}
}

func TestReadRequest_StopsAtBlankLine(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("GET / HTTP/1.1\r\n\r\nbody bytes"))
	if _, err := ReadRequest(r); err != nil {
		t.Fatalf("ReadRequest() error = %v", err)
	}
	rest, _ := r.ReadString(0)
	if rest != "body bytes" {
		t.Errorf("remaining = %q, want body untouched", rest)
	}
}

func TestReadLine_LongLineAcrossBuffer(t *testing.T) {
	// Longer than the reader buffer but within MaxLineLen.
	line := strings.Repeat("x", 6000) + "\n"
	r := bufio.NewReaderSize(strings.NewReader(line), 16)

	got, err := readLine(r)
	if err != nil {
		t.Fatalf("readLine() error = %v", err)
	}
	if string(got) != line {
		t.Errorf("readLine() returned %d bytes, want %d", len(got), len(line))
	}
	if _, err := readLine(r); !errors.Is(err, ErrClientEOF) {
		t.Errorf("second readLine() error = %v, want ErrClientEOF", err)
	}
}
