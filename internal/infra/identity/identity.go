package identity

import (
	"crypto"
	"crypto/tls"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrUnknownSuffix is returned when a single-file source is neither .crt nor .key.
	ErrUnknownSuffix = errors.New("identity: file name must end in .crt or .key")

	// ErrNoCertificate is returned when a chain file has no CERTIFICATE block.
	ErrNoCertificate = errors.New("identity: no certificate found in PEM data")

	// ErrNameMismatch is returned when the leaf certificate does not cover its hostname.
	ErrNameMismatch = errors.New("identity: certificate is not valid for hostname")

	// ErrNoServerName is returned to the handshake when the client sent no SNI.
	ErrNoServerName = errors.New("identity: client did not send a server name")

	// ErrUnknownServerName is returned to the handshake when no identity matches the SNI.
	ErrUnknownServerName = errors.New("identity: no certificate for server name")
)

// CertEntry is a loaded identity for one hostname.
type CertEntry struct {
	Name        string
	Certificate *tls.Certificate
	Signer      crypto.Signer
	CertFile    string
	KeyFile     string
}

// Resolver maps hostnames to identities. It is safe for concurrent use
// because it is never modified after Load.
type Resolver struct {
	source  string
	entries map[string]*CertEntry
}

func newResolver(source string) *Resolver {
	return &Resolver{
		source:  source,
		entries: make(map[string]*CertEntry),
	}
}

// add registers e, replacing any earlier entry for the same hostname.
func (r *Resolver) add(e *CertEntry) {
	r.entries[normalizeName(e.Name)] = e
}

// Source returns the path the resolver was loaded from.
func (r *Resolver) Source() string {
	return r.source
}

// Len returns the number of loaded identities.
func (r *Resolver) Len() int {
	return len(r.entries)
}

// Lookup returns the identity registered for name. Matching ignores case
// and a trailing dot.
func (r *Resolver) Lookup(name string) (*CertEntry, bool) {
	e, ok := r.entries[normalizeName(name)]
	return e, ok
}

// Names returns the loaded hostnames in sorted order.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetCertificate implements tls.Config.GetCertificate. There is no default
// identity: a missing or unmatched server name fails the handshake.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	if hello.ServerName == "" {
		return nil, ErrNoServerName
	}
	e, ok := r.Lookup(hello.ServerName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServerName, hello.ServerName)
	}
	return e.Certificate, nil
}

// TLSConfig returns a server configuration that selects certificates from r.
func (r *Resolver) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		MaxVersion:     tls.VersionTLS13,
		GetCertificate: r.GetCertificate,
	}
}

func normalizeName(name string) string {
	return strings.TrimSuffix(strings.ToLower(name), ".")
}
