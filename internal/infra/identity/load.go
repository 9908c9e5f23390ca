package identity

import (
	"bytes"
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names inside a per-host directory.
const (
	ChainFile = "fullchain.pem"
	KeyFile   = "privkey.pem"
)

// Single-pair suffixes.
const (
	CertSuffix = ".crt"
	KeySuffix  = ".key"
)

type pairSource struct {
	name     string
	certFile string
	keyFile  string
}

// Load reads every identity found at path. A directory is treated as a
// certbot live directory; a file must be one half of a .crt/.key pair.
//
// Loading is all or nothing: the first unreadable, unparseable or
// mismatched pair fails the whole call and no Resolver is returned.
func Load(path string) (*Resolver, error) {
	sources, err := discover(path)
	if err != nil {
		return nil, err
	}

	r := newResolver(path)
	for _, src := range sources {
		e, err := loadPair(src)
		if err != nil {
			return nil, err
		}
		r.add(e)
	}
	return r, nil
}

func discover(path string) ([]pairSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("identity: stat %s: %w", path, err)
	}

	if !info.IsDir() {
		src, err := filePair(path)
		if err != nil {
			return nil, err
		}
		return []pairSource{src}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("identity: read dir %s: %w", path, err)
	}

	var sources []pairSource
	for _, entry := range entries {
		dir := filepath.Join(path, entry.Name())
		// certbot links live/<host> entries, so follow symlinks here.
		fi, err := os.Stat(dir)
		if err != nil || !fi.IsDir() {
			continue
		}
		sources = append(sources, pairSource{
			name:     entry.Name(),
			certFile: filepath.Join(dir, ChainFile),
			keyFile:  filepath.Join(dir, KeyFile),
		})
	}
	return sources, nil
}

func filePair(path string) (pairSource, error) {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, CertSuffix):
		stem := strings.TrimSuffix(base, CertSuffix)
		return pairSource{
			name:     stem,
			certFile: path,
			keyFile:  strings.TrimSuffix(path, CertSuffix) + KeySuffix,
		}, nil
	case strings.HasSuffix(base, KeySuffix):
		stem := strings.TrimSuffix(base, KeySuffix)
		return pairSource{
			name:     stem,
			certFile: strings.TrimSuffix(path, KeySuffix) + CertSuffix,
			keyFile:  path,
		}, nil
	default:
		return pairSource{}, fmt.Errorf("%w: %s", ErrUnknownSuffix, path)
	}
}

func loadPair(src pairSource) (*CertEntry, error) {
	if src.name == "" {
		return nil, fmt.Errorf("identity: empty hostname for %s", src.certFile)
	}

	chainPEM, err := os.ReadFile(src.certFile)
	if err != nil {
		return nil, fmt.Errorf("identity: read certificate %s: %w", src.certFile, err)
	}
	keyPEM, err := os.ReadFile(src.keyFile)
	if err != nil {
		return nil, fmt.Errorf("identity: read key %s: %w", src.keyFile, err)
	}

	chain, err := parseChain(chainPEM)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, src.certFile)
	}

	// X509KeyPair accepts PKCS#1, PKCS#8 and SEC1 keys and checks that the
	// key belongs to the leaf.
	cert, err := tls.X509KeyPair(chainPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("identity: load pair for %s: %w", src.name, err)
	}

	if cert.Leaf == nil {
		cert.Leaf = chain[0]
	}
	if err := cert.Leaf.VerifyHostname(src.name); err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrNameMismatch, src.name, err)
	}

	signer, ok := cert.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("identity: key for %s cannot sign", src.name)
	}

	return &CertEntry{
		Name:        src.name,
		Certificate: &cert,
		Signer:      signer,
		CertFile:    src.certFile,
		KeyFile:     src.keyFile,
	}, nil
}

// parseChain returns every certificate in data, leaf first.
func parseChain(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := bytes.TrimSpace(data)
	for len(rest) > 0 {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("identity: parse certificate: %v", err)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, ErrNoCertificate
	}
	return certs, nil
}
