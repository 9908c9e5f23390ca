package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writePair generates a self-signed ECDSA certificate for dnsName and writes
// it and its SEC1 key to certPath and keyPath.
func writePair(t *testing.T, dnsName, certPath, keyPath string) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	cert := selfSign(t, dnsName, &key.PublicKey, key)

	writePEM(t, certPath, "CERTIFICATE", cert.Raw)
	writePEM(t, keyPath, "EC PRIVATE KEY", keyDER)
	return cert
}

// writeRSAPair does the same with an RSA key stored as PKCS#8.
func writeRSAPair(t *testing.T, dnsName, certPath, keyPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	cert := selfSign(t, dnsName, &key.PublicKey, key)

	writePEM(t, certPath, "CERTIFICATE", cert.Raw)
	writePEM(t, keyPath, "PRIVATE KEY", keyDER)
}

func selfSign(t *testing.T, dnsName string, pub, priv any) *x509.Certificate {
	t.Helper()

	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: dnsName},
		DNSNames:     []string{dnsName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, pub, priv)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()
	data := pem.EncodeToMemory(&pem.Block{Type: blockType, Bytes: der})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeHostDir creates <root>/<host>/{fullchain,privkey}.pem.
func writeHostDir(t *testing.T, root, host string) *x509.Certificate {
	t.Helper()
	dir := filepath.Join(root, host)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	return writePair(t, host, filepath.Join(dir, ChainFile), filepath.Join(dir, KeyFile))
}
