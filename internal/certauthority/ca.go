// Package certauthority loads or creates a local root CA and issues
// memoized per-host leaf certificates for the MITM proxy, as described by
// the capture pipeline's CertAuthority component.
package certauthority

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	caCertFile = "ca.crt"
	caKeyFile  = "ca.key"

	caValidity   = 10 * 365 * 24 * time.Hour
	leafValidity = 397 * 24 * time.Hour
)

// CA issues TLS leaf certificates signed by a root certificate that is
// generated on first use and persisted under dir for reuse across restarts.
type CA struct {
	dir     string
	caCert  *x509.Certificate
	caKey   *rsa.PrivateKey
	caDER   []byte
	caPEM   []byte

	mu    sync.RWMutex
	cache map[string]*tls.Certificate
}

// LoadOrCreate loads an existing root CA from dir, or generates and persists
// a fresh one if dir has none yet.
func LoadOrCreate(dir string) (*CA, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("certauthority: create %s: %w", dir, err)
	}

	ca := &CA{dir: dir, cache: make(map[string]*tls.Certificate)}

	certPath := filepath.Join(dir, caCertFile)
	if _, err := os.Stat(certPath); os.IsNotExist(err) {
		if err := ca.create(); err != nil {
			return nil, err
		}
		return ca, nil
	}

	if err := ca.load(); err != nil {
		return nil, err
	}
	return ca, nil
}

func (ca *CA) create() error {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("certauthority: generate CA key: %w", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"captureproxy local CA"},
			CommonName:   "captureproxy",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(caValidity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("certauthority: create CA cert: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("certauthority: parse CA cert: %w", err)
	}

	ca.caCert = cert
	ca.caKey = key
	ca.caDER = der
	ca.caPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	if err := os.WriteFile(filepath.Join(ca.dir, caCertFile), ca.caPEM, 0o644); err != nil {
		return fmt.Errorf("certauthority: write %s: %w", caCertFile, err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(filepath.Join(ca.dir, caKeyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("certauthority: write %s: %w", caKeyFile, err)
	}
	return nil
}

func (ca *CA) load() error {
	certPEM, err := os.ReadFile(filepath.Join(ca.dir, caCertFile))
	if err != nil {
		return fmt.Errorf("certauthority: read %s: %w", caCertFile, err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return fmt.Errorf("certauthority: decode %s: not PEM", caCertFile)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return fmt.Errorf("certauthority: parse %s: %w", caCertFile, err)
	}

	keyPEM, err := os.ReadFile(filepath.Join(ca.dir, caKeyFile))
	if err != nil {
		return fmt.Errorf("certauthority: read %s: %w", caKeyFile, err)
	}
	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("certauthority: decode %s: not PEM", caKeyFile)
	}
	key, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("certauthority: parse %s: %w", caKeyFile, err)
	}

	ca.caCert = cert
	ca.caKey = key
	ca.caDER = block.Bytes
	ca.caPEM = certPEM
	return nil
}

// LeafFor returns a leaf certificate for host, generating and caching one on
// first request. host may be a DNS name or an IP literal; the leaf's
// SubjectAltName is set accordingly so clients accept it.
func (ca *CA) LeafFor(host string) (*tls.Certificate, error) {
	ca.mu.RLock()
	if cert, ok := ca.cache[host]; ok {
		ca.mu.RUnlock()
		return cert, nil
	}
	ca.mu.RUnlock()

	ca.mu.Lock()
	defer ca.mu.Unlock()
	if cert, ok := ca.cache[host]; ok {
		return cert, nil
	}

	cert, err := ca.generateLeaf(host)
	if err != nil {
		return nil, err
	}
	ca.cache[host] = cert
	return cert, nil
}

func (ca *CA) generateLeaf(host string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("certauthority: generate leaf key for %s: %w", host, err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject: pkix.Name{
			Organization: []string{"captureproxy"},
			CommonName:   host,
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(leafValidity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, ca.caCert, &key.PublicKey, ca.caKey)
	if err != nil {
		return nil, fmt.Errorf("certauthority: sign leaf for %s: %w", host, err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, ca.caDER},
		PrivateKey:  key,
	}, nil
}

// CACertPEM returns the root certificate in PEM form, for clients to install
// locally as a trusted root.
func (ca *CA) CACertPEM() []byte {
	return ca.caPEM
}
