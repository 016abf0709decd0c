// Package tls builds the operator API's TLS configuration: explicit
// certificate files, or a certificate directory with optional self-signed
// generation for development setups.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/warden/internal/config"
)

const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

// safeReadFile reads file content safely within base directory
func safeReadFile(baseDir, p string) ([]byte, error) {
	clean := filepath.Clean(p)
	if baseDir != "" {
		absBase, _ := filepath.Abs(baseDir)
		absFile, _ := filepath.Abs(clean)
		if !strings.HasPrefix(absFile, absBase+string(filepath.Separator)) && absFile != absBase {
			return nil, errors.New("file path outside of allowed directory")
		}
	}
	return os.ReadFile(clean)
}

// getCertificateFunc returns a function that loads certificates dynamically,
// so a rotated certificate is picked up without a restart.
func getCertificateFunc(certFile, keyFile string) func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	baseDir := filepath.Dir(certFile)
	return func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
		readCert, err := safeReadFile(baseDir, certFile)
		if err != nil {
			return nil, err
		}
		readKey, err := safeReadFile(baseDir, keyFile)
		if err != nil {
			return nil, err
		}
		certificate, err := tls.X509KeyPair(readCert, readKey)
		return &certificate, err
	}
}

// SetupTLS resolves the TLS configuration for the server block. A nil config
// with nil error means TLS is not enabled. Explicit cert/key files win over
// the certificate directory; with auto_generate set, missing directory
// certificates are created self-signed.
func SetupTLS(server config.ServerConfig) (*tls.Config, error) {
	if server.TLS == nil || !server.TLS.Enabled {
		return nil, nil
	}

	if server.TLS.CertFile != "" && server.TLS.KeyFile != "" {
		return newTLSConfig(server.TLS.CertFile, server.TLS.KeyFile), nil
	}

	if server.TLS.Dir != "" {
		certPath := filepath.Join(server.TLS.Dir, tlsCrt)
		keyPath := filepath.Join(server.TLS.Dir, tlsKey)
		if server.TLS.AutoGenerate && !certificatesExist(certPath, keyPath) {
			if err := generateCertificate(server.TLS); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
		return newTLSConfig(certPath, keyPath), nil
	}

	return nil, errors.New("TLS enabled but no valid certificate configuration found")
}

func newTLSConfig(certPath, keyPath string) *tls.Config {
	return &tls.Config{
		GetCertificate: getCertificateFunc(certPath, keyPath),
		MinVersion:     tls.VersionTLS13,
	}
}

// certificatesExist checks if both certificate files exist
func certificatesExist(certPath, keyPath string) bool {
	_, certErr := os.Stat(certPath)
	_, keyErr := os.Stat(keyPath)
	return certErr == nil && keyErr == nil
}

// generateCertificate writes a self-signed certificate into the configured
// directory. Valid five years; localhost plus the configured common name.
func generateCertificate(tc *config.TLSConfig) error {
	if err := os.MkdirAll(tc.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create certificate directory: %w", err)
	}
	commonName := tc.CommonName
	if commonName == "" {
		commonName = "localhost"
	}
	dnsNames := []string{"localhost"}
	if commonName != "localhost" {
		dnsNames = append(dnsNames, commonName)
	}
	return GenerateSelfSignedCert(CertConfig{
		CommonName:   commonName,
		Organization: "warden",
		DNSNames:     dnsNames,
		IPAddresses:  []string{"127.0.0.1"},
		NotAfter:     time.Now().AddDate(5, 0, 0),
		CertPath:     filepath.Join(tc.Dir, tlsCrt),
		KeyPath:      filepath.Join(tc.Dir, tlsKey),
		CACertPath:   filepath.Join(tc.Dir, tlsCaCrt),
	})
}
