// Package tlsconfig builds crypto/tls configurations for both sides of the
// toolkit: the client dialer and the TLS server acceptor.
package tlsconfig

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/WhileEndless/go-netserver/pkg/errors"
)

// SSL/TLS protocol versions re-exported for convenience.
const (
	// TLS 1.2 (RECOMMENDED - widely supported and secure)
	// This is the minimum recommended version for production use
	VersionTLS12 uint16 = tls.VersionTLS12 // 0x0303

	// TLS 1.3 (PREFERRED - most secure, modern standard)
	VersionTLS13 uint16 = tls.VersionTLS13 // 0x0304
)

// ClientOptions describes how a client session authenticates its peer.
type ClientOptions struct {
	// SNI specifies custom Server Name Indication for the TLS handshake.
	// Priority: TLSConfig.ServerName > SNI > Host (if DisableSNI is false)
	SNI string

	// DisableSNI completely disables the SNI extension. Cannot be combined
	// with SNI (validation error).
	DisableSNI bool

	// InsecureTLS skips certificate verification (testing/development).
	// This flag ALWAYS overrides TLSConfig.InsecureSkipVerify, even when a
	// custom TLSConfig is provided.
	InsecureTLS bool

	// CustomCACerts holds additional root CA certificates in PEM format.
	CustomCACerts [][]byte

	// Client certificate for mutual TLS. Either PEM bytes or file paths.
	ClientCertPEM  []byte
	ClientKeyPEM   []byte
	ClientCertFile string
	ClientKeyFile  string

	// TLSConfig allows direct passthrough of crypto/tls.Config for full
	// control. If nil, a default configuration is built from the other
	// options.
	TLSConfig *tls.Config

	// Version control. Priority: TLSConfig values > these fields > defaults.
	MinVersion   uint16
	MaxVersion   uint16
	CipherSuites []uint16
}

// Validate checks for conflicting options.
func (o *ClientOptions) Validate() error {
	if o.DisableSNI && o.SNI != "" {
		return errors.NewValidationError("cannot set both DisableSNI=true and SNI (conflicting options)")
	}
	return nil
}

// BuildClient produces the tls.Config for a client handshake against host.
func BuildClient(opts ClientOptions, host string) (*tls.Config, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var cfg *tls.Config
	if opts.TLSConfig != nil {
		// Clone the provided config to avoid modifying the original.
		cfg = opts.TLSConfig.Clone()
		if opts.InsecureTLS {
			cfg.InsecureSkipVerify = true
		}
	} else {
		cfg = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: opts.InsecureTLS,
		}

		if len(opts.CustomCACerts) > 0 {
			rootCAs := x509.NewCertPool()
			for i, caCert := range opts.CustomCACerts {
				if ok := rootCAs.AppendCertsFromPEM(caCert); !ok {
					return nil, errors.NewValidationError(
						fmt.Sprintf("failed to parse CA certificate at index %d", i))
				}
			}
			cfg.RootCAs = rootCAs
		}
		if opts.MinVersion > 0 {
			cfg.MinVersion = opts.MinVersion
		}
	}

	ConfigureSNI(cfg, opts.SNI, opts.DisableSNI, host)

	if opts.MinVersion > 0 && cfg.MinVersion == 0 {
		cfg.MinVersion = opts.MinVersion
	}
	if opts.MaxVersion > 0 && cfg.MaxVersion == 0 {
		cfg.MaxVersion = opts.MaxVersion
	}
	if len(opts.CipherSuites) > 0 && len(cfg.CipherSuites) == 0 {
		cfg.CipherSuites = opts.CipherSuites
	}

	cert, err := loadCertificate(opts.ClientCertPEM, opts.ClientKeyPEM, opts.ClientCertFile, opts.ClientKeyFile)
	if err != nil {
		return nil, err
	}
	if cert != nil {
		cfg.Certificates = append(cfg.Certificates, *cert)
	}

	return cfg, nil
}

// ServerOptions describes the server side of the TLS handshake.
type ServerOptions struct {
	// Server certificate. Either PEM bytes or file paths; one form is
	// required unless TLSConfig already carries certificates.
	CertPEM  []byte
	KeyPEM   []byte
	CertFile string
	KeyFile  string

	// RequireClientCert enables mutual TLS: clients must present a
	// certificate signed by one of ClientCAs.
	RequireClientCert bool

	// ClientCACerts holds PEM CA certificates used to verify client
	// certificates when RequireClientCert is set.
	ClientCACerts [][]byte

	// TLSConfig allows direct passthrough; certificates and client-auth
	// settings built from the fields above are merged into it.
	TLSConfig *tls.Config

	MinVersion   uint16
	MaxVersion   uint16
	CipherSuites []uint16
}

// BuildServer produces the tls.Config for a server acceptor.
func BuildServer(opts ServerOptions) (*tls.Config, error) {
	var cfg *tls.Config
	if opts.TLSConfig != nil {
		cfg = opts.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cert, err := loadCertificate(opts.CertPEM, opts.KeyPEM, opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, err
	}
	if cert != nil {
		cfg.Certificates = append(cfg.Certificates, *cert)
	}
	if len(cfg.Certificates) == 0 {
		return nil, errors.NewValidationError("server TLS requires a certificate (PEM bytes, file paths, or TLSConfig.Certificates)")
	}

	if opts.RequireClientCert {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		if len(opts.ClientCACerts) > 0 {
			pool := x509.NewCertPool()
			for i, caCert := range opts.ClientCACerts {
				if ok := pool.AppendCertsFromPEM(caCert); !ok {
					return nil, errors.NewValidationError(
						fmt.Sprintf("failed to parse client CA certificate at index %d", i))
				}
			}
			cfg.ClientCAs = pool
		}
	}

	if opts.MinVersion > 0 {
		cfg.MinVersion = opts.MinVersion
	}
	if opts.MaxVersion > 0 {
		cfg.MaxVersion = opts.MaxVersion
	}
	if len(opts.CipherSuites) > 0 && len(cfg.CipherSuites) == 0 {
		cfg.CipherSuites = opts.CipherSuites
	}

	return cfg, nil
}

// ConfigureSNI applies Server Name Indication configuration to a TLS config.
// It follows this priority order:
//  1. If cfg.ServerName is already set, it's preserved (highest priority)
//  2. If disableSNI is true, ServerName is left empty
//  3. If customSNI is set, it's used
//  4. Otherwise, fallbackHost is used as ServerName
func ConfigureSNI(cfg *tls.Config, customSNI string, disableSNI bool, fallbackHost string) {
	if cfg == nil {
		return
	}

	if cfg.ServerName != "" {
		return
	}

	if disableSNI {
		return
	}

	if customSNI != "" {
		cfg.ServerName = customSNI
	} else {
		cfg.ServerName = fallbackHost
	}
}

// GetVersionName returns a human-readable name for a TLS version.
func GetVersionName(version uint16) string {
	switch version {
	case tls.VersionTLS10:
		return "TLS 1.0"
	case tls.VersionTLS11:
		return "TLS 1.1"
	case tls.VersionTLS12:
		return "TLS 1.2"
	case tls.VersionTLS13:
		return "TLS 1.3"
	default:
		return fmt.Sprintf("Unknown TLS version: 0x%04X", version)
	}
}

// loadCertificate loads an X.509 key pair from PEM bytes or file paths.
// Returns nil when neither form is configured.
func loadCertificate(certPEM, keyPEM []byte, certFile, keyFile string) (*tls.Certificate, error) {
	hasPEM := len(certPEM) > 0 && len(keyPEM) > 0
	hasFile := certFile != "" && keyFile != ""

	if !hasPEM && !hasFile {
		return nil, nil
	}

	if !hasPEM {
		var err error
		certPEM, err = os.ReadFile(certFile)
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("failed to read certificate file %s: %v", certFile, err))
		}
		keyPEM, err = os.ReadFile(keyFile)
		if err != nil {
			return nil, errors.NewValidationError(fmt.Sprintf("failed to read key file %s: %v", keyFile, err))
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.NewValidationError(fmt.Sprintf("failed to parse certificate/key: %v", err))
	}
	return &cert, nil
}
