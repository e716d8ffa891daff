package session_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/WhileEndless/go-netserver/pkg/session"
	"github.com/WhileEndless/go-netserver/pkg/tlsconfig"
	"github.com/WhileEndless/go-netserver/pkg/transport"
)

// selfSignedCert generates a throwaway certificate for 127.0.0.1.
func selfSignedCert(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "127.0.0.1"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		IsCA:         true,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("certificate creation failed: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("key marshal failed: %v", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestTLSEcho(t *testing.T) {
	certPEM, keyPEM := selfSignedCert(t)

	var handshaking, handshaked atomic.Int32
	scb := session.Callbacks{
		OnHandshaking: func(s *session.Session) { handshaking.Add(1) },
		OnHandshaked:  func(s *session.Session) { handshaked.Add(1) },
		OnReceived: func(s *session.Session, data []byte) {
			s.SendAsync(data)
		},
	}

	srv, err := session.NewTLSServer("127.0.0.1:0",
		tlsconfig.ServerOptions{CertPEM: certPEM, KeyPEM: keyPEM},
		session.ServerOptions{}, scb)
	if err != nil {
		t.Fatalf("TLS server creation failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("TLS server start failed: %v", err)
	}
	defer srv.Stop()

	_, portStr, _ := net.SplitHostPort(srv.ListenAddress())
	port, _ := strconv.Atoi(portStr)

	var mu sync.Mutex
	var received []byte
	ccb := session.Callbacks{
		OnReceived: func(s *session.Session, data []byte) {
			mu.Lock()
			received = append(received, data...)
			mu.Unlock()
		},
	}

	cfg := transport.Config{
		Host:        "127.0.0.1",
		Port:        port,
		ConnTimeout: 5 * time.Second,
	}
	cfg.TLS.CustomCACerts = [][]byte{certPEM}

	cli := session.NewTLSClient(cfg, session.Options{}, ccb)
	s, err := cli.Connect(context.Background())
	if err != nil {
		t.Fatalf("TLS connect failed: %v", err)
	}
	defer cli.Disconnect()

	s.SendAsyncString("secret")
	waitFor(t, "TLS echo", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return bytes.Equal(received, []byte("secret"))
	})

	if handshaking.Load() != 1 || handshaked.Load() != 1 {
		t.Fatalf("handshake callbacks fired %d/%d times",
			handshaking.Load(), handshaked.Load())
	}
	if metrics := cli.Metrics(); metrics.TLSHandshake <= 0 {
		t.Fatalf("expected a recorded TLS handshake time")
	}
}

func TestTLSServerRequiresCertificate(t *testing.T) {
	_, err := session.NewTLSServer("127.0.0.1:0",
		tlsconfig.ServerOptions{}, session.ServerOptions{}, session.Callbacks{})
	if err == nil {
		t.Fatalf("expected an error for a certificate-less TLS server")
	}
}
