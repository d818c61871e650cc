package bus

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeCA(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "hermeswatch test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "ca.pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTLSConfig(t *testing.T) {
	t.Parallel()

	tc, err := tlsConfig("")
	if err != nil || tc.RootCAs != nil {
		t.Errorf("no CA file: cfg=%v err=%v, want system roots", tc, err)
	}

	tc, err = tlsConfig(writeCA(t))
	if err != nil {
		t.Fatalf("valid CA: %v", err)
	}
	if tc.RootCAs == nil {
		t.Error("RootCAs not set from CA file")
	}

	if _, err := tlsConfig(filepath.Join(t.TempDir(), "missing.pem")); err == nil {
		t.Error("missing CA file should fail")
	}

	junk := filepath.Join(t.TempDir(), "junk.pem")
	_ = os.WriteFile(junk, []byte("not a certificate"), 0o600)
	if _, err := tlsConfig(junk); err == nil {
		t.Error("CA file without certificates should fail")
	}
}

func TestNewMQTT(t *testing.T) {
	t.Parallel()
	if _, err := NewMQTT(Config{}); err == nil {
		t.Error("empty broker should fail")
	}
	if _, err := NewMQTT(Config{Broker: "ssl://localhost:8883", TLS: true, CACerts: "/nonexistent/ca.pem"}); err == nil {
		t.Error("unreadable CA file should fail")
	}

	m, err := NewMQTT(Config{Broker: "tcp://localhost:1883", ClientID: "test"})
	if err != nil {
		t.Fatalf("NewMQTT: %v", err)
	}
	if m.cfg.KeepAlive != 60*time.Second || m.cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("defaults not applied: %+v", m.cfg)
	}
	if m.IsConnected() {
		t.Error("new client reports connected")
	}
}

func TestSubscribe_BeforeConnect(t *testing.T) {
	t.Parallel()
	m, err := NewMQTT(Config{Broker: "tcp://localhost:1883"})
	if err != nil {
		t.Fatal(err)
	}
	err = m.Subscribe(context.Background(), []string{"hermes/#"}, func(string, []byte, time.Time) {})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("error = %v, want ErrNotConnected", err)
	}
	if len(m.filters) != 1 {
		t.Error("filters not remembered for the next connect")
	}
}

func TestConnect_Unreachable(t *testing.T) {
	t.Parallel()
	m, err := NewMQTT(Config{Broker: "tcp://127.0.0.1:1", ConnectTimeout: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Connect(ctx); err == nil {
		t.Fatal("Connect to a closed port succeeded")
	}
}
