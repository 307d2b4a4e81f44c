package tls

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"
)

func TestDevCertCoversHostsAndIsReused(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)

	first, err := gen.GenerateCert([]string{"bank.local", "127.0.0.1"})
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}
	leaf, err := x509.ParseCertificate(first.Certificate[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	for _, h := range []string{"bank.local", "127.0.0.1"} {
		if err := leaf.VerifyHostname(h); err != nil {
			t.Errorf("certificate does not cover %s: %v", h, err)
		}
	}

	second, err := gen.GenerateCert([]string{"bank.local"})
	if err != nil {
		t.Fatalf("GenerateCert again: %v", err)
	}
	if string(second.Certificate[0]) != string(first.Certificate[0]) {
		t.Error("valid cached certificate was not reused")
	}

	// A host the cached certificate does not cover forces a new one.
	third, err := gen.GenerateCert([]string{"other.local"})
	if err != nil {
		t.Fatalf("GenerateCert other host: %v", err)
	}
	if string(third.Certificate[0]) == string(first.Certificate[0]) {
		t.Error("certificate reused for an uncovered host")
	}
}

func TestDevCertRenewsNearExpiry(t *testing.T) {
	dir := t.TempDir()
	gen := NewDevCertGenerator(dir)
	first, err := gen.GenerateCert([]string{"localhost"})
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}

	gen.now = func() time.Time { return time.Now().Add(gen.validFor - 24*time.Hour) }
	second, err := gen.GenerateCert([]string{"localhost"})
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}
	if string(second.Certificate[0]) == string(first.Certificate[0]) {
		t.Error("certificate close to expiry was reused")
	}
}

func TestFallbackCertificate(t *testing.T) {
	m := NewTLSManager(&TLSConfig{
		EnableTLS:   true,
		Domain:      "localhost",
		AutoCertDir: t.TempDir(),
		Environment: "development",
	})
	a, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	b, err := m.GetCertificate(&tls.ClientHelloInfo{ServerName: "localhost"})
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if a != b {
		t.Error("fallback certificate not cached across handshakes")
	}

	prod := NewTLSManager(&TLSConfig{
		EnableTLS:   true,
		Domain:      "bank.example",
		AutoCertDir: t.TempDir(),
		Environment: "production",
	})
	if _, err := prod.GetCertificate(&tls.ClientHelloInfo{ServerName: "bank.example"}); err == nil {
		t.Error("production issued a self-signed certificate")
	}
}
