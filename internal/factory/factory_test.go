package factory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestFactory(t *testing.T, backend string) *Factory {
	t.Helper()
	t.Setenv("APP_ENV", "test")
	t.Setenv("LEDGER_BACKEND", backend)
	t.Setenv("LEDGER_DATA_DIR", t.TempDir())
	t.Setenv("HASHING_PEPPERS", "1:test-pepper")
	t.Setenv("SESSION_JWT_SECRET", "test-secret")
	t.Setenv("ENCRYPTION_LOCAL_KEY", "test-key")
	t.Setenv("ARGON2_MEMORY_COST", "1024")

	f, err := NewFactory()
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFactoryServesHealth(t *testing.T) {
	for _, backend := range []string{"memory", "file"} {
		t.Run(backend, func(t *testing.T) {
			f := newTestFactory(t, backend)

			if err := f.Ready(context.Background()); err != nil {
				t.Fatalf("Ready: %v", err)
			}

			srv := httptest.NewServer(f.Router())
			defer srv.Close()

			resp, err := http.Get(srv.URL + "/health")
			if err != nil {
				t.Fatalf("GET /health: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("health status %d", resp.StatusCode)
			}

			resp, err = http.Get(srv.URL + "/api/v1/accounts/me")
			if err != nil {
				t.Fatalf("GET /accounts/me: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("unauthenticated status %d", resp.StatusCode)
			}
		})
	}
}

func TestFactoryRejectsUnknownBackend(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "sqlite")
	t.Setenv("HASHING_PEPPERS", "1:test-pepper")
	t.Setenv("SESSION_JWT_SECRET", "test-secret")
	t.Setenv("ENCRYPTION_LOCAL_KEY", "test-key")
	if _, err := NewFactory(); err == nil {
		t.Fatal("unknown ledger backend accepted")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	f := newTestFactory(t, "memory")
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
