package client

import "testing"

func TestClickhouseAddr(t *testing.T) {
	cases := []struct {
		raw    string
		addr   string
		host   string
		secure bool
	}{
		{"localhost", "localhost:9000", "localhost", false},
		{"localhost:9001", "localhost:9001", "localhost", false},
		{"clickhouse://ch.internal", "ch.internal:9000", "ch.internal", false},
		{"https://ch.example.com", "ch.example.com:9440", "ch.example.com", true},
		{"https://ch.example.com:9443", "ch.example.com:9443", "ch.example.com", true},
	}
	for _, tc := range cases {
		addr, host, secure, err := clickhouseAddr(tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.raw, err)
		}
		if addr != tc.addr || host != tc.host || secure != tc.secure {
			t.Errorf("%s: got (%s, %s, %v), want (%s, %s, %v)", tc.raw, addr, host, secure, tc.addr, tc.host, tc.secure)
		}
	}

	if _, _, _, err := clickhouseAddr("ftp://ch"); err == nil {
		t.Error("unsupported scheme accepted")
	}
}

func TestLoadTLSConfig(t *testing.T) {
	cfg, err := loadTLSConfig("ch.example.com", "", "", "")
	if err != nil {
		t.Fatalf("loadTLSConfig: %v", err)
	}
	if cfg.ServerName != "ch.example.com" || cfg.RootCAs != nil || len(cfg.Certificates) != 0 {
		t.Errorf("unexpected config %+v", cfg)
	}

	if _, err := loadTLSConfig("x", "/does/not/exist.pem", "", ""); err == nil {
		t.Error("missing CA file accepted")
	}
}
