package client

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	ch "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"bank-service/internal/config"
	"bank-service/internal/util"
)

const (
	clickhouseNativePort = "9000"
	clickhouseSecurePort = "9440"
)

// ClickHouseClient is the analytics connection. Writes are fire-and-forget
// from the ledger's point of view.
type ClickHouseClient struct {
	conn     driver.Conn
	database string
}

// clickhouseAddr turns CLICKHOUSE_URL into a native host:port and reports
// whether the scheme asks for TLS. Bare host[:port] values are accepted.
func clickhouseAddr(raw string) (addr, host string, secure bool, err error) {
	if !strings.Contains(raw, "://") {
		raw = "clickhouse://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false, fmt.Errorf("parse clickhouse url: %w", err)
	}
	switch u.Scheme {
	case "clickhouse", "tcp", "http":
	case "https", "clickhouses":
		secure = true
	default:
		return "", "", false, fmt.Errorf("unsupported clickhouse scheme %q", u.Scheme)
	}

	host = u.Hostname()
	if host == "" {
		return "", "", false, fmt.Errorf("clickhouse url %q has no host", raw)
	}
	port := u.Port()
	if port == "" {
		port = clickhouseNativePort
		if secure {
			port = clickhouseSecurePort
		}
	}
	return net.JoinHostPort(host, port), host, secure, nil
}

// NewClickHouseClient opens a native-protocol connection and pings it.
func NewClickHouseClient(ctx context.Context, cfg *config.Config) (*ClickHouseClient, error) {
	chConfig := cfg.Clickhouse

	addr, host, secure, err := clickhouseAddr(chConfig.URL)
	if err != nil {
		return nil, err
	}

	opts := &ch.Options{
		Addr: []string{addr},
		Auth: ch.Auth{
			Username: chConfig.Username,
			Password: chConfig.Password,
			Database: chConfig.Database,
		},
		DialTimeout:      10 * time.Second,
		MaxOpenConns:     10,
		MaxIdleConns:     5,
		ConnMaxLifetime:  time.Hour,
		ConnOpenStrategy: ch.ConnOpenInOrder,
	}

	if secure || cfg.IsProduction() {
		tlsConfig, err := loadTLSConfig(host, util.GetEnv("CLICKHOUSE_CA_FILE", ""), "", "")
		if err != nil {
			return nil, fmt.Errorf("clickhouse tls: %w", err)
		}
		opts.TLS = tlsConfig
	}

	conn, err := ch.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	util.Info("ClickHouse client initialized",
		util.String("addr", addr),
		util.String("database", chConfig.Database),
		util.Bool("tls_enabled", opts.TLS != nil),
	)

	return &ClickHouseClient{conn: conn, database: chConfig.Database}, nil
}

func (c *ClickHouseClient) Exec(ctx context.Context, query string, args ...interface{}) error {
	if err := c.conn.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("clickhouse exec on %s: %w", c.database, err)
	}
	return nil
}

func (c *ClickHouseClient) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouseClient) Close() error {
	if c.conn == nil {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		util.Error("Failed to close ClickHouse connection", util.ErrorField(err))
		return err
	}
	return nil
}
