package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"bank-service/internal/config"
	"bank-service/internal/util"
)

// Statements holds the CQL the store issues. gocql prepares and caches each
// statement on first use.
type Statements struct {
	InsertAccount       string
	GetAccount          string
	ListAccounts        string
	UpdateBalance       string
	UpdateSecurity      string
	UpdatePIN           string
	ClaimEmail          string
	ReleaseEmail        string
	GetEmail            string
	ClaimCNIC           string
	ReleaseCNIC         string
	GetCounter          string
	InitCounter         string
	AdvanceCounter      string
	InsertTransaction   string
	InsertAccountRecord string
	ListBucket          string
	ListAccountRecords  string
	InsertActivity      string
	RecentActivities    string
	InsertInteraction   string
	RecentInteractions  string
	InsertSecurityEvent string
}

const accountColumns = `account_no, first_name, last_name, email, cnic_hash, cnic_sealed, phone_hash,
	phone_sealed, pin_hash, security_answer_hash, balance, failed_tries, is_locked, face_id, version,
	created_at, updated_at`

const recordColumns = `seq, id, created_at, kind, amount, sender, receiver_acc, receiver_name, status,
	category, fraud_score, fraud_override`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		account_no text PRIMARY KEY, first_name text, last_name text, email text, cnic_hash text,
		cnic_sealed text, phone_hash text, phone_sealed text, pin_hash text, security_answer_hash text,
		balance text, failed_tries int, is_locked boolean, face_id int, version bigint,
		created_at timestamp, updated_at timestamp)`,
	`CREATE TABLE IF NOT EXISTS account_by_email (email text PRIMARY KEY, account_no text)`,
	`CREATE TABLE IF NOT EXISTS account_by_cnic (cnic_hash text PRIMARY KEY, account_no text)`,
	`CREATE TABLE IF NOT EXISTS ledger_counters (name text PRIMARY KEY, value bigint)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		bucket int, seq bigint, id text, created_at timestamp, kind text, amount text, sender text,
		receiver_acc text, receiver_name text, status text, category text, fraud_score double,
		fraud_override boolean, PRIMARY KEY ((bucket), seq))`,
	`CREATE TABLE IF NOT EXISTS transactions_by_account (
		account_no text, seq bigint, id text, created_at timestamp, kind text, amount text, sender text,
		receiver_acc text, receiver_name text, status text, category text, fraud_score double,
		fraud_override boolean, PRIMARY KEY ((account_no), seq)) WITH CLUSTERING ORDER BY (seq DESC)`,
	`CREATE TABLE IF NOT EXISTS activities (
		account_no text, created_at timestamp, id timeuuid, activity text,
		PRIMARY KEY ((account_no), created_at, id)) WITH CLUSTERING ORDER BY (created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS interactions (
		account_no text, created_at timestamp, id timeuuid, interaction_id text, user_name text,
		message text, reply text, sentiment text, confidence text, important_word text, action text,
		PRIMARY KEY ((account_no), created_at, id)) WITH CLUSTERING ORDER BY (created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS security_events (
		event_bucket int, event_date text, event_time timestamp, id text, account_no text,
		event_type text, session_id text, risk_score double, details text,
		PRIMARY KEY ((event_bucket, event_date), event_time, id)) WITH CLUSTERING ORDER BY (event_time DESC, id ASC)`,
}

type ScyllaClient struct {
	Session    *gocql.Session
	config     *config.ScyllaConfig
	Statements *Statements
}

func NewScyllaClient(cfg *config.Config, logger *zap.Logger) (*ScyllaClient, error) {
	scyllaConfig := cfg.Scylla

	cluster := gocql.NewCluster(scyllaConfig.Nodes...)
	cluster.Keyspace = scyllaConfig.Keyspace
	cluster.Consistency = gocql.LocalQuorum
	cluster.SerialConsistency = gocql.LocalSerial
	cluster.Timeout = 10 * time.Second
	cluster.ConnectTimeout = 10 * time.Second
	cluster.NumConns = 4
	cluster.SocketKeepalive = 30 * time.Second
	cluster.MaxPreparedStmts = 1000
	cluster.MaxRoutingKeyInfo = 1000
	cluster.PageSize = 1000
	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		Min:        time.Second,
		Max:        10 * time.Second,
		NumRetries: 3,
	}

	if !cfg.IsDevelopment() {
		cluster.SslOpts = &gocql.SslOptions{
			CaPath:                 util.GetEnv("SCYLLA_CA_PATH", "/root/certs/ca.pem"),
			CertPath:               util.GetEnv("SCYLLA_CERT_PATH", "/root/certs/server.pem"),
			KeyPath:                util.GetEnv("SCYLLA_KEY_PATH", "/root/certs/server.key"),
			EnableHostVerification: true,
		}
	}

	if scyllaConfig.Username != "" && scyllaConfig.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: scyllaConfig.Username,
			Password: scyllaConfig.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create scylla session: %w", err)
	}

	client := &ScyllaClient{
		Session:    session,
		config:     &scyllaConfig,
		Statements: newStatements(),
	}

	logger.Info("ScyllaDB client initialized",
		zap.Strings("nodes", scyllaConfig.Nodes),
		zap.String("keyspace", scyllaConfig.Keyspace))

	return client, nil
}

func newStatements() *Statements {
	return &Statements{
		InsertAccount: `INSERT INTO accounts (` + accountColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) IF NOT EXISTS`,
		GetAccount:   `SELECT ` + accountColumns + ` FROM accounts WHERE account_no = ?`,
		ListAccounts: `SELECT ` + accountColumns + ` FROM accounts`,
		UpdateBalance: `UPDATE accounts SET balance = ?, version = ?, updated_at = ?
			WHERE account_no = ? IF version = ?`,
		UpdateSecurity: `UPDATE accounts SET failed_tries = ?, is_locked = ?, version = ?, updated_at = ?
			WHERE account_no = ? IF version = ?`,
		UpdatePIN: `UPDATE accounts SET pin_hash = ?, failed_tries = 0, is_locked = false, version = ?, updated_at = ?
			WHERE account_no = ? IF version = ?`,

		ClaimEmail:   `INSERT INTO account_by_email (email, account_no) VALUES (?, ?) IF NOT EXISTS`,
		ReleaseEmail: `DELETE FROM account_by_email WHERE email = ? IF account_no = ?`,
		GetEmail:     `SELECT account_no FROM account_by_email WHERE email = ?`,
		ClaimCNIC:    `INSERT INTO account_by_cnic (cnic_hash, account_no) VALUES (?, ?) IF NOT EXISTS`,
		ReleaseCNIC:  `DELETE FROM account_by_cnic WHERE cnic_hash = ? IF account_no = ?`,

		GetCounter:     `SELECT value FROM ledger_counters WHERE name = ?`,
		InitCounter:    `INSERT INTO ledger_counters (name, value) VALUES (?, ?) IF NOT EXISTS`,
		AdvanceCounter: `UPDATE ledger_counters SET value = ? WHERE name = ? IF value = ?`,

		InsertTransaction: `INSERT INTO transactions (bucket, ` + recordColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		InsertAccountRecord: `INSERT INTO transactions_by_account (account_no, ` + recordColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ListBucket:         `SELECT ` + recordColumns + ` FROM transactions WHERE bucket = ?`,
		ListAccountRecords: `SELECT ` + recordColumns + ` FROM transactions_by_account WHERE account_no = ?`,

		InsertActivity:   `INSERT INTO activities (account_no, created_at, id, activity) VALUES (?, ?, ?, ?)`,
		RecentActivities: `SELECT account_no, created_at, activity FROM activities WHERE account_no = ? LIMIT ?`,
		InsertInteraction: `INSERT INTO interactions (account_no, created_at, id, interaction_id, user_name,
			message, reply, sentiment, confidence, important_word, action) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		RecentInteractions: `SELECT interaction_id, account_no, user_name, message, reply, sentiment,
			confidence, important_word, action, created_at FROM interactions WHERE account_no = ? LIMIT ?`,

		InsertSecurityEvent: `INSERT INTO security_events (event_bucket, event_date, event_time, id, account_no,
			event_type, session_id, risk_score, details) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	}
}

// EnsureSchema creates the tables in the configured keyspace.
func (s *ScyllaClient) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if err := s.Session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *ScyllaClient) Close() {
	if s.Session != nil {
		s.Session.Close()
		util.Info("ScyllaDB client closed")
	}
}

func (s *ScyllaClient) Query(ctx context.Context, stmt string, values ...interface{}) *gocql.Query {
	return s.Session.Query(stmt, values...).WithContext(ctx)
}

func (s *ScyllaClient) Batch(ctx context.Context, typ gocql.BatchType) *gocql.Batch {
	return s.Session.NewBatch(typ).WithContext(ctx)
}

func (s *ScyllaClient) ExecuteBatch(batch *gocql.Batch) error {
	return s.Session.ExecuteBatch(batch)
}

func (s *ScyllaClient) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var clusterName string
	err := s.Session.Query(`SELECT cluster_name FROM system.local`).WithContext(ctx).Scan(&clusterName)
	if err != nil {
		return fmt.Errorf("scylla health check failed: %w", err)
	}

	util.Debug("ScyllaDB health check passed", zap.String("cluster_name", clusterName))
	return nil
}

// ExecuteWithRetry retries plain writes only. Conditional writes run once.
func (s *ScyllaClient) ExecuteWithRetry(query *gocql.Query, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if err := query.Exec(); err != nil {
			lastErr = err
			if i < maxRetries {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}

func (s *ScyllaClient) ScanWithRetry(query *gocql.Query, dest ...interface{}) error {
	var lastErr error
	for i := 0; i < 3; i++ {
		if err := query.Scan(dest...); err != nil {
			if err == gocql.ErrNotFound {
				return err
			}
			lastErr = err
			if i < 2 {
				time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
				continue
			}
		} else {
			return nil
		}
	}
	return lastErr
}
