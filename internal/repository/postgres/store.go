package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bank-service/internal/config"
	"bank-service/internal/models"
	"bank-service/internal/repository"
	"bank-service/internal/util"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ledgerLockKey serializes record inserts so seq follows commit order.
const ledgerLockKey int64 = 0x62616e6b

const schema = `
CREATE SEQUENCE IF NOT EXISTS face_id_seq START WITH 101;

CREATE TABLE IF NOT EXISTS accounts (
	account_no           TEXT PRIMARY KEY,
	first_name           TEXT NOT NULL,
	last_name            TEXT NOT NULL DEFAULT '',
	email                TEXT NOT NULL,
	cnic_hash            TEXT,
	cnic_sealed          TEXT NOT NULL DEFAULT '',
	phone_hash           TEXT NOT NULL DEFAULT '',
	phone_sealed         TEXT NOT NULL DEFAULT '',
	pin_hash             TEXT NOT NULL,
	security_answer_hash TEXT NOT NULL DEFAULT '',
	balance              NUMERIC NOT NULL DEFAULT 0 CHECK (balance >= 0),
	failed_tries         INT NOT NULL DEFAULT 0,
	is_locked            BOOLEAN NOT NULL DEFAULT FALSE,
	face_id              INT NOT NULL,
	version              BIGINT NOT NULL DEFAULT 1,
	created_at           TIMESTAMPTZ NOT NULL,
	updated_at           TIMESTAMPTZ NOT NULL,
	CONSTRAINT accounts_email_key UNIQUE (email),
	CONSTRAINT accounts_cnic_hash_key UNIQUE (cnic_hash),
	CONSTRAINT accounts_face_id_key UNIQUE (face_id)
);

CREATE TABLE IF NOT EXISTS transactions (
	seq            BIGSERIAL PRIMARY KEY,
	id             TEXT NOT NULL UNIQUE,
	created_at     TIMESTAMPTZ NOT NULL,
	kind           TEXT NOT NULL,
	amount         NUMERIC NOT NULL CHECK (amount > 0),
	sender         TEXT NOT NULL,
	receiver_acc   TEXT NOT NULL,
	receiver_name  TEXT NOT NULL,
	status         TEXT NOT NULL,
	category       TEXT NOT NULL,
	fraud_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
	fraud_override BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS transactions_sender_idx ON transactions (sender, seq DESC);
CREATE INDEX IF NOT EXISTS transactions_receiver_idx ON transactions (receiver_acc, seq DESC);

CREATE TABLE IF NOT EXISTS activities (
	id         BIGSERIAL PRIMARY KEY,
	account_no TEXT NOT NULL,
	activity   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS activities_account_idx ON activities (account_no, id DESC);

CREATE TABLE IF NOT EXISTS interactions (
	id             BIGSERIAL PRIMARY KEY,
	interaction_id TEXT NOT NULL,
	account_no     TEXT NOT NULL,
	user_name      TEXT NOT NULL,
	message        TEXT NOT NULL,
	reply          TEXT NOT NULL,
	sentiment      TEXT NOT NULL,
	confidence     TEXT NOT NULL,
	important_word TEXT NOT NULL,
	action         TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS interactions_account_idx ON interactions (account_no, id DESC);
`

const accountColumns = `account_no, first_name, last_name, email, COALESCE(cnic_hash, ''), cnic_sealed,
	phone_hash, phone_sealed, pin_hash, security_answer_hash, balance::text, failed_tries, is_locked,
	face_id, version, created_at, updated_at`

const recordColumns = `seq, id, created_at, kind, amount::text, sender, receiver_acc, receiver_name,
	status, category, fraud_score, fraud_override`

// Store is the relational ledger backend. Each commit is one database
// transaction holding row locks on every touched account.
type Store struct {
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

// NewStore connects, pings and applies the schema.
func NewStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.Postgres.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	if cfg.Postgres.MaxConns > 0 {
		poolConfig.MaxConns = int32(cfg.Postgres.MaxConns)
	}
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	s := NewStoreFromPool(pool)
	if err := s.HealthCheck(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	util.Info("Postgres ledger connected", util.Int("max_conns", int(poolConfig.MaxConns)))
	return s, nil
}

func NewStoreFromPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func duplicateField(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return nil
	}
	switch pgErr.ConstraintName {
	case "accounts_email_key":
		return repository.Duplicate("email")
	case "accounts_cnic_hash_key":
		return repository.Duplicate("cnic")
	case "accounts_face_id_key":
		return repository.Duplicate("face_id")
	default:
		return repository.Duplicate("account_no")
	}
}

func (s *Store) CreateAccount(ctx context.Context, acct *models.Account) error {
	const q = `
		INSERT INTO accounts (account_no, first_name, last_name, email, cnic_hash, cnic_sealed,
			phone_hash, phone_sealed, pin_hash, security_answer_hash, balance, failed_tries, is_locked,
			face_id, version, created_at, updated_at)
		VALUES ($1, $2, $3, LOWER($4), NULLIF($5, ''), $6, $7, $8, $9, $10, $11::numeric, $12, $13,
			COALESCE(NULLIF($14, 0), nextval('face_id_seq')), 1, NOW(), NOW())
		RETURNING face_id, version, created_at, updated_at`

	err := s.pool.QueryRow(ctx, q,
		acct.AccountNo, acct.FirstName, acct.LastName, acct.Email, acct.CNICHash, acct.CNICSealed,
		acct.PhoneHash, acct.PhoneSealed, acct.PINHash, acct.SecurityAnswerHash, acct.Balance.String(),
		acct.FailedTries, acct.IsLocked, acct.FaceID,
	).Scan(&acct.FaceID, &acct.Version, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if dup := duplicateField(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var (
		a       models.Account
		balance string
	)
	err := row.Scan(&a.AccountNo, &a.FirstName, &a.LastName, &a.Email, &a.CNICHash, &a.CNICSealed,
		&a.PhoneHash, &a.PhoneSealed, &a.PINHash, &a.SecurityAnswerHash, &balance, &a.FailedTries,
		&a.IsLocked, &a.FaceID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, err
	}
	if a.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("bad balance for %s: %w", a.AccountNo, err)
	}
	return &a, nil
}

func (s *Store) GetAccount(ctx context.Context, accountNo string) (*models.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_no = $1`, accountNo))
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = LOWER($1)`, strings.TrimSpace(email)))
}

func (s *Store) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at, account_no`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) UpdateSecurity(ctx context.Context, accountNo string, failedTries int, locked bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET failed_tries = $2, is_locked = $3, version = version + 1, updated_at = NOW()
		WHERE account_no = $1`, accountNo, failedTries, locked)
	if err != nil {
		return fmt.Errorf("failed to update security state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

func (s *Store) UpdatePIN(ctx context.Context, accountNo, pinHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE accounts SET pin_hash = $2, failed_tries = 0, is_locked = FALSE, version = version + 1, updated_at = NOW()
		WHERE account_no = $1`, accountNo, pinHash)
	if err != nil {
		return fmt.Errorf("failed to update pin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAccountNotFound
	}
	return nil
}

// Commit locks the touched accounts in account-number order, applies the
// legs and inserts the records inside one transaction.
func (s *Store) Commit(ctx context.Context, p models.Posting) ([]models.TransactionRecord, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	legs := make([]models.Leg, len(p.Legs))
	copy(legs, p.Legs)
	sort.Slice(legs, func(i, j int) bool { return legs[i].AccountNo < legs[j].AccountNo })

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("failed to begin: %w", err)
	}
	defer tx.Rollback(ctx)

	balances := make(map[string]decimal.Decimal, len(legs))
	for _, leg := range legs {
		var raw string
		err := tx.QueryRow(ctx, `SELECT balance::text FROM accounts WHERE account_no = $1 FOR UPDATE`, leg.AccountNo).Scan(&raw)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to lock %s: %w", leg.AccountNo, err)
		}
		bal, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("bad balance for %s: %w", leg.AccountNo, err)
		}
		balances[leg.AccountNo] = bal
	}

	next, err := models.ApplyLegs(balances, legs)
	if err != nil {
		return nil, err
	}
	for _, leg := range legs {
		_, err := tx.Exec(ctx, `
			UPDATE accounts SET balance = $2::numeric, version = version + 1, updated_at = NOW()
			WHERE account_no = $1`, leg.AccountNo, next[leg.AccountNo].String())
		if err != nil {
			return nil, fmt.Errorf("failed to update balance: %w", err)
		}
	}

	out := make([]models.TransactionRecord, 0, len(p.Records))
	if len(p.Records) > 0 {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
			return nil, fmt.Errorf("failed to lock ledger: %w", err)
		}
	}
	for _, r := range p.Records {
		err := tx.QueryRow(ctx, `
			INSERT INTO transactions (id, created_at, kind, amount, sender, receiver_acc, receiver_name,
				status, category, fraud_score, fraud_override)
			VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11)
			RETURNING seq`,
			r.ID, r.Date, string(r.Kind), r.Amount.String(), r.Sender, r.ReceiverAcc, r.ReceiverName,
			string(r.Status), string(r.Category), r.FraudScore, r.FraudOverride,
		).Scan(&r.Seq)
		if err != nil {
			return nil, fmt.Errorf("failed to insert record: %w", err)
		}
		out = append(out, r)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return out, nil
}

func scanRecords(rows pgx.Rows) ([]models.TransactionRecord, error) {
	defer rows.Close()

	var out []models.TransactionRecord
	for rows.Next() {
		var (
			r                    models.TransactionRecord
			amount, kind, status string
			category             string
		)
		if err := rows.Scan(&r.Seq, &r.ID, &r.Date, &kind, &amount, &r.Sender, &r.ReceiverAcc,
			&r.ReceiverName, &status, &category, &r.FraudScore, &r.FraudOverride); err != nil {
			return nil, err
		}
		amt, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("bad amount for record %s: %w", r.ID, err)
		}
		r.Amount = amt
		r.Kind = models.TransactionKind(kind)
		r.Status = models.TransactionStatus(status)
		r.Category = models.Category(category)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ListTransactions(ctx context.Context) ([]models.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM transactions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return scanRecords(rows)
}

func (s *Store) ListAccountTransactions(ctx context.Context, accountNo string) ([]models.TransactionRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+recordColumns+` FROM transactions
		WHERE sender = $1 OR receiver_acc = $1 ORDER BY seq DESC`, accountNo)
	if err != nil {
		return nil, fmt.Errorf("failed to list account transactions: %w", err)
	}
	return scanRecords(rows)
}

func (s *Store) CountTransactions(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return n, nil
}

func (s *Store) AppendActivity(ctx context.Context, e models.ActivityEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO activities (account_no, activity, created_at) VALUES ($1, $2, $3)`,
		e.AccountNo, e.Activity, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (s *Store) RecentActivities(ctx context.Context, accountNo string, n int) ([]models.ActivityEntry, error) {
	if n <= 0 {
		n = 1000
	}
	rows, err := s.pool.Query(ctx, `SELECT account_no, activity, created_at FROM activities
		WHERE account_no = $1 ORDER BY id DESC LIMIT $2`, accountNo, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read activities: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityEntry
	for rows.Next() {
		var e models.ActivityEntry
		if err := rows.Scan(&e.AccountNo, &e.Activity, &e.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendInteraction(ctx context.Context, in models.ChatInteraction) error {
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO interactions (interaction_id, account_no, user_name, message, reply, sentiment,
			confidence, important_word, action, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		in.ID, in.AccountNo, in.UserName, in.Message, in.Reply, in.Sentiment, in.Confidence,
		in.ImportantWord, in.Action, in.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append interaction: %w", err)
	}
	return nil
}

func (s *Store) RecentInteractions(ctx context.Context, accountNo string, n int) ([]models.ChatInteraction, error) {
	if n <= 0 {
		n = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT interaction_id, account_no, user_name, message, reply, sentiment, confidence,
			important_word, action, created_at
		FROM (SELECT * FROM interactions WHERE account_no = $1 ORDER BY id DESC LIMIT $2) recent
		ORDER BY id`, accountNo, n)
	if err != nil {
		return nil, fmt.Errorf("failed to read interactions: %w", err)
	}
	defer rows.Close()

	var out []models.ChatInteraction
	for rows.Next() {
		var in models.ChatInteraction
		if err := rows.Scan(&in.ID, &in.AccountNo, &in.UserName, &in.Message, &in.Reply, &in.Sentiment,
			&in.Confidence, &in.ImportantWord, &in.Action, &in.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres health check failed: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
