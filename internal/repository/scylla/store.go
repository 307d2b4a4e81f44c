package scylla

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bank-service/internal/bucketing"
	"bank-service/internal/models"
	"bank-service/internal/repository"

	"github.com/gocql/gocql"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	casAttempts     = 5
	faceIDCounter   = "face_id"
	seqCounter      = "transaction_seq"
	defaultLogLimit = 1000
)

// ErrConflict is returned when a conditional write loses to a concurrent one.
var ErrConflict = errors.New("scylla: concurrent modification")

// Store keeps accounts in one row each guarded by a version column. Records
// are written to hash buckets for full scans and to a per-account table for
// history.
type Store struct {
	client *ScyllaClient
	bm     *bucketing.BucketingManager
	logger *zap.Logger
}

var _ repository.Store = (*Store)(nil)

func NewStore(client *ScyllaClient, bm *bucketing.BucketingManager, logger *zap.Logger) *Store {
	return &Store{client: client, bm: bm, logger: logger.Named("scylla_store")}
}

type accountRow struct {
	a       models.Account
	balance string
}

func (r *accountRow) dest() []interface{} {
	return []interface{}{&r.a.AccountNo, &r.a.FirstName, &r.a.LastName, &r.a.Email, &r.a.CNICHash,
		&r.a.CNICSealed, &r.a.PhoneHash, &r.a.PhoneSealed, &r.a.PINHash, &r.a.SecurityAnswerHash,
		&r.balance, &r.a.FailedTries, &r.a.IsLocked, &r.a.FaceID, &r.a.Version, &r.a.CreatedAt,
		&r.a.UpdatedAt}
}

func (r *accountRow) account() (*models.Account, error) {
	bal, err := decimal.NewFromString(r.balance)
	if err != nil {
		return nil, fmt.Errorf("bad balance for %s: %w", r.a.AccountNo, err)
	}
	a := r.a
	a.Balance = bal
	return &a, nil
}

type recordRow struct {
	r                              models.TransactionRecord
	kind, amount, status, category string
}

func (r *recordRow) dest() []interface{} {
	return []interface{}{&r.r.Seq, &r.r.ID, &r.r.Date, &r.kind, &r.amount, &r.r.Sender, &r.r.ReceiverAcc,
		&r.r.ReceiverName, &r.status, &r.category, &r.r.FraudScore, &r.r.FraudOverride}
}

func (r *recordRow) record() (models.TransactionRecord, error) {
	amt, err := decimal.NewFromString(r.amount)
	if err != nil {
		return models.TransactionRecord{}, fmt.Errorf("bad amount for record %s: %w", r.r.ID, err)
	}
	rec := r.r
	rec.Amount = amt
	rec.Kind = models.TransactionKind(r.kind)
	rec.Status = models.TransactionStatus(r.status)
	rec.Category = models.Category(r.category)
	return rec, nil
}

func recordValues(r models.TransactionRecord) []interface{} {
	return []interface{}{r.Seq, r.ID, r.Date, string(r.Kind), r.Amount.String(), r.Sender, r.ReceiverAcc,
		r.ReceiverName, string(r.Status), string(r.Category), r.FraudScore, r.FraudOverride}
}

func (s *Store) cas(ctx context.Context, stmt string, values ...interface{}) (bool, error) {
	return s.client.Query(ctx, stmt, values...).MapScanCAS(make(map[string]interface{}))
}

// reserve advances a named counter by n and returns the first value of the
// reserved range. A fresh counter starts at first.
func (s *Store) reserve(ctx context.Context, name string, first, n int64) (int64, error) {
	st := s.client.Statements
	for attempt := 0; attempt < casAttempts; attempt++ {
		var current int64
		err := s.client.Query(ctx, st.GetCounter, name).Scan(&current)
		if errors.Is(err, gocql.ErrNotFound) {
			applied, err := s.cas(ctx, st.InitCounter, name, first+n-1)
			if err != nil {
				return 0, err
			}
			if applied {
				return first, nil
			}
			continue
		}
		if err != nil {
			return 0, err
		}
		applied, err := s.cas(ctx, st.AdvanceCounter, current+n, name, current)
		if err != nil {
			return 0, err
		}
		if applied {
			return current + 1, nil
		}
	}
	return 0, fmt.Errorf("%w: counter %s", ErrConflict, name)
}

func (s *Store) CreateAccount(ctx context.Context, acct *models.Account) error {
	st := s.client.Statements
	email := strings.ToLower(strings.TrimSpace(acct.Email))

	applied, err := s.cas(ctx, st.ClaimEmail, email, acct.AccountNo)
	if err != nil {
		return fmt.Errorf("failed to claim email: %w", err)
	}
	if !applied {
		return repository.Duplicate("email")
	}
	release := func() {
		if _, err := s.cas(context.WithoutCancel(ctx), st.ReleaseEmail, email, acct.AccountNo); err != nil {
			s.logger.Error("failed to release email claim", zap.String("account_no", acct.AccountNo), zap.Error(err))
		}
	}

	if acct.CNICHash != "" {
		applied, err := s.cas(ctx, st.ClaimCNIC, acct.CNICHash, acct.AccountNo)
		if err != nil || !applied {
			release()
			if err != nil {
				return fmt.Errorf("failed to claim cnic: %w", err)
			}
			return repository.Duplicate("cnic")
		}
		releaseEmail := release
		release = func() {
			releaseEmail()
			if _, err := s.cas(context.WithoutCancel(ctx), st.ReleaseCNIC, acct.CNICHash, acct.AccountNo); err != nil {
				s.logger.Error("failed to release cnic claim", zap.String("account_no", acct.AccountNo), zap.Error(err))
			}
		}
	}

	faceID := acct.FaceID
	if faceID == 0 {
		next, err := s.reserve(ctx, faceIDCounter, repository.FirstFaceID, 1)
		if err != nil {
			release()
			return fmt.Errorf("failed to assign face id: %w", err)
		}
		faceID = int(next)
	}

	now := time.Now().UTC()
	createdAt := acct.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	applied, err = s.cas(ctx, st.InsertAccount,
		acct.AccountNo, acct.FirstName, acct.LastName, email, acct.CNICHash, acct.CNICSealed,
		acct.PhoneHash, acct.PhoneSealed, acct.PINHash, acct.SecurityAnswerHash, acct.Balance.String(),
		acct.FailedTries, acct.IsLocked, faceID, int64(1), createdAt, now)
	if err != nil || !applied {
		release()
		if err != nil {
			return fmt.Errorf("failed to insert account: %w", err)
		}
		return repository.Duplicate("account_no")
	}

	acct.Email = email
	acct.FaceID = faceID
	acct.Version = 1
	acct.CreatedAt = createdAt
	acct.UpdatedAt = now
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountNo string) (*models.Account, error) {
	var row accountRow
	err := s.client.ScanWithRetry(s.client.Query(ctx, s.client.Statements.GetAccount, accountNo), row.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read account: %w", err)
	}
	return row.account()
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	var accountNo string
	q := s.client.Query(ctx, s.client.Statements.GetEmail, strings.ToLower(strings.TrimSpace(email)))
	err := s.client.ScanWithRetry(q, &accountNo)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, models.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read email index: %w", err)
	}
	return s.GetAccount(ctx, accountNo)
}

func (s *Store) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	iter := s.client.Query(ctx, s.client.Statements.ListAccounts).Iter()

	var (
		out []*models.Account
		row accountRow
	)
	for iter.Scan(row.dest()...) {
		a, err := row.account()
		if err != nil {
			_ = iter.Close()
			return nil, err
		}
		out = append(out, a)
		row = accountRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].AccountNo < out[j].AccountNo
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// updateAccount re-reads the row and retries the conditional write until
// it applies against the version it read.
func (s *Store) updateAccount(ctx context.Context, accountNo string, stmt string, values func(a *models.Account) []interface{}) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		current, err := s.GetAccount(ctx, accountNo)
		if err != nil {
			return err
		}
		args := append(values(current), current.Version+1, time.Now().UTC(), accountNo, current.Version)
		applied, err := s.cas(ctx, stmt, args...)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		if applied {
			return nil
		}
	}
	return fmt.Errorf("%w: account %s", ErrConflict, accountNo)
}

func (s *Store) UpdateSecurity(ctx context.Context, accountNo string, failedTries int, locked bool) error {
	return s.updateAccount(ctx, accountNo, s.client.Statements.UpdateSecurity, func(*models.Account) []interface{} {
		return []interface{}{failedTries, locked}
	})
}

func (s *Store) UpdatePIN(ctx context.Context, accountNo, pinHash string) error {
	return s.updateAccount(ctx, accountNo, s.client.Statements.UpdatePIN, func(*models.Account) []interface{} {
		return []interface{}{pinHash}
	})
}

type appliedLeg struct {
	accountNo  string
	previous   decimal.Decimal
	newVersion int64
}

// Commit applies each leg as a version-checked write, then writes the
// records in one logged batch. Any failure restores the legs already applied.
func (s *Store) Commit(ctx context.Context, p models.Posting) ([]models.TransactionRecord, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	st := s.client.Statements

	legs := make([]models.Leg, len(p.Legs))
	copy(legs, p.Legs)
	sort.Slice(legs, func(i, j int) bool { return legs[i].AccountNo < legs[j].AccountNo })

	balances := make(map[string]decimal.Decimal, len(legs))
	versions := make(map[string]int64, len(legs))
	for _, leg := range legs {
		a, err := s.GetAccount(ctx, leg.AccountNo)
		if errors.Is(err, models.ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		balances[a.AccountNo] = a.Balance
		versions[a.AccountNo] = a.Version
	}
	next, err := models.ApplyLegs(balances, legs)
	if err != nil {
		return nil, err
	}

	var firstSeq int64
	if len(p.Records) > 0 {
		if firstSeq, err = s.reserve(ctx, seqCounter, 1, int64(len(p.Records))); err != nil {
			return nil, fmt.Errorf("failed to reserve sequence: %w", err)
		}
	}

	now := time.Now().UTC()
	done := make([]appliedLeg, 0, len(legs))
	for _, leg := range legs {
		newVersion := versions[leg.AccountNo] + 1
		applied, err := s.cas(ctx, st.UpdateBalance, next[leg.AccountNo].String(), newVersion, now,
			leg.AccountNo, versions[leg.AccountNo])
		if err != nil || !applied {
			s.compensate(ctx, done)
			if err != nil {
				return nil, fmt.Errorf("failed to update balance: %w", err)
			}
			return nil, fmt.Errorf("%w: account %s", ErrConflict, leg.AccountNo)
		}
		done = append(done, appliedLeg{accountNo: leg.AccountNo, previous: balances[leg.AccountNo], newVersion: newVersion})
	}

	records := make([]models.TransactionRecord, len(p.Records))
	batch := s.client.Batch(ctx, gocql.LoggedBatch)
	for i, r := range p.Records {
		r.Seq = firstSeq + int64(i)
		records[i] = r
		values := recordValues(r)
		batch.Query(st.InsertTransaction, append([]interface{}{s.bm.GetAccountBucket(r.ID)}, values...)...)
		for _, owner := range recordOwners(r) {
			batch.Query(st.InsertAccountRecord, append([]interface{}{owner}, values...)...)
		}
	}
	if len(records) > 0 {
		if err := s.client.ExecuteBatch(batch); err != nil {
			s.compensate(ctx, done)
			return nil, fmt.Errorf("failed to write records: %w", err)
		}
	}
	return records, nil
}

func recordOwners(r models.TransactionRecord) []string {
	owners := []string{r.Sender}
	switch r.ReceiverAcc {
	case r.Sender, models.ReceiverSelf, models.ReceiverATM, models.ReceiverNone, "":
	default:
		owners = append(owners, r.ReceiverAcc)
	}
	return owners
}

func (s *Store) compensate(ctx context.Context, done []appliedLeg) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	for _, leg := range done {
		applied, err := s.cas(ctx, s.client.Statements.UpdateBalance, leg.previous.String(), leg.newVersion+1,
			time.Now().UTC(), leg.accountNo, leg.newVersion)
		if err != nil || !applied {
			s.logger.Error("failed to restore balance",
				zap.String("account_no", leg.accountNo),
				zap.String("balance", leg.previous.String()),
				zap.Bool("applied", applied),
				zap.Error(err))
		}
	}
}

func (s *Store) scanRecords(iter *gocql.Iter) ([]models.TransactionRecord, error) {
	var (
		out []models.TransactionRecord
		row recordRow
	)
	for iter.Scan(row.dest()...) {
		rec, err := row.record()
		if err != nil {
			_ = iter.Close()
			return nil, err
		}
		out = append(out, rec)
		row = recordRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read records: %w", err)
	}
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]models.TransactionRecord, error) {
	var all []models.TransactionRecord
	for b := 0; b < s.bm.AccountBuckets(); b++ {
		recs, err := s.scanRecords(s.client.Query(ctx, s.client.Statements.ListBucket, b).Iter())
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Seq < all[j].Seq })
	return all, nil
}

func (s *Store) ListAccountTransactions(ctx context.Context, accountNo string) ([]models.TransactionRecord, error) {
	return s.scanRecords(s.client.Query(ctx, s.client.Statements.ListAccountRecords, accountNo).Iter())
}

func (s *Store) CountTransactions(ctx context.Context) (int64, error) {
	var total int64
	for b := 0; b < s.bm.AccountBuckets(); b++ {
		var n int64
		if err := s.client.Query(ctx, `SELECT COUNT(*) FROM transactions WHERE bucket = ?`, b).Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to count bucket %d: %w", b, err)
		}
		total += n
	}
	return total, nil
}

func (s *Store) AppendActivity(ctx context.Context, e models.ActivityEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	q := s.client.Query(ctx, s.client.Statements.InsertActivity,
		e.AccountNo, e.Timestamp, gocql.UUIDFromTime(e.Timestamp), e.Activity)
	if err := s.client.ExecuteWithRetry(q, 2); err != nil {
		return fmt.Errorf("failed to append activity: %w", err)
	}
	return nil
}

func (s *Store) RecentActivities(ctx context.Context, accountNo string, n int) ([]models.ActivityEntry, error) {
	if n <= 0 {
		n = defaultLogLimit
	}
	iter := s.client.Query(ctx, s.client.Statements.RecentActivities, accountNo, n).Iter()

	var (
		out []models.ActivityEntry
		e   models.ActivityEntry
	)
	for iter.Scan(&e.AccountNo, &e.Timestamp, &e.Activity) {
		out = append(out, e)
		e = models.ActivityEntry{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read activities: %w", err)
	}
	return out, nil
}

func (s *Store) AppendInteraction(ctx context.Context, in models.ChatInteraction) error {
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	q := s.client.Query(ctx, s.client.Statements.InsertInteraction,
		in.AccountNo, in.Timestamp, gocql.UUIDFromTime(in.Timestamp), in.ID, in.UserName, in.Message,
		in.Reply, in.Sentiment, in.Confidence, in.ImportantWord, in.Action)
	if err := s.client.ExecuteWithRetry(q, 2); err != nil {
		return fmt.Errorf("failed to append interaction: %w", err)
	}
	return nil
}

func (s *Store) RecentInteractions(ctx context.Context, accountNo string, n int) ([]models.ChatInteraction, error) {
	if n <= 0 {
		n = defaultLogLimit
	}
	iter := s.client.Query(ctx, s.client.Statements.RecentInteractions, accountNo, n).Iter()

	var (
		newestFirst []models.ChatInteraction
		in          models.ChatInteraction
	)
	for iter.Scan(&in.ID, &in.AccountNo, &in.UserName, &in.Message, &in.Reply, &in.Sentiment,
		&in.Confidence, &in.ImportantWord, &in.Action, &in.Timestamp) {
		newestFirst = append(newestFirst, in)
		in = models.ChatInteraction{}
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to read interactions: %w", err)
	}

	out := make([]models.ChatInteraction, len(newestFirst))
	for i, v := range newestFirst {
		out[len(newestFirst)-1-i] = v
	}
	return out, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.client.HealthCheck(ctx)
}

func (s *Store) Close() error {
	s.client.Close()
	return nil
}
