package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"bank-service/internal/models"
	"bank-service/internal/repository"

	"github.com/shopspring/decimal"
)

// Persister receives every mutation before it becomes visible. A failed
// write leaves the in-memory state untouched.
type Persister interface {
	// SaveAccounts replaces the full account set.
	SaveAccounts(accounts []*models.Account) error
	// AppendRecords appends records and returns a function that removes them
	// again if a later step of the same commit fails.
	AppendRecords(records []models.TransactionRecord) (undo func() error, err error)
	AppendActivity(e models.ActivityEntry) error
	AppendInteraction(i models.ChatInteraction) error
	Close() error
}

// Snapshot seeds a store with previously persisted state.
type Snapshot struct {
	Accounts     []*models.Account
	Transactions []models.TransactionRecord
	Activities   []models.ActivityEntry
	Interactions []models.ChatInteraction
}

// Store is the single-process ledger backend. All state sits behind one
// RWMutex so a commit is observed whole or not at all.
type Store struct {
	mu sync.RWMutex

	accounts map[string]*models.Account
	order    []string
	byEmail  map[string]string
	byCNIC   map[string]string

	transactions []models.TransactionRecord
	activities   []models.ActivityEntry
	interactions []models.ChatInteraction

	lastSeq    int64
	nextFaceID int

	persist Persister
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return NewWithPersister(Snapshot{}, nil)
}

func NewWithPersister(snap Snapshot, p Persister) *Store {
	s := &Store{
		accounts:   make(map[string]*models.Account, len(snap.Accounts)),
		byEmail:    make(map[string]string, len(snap.Accounts)),
		byCNIC:     make(map[string]string, len(snap.Accounts)),
		nextFaceID: repository.FirstFaceID,
		persist:    p,
	}
	for _, a := range snap.Accounts {
		s.index(a.Clone())
		if a.FaceID >= s.nextFaceID {
			s.nextFaceID = a.FaceID + 1
		}
	}
	for i, r := range snap.Transactions {
		// rows written before seq existed are numbered by position
		if r.Seq == 0 {
			r.Seq = int64(i + 1)
		}
		if r.Seq > s.lastSeq {
			s.lastSeq = r.Seq
		}
		s.transactions = append(s.transactions, r)
	}
	s.activities = append(s.activities, snap.Activities...)
	s.interactions = append(s.interactions, snap.Interactions...)
	return s
}

func (s *Store) index(a *models.Account) {
	if _, ok := s.accounts[a.AccountNo]; !ok {
		s.order = append(s.order, a.AccountNo)
	}
	s.accounts[a.AccountNo] = a
	s.byEmail[strings.ToLower(a.Email)] = a.AccountNo
	if a.CNICHash != "" {
		s.byCNIC[a.CNICHash] = a.AccountNo
	}
}

// accountsWith returns the account set in creation order with replaced
// entries substituted, for persisting before the swap.
func (s *Store) accountsWith(replaced map[string]*models.Account, added *models.Account) []*models.Account {
	out := make([]*models.Account, 0, len(s.order)+1)
	for _, no := range s.order {
		if a, ok := replaced[no]; ok {
			out = append(out, a)
			continue
		}
		out = append(out, s.accounts[no])
	}
	if added != nil {
		out = append(out, added)
	}
	return out
}

func (s *Store) CreateAccount(ctx context.Context, acct *models.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if acct == nil || acct.AccountNo == "" || acct.Email == "" {
		return fmt.Errorf("%w: account number and email are required", models.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.AccountNo]; ok {
		return repository.Duplicate("account_no")
	}
	if _, ok := s.byEmail[strings.ToLower(acct.Email)]; ok {
		return repository.Duplicate("email")
	}
	if acct.CNICHash != "" {
		if _, ok := s.byCNIC[acct.CNICHash]; ok {
			return repository.Duplicate("cnic")
		}
	}

	stored := acct.Clone()
	if stored.FaceID == 0 {
		stored.FaceID = s.nextFaceID
	}
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	stored.Version = 1

	if s.persist != nil {
		if err := s.persist.SaveAccounts(s.accountsWith(nil, stored)); err != nil {
			return err
		}
	}

	s.index(stored)
	if stored.FaceID >= s.nextFaceID {
		s.nextFaceID = stored.FaceID + 1
	}
	acct.FaceID = stored.FaceID
	acct.CreatedAt = stored.CreatedAt
	acct.UpdatedAt = stored.UpdatedAt
	acct.Version = stored.Version
	return nil
}

func (s *Store) GetAccount(ctx context.Context, accountNo string) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountNo]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return a.Clone(), nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	no, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return nil, models.ErrAccountNotFound
	}
	return s.accounts[no].Clone(), nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]*models.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Account, 0, len(s.order))
	for _, no := range s.order {
		out = append(out, s.accounts[no].Clone())
	}
	return out, nil
}

func (s *Store) UpdateSecurity(ctx context.Context, accountNo string, failedTries int, locked bool) error {
	return s.mutateAccount(ctx, accountNo, func(a *models.Account) {
		a.FailedTries = failedTries
		a.IsLocked = locked
	})
}

func (s *Store) UpdatePIN(ctx context.Context, accountNo, pinHash string) error {
	return s.mutateAccount(ctx, accountNo, func(a *models.Account) {
		a.PINHash = pinHash
		a.FailedTries = 0
		a.IsLocked = false
	})
}

func (s *Store) mutateAccount(ctx context.Context, accountNo string, fn func(*models.Account)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.accounts[accountNo]
	if !ok {
		return models.ErrAccountNotFound
	}
	next := current.Clone()
	fn(next)
	next.Version++
	next.UpdatedAt = time.Now().UTC()

	if s.persist != nil {
		if err := s.persist.SaveAccounts(s.accountsWith(map[string]*models.Account{accountNo: next}, nil)); err != nil {
			return err
		}
	}
	s.accounts[accountNo] = next
	return nil
}

func (s *Store) Commit(ctx context.Context, p models.Posting) ([]models.TransactionRecord, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	balances := make(map[string]decimal.Decimal, len(p.Legs))
	for _, leg := range p.Legs {
		if a, ok := s.accounts[leg.AccountNo]; ok {
			balances[leg.AccountNo] = a.Balance
		}
	}
	next, err := models.ApplyLegs(balances, p.Legs)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	updated := make(map[string]*models.Account, len(next))
	for no, bal := range next {
		a := s.accounts[no].Clone()
		a.Balance = bal
		a.Version++
		a.UpdatedAt = now
		updated[no] = a
	}

	records := make([]models.TransactionRecord, len(p.Records))
	for i, r := range p.Records {
		r.Seq = s.lastSeq + int64(i) + 1
		records[i] = r
	}

	if s.persist != nil {
		undo, err := s.persist.AppendRecords(records)
		if err != nil {
			return nil, err
		}
		if len(updated) > 0 {
			if err := s.persist.SaveAccounts(s.accountsWith(updated, nil)); err != nil {
				if uerr := undo(); uerr != nil {
					return nil, fmt.Errorf("%w (rollback: %v)", err, uerr)
				}
				return nil, err
			}
		}
	}

	for no, a := range updated {
		s.accounts[no] = a
	}
	s.transactions = append(s.transactions, records...)
	s.lastSeq += int64(len(records))

	out := make([]models.TransactionRecord, len(records))
	copy(out, records)
	return out, nil
}

func (s *Store) ListTransactions(ctx context.Context) ([]models.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.TransactionRecord, len(s.transactions))
	copy(out, s.transactions)
	return out, nil
}

func (s *Store) ListAccountTransactions(ctx context.Context, accountNo string) ([]models.TransactionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.TransactionRecord
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].Involves(accountNo) {
			out = append(out, s.transactions[i])
		}
	}
	return out, nil
}

func (s *Store) CountTransactions(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.transactions)), nil
}

func (s *Store) AppendActivity(ctx context.Context, e models.ActivityEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.AppendActivity(e); err != nil {
			return err
		}
	}
	s.activities = append(s.activities, e)
	return nil
}

func (s *Store) RecentActivities(ctx context.Context, accountNo string, n int) ([]models.ActivityEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.ActivityEntry
	for i := len(s.activities) - 1; i >= 0; i-- {
		if n > 0 && len(out) == n {
			break
		}
		if s.activities[i].AccountNo == accountNo {
			out = append(out, s.activities[i])
		}
	}
	return out, nil
}

func (s *Store) AppendInteraction(ctx context.Context, in models.ChatInteraction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.persist != nil {
		if err := s.persist.AppendInteraction(in); err != nil {
			return err
		}
	}
	s.interactions = append(s.interactions, in)
	return nil
}

func (s *Store) RecentInteractions(ctx context.Context, accountNo string, n int) ([]models.ChatInteraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newestFirst []models.ChatInteraction
	for i := len(s.interactions) - 1; i >= 0; i-- {
		if n > 0 && len(newestFirst) == n {
			break
		}
		if s.interactions[i].AccountNo == accountNo {
			newestFirst = append(newestFirst, s.interactions[i])
		}
	}
	out := make([]models.ChatInteraction, len(newestFirst))
	for i, in := range newestFirst {
		out[len(newestFirst)-1-i] = in
	}
	return out, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	if s.persist != nil {
		return s.persist.Close()
	}
	return nil
}
