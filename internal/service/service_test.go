package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bank-service/internal/biometric"
	"bank-service/internal/bucketing"
	"bank-service/internal/config"
	"bank-service/internal/encryption"
	"bank-service/internal/events"
	"bank-service/internal/fraud"
	"bank-service/internal/hashing"
	"bank-service/internal/ledger"
	"bank-service/internal/models"
	"bank-service/internal/repository/memory"
	"bank-service/internal/rules"
	"bank-service/internal/session"

	"github.com/shopspring/decimal"
)

type stubScorer struct {
	mu   sync.Mutex
	prob float64
	err  error
	last fraud.Features
}

func (s *stubScorer) set(prob float64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prob, s.err = prob, err
}

func (s *stubScorer) Predict(_ context.Context, f fraud.Features) (fraud.Prediction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = f
	if s.err != nil {
		return fraud.Prediction{}, s.err
	}
	return fraud.Prediction{Probability: s.prob}, nil
}

type stubFaces struct {
	mu    sync.Mutex
	match biometric.FaceMatch
	err   error
}

func (f *stubFaces) set(m biometric.FaceMatch, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.match, f.err = m, err
}

func (f *stubFaces) Verify(_ context.Context, _ biometric.FaceRequest) (biometric.FaceMatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.match, f.err
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Publish(_ context.Context, evs ...events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, evs...)
}

func (r *recorder) security() []models.SecurityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SecurityEventType
	for _, ev := range r.evs {
		if ev.Kind == events.KindSecurity {
			out = append(out, ev.Security.EventType)
		}
	}
	return out
}

func (r *recorder) has(typ models.SecurityEventType) bool {
	for _, got := range r.security() {
		if got == typ {
			return true
		}
	}
	return false
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	ledger    *ledger.Ledger
	sessions  *session.Manager
	scorer    *stubScorer
	faces     *stubFaces
	events    *recorder
	accounts  *AccountService
	banking   *BankingService
	assistant *AssistantService
}

func newHarness(t *testing.T, m Models) *harness {
	t.Helper()
	cfg := &config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:  1024,
			Argon2TimeCost:    1,
			Argon2Parallelism: 1,
			Peppers:           map[int]string{1: "test-pepper"},
		},
		KMS:       config.KMSConfig{LocalKey: "k1"},
		Bucketing: config.BucketingConfig{LockStripes: 8},
	}
	hasher, err := hashing.NewHasher(cfg)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	em, err := encryption.NewEncryptionManager(cfg, nil)
	if err != nil {
		t.Fatalf("encryption: %v", err)
	}
	bm := bucketing.NewBucketingManager(cfg)

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		ledger:   ledger.New(memory.New(), ledger.NewLocalLocker(bm), time.Second),
		sessions: session.NewManager(session.NewMemoryStore(), config.SessionConfig{JWTSecret: "test-secret", TTL: 10 * time.Minute}),
		scorer:   &stubScorer{prob: 0.05},
		faces:    &stubFaces{match: biometric.FaceMatch{Match: true, Confidence: 0.9}},
		events:   &recorder{},
	}
	m.Fraud = fraud.NewChecker(h.scorer, fraud.NewPolicy(cfg), time.Second)
	m.Faces = h.faces

	deps := Deps{
		Ledger:       h.ledger,
		Sessions:     h.sessions,
		Hasher:       hasher,
		Encryption:   em,
		Bucketing:    bm,
		Events:       h.events,
		ModelTimeout: time.Second,
	}
	f := NewServiceFactory(deps, m, memory.NewPendingStore(), time.Minute, nil)
	h.accounts = f.AccountService()
	h.banking = f.BankingService()
	h.assistant = f.AssistantService()
	return h
}

func registration(first, email, cnic, phone, pin string) rules.Registration {
	return rules.Registration{
		FirstName:      first,
		LastName:       "Khan",
		Email:          email,
		CNIC:           cnic,
		Phone:          phone,
		PIN:            pin,
		ConfirmPIN:     pin,
		SecurityAnswer: "Lahore",
	}
}

func (h *harness) register(first, email, cnic, phone, pin string) *models.AccountView {
	h.t.Helper()
	v, err := h.accounts.Register(h.ctx, registration(first, email, cnic, phone, pin))
	if err != nil {
		h.t.Fatalf("register %s: %v", email, err)
	}
	return v
}

func (h *harness) login(email, pin string) *session.Session {
	h.t.Helper()
	res, err := h.accounts.Login(h.ctx, LoginRequest{Email: email, PIN: pin})
	if err != nil {
		h.t.Fatalf("login %s: %v", email, err)
	}
	sess, err := h.sessions.Resolve(h.ctx, res.Token)
	if err != nil {
		h.t.Fatalf("resolve: %v", err)
	}
	if err := h.accounts.VerifyFace(h.ctx, sess, FaceRequest{Image: []byte("face")}); err != nil {
		h.t.Fatalf("verify face: %v", err)
	}
	return sess
}

func (h *harness) deposit(sess *session.Session, amount, pin string) {
	h.t.Helper()
	if _, err := h.banking.Deposit(h.ctx, sess, DepositRequest{Amount: amount, PIN: pin}); err != nil {
		h.t.Fatalf("deposit: %v", err)
	}
}

func (h *harness) account(no string) *models.Account {
	h.t.Helper()
	a, err := h.ledger.Account(h.ctx, no)
	if err != nil {
		h.t.Fatalf("account %s: %v", no, err)
	}
	return a
}

func (h *harness) balance(no string) string {
	h.t.Helper()
	return h.account(no).Balance.StringFixed(2)
}

// alice has Rs. 5000 and an active session; bob has nothing.
func (h *harness) aliceAndBob() (alice, bob *models.AccountView, sess *session.Session) {
	h.t.Helper()
	alice = h.register("Alice", "alice@bank.com", "3520112345671", "03001234567", "1234")
	bob = h.register("Bob", "bob@bank.com", "3520112345672", "03001234568", "4321")
	sess = h.login("alice@bank.com", "1234")
	h.deposit(sess, "5000", "1234")
	return alice, bob, sess
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
