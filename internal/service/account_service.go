package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"bank-service/internal/biometric"
	"bank-service/internal/encryption"
	"bank-service/internal/hashing"
	"bank-service/internal/models"
	"bank-service/internal/repository"
	"bank-service/internal/rules"
	"bank-service/internal/session"
	"bank-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxAccountNoAttempts = 5

const (
	purposeCNIC  = "cnic"
	purposePhone = "phone"
)

type LoginRequest struct {
	Email string `json:"email"`
	PIN   string `json:"pin"`
}

type LoginResult struct {
	Token     string        `json:"token"`
	SessionID string        `json:"session_id"`
	State     session.State `json:"state"`
	AccountNo string        `json:"account_no"`
	Name      string        `json:"name"`
	Message   string        `json:"message"`
}

// FaceRequest carries a captured face image; JSON clients send it base64.
type FaceRequest struct {
	Image []byte `json:"image"`
}

type ResetIdentityRequest struct {
	Email string `json:"email"`
	CNIC  string `json:"cnic"`
	Phone string `json:"phone"`
}

type ResetAnswerRequest struct {
	Answer string `json:"answer"`
}

type ResetPINRequest struct {
	PIN        string `json:"pin"`
	ConfirmPIN string `json:"confirm_pin"`
}

type ResetResult struct {
	Token    string `json:"token,omitempty"`
	NextStep int    `json:"next_step,omitempty"`
	Message  string `json:"message"`
}

// AccountService handles registration, login with face verification, the
// four-step identity reset and the account views.
type AccountService struct {
	g            *guard
	hasher       *hashing.Hasher
	encryption   *encryption.EncryptionManager
	faces        biometric.FaceVerifier
	modelTimeout time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

func NewAccountService(d Deps, faces biometric.FaceVerifier) *AccountService {
	return &AccountService{
		g:            d.guard("accounts"),
		hasher:       d.Hasher,
		encryption:   d.Encryption,
		faces:        faces,
		modelTimeout: d.modelTimeout(),
		now:          time.Now,
		logger:       d.logger("accounts"),
	}
}

// Register validates the sign-up form and creates an account with a zero
// balance, a fresh account number and the next face id.
func (s *AccountService) Register(ctx context.Context, in rules.Registration) (*models.AccountView, error) {
	r, err := rules.ValidateRegistration(in)
	if err != nil {
		return nil, err
	}

	pinHash, err := s.hasher.HashPIN(r.PIN)
	if err != nil {
		return nil, fmt.Errorf("failed to hash pin: %w", err)
	}
	answerHash, err := s.hasher.HashSecurityAnswer(r.SecurityAnswer)
	if err != nil {
		return nil, fmt.Errorf("failed to hash security answer: %w", err)
	}
	cnicSealed, err := s.encryption.Seal(ctx, r.CNIC, purposeCNIC)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt cnic: %w", err)
	}
	phoneSealed, err := s.encryption.Seal(ctx, r.Phone, purposePhone)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt phone: %w", err)
	}

	now := s.now().UTC()
	acct := &models.Account{
		FirstName:          r.FirstName,
		LastName:           r.LastName,
		Email:              r.Email,
		CNICHash:           s.hasher.LookupDigest(r.CNIC),
		CNICSealed:         cnicSealed,
		PhoneHash:          s.hasher.LookupDigest(r.Phone),
		PhoneSealed:        phoneSealed,
		PINHash:            pinHash.Encode(),
		SecurityAnswerHash: answerHash.Encode(),
		Balance:            decimal.Zero,
		CreatedAt:          now,
	}

	for attempt := 0; attempt < maxAccountNoAttempts; attempt++ {
		acct.AccountNo = newAccountNo()
		err = s.g.ledger.CreateAccount(ctx, acct)
		var dup *repository.DuplicateError
		if !errors.As(err, &dup) {
			break
		}
		switch dup.Field {
		case "email":
			return nil, models.NewUserError(models.ErrAlreadyExists, "This email is already registered.")
		case "cnic":
			return nil, models.NewUserError(models.ErrAlreadyExists, "An account with this CNIC already exists.")
		}
	}
	if err != nil {
		return nil, err
	}

	created, err := s.g.ledger.Account(ctx, acct.AccountNo)
	if err != nil {
		return nil, err
	}
	s.g.activity(ctx, created.AccountNo, "Account Created and Registered")
	s.logger.Info("account registered",
		zap.String("account_no", created.AccountNo),
		zap.Int("face_id", created.FaceID))

	view := accountView(created)
	view.CNIC = util.MaskTail(r.CNIC, 4)
	view.Phone = util.MaskTail(r.Phone, 4)
	return view, nil
}

// Login checks email and PIN and opens a session that still needs face
// verification before it can move money.
func (s *AccountService) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.PIN == "" {
		return nil, models.NewUserError(models.ErrInvalidInput, "All fields are mandatory.")
	}

	acct, err := s.g.ledger.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			return nil, models.NewUserError(models.ErrAccountNotFound, "Invalid Credentials: User not found.")
		}
		return nil, err
	}
	if acct.IsLocked {
		s.g.activity(ctx, acct.AccountNo, "Blocked login attempt on locked account.")
		return nil, models.NewUserError(models.ErrAccountLocked,
			"Your account is currently LOCKED for security reasons. Reset your PIN to unlock it.")
	}

	err = s.g.ledger.WithAccounts(ctx, []string{acct.AccountNo}, func(ctx context.Context) error {
		current, err := s.g.ledger.Account(ctx, acct.AccountNo)
		if err != nil {
			return err
		}
		acct = current
		return s.g.checkPIN(ctx, nil, acct, req.PIN, "Login")
	})
	if err != nil {
		return nil, err
	}

	sess, token, err := s.g.sessions.Open(ctx, acct.AccountNo, session.PurposeLogin)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:     token,
		SessionID: sess.ID,
		State:     sess.State,
		AccountNo: acct.AccountNo,
		Name:      acct.FullName(),
		Message:   fmt.Sprintf("Credentials Verified for %s! Face verification required.", acct.FirstName),
	}, nil
}

// VerifyFace completes a login. The session becomes Active only on a match;
// an unreachable verifier fails the login.
func (s *AccountService) VerifyFace(ctx context.Context, sess *session.Session, req FaceRequest) error {
	if sess.Purpose != session.PurposeLogin {
		return session.ErrUnauthorized
	}
	if sess.State != session.StateAwaitingFace {
		return fmt.Errorf("%w: session is %s", session.ErrInvalidTransition, sess.State)
	}
	done, err := s.g.sessions.Begin(ctx, sess)
	if err != nil {
		return err
	}
	defer done()

	acct, err := s.g.ledger.Account(ctx, sess.AccountNo)
	if err != nil {
		return err
	}
	if acct.IsLocked {
		s.g.terminate(ctx, sess, "account locked")
		return models.NewUserError(models.ErrAccountLocked, "ACCOUNT BLOCKED: Please reset your PIN.")
	}
	if err := s.verifyFace(ctx, sess, acct, req.Image); err != nil {
		return err
	}
	if err := s.g.sessions.Activate(ctx, sess); err != nil {
		return err
	}
	s.g.security(ctx, sess, acct.AccountNo, models.EventLoginSuccess, 0, "face verified")
	s.g.activity(ctx, acct.AccountNo, "Logged in with face verification")
	return nil
}

func (s *AccountService) Logout(ctx context.Context, sess *session.Session) error {
	if err := s.g.sessions.Terminate(ctx, sess, "logout"); err != nil {
		return err
	}
	if sess.Purpose == session.PurposeLogin {
		s.g.activity(ctx, sess.AccountNo, "Logged out")
	}
	return nil
}

// ResetIdentity is reset step 1. Email, CNIC and phone must all match one
// account; the returned token drives the remaining steps.
func (s *AccountService) ResetIdentity(ctx context.Context, req ResetIdentityRequest) (*ResetResult, error) {
	email, err := rules.ValidateEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if err := rules.ValidateCNIC(req.CNIC); err != nil {
		return nil, err
	}
	if err := rules.ValidatePhone(req.Phone); err != nil {
		return nil, err
	}

	mismatch := models.NewUserError(ErrIdentityMismatch, "Identity Mismatch: Provided details do not match.")
	acct, err := s.g.ledger.AccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			return nil, mismatch
		}
		return nil, err
	}
	if !digestEqual(s.hasher.LookupDigest(req.CNIC), acct.CNICHash) || !digestEqual(s.hasher.LookupDigest(req.Phone), acct.PhoneHash) {
		s.logger.Warn("identity reset details mismatch", zap.String("account_no", acct.AccountNo))
		return nil, mismatch
	}

	sess, token, err := s.g.sessions.Open(ctx, acct.AccountNo, session.PurposeReset)
	if err != nil {
		return nil, err
	}
	return &ResetResult{
		Token:    token,
		NextStep: sess.ResetStep,
		Message:  fmt.Sprintf("Hello, %s! Answer your security question.", acct.FullName()),
	}, nil
}

// ResetSecurityAnswer is reset step 2.
func (s *AccountService) ResetSecurityAnswer(ctx context.Context, sess *session.Session, req ResetAnswerRequest) (*ResetResult, error) {
	done, acct, err := s.resetStep(ctx, sess, 2)
	if err != nil {
		return nil, err
	}
	defer done()

	ok, err := s.hasher.VerifySecurityAnswer(req.Answer, acct.SecurityAnswerHash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify security answer: %w", err)
	}
	if !ok {
		return nil, models.NewUserError(ErrIdentityMismatch, "Incorrect Security Answer.")
	}
	return s.advance(ctx, sess, "Security answer verified. Face verification required.")
}

// ResetFace is reset step 3.
func (s *AccountService) ResetFace(ctx context.Context, sess *session.Session, req FaceRequest) (*ResetResult, error) {
	done, acct, err := s.resetStep(ctx, sess, 3)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := s.verifyFace(ctx, sess, acct, req.Image); err != nil {
		return nil, err
	}
	return s.advance(ctx, sess, "Identity confirmed. Choose a new PIN.")
}

// ResetPIN is reset step 4: the new PIN replaces the old one, the counter
// is cleared and the account unlocked.
func (s *AccountService) ResetPIN(ctx context.Context, sess *session.Session, req ResetPINRequest) (*ResetResult, error) {
	done, acct, err := s.resetStep(ctx, sess, 4)
	if err != nil {
		return nil, err
	}
	defer done()

	if err := rules.ValidatePIN(req.PIN, req.ConfirmPIN); err != nil {
		return nil, err
	}
	pinHash, err := s.hasher.HashPIN(req.PIN)
	if err != nil {
		return nil, fmt.Errorf("failed to hash pin: %w", err)
	}
	err = s.g.ledger.WithAccounts(ctx, []string{acct.AccountNo}, func(ctx context.Context) error {
		return s.g.ledger.ResetPIN(ctx, acct.AccountNo, pinHash.Encode())
	})
	if err != nil {
		return nil, err
	}

	s.g.activity(ctx, acct.AccountNo, "PIN Reset Successful")
	s.g.security(ctx, sess, acct.AccountNo, models.EventPINReset, 0, fmt.Sprintf("unlocked=%t", acct.IsLocked))
	s.g.terminate(ctx, sess, "pin reset")
	return &ResetResult{Message: "PIN reset successful! Please login."}, nil
}

func (s *AccountService) resetStep(ctx context.Context, sess *session.Session, step int) (func(), *models.Account, error) {
	if sess.Purpose != session.PurposeReset {
		return nil, nil, session.ErrUnauthorized
	}
	if sess.ResetStep != step {
		return nil, nil, fmt.Errorf("%w: reset step %d expected, got %d", session.ErrInvalidTransition, sess.ResetStep, step)
	}
	done, err := s.g.sessions.Begin(ctx, sess)
	if err != nil {
		return nil, nil, err
	}
	acct, err := s.g.ledger.Account(ctx, sess.AccountNo)
	if err != nil {
		done()
		return nil, nil, err
	}
	return done, acct, nil
}

func (s *AccountService) advance(ctx context.Context, sess *session.Session, message string) (*ResetResult, error) {
	sess.ResetStep++
	if err := s.g.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}
	return &ResetResult{NextStep: sess.ResetStep, Message: message}, nil
}

func (s *AccountService) verifyFace(ctx context.Context, sess *session.Session, acct *models.Account, image []byte) error {
	if len(image) == 0 {
		return models.NewUserError(models.ErrInvalidInput, "Face image is required.")
	}
	vctx, cancel := context.WithTimeout(ctx, s.modelTimeout)
	defer cancel()

	m, err := s.faces.Verify(vctx, biometric.FaceRequest{FaceID: acct.FaceID, AccountNo: acct.AccountNo, Image: image})
	if err != nil {
		if errors.Is(err, models.ErrInvalidInput) {
			return err
		}
		s.logger.Warn("face verifier unavailable", zap.String("account_no", acct.AccountNo), zap.Error(err))
		s.g.security(ctx, sess, acct.AccountNo, models.EventModelUnavailable, 0, "face verifier: "+err.Error())
		return models.NewUserError(models.ErrModelUnavailable, "Face verification is unavailable. Please try again later.")
	}
	if !m.Accepted() {
		s.logger.Info("face not recognised",
			zap.String("account_no", acct.AccountNo),
			zap.Bool("match", m.Match),
			zap.Float64("confidence", m.Confidence))
		return models.NewUserError(ErrFaceMismatch, "Face not recognised. Please try again.")
	}
	return nil
}

// Profile returns the account without secrets; CNIC and phone are masked.
func (s *AccountService) Profile(ctx context.Context, sess *session.Session) (*models.AccountView, error) {
	if !sess.Authorized() {
		return nil, session.ErrUnauthorized
	}
	acct, err := s.g.ledger.Account(ctx, sess.AccountNo)
	if err != nil {
		return nil, err
	}
	view := accountView(acct)
	view.CNIC = s.openMasked(ctx, acct.AccountNo, acct.CNICSealed)
	view.Phone = s.openMasked(ctx, acct.AccountNo, acct.PhoneSealed)
	return view, nil
}

// Recipient shows a payer who they are about to pay.
func (s *AccountService) Recipient(ctx context.Context, sess *session.Session, accountNo string) (*models.Recipient, error) {
	if !sess.Authorized() {
		return nil, session.ErrUnauthorized
	}
	acct, err := s.g.ledger.Account(ctx, strings.ToUpper(strings.TrimSpace(accountNo)))
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			return nil, models.NewUserError(models.ErrRecipientNotFound, "User does not exist in our records.")
		}
		return nil, err
	}
	return &models.Recipient{AccountNo: acct.AccountNo, Name: acct.FullName()}, nil
}

func (s *AccountService) openMasked(ctx context.Context, accountNo, sealed string) string {
	if sealed == "" {
		return ""
	}
	plain, err := s.encryption.Open(ctx, sealed)
	if err != nil {
		s.logger.Warn("failed to decrypt profile field", zap.String("account_no", accountNo), zap.Error(err))
		return ""
	}
	return util.MaskTail(plain, 4)
}

func accountView(a *models.Account) *models.AccountView {
	return &models.AccountView{
		AccountNo:   a.AccountNo,
		FirstName:   a.FirstName,
		LastName:    a.LastName,
		Email:       a.Email,
		Balance:     a.Balance,
		FailedTries: a.FailedTries,
		IsLocked:    a.IsLocked,
		FaceID:      a.FaceID,
		CreatedAt:   a.CreatedAt,
	}
}

func newAccountNo() string {
	return fmt.Sprintf("BOP-%d", 10000000+rand.Intn(90000000))
}

func digestEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
