package service

import (
	"time"

	"bank-service/internal/assistant"
	"bank-service/internal/biometric"
	"bank-service/internal/bucketing"
	"bank-service/internal/encryption"
	"bank-service/internal/events"
	"bank-service/internal/fraud"
	"bank-service/internal/hashing"
	"bank-service/internal/ledger"
	"bank-service/internal/repository"
	"bank-service/internal/rules"
	"bank-service/internal/session"
	"bank-service/internal/util"

	"go.uber.org/zap"
)

// Deps are the collaborators every service shares.
type Deps struct {
	Ledger           *ledger.Ledger
	Sessions         *session.Manager
	Hasher           *hashing.Hasher
	Encryption       *encryption.EncryptionManager
	Bucketing        *bucketing.BucketingManager
	Events           events.Publisher
	Logger           *zap.Logger
	OperationTimeout time.Duration
	ModelTimeout     time.Duration
}

func (d Deps) logger(component string) *zap.Logger {
	if d.Logger == nil {
		return util.Named(component)
	}
	return d.Logger.Named(component)
}

func (d Deps) operationTimeout() time.Duration {
	if d.OperationTimeout <= 0 {
		return ledger.DefaultOperationTimeout
	}
	return d.OperationTimeout
}

func (d Deps) modelTimeout() time.Duration {
	if d.ModelTimeout <= 0 {
		return 3 * time.Second
	}
	return d.ModelTimeout
}

func (d Deps) guard(component string) *guard {
	publisher := d.Events
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &guard{
		ledger:   d.Ledger,
		gate:     rules.NewPINGate(d.Hasher),
		sessions: d.Sessions,
		events:   publisher,
		bm:       d.Bucketing,
		logger:   d.logger(component),
	}
}

// Models groups the external model adapters.
type Models struct {
	Fraud     *fraud.Checker
	Faces     biometric.FaceVerifier
	Sentiment *assistant.SentimentAnalyzer
	Generator assistant.Generator
	Retriever assistant.Retriever
	Estimator assistant.Estimator
}

// ServiceFactory creates and manages service instances
type ServiceFactory struct {
	deps       Deps
	models     Models
	pending    repository.PendingStore
	pendingTTL time.Duration
	search     HistorySearcher

	bankingService   *BankingService
	accountService   *AccountService
	assistantService *AssistantService
}

// NewServiceFactory creates a new service factory. search may be nil.
func NewServiceFactory(deps Deps, models Models, pending repository.PendingStore, pendingTTL time.Duration, search HistorySearcher) *ServiceFactory {
	return &ServiceFactory{
		deps:       deps,
		models:     models,
		pending:    pending,
		pendingTTL: pendingTTL,
		search:     search,
	}
}

// BankingService returns the banking service instance (singleton)
func (f *ServiceFactory) BankingService() *BankingService {
	if f.bankingService == nil {
		f.bankingService = NewBankingService(f.deps, f.models.Fraud, f.pending, f.pendingTTL, f.search)
	}
	return f.bankingService
}

// AccountService returns the account service instance (singleton)
func (f *ServiceFactory) AccountService() *AccountService {
	if f.accountService == nil {
		f.accountService = NewAccountService(f.deps, f.models.Faces)
	}
	return f.accountService
}

// AssistantService returns the assistant service instance (singleton)
func (f *ServiceFactory) AssistantService() *AssistantService {
	if f.assistantService == nil {
		f.assistantService = NewAssistantService(f.deps, f.models.Sentiment, f.models.Generator, f.models.Retriever, f.models.Estimator)
	}
	return f.assistantService
}
