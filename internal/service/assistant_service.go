package service

import (
	"context"
	"strings"
	"time"

	"bank-service/internal/assistant"
	"bank-service/internal/events"
	"bank-service/internal/models"
	"bank-service/internal/rules"
	"bank-service/internal/session"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	chatActivityCount = 3
	chatPolicyCount   = 3
	chatHistoryCount  = 10
	maxChatMessageLen = 1000
)

type ChatRequest struct {
	Message string `json:"message"`
}

type ChatResult struct {
	Reply     string              `json:"reply"`
	Sentiment assistant.Sentiment `json:"analysis"`
}

type InsuranceResult struct {
	Premium decimal.Decimal          `json:"premium"`
	Record  models.TransactionRecord `json:"record"`
	Message string                   `json:"message"`
}

// AssistantService runs the chatbot with its sentiment analysis and the
// insurance premium estimate. None of it moves money.
type AssistantService struct {
	g            *guard
	sentiment    *assistant.SentimentAnalyzer
	generator    assistant.Generator
	retriever    assistant.Retriever
	estimator    assistant.Estimator
	modelTimeout time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

func NewAssistantService(d Deps, sentiment *assistant.SentimentAnalyzer, generator assistant.Generator, retriever assistant.Retriever, estimator assistant.Estimator) *AssistantService {
	return &AssistantService{
		g:            d.guard("assistant"),
		sentiment:    sentiment,
		generator:    generator,
		retriever:    retriever,
		estimator:    estimator,
		modelTimeout: d.modelTimeout(),
		now:          time.Now,
		logger:       d.logger("assistant"),
	}
}

// Chat answers one message. Model failures degrade the answer rather than
// fail the call; the interaction is always recorded.
func (s *AssistantService) Chat(ctx context.Context, sess *session.Session, req ChatRequest) (*ChatResult, error) {
	if !sess.Authorized() {
		return nil, session.ErrUnauthorized
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, models.NewUserError(models.ErrInvalidInput, "Message cannot be empty.")
	}
	if len(message) > maxChatMessageLen {
		return nil, models.NewUserError(models.ErrInvalidInput, "Message is too long.")
	}

	acct, err := s.g.ledger.Account(ctx, sess.AccountNo)
	if err != nil {
		return nil, err
	}

	analysis := assistant.Unavailable
	if s.sentiment != nil {
		analysis = s.sentiment.Analyze(ctx, message)
	}
	reply := s.reply(ctx, acct, message)

	in := models.ChatInteraction{
		ID:            uuid.NewString(),
		Timestamp:     s.now().UTC(),
		AccountNo:     acct.AccountNo,
		UserName:      acct.FullName(),
		Message:       message,
		Reply:         reply,
		Sentiment:     analysis.Label,
		Confidence:    analysis.Confidence,
		ImportantWord: analysis.ImportantWord,
		Action:        analysis.Action,
	}
	if err := s.g.ledger.AppendInteraction(ctx, in); err != nil {
		return nil, err
	}
	s.g.events.Publish(ctx, events.Interaction(in))
	if analysis.Label == assistant.LabelNegative {
		s.logger.Info("negative customer sentiment",
			zap.String("account_no", acct.AccountNo),
			zap.String("important_word", analysis.ImportantWord),
			zap.String("confidence", analysis.Confidence))
	}

	return &ChatResult{Reply: reply, Sentiment: analysis}, nil
}

func (s *AssistantService) reply(ctx context.Context, acct *models.Account, message string) string {
	if s.generator == nil {
		return assistant.ApologyReply
	}

	var lines []string
	recent, err := s.g.ledger.RecentActivities(ctx, acct.AccountNo, chatActivityCount)
	if err != nil {
		s.logger.Warn("failed to load activities for chat", zap.String("account_no", acct.AccountNo), zap.Error(err))
	}
	for _, e := range recent {
		lines = append(lines, e.Activity)
	}

	var passages []string
	if s.retriever != nil {
		rctx, cancel := context.WithTimeout(ctx, s.modelTimeout)
		passages, err = s.retriever.Retrieve(rctx, message, chatPolicyCount)
		cancel()
		if err != nil {
			s.logger.Warn("policy retrieval failed", zap.Error(err))
			passages = nil
		}
	}

	gctx, cancel := context.WithTimeout(ctx, s.modelTimeout)
	defer cancel()
	reply, err := s.generator.Generate(gctx, assistant.Prompt{
		UserName:   acct.FullName(),
		Balance:    acct.Balance,
		Activities: lines,
		Context:    passages,
		Query:      message,
	})
	if err != nil || strings.TrimSpace(reply) == "" {
		s.logger.Warn("chat generator unavailable", zap.String("account_no", acct.AccountNo), zap.Error(err))
		return assistant.ApologyReply
	}
	return reply
}

// History returns the newest chat interactions of the account.
func (s *AssistantService) History(ctx context.Context, sess *session.Session) ([]models.ChatInteraction, error) {
	if !sess.Authorized() {
		return nil, session.ErrUnauthorized
	}
	return s.g.ledger.RecentInteractions(ctx, sess.AccountNo, chatHistoryCount)
}

// EstimateInsurance predicts a premium and records it as an estimate.
func (s *AssistantService) EstimateInsurance(ctx context.Context, sess *session.Session, profile models.InsuranceProfile) (*InsuranceResult, error) {
	if !sess.Authorized() {
		return nil, session.ErrUnauthorized
	}
	profile, err := rules.ValidateInsuranceProfile(profile)
	if err != nil {
		return nil, err
	}
	if s.estimator == nil {
		return nil, models.NewUserError(models.ErrModelUnavailable, "Insurance estimates are unavailable right now.")
	}

	ectx, cancel := context.WithTimeout(ctx, s.modelTimeout)
	premium, err := s.estimator.Estimate(ectx, profile)
	cancel()
	if err != nil {
		s.logger.Warn("insurance estimator unavailable", zap.String("account_no", sess.AccountNo), zap.Error(err))
		s.g.security(ctx, sess, sess.AccountNo, models.EventModelUnavailable, 0, "insurance estimator")
		return nil, models.NewUserError(models.ErrModelUnavailable, "Insurance estimates are unavailable right now.")
	}

	rec, err := models.NewInsuranceEstimate(sess.AccountNo, premium, s.now())
	if err != nil {
		return nil, err
	}
	committed, err := s.g.ledger.RecordTransaction(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.g.events.Publish(ctx, events.TransactionCommitted(committed))
	s.g.activity(ctx, sess.AccountNo, "Insurance premium estimated: Rs. "+rules.FormatRupees(premium))

	return &InsuranceResult{
		Premium: premium,
		Record:  committed,
		Message: "Estimated annual premium: Rs. " + rules.FormatRupees(premium),
	}, nil
}
