package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"bank-service/internal/assistant"
	"bank-service/internal/models"
	"bank-service/internal/session"

	"github.com/shopspring/decimal"
)

type stubClassifier struct {
	c   assistant.Classification
	err error
}

func (s stubClassifier) Classify(context.Context, string) (assistant.Classification, error) {
	return s.c, s.err
}

type stubGenerator struct {
	reply string
	err   error
	got   assistant.Prompt
}

func (g *stubGenerator) Generate(_ context.Context, p assistant.Prompt) (string, error) {
	g.got = p
	return g.reply, g.err
}

type stubRetriever struct{ passages []string }

func (r stubRetriever) Retrieve(_ context.Context, _ string, k int) ([]string, error) {
	if len(r.passages) > k {
		return r.passages[:k], nil
	}
	return r.passages, nil
}

type stubEstimator struct {
	premium decimal.Decimal
	err     error
}

func (e stubEstimator) Estimate(context.Context, models.InsuranceProfile) (decimal.Decimal, error) {
	return e.premium, e.err
}

func TestChatBuildsPromptAndRecordsInteraction(t *testing.T) {
	gen := &stubGenerator{reply: "Your card is safe."}
	h := newHarness(t, Models{
		Sentiment: assistant.NewSentimentAnalyzer(stubClassifier{c: assistant.Classification{Label: assistant.LabelNeutral, Confidence: 0.5}}, time.Second),
		Generator: gen,
		Retriever: stubRetriever{passages: []string{"p1", "p2", "p3", "p4"}},
	})
	_, _, sess := h.aliceAndBob()

	res, err := h.assistant.Chat(h.ctx, sess, ChatRequest{Message: "why is my card blocked"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Reply != "Your card is safe." {
		t.Fatalf("reply = %q", res.Reply)
	}
	if res.Sentiment.Label != assistant.LabelNegative || res.Sentiment.ImportantWord != "blocked" ||
		res.Sentiment.Action != assistant.ActionEscalate {
		t.Fatalf("unexpected analysis %+v", res.Sentiment)
	}

	p := gen.got
	if p.UserName != "Alice Khan" || !p.Balance.Equal(decimal.NewFromInt(5000)) || p.Query != "why is my card blocked" {
		t.Fatalf("unexpected prompt %+v", p)
	}
	if len(p.Activities) != 3 || len(p.Context) != 3 {
		t.Fatalf("prompt should carry 3 activities and 3 passages: %+v", p)
	}

	hist, err := h.assistant.History(h.ctx, sess)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 1 || hist[0].Reply != res.Reply || hist[0].Sentiment != assistant.LabelNegative {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestChatDegradesWhenModelsAreDown(t *testing.T) {
	h := newHarness(t, Models{
		Sentiment: assistant.NewSentimentAnalyzer(stubClassifier{err: errors.New("down")}, time.Second),
		Generator: &stubGenerator{err: errors.New("down")},
	})
	_, _, sess := h.aliceAndBob()

	res, err := h.assistant.Chat(h.ctx, sess, ChatRequest{Message: "hello"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.Reply != assistant.ApologyReply || res.Sentiment != assistant.Unavailable {
		t.Fatalf("expected apology and unavailable analysis, got %+v", res)
	}

	_, err = h.assistant.Chat(h.ctx, sess, ChatRequest{Message: "   "})
	assertIs(t, err, models.ErrInvalidInput)
}

func TestChatHistoryKeepsLastTen(t *testing.T) {
	h := newHarness(t, Models{Generator: &stubGenerator{reply: "ok"}})
	_, _, sess := h.aliceAndBob()

	for i := 0; i < 12; i++ {
		if _, err := h.assistant.Chat(h.ctx, sess, ChatRequest{Message: "hi"}); err != nil {
			t.Fatalf("chat %d: %v", i, err)
		}
	}
	hist, err := h.assistant.History(h.ctx, sess)
	if err != nil || len(hist) != 10 {
		t.Fatalf("history len = %d err=%v", len(hist), err)
	}
}

func TestEstimateInsurance(t *testing.T) {
	h := newHarness(t, Models{Estimator: stubEstimator{premium: decimal.RequireFromString("25000.50")}})
	alice, _, sess := h.aliceAndBob()

	profile := models.InsuranceProfile{Age: 35, BMI: 24.5, Children: 2, BloodPressure: 120, Gender: "Female", Diabetic: "no", Smoker: "No"}
	res, err := h.assistant.EstimateInsurance(h.ctx, sess, profile)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if res.Record.Kind != models.KindInsurance || res.Record.Status != models.StatusEstimated || res.Record.Category != models.CategoryMedical {
		t.Fatalf("unexpected record %+v", res.Record)
	}
	if h.balance(alice.AccountNo) != "5000.00" {
		t.Fatal("an estimate must not move money")
	}

	profile.Age = 12
	_, err = h.assistant.EstimateInsurance(h.ctx, sess, profile)
	assertIs(t, err, models.ErrInvalidInput)
}

func TestEstimateInsuranceUnavailable(t *testing.T) {
	h := newHarness(t, Models{Estimator: stubEstimator{err: errors.New("down")}})
	_, _, sess := h.aliceAndBob()

	profile := models.InsuranceProfile{Age: 35, BMI: 24.5, BloodPressure: 120, Gender: "male", Diabetic: "No", Smoker: "No"}
	_, err := h.assistant.EstimateInsurance(h.ctx, sess, profile)
	assertIs(t, err, models.ErrModelUnavailable)

	_, err = h.assistant.EstimateInsurance(h.ctx, &session.Session{State: session.StateActive, Purpose: session.PurposeReset}, profile)
	assertIs(t, err, session.ErrUnauthorized)
}
