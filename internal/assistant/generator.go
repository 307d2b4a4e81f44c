package assistant

import (
	"context"

	"bank-service/internal/client"
	"bank-service/internal/models"

	"github.com/shopspring/decimal"
)

// ApologyReply is returned when no reply can be generated.
const ApologyReply = "I'm sorry, system mein thora masla aa raha hai. Please try again later."

// Prompt is the context handed to the reply generator.
type Prompt struct {
	UserName   string          `json:"user_name"`
	Balance    decimal.Decimal `json:"balance"`
	Activities []string        `json:"activities"`
	Context    []string        `json:"context"`
	Query      string          `json:"query"`
}

// Generator produces a chatbot reply.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

// Retriever returns up to k policy passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// Estimator predicts an insurance premium.
type Estimator interface {
	Estimate(ctx context.Context, p models.InsuranceProfile) (decimal.Decimal, error)
}

// HTTPGenerator calls POST /generate.
type HTTPGenerator struct {
	client *client.ModelClient
}

func NewHTTPGenerator(c *client.ModelClient) *HTTPGenerator {
	return &HTTPGenerator{client: c}
}

func (g *HTTPGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	if err := g.client.PostJSON(ctx, "/generate", p, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

// HTTPEstimator calls POST /predict on the insurance model.
type HTTPEstimator struct {
	client *client.ModelClient
}

func NewHTTPEstimator(c *client.ModelClient) *HTTPEstimator {
	return &HTTPEstimator{client: c}
}

func (e *HTTPEstimator) Estimate(ctx context.Context, p models.InsuranceProfile) (decimal.Decimal, error) {
	var out struct {
		Premium float64 `json:"premium"`
	}
	if err := e.client.PostJSON(ctx, "/predict", p, &out); err != nil {
		return decimal.Zero, err
	}
	premium := decimal.NewFromFloat(out.Premium).Round(2)
	if !premium.IsPositive() {
		return decimal.Zero, models.NewUserError(models.ErrModelUnavailable, "Premium estimate unavailable.")
	}
	return premium, nil
}
