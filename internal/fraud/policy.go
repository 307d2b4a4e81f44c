package fraud

import (
	"context"
	"time"

	"bank-service/internal/config"
	"bank-service/internal/util"

	"go.uber.org/zap"
)

const (
	DefaultThreshold        = 0.3
	DefaultWipeoutThreshold = 0.1
)

// Policy turns a probability into a flag. A debit that empties the sender
// is judged against the tighter wipeout threshold.
type Policy struct {
	Threshold        float64
	WipeoutThreshold float64
}

func NewPolicy(cfg *config.Config) Policy {
	p := Policy{Threshold: cfg.Fraud.Threshold, WipeoutThreshold: cfg.Fraud.WipeoutThreshold}
	if p.Threshold <= 0 {
		p.Threshold = DefaultThreshold
	}
	if p.WipeoutThreshold <= 0 {
		p.WipeoutThreshold = DefaultWipeoutThreshold
	}
	return p
}

func (p Policy) ThresholdFor(f Features) float64 {
	if f.Wipeout() {
		return p.WipeoutThreshold
	}
	return p.Threshold
}

// Flagged is true iff score >= the active threshold.
func (p Policy) Flagged(f Features, score float64) bool {
	return score >= p.ThresholdFor(f)
}

// Assessment is what the orchestrator acts on.
type Assessment struct {
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Wipeout   bool    `json:"wipeout"`
	Flagged   bool    `json:"flagged"`
	// Degraded means the model did not answer and Score is a stand-in 0.
	Degraded bool   `json:"degraded"`
	Reason   string `json:"reason,omitempty"`
}

// Checker runs the scorer under a deadline and applies the policy.
type Checker struct {
	scorer  Scorer
	policy  Policy
	timeout time.Duration
	logger  *zap.Logger
}

func NewChecker(scorer Scorer, policy Policy, timeout time.Duration) *Checker {
	return &Checker{
		scorer:  scorer,
		policy:  policy,
		timeout: timeout,
		logger:  util.Named("fraud"),
	}
}

func (c *Checker) Policy() Policy {
	return c.policy
}

// Assess never fails. When the model cannot answer the transaction is let
// through with score 0 and the assessment is marked Degraded.
func (c *Checker) Assess(ctx context.Context, f Features) Assessment {
	a := Assessment{
		Threshold: c.policy.ThresholdFor(f),
		Wipeout:   f.Wipeout(),
	}

	scoreCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		scoreCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	pred, err := c.scorer.Predict(scoreCtx, f)
	if err != nil {
		a.Degraded = true
		a.Reason = err.Error()
		c.logger.Warn("fraud model unavailable, scoring as 0",
			zap.String("type", string(f.Type)),
			zap.Int64("step", f.Step),
			zap.Error(err),
		)
		return a
	}

	a.Score = pred.Probability
	a.Flagged = c.policy.Flagged(f, pred.Probability)
	c.logger.Info("fraud score",
		zap.String("type", string(f.Type)),
		zap.Int64("step", f.Step),
		zap.Float64("score", a.Score),
		zap.Float64("threshold", a.Threshold),
		zap.Bool("wipeout", a.Wipeout),
		zap.Bool("flagged", a.Flagged),
		zap.Duration("duration", time.Since(start)),
	)
	return a
}
