package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bank-service/internal/client"
	"bank-service/internal/util"

	"go.uber.org/zap"
)

const (
	LabelNegative = "Negative"
	LabelNeutral  = "Neutral"
	LabelPositive = "Positive"

	ActionEscalate = "Urgent Agent Escalation"
	ActionDelight  = "Customer Delight Noted"
	ActionMonitor  = "Monitor Normally"
	ActionNone     = "No Action"
)

var (
	dangerWords = []string{"bad", "steal", "money", "worst", "fraud", "kaha", "poor", "ghalat", "hate", "blocked", "sad"}
	happyWords  = []string{"good", "great", "love", "amazing", "resolved", "thank", "best", "fast", "smooth", "happy", "wow"}
)

// Classification is the raw classifier answer; Confidence is in [0,1].
type Classification struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Classifier labels a message Negative, Neutral or Positive.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// Sentiment is the calibrated analysis stored with an interaction.
type Sentiment struct {
	Label         string `json:"sentiment"`
	Confidence    string `json:"confidence"`
	ImportantWord string `json:"important_word"`
	Action        string `json:"action"`
}

// Unavailable is reported when the classifier cannot answer.
var Unavailable = Sentiment{Label: LabelNeutral, Confidence: "0%", ImportantWord: "N/A", Action: ActionNone}

// Calibrate corrects Neutral answers with keyword rules and picks the word
// that drove the result. Keyword presence is a substring match on the
// lower-cased text; the important word must match a whole word.
func Calibrate(text string, c Classification) Sentiment {
	label := c.Label
	confidence := c.Confidence * 100

	lower := strings.NewReplacer("!", "", "?", "").Replace(strings.ToLower(text))

	if label == LabelNeutral && containsAny(lower, happyWords) {
		label = LabelPositive
		confidence = max(confidence, 70)
	}
	if label == LabelNeutral && containsAny(lower, dangerWords) {
		label = LabelNegative
		confidence = max(confidence, 75)
	}

	words := strings.Fields(strings.NewReplacer(",", "", ".", "").Replace(lower))
	important := firstIn(words, dangerWords)
	if important == "" {
		important = firstIn(words, happyWords)
	}
	if important == "" {
		important = longest(words)
	}
	if important == "" {
		important = "N/A"
	}

	action := ActionMonitor
	switch label {
	case LabelNegative:
		action = ActionEscalate
	case LabelPositive:
		action = ActionDelight
	}

	return Sentiment{
		Label:         label,
		Confidence:    fmt.Sprintf("%.1f%%", confidence),
		ImportantWord: important,
		Action:        action,
	}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

func firstIn(words, set []string) string {
	for _, w := range words {
		for _, s := range set {
			if w == s {
				return w
			}
		}
	}
	return ""
}

// longest returns the first of the longest words.
func longest(words []string) string {
	best := ""
	for _, w := range words {
		if len(w) > len(best) {
			best = w
		}
	}
	return best
}

// SentimentAnalyzer runs the classifier under a deadline and calibrates it.
type SentimentAnalyzer struct {
	classifier Classifier
	timeout    time.Duration
	logger     *zap.Logger
}

func NewSentimentAnalyzer(classifier Classifier, timeout time.Duration) *SentimentAnalyzer {
	return &SentimentAnalyzer{classifier: classifier, timeout: timeout, logger: util.Named("sentiment")}
}

func (a *SentimentAnalyzer) Analyze(ctx context.Context, text string) Sentiment {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	c, err := a.classifier.Classify(ctx, text)
	if err != nil {
		a.logger.Warn("sentiment model unavailable", zap.Error(err))
		return Unavailable
	}
	switch c.Label {
	case LabelNegative, LabelNeutral, LabelPositive:
	default:
		a.logger.Warn("sentiment model returned unknown label", zap.String("label", c.Label))
		return Unavailable
	}
	return Calibrate(text, c)
}

// HTTPClassifier calls POST /classify.
type HTTPClassifier struct {
	client *client.ModelClient
}

func NewHTTPClassifier(c *client.ModelClient) *HTTPClassifier {
	return &HTTPClassifier{client: c}
}

func (h *HTTPClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	var out Classification
	err := h.client.PostJSON(ctx, "/classify", map[string]string{"text": text}, &out)
	return out, err
}
