package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bank-service/internal/client"
	"bank-service/internal/models"

	"github.com/shopspring/decimal"
)

func TestCalibrate(t *testing.T) {
	tests := []struct {
		name string
		text string
		in   Classification
		want Sentiment
	}{
		{
			name: "neutral with danger word becomes negative",
			text: "Where is my money?",
			in:   Classification{Label: LabelNeutral, Confidence: 0.52},
			want: Sentiment{LabelNegative, "75.0%", "money", ActionEscalate},
		},
		{
			name: "neutral with happy word becomes positive",
			text: "Thank you, transfer was fast!",
			in:   Classification{Label: LabelNeutral, Confidence: 0.81},
			want: Sentiment{LabelPositive, "81.0%", "thank", ActionDelight},
		},
		{
			name: "model negative is kept",
			text: "card not working",
			in:   Classification{Label: LabelNegative, Confidence: 0.9},
			want: Sentiment{LabelNegative, "90.0%", "working", ActionEscalate},
		},
		{
			name: "happy rule runs first",
			text: "bad start but resolved",
			in:   Classification{Label: LabelNeutral, Confidence: 0.4},
			want: Sentiment{LabelPositive, "70.0%", "bad", ActionDelight},
		},
		{
			name: "plain neutral",
			text: "balance please",
			in:   Classification{Label: LabelNeutral, Confidence: 0.66},
			want: Sentiment{LabelNeutral, "66.0%", "balance", ActionMonitor},
		},
		{
			name: "empty text",
			text: "",
			in:   Classification{Label: LabelNeutral, Confidence: 0.5},
			want: Sentiment{LabelNeutral, "50.0%", "N/A", ActionMonitor},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Calibrate(tt.text, tt.in); got != tt.want {
				t.Fatalf("Calibrate(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

type failingClassifier struct{}

func (failingClassifier) Classify(context.Context, string) (Classification, error) {
	return Classification{}, models.ErrModelUnavailable
}

func TestAnalyzeUnavailable(t *testing.T) {
	a := NewSentimentAnalyzer(failingClassifier{}, time.Second)
	if got := a.Analyze(context.Background(), "fraud!"); got != Unavailable {
		t.Fatalf("expected unavailable sentiment, got %+v", got)
	}
}

func TestHTTPAdapters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/classify":
			_ = json.NewEncoder(w).Encode(Classification{Label: LabelPositive, Confidence: 0.93})
		case "/generate":
			var p Prompt
			_ = json.NewDecoder(r.Body).Decode(&p)
			_ = json.NewEncoder(w).Encode(map[string]string{"reply": "Hello " + p.UserName})
		case "/predict":
			_ = json.NewEncoder(w).Encode(map[string]float64{"premium": 12345.678})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	mc := client.NewModelClient("assistant", srv.URL, time.Second)

	s := NewSentimentAnalyzer(NewHTTPClassifier(mc), time.Second).Analyze(ctx, "great app")
	if s.Label != LabelPositive || s.Confidence != "93.0%" || s.ImportantWord != "great" {
		t.Fatalf("unexpected sentiment %+v", s)
	}

	reply, err := NewHTTPGenerator(mc).Generate(ctx, Prompt{UserName: "Ayesha", Balance: decimal.NewFromInt(10)})
	if err != nil || reply != "Hello Ayesha" {
		t.Fatalf("Generate = %q, %v", reply, err)
	}

	premium, err := NewHTTPEstimator(mc).Estimate(ctx, models.InsuranceProfile{Age: 30})
	if err != nil || premium.String() != "12345.68" {
		t.Fatalf("Estimate = %s, %v", premium, err)
	}

	down := client.NewModelClient("assistant", "", time.Second)
	if _, err := NewHTTPEstimator(down).Estimate(ctx, models.InsuranceProfile{}); !errors.Is(err, models.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}
