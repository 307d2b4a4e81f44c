package biometric

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
)

func TestHTTPFaceVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req FaceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		match := req.FaceID == 101 && string(req.Image) == "jpeg-bytes"
		_ = json.NewEncoder(w).Encode(FaceMatch{Match: match, Confidence: 0.91})
	}))
	defer srv.Close()

	v := NewHTTPFaceVerifier(client.NewModelClient("face", srv.URL, time.Second))
	ctx := context.Background()

	m, err := v.Verify(ctx, FaceRequest{FaceID: 101, AccountNo: "BOP-10000001", Image: []byte("jpeg-bytes")})
	if err != nil || !m.Accepted() {
		t.Fatalf("expected accepted match, got %+v, %v", m, err)
	}

	m, err = v.Verify(ctx, FaceRequest{FaceID: 102, Image: []byte("jpeg-bytes")})
	if err != nil || m.Accepted() {
		t.Fatalf("expected rejection, got %+v, %v", m, err)
	}

	if _, err := v.Verify(ctx, FaceRequest{FaceID: 101}); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing image, got %v", err)
	}
}

func TestLowConfidenceIsNotAccepted(t *testing.T) {
	if (FaceMatch{Match: true, Confidence: 0.4}).Accepted() {
		t.Fatal("low confidence match must not be accepted")
	}
}

func TestUnavailableVerifier(t *testing.T) {
	v := NewHTTPFaceVerifier(client.NewModelClient("face", "", time.Second))
	_, err := v.Verify(context.Background(), FaceRequest{FaceID: 101, Image: []byte{1}})
	if !errors.Is(err, models.ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}
