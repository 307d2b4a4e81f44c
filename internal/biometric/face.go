package biometric

import (
	"context"
	"errors"
	"fmt"

	"bank-service/internal/client"
	"bank-service/internal/models"
)

// MinConfidence is the lowest verifier confidence accepted as a match.
const MinConfidence = 0.6

var ErrNoImage = errors.New("face image is required")

// FaceRequest asks whether image shows the person enrolled under FaceID.
type FaceRequest struct {
	FaceID    int    `json:"face_id"`
	AccountNo string `json:"account_no"`
	Image     []byte `json:"image"`
}

type FaceMatch struct {
	Match      bool    `json:"match"`
	Confidence float64 `json:"confidence"`
}

// Accepted applies the local confidence floor on top of the verifier's answer.
func (m FaceMatch) Accepted() bool {
	return m.Match && m.Confidence >= MinConfidence
}

// FaceVerifier matches a captured face against an enrolled identity.
type FaceVerifier interface {
	Verify(ctx context.Context, req FaceRequest) (FaceMatch, error)
}

// HTTPFaceVerifier calls POST /verify; the image travels base64 encoded.
type HTTPFaceVerifier struct {
	client *client.ModelClient
}

func NewHTTPFaceVerifier(c *client.ModelClient) *HTTPFaceVerifier {
	return &HTTPFaceVerifier{client: c}
}

func (v *HTTPFaceVerifier) Verify(ctx context.Context, req FaceRequest) (FaceMatch, error) {
	if len(req.Image) == 0 {
		return FaceMatch{}, models.NewUserError(models.ErrInvalidInput, "%s", ErrNoImage.Error())
	}
	var out FaceMatch
	if err := v.client.PostJSON(ctx, "/verify", req, &out); err != nil {
		return FaceMatch{}, fmt.Errorf("face verification: %w", err)
	}
	return out, nil
}
