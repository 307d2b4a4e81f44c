package service

import "errors"

var (
	ErrIdentityMismatch = errors.New("identity mismatch")
	ErrFaceMismatch     = errors.New("face not recognised")
	ErrInvalidDecision  = errors.New("invalid confirmation decision")
)
