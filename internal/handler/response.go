package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"bank-service/internal/models"
	"bank-service/internal/service"
	"bank-service/internal/session"
	"bank-service/internal/util"

	"go.uber.org/zap"
)

// maxBodyBytes bounds request bodies; face images travel base64 encoded.
const maxBodyBytes = 8 << 20

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta describes list results
type Meta struct {
	Total int    `json:"total"`
	Query string `json:"query,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse shows the holder-facing message of a UserError. Anything
// else is reported by its kind only so store internals never leak.
func errorResponse(err error, message string) Response {
	var ue *models.UserError
	if errors.As(err, &ue) {
		return Response{Success: false, Error: ue.Kind.Error(), Message: ue.Message}
	}
	return Response{Success: false, Error: publicError(err), Message: message}
}

func publicError(err error) string {
	for _, known := range []error{
		models.ErrPersistenceFailure,
		models.ErrModelUnavailable,
		session.ErrSessionExpired,
		session.ErrSessionNotFound,
		session.ErrSessionBusy,
		session.ErrInvalidTransition,
		session.ErrUnauthorized,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	if statusCode(err) < http.StatusInternalServerError {
		return err.Error()
	}
	return "internal error"
}

// base carries the response helpers shared by every handler.
type base struct {
	logger *zap.Logger
}

func (b base) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		b.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (b base) respondWithError(w http.ResponseWriter, err error, message string) {
	code := statusCode(err)
	fields := []zap.Field{
		util.ErrorField(err),
		util.Int("status_code", code),
		util.String("message", message),
	}
	if code >= http.StatusInternalServerError {
		b.logger.Error("HTTP error response", fields...)
	} else {
		b.logger.Warn("HTTP error response", fields...)
	}
	b.respondWithJSON(w, code, errorResponse(err, message))
}

// decode reads a JSON body into dst. It answers the request itself and
// returns false when the body is unusable.
func (b base) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		b.respondWithJSON(w, http.StatusBadRequest, Response{Success: false, Error: models.ErrInvalidInput.Error(), Message: "Invalid request body"})
		return false
	}
	return true
}

// statusCode maps the error taxonomy onto HTTP.
func statusCode(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidAmount),
		errors.Is(err, models.ErrInvalidInput),
		errors.Is(err, models.ErrSelfTransfer),
		errors.Is(err, service.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrPinMismatch),
		errors.Is(err, service.ErrIdentityMismatch),
		errors.Is(err, service.ErrFaceMismatch),
		errors.Is(err, session.ErrUnauthorized),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, session.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, models.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, models.ErrRecipientNotFound),
		errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrPendingNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrAlreadyExists),
		errors.Is(err, session.ErrSessionBusy),
		errors.Is(err, session.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, models.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrModelUnavailable),
		errors.Is(err, models.ErrPersistenceFailure):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
