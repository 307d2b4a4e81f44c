package handler

import (
	"net/http"
	"time"

	"bank-service/internal/rules"
	"bank-service/internal/service"
	"bank-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// AccountHandler handles registration, login and identity reset
type AccountHandler struct {
	base
	accounts *service.AccountService
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(accounts *service.AccountService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{base: base{logger: logger}, accounts: accounts}
}

// Register handles account creation
// @Summary Open a new account
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body rules.Registration true "Registration form"
// @Success 201 {object} Response
// @Failure 400 {object} Response
// @Failure 409 {object} Response
// @Router /accounts [post]
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req rules.Registration
	if !h.decode(w, r, &req) {
		return
	}

	view, err := h.accounts.Register(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err, "Failed to register account")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(view, "Account Created Successfully! Your account number is "+view.AccountNo))
	h.logger.Info("Account registered via HTTP",
		util.String("account_no", view.AccountNo),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// Login handles the email and PIN step of a login
// @Summary Log in with email and PIN
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.LoginRequest true "Credentials"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 423 {object} Response
// @Router /auth/login [post]
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req service.LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.accounts.Login(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err, "Login failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, res.Message))
}

// VerifyFace completes a login
// @Router /auth/face [post]
func (h *AccountHandler) VerifyFace(w http.ResponseWriter, r *http.Request) {
	var req service.FaceRequest
	if !h.decode(w, r, &req) {
		return
	}

	sess := sessionFrom(r)
	if err := h.accounts.VerifyFace(r.Context(), sess, req); err != nil {
		h.respondWithError(w, err, "Face verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]string{"state": string(sess.State)}, "Face verified. Welcome!"))
}

// Logout ends the caller's session
// @Router /auth/logout [post]
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.accounts.Logout(r.Context(), sessionFrom(r)); err != nil {
		h.respondWithError(w, err, "Logout failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// ResetIdentity starts an identity reset
// @Router /auth/reset/identity [post]
func (h *AccountHandler) ResetIdentity(w http.ResponseWriter, r *http.Request) {
	var req service.ResetIdentityRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.accounts.ResetIdentity(r.Context(), req)
	if err != nil {
		h.respondWithError(w, err, "Identity verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, res.Message))
}

// ResetSecurity checks the security answer
// @Router /auth/reset/security [post]
func (h *AccountHandler) ResetSecurity(w http.ResponseWriter, r *http.Request) {
	var req service.ResetAnswerRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.accounts.ResetSecurityAnswer(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.respondWithError(w, err, "Security answer rejected")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, res.Message))
}

// ResetFace checks the face during a reset
// @Router /auth/reset/face [post]
func (h *AccountHandler) ResetFace(w http.ResponseWriter, r *http.Request) {
	var req service.FaceRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.accounts.ResetFace(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.respondWithError(w, err, "Face verification failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, res.Message))
}

// ResetPIN sets the new PIN and unlocks the account
// @Router /auth/reset/pin [post]
func (h *AccountHandler) ResetPIN(w http.ResponseWriter, r *http.Request) {
	var req service.ResetPINRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.accounts.ResetPIN(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.respondWithError(w, err, "PIN reset failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, res.Message))
}

// Profile returns the caller's account
// @Router /accounts/me [get]
func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	view, err := h.accounts.Profile(r.Context(), sessionFrom(r))
	if err != nil {
		h.respondWithError(w, err, "Failed to load account")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(view, ""))
}

// Recipient looks up who owns an account number
// @Router /accounts/{accountNo} [get]
func (h *AccountHandler) Recipient(w http.ResponseWriter, r *http.Request) {
	rec, err := h.accounts.Recipient(r.Context(), sessionFrom(r), chi.URLParam(r, "accountNo"))
	if err != nil {
		h.respondWithError(w, err, "Recipient lookup failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(rec, ""))
}
