package handler

import (
	"net/http"
	"strconv"
	"time"

	"bank-service/internal/service"
	"bank-service/internal/util"

	"go.uber.org/zap"
)

// TransactionHandler exposes the money-moving operations and history.
type TransactionHandler struct {
	base
	banking *service.BankingService
}

func NewTransactionHandler(banking *service.BankingService, logger *zap.Logger) *TransactionHandler {
	return &TransactionHandler{base: base{logger: logger}, banking: banking}
}

// respondWithResult answers 202 when the holder must confirm a flagged
// operation and 200 otherwise.
func (h *TransactionHandler) respondWithResult(w http.ResponseWriter, r *http.Request, op string, start time.Time, res *service.TransactionResult) {
	code := http.StatusOK
	if res.Outcome == service.OutcomeNeedsConfirmation {
		code = http.StatusAccepted
	}
	h.respondWithJSON(w, code, successResponse(res, res.Message))
	h.logger.Info("Transaction handled via HTTP",
		util.String("account_no", sessionFrom(r).AccountNo),
		util.String("outcome", string(res.Outcome)),
		util.Duration("duration", time.Since(start)),
		util.String("method", op),
	)
}

// Deposit credits the caller's account
// @Router /transactions/deposit [post]
func (h *TransactionHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req service.DepositRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.banking.Deposit(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.respondWithError(w, err, "Deposit failed")
		return
	}
	h.respondWithResult(w, r, "Deposit", start, res)
}

// Transfer sends money to another account
// @Router /transactions/transfer [post]
func (h *TransactionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req service.TransferRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.banking.Transfer(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.respondWithError(w, err, "Transfer failed")
		return
	}
	h.respondWithResult(w, r, "Transfer", start, res)
}

// Withdraw is an ATM cash out
// @Router /transactions/withdraw [post]
func (h *TransactionHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req service.WithdrawRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.banking.Withdraw(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.respondWithError(w, err, "Withdrawal failed")
		return
	}
	h.respondWithResult(w, r, "Withdraw", start, res)
}

// QRPay pays the account named by a scanned code
// @Router /transactions/qr [post]
func (h *TransactionHandler) QRPay(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req service.QRPayRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.banking.QRPay(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.respondWithError(w, err, "QR payment failed")
		return
	}
	h.respondWithResult(w, r, "QRPay", start, res)
}

// Confirm resolves a flagged operation
// @Router /transactions/confirm [post]
func (h *TransactionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req service.ConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.banking.Confirm(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.respondWithError(w, err, "Confirmation failed")
		return
	}
	h.respondWithResult(w, r, "Confirm", start, res)
}

// History lists the caller's transactions, optionally filtered by ?q=
// @Router /transactions [get]
func (h *TransactionHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	entries, err := h.banking.History(r.Context(), sessionFrom(r), q)
	if err != nil {
		h.respondWithError(w, err, "Failed to load history")
		return
	}
	resp := successResponse(entries, "")
	resp.Meta = &Meta{Total: len(entries), Query: q}
	h.respondWithJSON(w, http.StatusOK, resp)
}

// Activities returns the newest activity lines, ?n= of them (default 3)
// @Router /activities [get]
func (h *TransactionHandler) Activities(w http.ResponseWriter, r *http.Request) {
	n := 0
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > 100 {
			h.respondWithJSON(w, http.StatusBadRequest, Response{Success: false, Error: "invalid input", Message: "n must be between 1 and 100"})
			return
		}
		n = v
	}
	acts, err := h.banking.RecentActivities(r.Context(), sessionFrom(r), n)
	if err != nil {
		h.respondWithError(w, err, "Failed to load activities")
		return
	}
	resp := successResponse(acts, "")
	resp.Meta = &Meta{Total: len(acts)}
	h.respondWithJSON(w, http.StatusOK, resp)
}
