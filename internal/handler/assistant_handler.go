package handler

import (
	"net/http"

	"bank-service/internal/models"
	"bank-service/internal/service"

	"go.uber.org/zap"
)

type AssistantHandler struct {
	base
	assistant *service.AssistantService
}

func NewAssistantHandler(assistant *service.AssistantService, logger *zap.Logger) *AssistantHandler {
	return &AssistantHandler{base: base{logger: logger}, assistant: assistant}
}

// Chat answers one message
// @Router /assistant/chat [post]
func (h *AssistantHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req service.ChatRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.assistant.Chat(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.respondWithError(w, err, "Chat failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, ""))
}

// History returns the recent chat interactions
// @Router /assistant/history [get]
func (h *AssistantHandler) History(w http.ResponseWriter, r *http.Request) {
	hist, err := h.assistant.History(r.Context(), sessionFrom(r))
	if err != nil {
		h.respondWithError(w, err, "Failed to load chat history")
		return
	}
	resp := successResponse(hist, "")
	resp.Meta = &Meta{Total: len(hist)}
	h.respondWithJSON(w, http.StatusOK, resp)
}

// Insurance estimates a premium
// @Router /assistant/insurance [post]
func (h *AssistantHandler) Insurance(w http.ResponseWriter, r *http.Request) {
	var req models.InsuranceProfile
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.assistant.EstimateInsurance(r.Context(), sessionFrom(r), req)
	if err != nil {
		h.respondWithError(w, err, "Insurance estimate failed")
		return
	}
	h.respondWithJSON(w, http.StatusOK, successResponse(res, res.Message))
}
