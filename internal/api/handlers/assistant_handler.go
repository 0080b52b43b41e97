package handlers

import (
	"context"
	"net/http"

	"github.com/vetai/backend/internal/domain/entities"
)

// AssistantService defines the question-answering operation the handler needs
type AssistantService interface {
	Ask(ctx context.Context, question string, contextLimit int) (*entities.AssistantAnswer, error)
}

// AssistantHandler answers questions against the consultation records
type AssistantHandler struct {
	service AssistantService
}

// NewAssistantHandler creates a new assistant handler
func NewAssistantHandler(service AssistantService) *AssistantHandler {
	return &AssistantHandler{service: service}
}

type askRequest struct {
	Question     string `json:"question"`
	ContextLimit int    `json:"context_limit"`
}

// Ask handles POST /api/assistant/ask
func (h *AssistantHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var body askRequest
	if err := decodeJSON(r, &body); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	answer, err := h.service.Ask(r.Context(), body.Question, body.ContextLimit)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, answer)
}
