package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/vetai/backend/internal/domain/entities"
)

// ClientIDHeader identifies the browser tab issuing a search. A newer search
// with the same ID cancels the older one.
const ClientIDHeader = "X-Client-ID"

// SearchService defines the search operations the handler needs
type SearchService interface {
	Search(ctx context.Context, query string, limit int) (*entities.SearchOutcome, error)
	SearchForClient(ctx context.Context, clientID, query string, limit int) (*entities.SearchOutcome, error)
}

// SearchHandler handles consultation search
type SearchHandler struct {
	service SearchService
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(service SearchService) *SearchHandler {
	return &SearchHandler{service: service}
}

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// Search handles POST /api/search
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var body searchRequest
	if err := decodeJSON(r, &body); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if strings.TrimSpace(body.Query) == "" {
		respondWithError(w, http.StatusBadRequest, "query is required")
		return
	}

	var (
		outcome *entities.SearchOutcome
		err     error
	)
	if clientID := strings.TrimSpace(r.Header.Get(ClientIDHeader)); clientID != "" {
		outcome, err = h.service.SearchForClient(r.Context(), clientID, body.Query, body.Limit)
	} else {
		outcome, err = h.service.Search(r.Context(), body.Query, body.Limit)
	}
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	hits := make([]entities.SearchHit, len(outcome.Hits))
	for i, hit := range outcome.Hits {
		hit.Consultation = withoutPayloads(hit.Consultation)
		hits[i] = hit
	}
	outcome.Hits = hits
	respondWithJSON(w, http.StatusOK, outcome)
}
