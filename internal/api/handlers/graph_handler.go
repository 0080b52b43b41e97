package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/vetai/backend/internal/application/services"
	"github.com/vetai/backend/internal/domain/entities"
)

// GraphService defines the graph operations the handler needs
type GraphService interface {
	PatientGraph(ctx context.Context, patientName string, opts services.GraphOptions) (*entities.KnowledgeGraphData, error)
}

// GraphHandler serves patient knowledge graphs
type GraphHandler struct {
	service GraphService
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(service GraphService) *GraphHandler {
	return &GraphHandler{service: service}
}

// PatientGraph handles GET /api/patients/{name}/graph. Layout positions are
// computed unless layout=false.
func (h *GraphHandler) PatientGraph(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "patient name is required")
		return
	}

	opts := services.GraphOptions{
		Filter: r.URL.Query().Get("filter"),
		Layout: true,
	}
	if v := r.URL.Query().Get("layout"); v != "" {
		layout, err := strconv.ParseBool(v)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid layout parameter")
			return
		}
		opts.Layout = layout
	}

	g, err := h.service.PatientGraph(r.Context(), name, opts)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, g)
}
