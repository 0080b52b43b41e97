package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/vetai/backend/internal/application/services"
	"github.com/vetai/backend/internal/domain/entities"
)

// AnalyticsService defines the analytics operations the handler needs
type AnalyticsService interface {
	Summary(ctx context.Context, filter services.AnalyticsFilter) (*entities.AnalyticsSummary, error)
	ExecutiveSummary(ctx context.Context, filter services.AnalyticsFilter) (*entities.ExecutiveSummary, error)
}

// AnalyticsHandler serves the analytics view
type AnalyticsHandler struct {
	service AnalyticsService
}

// NewAnalyticsHandler creates a new analytics handler
func NewAnalyticsHandler(service AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{service: service}
}

// GetSummary handles GET /api/analytics
func (h *AnalyticsHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := analyticsFilterFromQuery(r)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	summary, err := h.service.Summary(r.Context(), filter)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

type executiveSummaryRequest struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Species     string `json:"species"`
	VetName     string `json:"vet_name"`
	PatientName string `json:"patient_name"`
}

// ExecutiveSummary handles POST /api/analytics/executive-summary. An empty
// body summarises the most recent consultations.
func (h *AnalyticsHandler) ExecutiveSummary(w http.ResponseWriter, r *http.Request) {
	var body executiveSummaryRequest
	if err := decodeOptionalJSON(r, &body); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	filter := services.AnalyticsFilter{
		Species:     strings.TrimSpace(body.Species),
		VetName:     strings.TrimSpace(body.VetName),
		PatientName: strings.TrimSpace(body.PatientName),
	}
	var err error
	if filter.From, err = optionalDate(body.From, false); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if filter.To, err = optionalDate(body.To, true); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	summary, err := h.service.ExecutiveSummary(r.Context(), filter)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, summary)
}

func analyticsFilterFromQuery(r *http.Request) (services.AnalyticsFilter, error) {
	q := r.URL.Query()
	filter := services.AnalyticsFilter{
		Species:     strings.TrimSpace(q.Get("species")),
		VetName:     strings.TrimSpace(q.Get("vet")),
		PatientName: strings.TrimSpace(q.Get("patient")),
	}
	var err error
	if filter.From, err = optionalDate(q.Get("from"), false); err != nil {
		return filter, err
	}
	if filter.To, err = optionalDate(q.Get("to"), true); err != nil {
		return filter, err
	}
	return filter, nil
}
