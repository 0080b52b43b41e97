package routes

import (
	"net/http"

	"github.com/vetai/backend/internal/api/handlers"
	"github.com/vetai/backend/internal/api/middleware"
	"github.com/vetai/backend/internal/infrastructure/observability"
)

// Handlers groups the route handlers the router mounts
type Handlers struct {
	Consultation *handlers.ConsultationHandler
	Stream       *handlers.SSEHandler
	Search       *handlers.SearchHandler
	Graph        *handlers.GraphHandler
	Assistant    *handlers.AssistantHandler
	Analytics    *handlers.AnalyticsHandler
	Health       *handlers.HealthHandler
}

// Router holds all route handlers
type Router struct {
	mux            *http.ServeMux
	handlers       Handlers
	allowedOrigins []string
	metrics        *observability.Metrics
}

// NewRouter creates a new router
func NewRouter(h Handlers, allowedOrigins []string, metrics *observability.Metrics) *Router {
	return &Router{
		mux:            http.NewServeMux(),
		handlers:       h,
		allowedOrigins: allowedOrigins,
		metrics:        metrics,
	}
}

// SetupRoutes registers the routes and returns the wrapped handler
func (r *Router) SetupRoutes() http.Handler {
	h := r.handlers

	if h.Health != nil {
		r.mux.HandleFunc("GET /health", h.Health.Health)
	} else {
		r.mux.HandleFunc("GET /health", func(w http.ResponseWriter, req *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
	}

	// Consultation routes
	if h.Consultation != nil {
		r.mux.HandleFunc("POST /api/consultations", h.Consultation.CreateConsultation)
		r.mux.HandleFunc("GET /api/consultations", h.Consultation.ListConsultations)
		r.mux.HandleFunc("GET /api/consultations/{id}", h.Consultation.GetConsultation)
		r.mux.HandleFunc("PATCH /api/consultations/{id}", h.Consultation.UpdateConsultation)
		r.mux.HandleFunc("DELETE /api/consultations/{id}", h.Consultation.DeleteConsultation)
		r.mux.HandleFunc("GET /api/consultations/{id}/attachments/{attachmentId}", h.Consultation.GetAttachment)
	}

	// Stream routes
	if h.Stream != nil {
		r.mux.HandleFunc("GET /api/stream/consultations", h.Stream.StreamUpdates)
		r.mux.HandleFunc("GET /api/stream/consultations/{id}", h.Stream.StreamConsultation)
	}

	if h.Search != nil {
		r.mux.HandleFunc("POST /api/search", h.Search.Search)
	}

	if h.Graph != nil {
		r.mux.HandleFunc("GET /api/patients/{name}/graph", h.Graph.PatientGraph)
	}

	if h.Assistant != nil {
		r.mux.HandleFunc("POST /api/assistant/ask", h.Assistant.Ask)
	}

	// Analytics routes
	if h.Analytics != nil {
		r.mux.HandleFunc("GET /api/analytics", h.Analytics.GetSummary)
		r.mux.HandleFunc("POST /api/analytics/executive-summary", h.Analytics.ExecutiveSummary)
	}

	// innermost first
	var handler http.Handler = r.mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.ObservabilityMiddleware(r.metrics, r.routeFor)(handler)
	handler = middleware.ResponseOptimization(handler)
	handler = middleware.CORSMiddleware(r.allowedOrigins)(handler)

	return handler
}

// routeFor returns the mux pattern that serves req.
func (r *Router) routeFor(req *http.Request) string {
	_, pattern := r.mux.Handler(req)
	return pattern
}
