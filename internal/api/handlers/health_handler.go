package handlers

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is a dependency the health endpoint can probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the state of the backing services
type HealthHandler struct {
	database Pinger
	cache    Pinger
	aiReady  bool
}

// NewHealthHandler creates a new health handler. cache may be nil when Redis
// is disabled.
func NewHealthHandler(database, cache Pinger, aiReady bool) *HealthHandler {
	return &HealthHandler{database: database, cache: cache, aiReady: aiReady}
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// Health handles GET /health. Only a database outage makes the service
// unhealthy; a missing cache or AI gateway degrades it.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok", Services: map[string]string{}}
	status := http.StatusOK

	resp.Services["database"] = probe(ctx, h.database)
	if resp.Services["database"] != "up" {
		resp.Status = "unavailable"
		status = http.StatusServiceUnavailable
	}

	if h.cache == nil {
		resp.Services["cache"] = "memory"
	} else {
		resp.Services["cache"] = probe(ctx, h.cache)
		if resp.Services["cache"] != "up" && status == http.StatusOK {
			resp.Status = "degraded"
		}
	}

	if h.aiReady {
		resp.Services["ai"] = "configured"
	} else {
		resp.Services["ai"] = "disabled"
		if status == http.StatusOK {
			resp.Status = "degraded"
		}
	}

	respondWithJSON(w, status, resp)
}

func probe(ctx context.Context, p Pinger) string {
	if p == nil {
		return "down"
	}
	if err := p.Ping(ctx); err != nil {
		return "down"
	}
	return "up"
}
