package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetai/backend/internal/api/handlers"
)

func TestHealthHandler_Health(t *testing.T) {
	tests := []struct {
		name       string
		database   handlers.Pinger
		cache      handlers.Pinger
		aiReady    bool
		wantCode   int
		wantStatus string
		wantCache  string
	}{
		{"all up", fakePinger{}, fakePinger{}, true, http.StatusOK, "ok", "up"},
		{"memory cache", fakePinger{}, nil, true, http.StatusOK, "ok", "memory"},
		{"redis down", fakePinger{}, fakePinger{down: true}, true, http.StatusOK, "degraded", "down"},
		{"ai disabled", fakePinger{}, nil, false, http.StatusOK, "degraded", "memory"},
		{"database down", fakePinger{down: true}, fakePinger{}, true, http.StatusServiceUnavailable, "unavailable", "up"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := handlers.NewHealthHandler(tt.database, tt.cache, tt.aiReady)
			w := httptest.NewRecorder()
			handler.Health(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			var resp struct {
				Status   string            `json:"status"`
				Services map[string]string `json:"services"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, tt.wantCache, resp.Services["cache"])
		})
	}
}
