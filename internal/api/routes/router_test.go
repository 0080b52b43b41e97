package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/vetai/backend/internal/adapters/events"
	"github.com/vetai/backend/internal/api/handlers"
	"github.com/vetai/backend/internal/application/services"
	"github.com/vetai/backend/internal/domain/entities"
)

func TestRouter_HealthFallback(t *testing.T) {
	handler := NewRouter(Handlers{}, nil, nil).SetupRoutes()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_MethodAndPathMatching(t *testing.T) {
	handler := NewRouter(Handlers{
		Stream: handlers.NewSSEHandler(events.NewMemoryEventBus()),
	}, []string{"https://clinic.example"}, nil).SetupRoutes()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/unknown", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	req := httptest.NewRequest(http.MethodOptions, "/api/search", strings.NewReader(""))
	req.Header.Set("Origin", "https://clinic.example")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://clinic.example", w.Header().Get("Access-Control-Allow-Origin"))
}

type stubGraphService struct{}

func (stubGraphService) PatientGraph(ctx context.Context, patientName string, opts services.GraphOptions) (*entities.KnowledgeGraphData, error) {
	return entities.EmptyGraph(), nil
}

func recordSpans(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return recorder
}

func TestRouter_SpansUseRoutePattern(t *testing.T) {
	recorder := recordSpans(t)
	handler := NewRouter(Handlers{
		Graph: handlers.NewGraphHandler(stubGraphService{}),
	}, nil, nil).SetupRoutes()

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/patients/Bella%20Smith/graph", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/owners/Bella%20Smith", nil))
	require.Equal(t, http.StatusNotFound, w.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "GET /api/patients/{name}/graph", spans[0].Name())
	assert.Equal(t, "unmatched", spans[1].Name())
	for _, span := range spans {
		assert.NotContains(t, span.Name(), "Bella")
		for _, attr := range span.Attributes() {
			if attr.Key == attribute.Key("http.route") {
				assert.NotContains(t, attr.Value.AsString(), "Bella")
			}
		}
	}
}
