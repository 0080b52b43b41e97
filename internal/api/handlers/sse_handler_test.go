package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vetai/backend/internal/adapters/cache"
	"github.com/vetai/backend/internal/adapters/events"
	"github.com/vetai/backend/internal/api/handlers"
	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
)

func TestSSEHandler_StreamConsultation_EndsOnSaved(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	handler := handlers.NewSSEHandler(bus)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream/consultations/c-1", nil).WithContext(ctx)
	req.SetPathValue("id", "c-1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.StreamConsultation(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return handler.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	channel := providers.GetConsultationChannel("c-1")
	require.NoError(t, bus.Publish(ctx, channel, entities.NewConsultationEvent("c-1", "Max", entities.ConsultationEventProcessing)))
	require.NoError(t, bus.Publish(ctx, channel, entities.NewConsultationEvent("c-1", "Max", entities.ConsultationEventSaved)))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after terminal event")
	}

	body := w.Body.String()
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, body, "event: connected\n")
	assert.Contains(t, body, `"consultation_id":"c-1"`)
	assert.Contains(t, body, "event: consultation.processing\n")
	assert.Contains(t, body, "event: consultation.saved\n")
	assert.Less(t, strings.Index(body, "consultation.processing"), strings.Index(body, "consultation.saved"))
	assert.Equal(t, 0, handler.GetClientCount())
}

func TestSSEHandler_StreamUpdates_StopsOnDisconnect(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	handler := handlers.NewSSEHandler(bus).WithHeartbeat(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/stream/consultations", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.StreamUpdates(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return handler.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, providers.EventChannelConsultationUpdates,
		entities.NewConsultationEvent("c-2", "Luna", entities.ConsultationEventSaved)))

	// saved does not end the global stream
	time.Sleep(100 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("global stream ended before disconnect")
	default:
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not stop after disconnect")
	}

	body := w.Body.String()
	assert.Contains(t, body, "event: consultation.saved\n")
	assert.Contains(t, body, "event: heartbeat\n")
}

func TestSSEHandler_MissingID(t *testing.T) {
	handler := handlers.NewSSEHandler(events.NewMemoryEventBus())
	req := httptest.NewRequest(http.MethodGet, "/api/stream/consultations/", nil)
	w := httptest.NewRecorder()

	handler.StreamConsultation(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func cacheEvent(t *testing.T, c providers.CacheProvider, event *entities.ConsultationEvent) {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), providers.LastEventCacheKey(event.ConsultationID), data, 60))
}

func TestSSEHandler_StreamConsultation_ReplaysFinishedIngest(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	eventCache := cache.NewMemoryAdapter()
	handler := handlers.NewSSEHandler(bus).WithEventCache(eventCache)

	// The ingest finished before the client subscribed.
	saved := entities.NewConsultationEvent("c-3", "Max", entities.ConsultationEventSaved)
	require.NoError(t, bus.Publish(context.Background(), providers.GetConsultationChannel("c-3"), saved))
	cacheEvent(t, eventCache, saved)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream/consultations/c-3", nil).WithContext(ctx)
	req.SetPathValue("id", "c-3")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.StreamConsultation(w, req)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stream did not end on replayed terminal event")
	}

	body := w.Body.String()
	assert.Contains(t, body, "event: connected\n")
	assert.Contains(t, body, "event: consultation.saved\n")
	assert.Less(t, strings.Index(body, "connected"), strings.Index(body, "consultation.saved"))
}

func TestSSEHandler_StreamConsultation_ReplaysPersistFailure(t *testing.T) {
	eventCache := cache.NewMemoryAdapter()
	handler := handlers.NewSSEHandler(events.NewMemoryEventBus()).WithEventCache(eventCache)
	cacheEvent(t, eventCache, entities.NewConsultationEvent("c-4", "Luna", entities.ConsultationEventStepFailed).
		WithStep("persist", "duplicate consultation"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream/consultations/c-4", nil).WithContext(ctx)
	req.SetPathValue("id", "c-4")
	w := httptest.NewRecorder()

	handler.StreamConsultation(w, req)

	assert.Contains(t, w.Body.String(), "event: consultation.step_failed\n")
	assert.Contains(t, w.Body.String(), `"step":"persist"`)
}

func TestSSEHandler_StreamConsultation_ReplayedProgressKeepsStreaming(t *testing.T) {
	bus := events.NewMemoryEventBus()
	defer bus.Close()
	eventCache := cache.NewMemoryAdapter()
	handler := handlers.NewSSEHandler(bus).WithEventCache(eventCache)
	cacheEvent(t, eventCache, entities.NewConsultationEvent("c-5", "Max", entities.ConsultationEventProcessing))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/stream/consultations/c-5", nil).WithContext(ctx)
	req.SetPathValue("id", "c-5")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		handler.StreamConsultation(w, req)
		close(done)
	}()

	require.Eventually(t, func() bool { return handler.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, providers.GetConsultationChannel("c-5"),
		entities.NewConsultationEvent("c-5", "Max", entities.ConsultationEventSaved)))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after terminal event")
	}
	body := w.Body.String()
	assert.Contains(t, body, "event: consultation.processing\n")
	assert.Contains(t, body, "event: consultation.saved\n")
}
