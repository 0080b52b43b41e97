package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
)

const defaultHeartbeatInterval = 30 * time.Second

// SSEHandler streams consultation lifecycle events as Server-Sent Events
type SSEHandler struct {
	eventBus   providers.EventBus
	eventCache providers.CacheProvider
	heartbeat  time.Duration
	clients    map[string]int // channel -> connected clients
	mu         sync.RWMutex
}

// NewSSEHandler creates a new SSE handler
func NewSSEHandler(eventBus providers.EventBus) *SSEHandler {
	return &SSEHandler{
		eventBus:  eventBus,
		heartbeat: defaultHeartbeatInterval,
		clients:   make(map[string]int),
	}
}

// WithHeartbeat overrides the heartbeat interval.
func (h *SSEHandler) WithHeartbeat(interval time.Duration) *SSEHandler {
	if interval > 0 {
		h.heartbeat = interval
	}
	return h
}

// WithEventCache replays the latest cached event of a consultation to new
// subscribers, so a client connecting after the ingest finished still gets
// the outcome.
func (h *SSEHandler) WithEventCache(cache providers.CacheProvider) *SSEHandler {
	h.eventCache = cache
	return h
}

// StreamConsultation streams the progress of one consultation's ingest and
// closes once a terminal event arrives.
// GET /api/stream/consultations/{id}
func (h *SSEHandler) StreamConsultation(w http.ResponseWriter, r *http.Request) {
	consultationID := r.PathValue("id")
	if consultationID == "" {
		respondWithError(w, http.StatusBadRequest, "consultation ID is required")
		return
	}
	h.stream(w, r, providers.GetConsultationChannel(consultationID), consultationID, map[string]interface{}{
		"consultation_id": consultationID,
	})
}

// StreamUpdates streams every consultation event until the client disconnects.
// GET /api/stream/consultations
func (h *SSEHandler) StreamUpdates(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, providers.EventChannelConsultationUpdates, "", map[string]interface{}{})
}

// stream relays channel to the client. With a consultationID the stream
// replays that consultation's latest event and ends on a terminal one.
func (h *SSEHandler) stream(w http.ResponseWriter, r *http.Request, channel, consultationID string, hello map[string]interface{}) {
	endOnTerminal := consultationID != ""

	if h.eventBus == nil {
		respondWithError(w, http.StatusServiceUnavailable, "event streaming is not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	eventChan, err := h.eventBus.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("failed to subscribe to channel")
		respondWithError(w, http.StatusServiceUnavailable, "event streaming unavailable")
		return
	}

	h.registerClient(channel)
	defer h.unregisterClient(channel)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	hello["timestamp"] = time.Now().UTC()
	h.sendEvent(w, "connected", hello)
	flusher.Flush()

	if endOnTerminal {
		if last := h.lastEvent(ctx, consultationID); last != nil {
			h.sendEvent(w, string(last.EventType), last)
			flusher.Flush()
			if last.IsTerminal() {
				return
			}
		}
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("channel", channel).Msg("client disconnected from stream")
			return
		case <-ticker.C:
			h.sendEvent(w, "heartbeat", map[string]interface{}{
				"timestamp": time.Now().UTC(),
			})
			flusher.Flush()
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			h.sendEvent(w, string(event.EventType), event)
			flusher.Flush()
			if endOnTerminal && event.IsTerminal() {
				return
			}
		}
	}
}

// lastEvent reads the cached latest event. It runs after Subscribe so that
// nothing published in between is lost.
func (h *SSEHandler) lastEvent(ctx context.Context, consultationID string) *entities.ConsultationEvent {
	if h.eventCache == nil {
		return nil
	}
	data, err := h.eventCache.Get(ctx, providers.LastEventCacheKey(consultationID))
	if err != nil {
		return nil
	}
	var event entities.ConsultationEvent
	if err := json.Unmarshal(data, &event); err != nil {
		log.Warn().Err(err).Str("consultation_id", consultationID).Msg("discarding unreadable cached event")
		return nil
	}
	return &event
}

func (h *SSEHandler) registerClient(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[channel]++
	log.Debug().Str("channel", channel).Int("clients", h.clients[channel]).Msg("stream client registered")
}

func (h *SSEHandler) unregisterClient(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[channel]--
	if h.clients[channel] <= 0 {
		delete(h.clients, channel)
	}
}

// sendEvent writes one SSE frame
func (h *SSEHandler) sendEvent(w http.ResponseWriter, eventType string, data interface{}) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event data")
		return
	}

	fmt.Fprintf(w, "event: %s\n", eventType)
	fmt.Fprintf(w, "data: %s\n\n", jsonData)
}

// GetClientCount returns the number of connected clients
func (h *SSEHandler) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, n := range h.clients {
		count += n
	}
	return count
}
