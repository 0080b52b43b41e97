package services

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
)

// CacheInvalidationService drops derived caches when consultations change
type CacheInvalidationService struct {
	cache    providers.CacheProvider
	eventBus providers.EventBus
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
}

// NewCacheInvalidationService creates a new cache invalidation service
func NewCacheInvalidationService(cache providers.CacheProvider, eventBus providers.EventBus) *CacheInvalidationService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CacheInvalidationService{
		cache:    cache,
		eventBus: eventBus,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start begins listening for consultation events
func (s *CacheInvalidationService) Start() error {
	eventChan, err := s.eventBus.Subscribe(s.ctx, providers.EventChannelConsultationUpdates)
	if err != nil {
		return fmt.Errorf("failed to subscribe to consultation updates: %w", err)
	}

	s.started = true
	go s.processEvents(eventChan)
	log.Info().Msg("cache invalidation service started")
	return nil
}

// Stop stops the cache invalidation service and waits for the listener to exit
func (s *CacheInvalidationService) Stop() {
	s.cancel()
	if s.started {
		<-s.done
	}
	log.Info().Msg("cache invalidation service stopped")
}

func (s *CacheInvalidationService) processEvents(eventChan <-chan *entities.ConsultationEvent) {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if event == nil {
				continue
			}
			s.HandleEvent(event)
		}
	}
}

// HandleEvent invalidates the caches affected by one event. Progress events
// are ignored.
func (s *CacheInvalidationService) HandleEvent(event *entities.ConsultationEvent) {
	switch event.EventType {
	case entities.ConsultationEventSaved, entities.ConsultationEventUpdated, entities.ConsultationEventDeleted:
	default:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	patterns := []string{
		providers.CacheKeyAnalyticsPrefix + "*",
		providers.CacheKeyPromptSearchPrefix + "*",
	}
	if event.PatientName != "" {
		patterns = append(patterns, providers.GraphCachePattern(entities.NormalizePatientName(event.PatientName)))
	}

	for _, pattern := range patterns {
		if err := s.cache.DeletePattern(ctx, pattern); err != nil {
			log.Warn().Err(err).
				Str("pattern", pattern).
				Str("consultation_id", event.ConsultationID).
				Msg("failed to invalidate cache")
		}
	}
	log.Debug().
		Str("consultation_id", event.ConsultationID).
		Str("event_type", string(event.EventType)).
		Msg("invalidated consultation caches")
}

// InvalidateAll drops every derived cache. Used after bulk changes such as a backfill.
func (s *CacheInvalidationService) InvalidateAll(ctx context.Context) error {
	for _, pattern := range []string{
		providers.CacheKeyGraphPrefix + "*",
		providers.CacheKeyAnalyticsPrefix + "*",
		providers.CacheKeyPromptSearchPrefix + "*",
	} {
		if err := s.cache.DeletePattern(ctx, pattern); err != nil {
			return fmt.Errorf("failed to invalidate pattern %s: %w", pattern, err)
		}
	}
	return nil
}
