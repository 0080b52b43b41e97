package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
	"github.com/vetai/backend/internal/domain/repositories"
	"github.com/vetai/backend/internal/infrastructure/observability"
	apperrors "github.com/vetai/backend/pkg/errors"
)

// Pipeline step names reported in events and processing errors.
const (
	StepTranscribe = "transcribe"
	StepSummarize  = "summarize"
	StepExtract    = "extract"
	StepEmbed      = "embed"
	StepPersist    = "persist"
)

// MaxTags caps the number of tags stored on a consultation.
const MaxTags = 12

const maxTagLength = 40

// UploadRequest is one consultation submitted from the upload view.
type UploadRequest struct {
	Audio         []byte
	AudioFilename string
	AudioMimeType string
	Transcript    string
	VetName       string
	OwnerName     string
	PatientName   string
	Species       string
	ConsultedAt   time.Time
	Attachments   []*entities.Attachment
}

// ConsultationUpdate carries the history-view edits; nil fields are left as is.
type ConsultationUpdate struct {
	VetName       *string
	OwnerName     *string
	PatientName   *string
	Species       *string
	Summary       *string
	Transcription *string
	Tags          []string
	ExtractedInfo *entities.ExtractedInfo
}

// ConsultationServiceConfig holds the pipeline limits.
type ConsultationServiceConfig struct {
	AsyncTimeout       time.Duration
	MaxAttachmentBytes int64
	// EventRetention is how long the latest ingest event stays readable
	// for late stream subscribers.
	EventRetention time.Duration
}

// ConsultationService runs the ingest pipeline and the history-view operations
type ConsultationService struct {
	repo        repositories.ConsultationRepository
	attachments repositories.AttachmentRepository
	ai          providers.AIGateway
	eventBus    providers.EventBus
	eventCache  providers.CacheProvider
	metrics     *observability.Metrics
	cfg         ConsultationServiceConfig
	inflight    sync.WaitGroup
	now         func() time.Time
}

// NewConsultationService creates a new consultation service. ai and eventBus may be nil.
func NewConsultationService(
	repo repositories.ConsultationRepository,
	attachments repositories.AttachmentRepository,
	ai providers.AIGateway,
	eventBus providers.EventBus,
	metrics *observability.Metrics,
	cfg ConsultationServiceConfig,
) *ConsultationService {
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = 5 * time.Minute
	}
	if cfg.EventRetention <= 0 {
		cfg.EventRetention = time.Hour
	}
	return &ConsultationService{
		repo:        repo,
		attachments: attachments,
		ai:          ai,
		eventBus:    eventBus,
		metrics:     metrics,
		cfg:         cfg,
		now:         time.Now,
	}
}

// WithEventCache keeps the latest event of every ingest in cache so stream
// subscribers that connect late still see the outcome.
func (s *ConsultationService) WithEventCache(cache providers.CacheProvider) *ConsultationService {
	s.eventCache = cache
	return s
}

// Ingest runs the whole pipeline and returns the stored consultation.
func (s *ConsultationService) Ingest(ctx context.Context, req *UploadRequest) (*entities.Consultation, error) {
	c, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	if err := s.run(ctx, c, req); err != nil {
		return nil, err
	}
	return c, nil
}

// IngestAsync validates the request and returns at once with status
// processing. The pipeline continues in the background and reports progress
// on the consultation's event channel.
func (s *ConsultationService) IngestAsync(ctx context.Context, req *UploadRequest) (*entities.Consultation, error) {
	c, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	snapshot := c.Clone()

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AsyncTimeout)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()
		if err := s.run(bg, c, req); err != nil {
			observability.LoggerFromContext(bg).Error().Err(err).
				Str("consultation_id", c.ID).
				Msg("background ingest failed")
		}
	}()
	return snapshot, nil
}

// Wait blocks until every background ingest has finished.
func (s *ConsultationService) Wait() {
	s.inflight.Wait()
}

func (s *ConsultationService) prepare(req *UploadRequest) (*entities.Consultation, error) {
	if req == nil || (len(req.Audio) == 0 && strings.TrimSpace(req.Transcript) == "") {
		return nil, apperrors.NewValidationError("audio or transcript is required")
	}
	if len(req.Audio) > 0 && s.ai == nil && strings.TrimSpace(req.Transcript) == "" {
		return nil, apperrors.NewUnavailableError("transcription is not configured", nil)
	}

	now := s.now().UTC()
	c := &entities.Consultation{
		ID:            uuid.NewString(),
		CreatedAt:     now,
		UpdatedAt:     now,
		ConsultedAt:   req.ConsultedAt,
		VetName:       strings.TrimSpace(req.VetName),
		OwnerName:     strings.TrimSpace(req.OwnerName),
		PatientName:   strings.TrimSpace(req.PatientName),
		Species:       strings.TrimSpace(req.Species),
		Transcription: strings.TrimSpace(req.Transcript),
		Status:        entities.ConsultationStatusProcessing,
	}
	if c.ConsultedAt.IsZero() {
		c.ConsultedAt = now
	}

	for _, a := range req.Attachments {
		if a == nil {
			continue
		}
		if s.cfg.MaxAttachmentBytes > 0 && int64(len(a.Data)) > s.cfg.MaxAttachmentBytes {
			return nil, apperrors.NewValidationError(fmt.Sprintf("attachment %q exceeds %d bytes", a.Name, s.cfg.MaxAttachmentBytes))
		}
		att := *a
		att.ConsultationID = c.ID
		if att.ID == "" {
			att.ID = uuid.NewString()
		}
		if att.CreatedAt.IsZero() {
			att.CreatedAt = now
		}
		if att.SizeBytes == 0 {
			att.SizeBytes = int64(len(att.Data))
		}
		if att.MimeType == "" {
			att.MimeType = "application/octet-stream"
		}
		c.Attachments = append(c.Attachments, att)
	}
	return c, nil
}

func (s *ConsultationService) run(ctx context.Context, c *entities.Consultation, req *UploadRequest) error {
	ctx, span := observability.StartSpan(ctx, "ConsultationService.Ingest")
	defer span.End()

	s.publish(ctx, entities.NewConsultationEvent(c.ID, c.PatientName, entities.ConsultationEventProcessing))

	if err := s.transcribe(ctx, c, req); err != nil {
		s.stepFailed(ctx, c, StepPersist, err)
		observability.RecordError(span, err)
		return err
	}

	s.enrich(ctx, c)
	s.merge(c)

	if c.PatientName == "" {
		err := apperrors.NewValidationError("patient name is required")
		s.stepFailed(ctx, c, StepPersist, err)
		return err
	}
	s.embed(ctx, c)
	c.UniqueTag = c.DeriveUniqueTag()
	if len(c.ProcessingErrors) == 0 {
		c.Status = entities.ConsultationStatusComplete
	} else {
		c.Status = entities.ConsultationStatusPartial
	}

	err := s.repo.Create(ctx, c)
	observability.RecordIngestStep(ctx, s.metrics, StepPersist, err)
	if err != nil {
		s.stepFailed(ctx, c, StepPersist, err)
		observability.RecordError(span, err)
		return err
	}

	observability.LoggerFromContext(ctx).Info().
		Str("consultation_id", c.ID).
		Str("unique_tag", c.UniqueTag).
		Str("status", string(c.Status)).
		Int("processing_errors", len(c.ProcessingErrors)).
		Msg("consultation saved")
	s.publish(ctx, entities.NewConsultationEvent(c.ID, c.PatientName, entities.ConsultationEventSaved))
	return nil
}

// transcribe fills the transcription from audio. A failure is fatal only
// when no typed transcript was supplied.
func (s *ConsultationService) transcribe(ctx context.Context, c *entities.Consultation, req *UploadRequest) error {
	if len(req.Audio) == 0 {
		return nil
	}
	if s.ai == nil {
		s.recordStep(ctx, c, StepTranscribe, apperrors.NewUnavailableError("transcription is not configured", nil))
		return nil
	}

	text, err := s.ai.Transcribe(ctx, bytes.NewReader(req.Audio), req.AudioFilename, req.AudioMimeType)
	if err == nil && strings.TrimSpace(text) == "" {
		err = apperrors.NewExternalError("transcription was empty", nil)
	}
	if err != nil {
		if c.Transcription == "" {
			observability.RecordIngestStep(ctx, s.metrics, StepTranscribe, err)
			s.stepFailed(ctx, c, StepTranscribe, err)
			var appErr *apperrors.AppError
			if !errors.As(err, &appErr) {
				return apperrors.NewExternalError("failed to transcribe audio", err)
			}
			return err
		}
		s.recordStep(ctx, c, StepTranscribe, err)
		return nil
	}

	c.Transcription = strings.TrimSpace(text)
	s.recordStep(ctx, c, StepTranscribe, nil)
	return nil
}

// enrich runs summary and extraction concurrently. Step failures are
// recorded on the consultation and never cancel the other step.
func (s *ConsultationService) enrich(ctx context.Context, c *entities.Consultation) {
	if s.ai == nil {
		unavailable := apperrors.NewUnavailableError("ai gateway is not configured", nil)
		for _, step := range []string{StepSummarize, StepExtract} {
			s.recordStep(ctx, c, step, unavailable)
		}
		return
	}

	transcript := c.Transcription

	var (
		mu         sync.Mutex
		summary    string
		extraction *providers.ExtractionResult
		failures   = map[string]error{}
	)
	fail := func(step string, err error) {
		mu.Lock()
		failures[step] = err
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		out, err := s.ai.Summarize(gctx, transcript)
		if err != nil {
			fail(StepSummarize, err)
			return nil
		}
		summary = strings.TrimSpace(out)
		return nil
	})
	g.Go(func() error {
		out, err := s.ai.Extract(gctx, transcript)
		if err != nil {
			fail(StepExtract, err)
			return nil
		}
		extraction = out
		return nil
	})
	_ = g.Wait()

	for _, step := range []string{StepSummarize, StepExtract} {
		s.recordStep(ctx, c, step, failures[step])
	}

	c.Summary = summary
	if extraction != nil {
		c.ExtractedInfo = extraction.Info
		c.Tags = extraction.Tags
		fillEmpty(&c.VetName, extraction.VetName)
		fillEmpty(&c.OwnerName, extraction.OwnerName)
		fillEmpty(&c.PatientName, extraction.PatientName)
		fillEmpty(&c.Species, extraction.Species)
	}
}

// embed vectorises the merged record. It uses the same text as Update and
// BackfillEmbeddings so the stored hash always describes the saved record.
func (s *ConsultationService) embed(ctx context.Context, c *entities.Consultation) {
	if s.ai == nil {
		s.recordStep(ctx, c, StepEmbed, apperrors.NewUnavailableError("ai gateway is not configured", nil))
		return
	}
	text := c.EmbeddingText()
	vec, err := s.ai.Embed(ctx, text)
	if err == nil && len(vec) == 0 {
		err = apperrors.NewExternalError("embedding was empty", nil)
	}
	s.recordStep(ctx, c, StepEmbed, err)
	if err != nil {
		return
	}
	c.Embedding = vec
	c.EmbeddingModel = s.ai.EmbeddingModel()
	c.ContentHash = contentHash(text)
}

// merge fills remaining gaps from the extracted record and derives tags.
func (s *ConsultationService) merge(c *entities.Consultation) {
	fillEmpty(&c.Species, c.ExtractedInfo.Administrative.Species)
	c.Tags = DeriveTags(c.Tags, c.Species, c.ExtractedInfo.Clinical.Diagnosis)
}

func fillEmpty(dst *string, value string) {
	if *dst == "" {
		*dst = strings.TrimSpace(value)
	}
}

// DeriveTags lower-cases, trims and de-duplicates tags, appends species and
// diagnosis, and caps the result at MaxTags.
func DeriveTags(extracted []string, species, diagnosis string) []string {
	out := make([]string, 0, MaxTags)
	seen := make(map[string]struct{})
	add := func(tag string) {
		tag = strings.Join(strings.Fields(strings.ToLower(tag)), " ")
		if tag == "" || len(tag) > maxTagLength || len(out) >= MaxTags {
			return
		}
		if _, dup := seen[tag]; dup {
			return
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	for _, t := range extracted {
		add(t)
	}
	add(species)
	add(diagnosis)
	return out
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (s *ConsultationService) recordStep(ctx context.Context, c *entities.Consultation, step string, err error) {
	observability.RecordIngestStep(ctx, s.metrics, step, err)
	if err != nil {
		c.ProcessingErrors = append(c.ProcessingErrors, fmt.Sprintf("%s: %v", step, err))
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("consultation_id", c.ID).
			Str("step", step).
			Msg("ingest step failed")
		s.stepFailed(ctx, c, step, err)
		return
	}
	s.publish(ctx, entities.NewConsultationEvent(c.ID, c.PatientName, entities.ConsultationEventStepCompleted).WithStep(step, ""))
}

func (s *ConsultationService) stepFailed(ctx context.Context, c *entities.Consultation, step string, err error) {
	s.publish(ctx, entities.NewConsultationEvent(c.ID, c.PatientName, entities.ConsultationEventStepFailed).WithStep(step, err.Error()))
}

// publish sends event to the consultation's own channel and to the global
// updates channel, and keeps it as the consultation's latest event.
func (s *ConsultationService) publish(ctx context.Context, event *entities.ConsultationEvent) {
	s.rememberEvent(ctx, event)
	if s.eventBus == nil {
		return
	}
	for _, channel := range []string{providers.GetConsultationChannel(event.ConsultationID), providers.EventChannelConsultationUpdates} {
		if err := s.eventBus.Publish(ctx, channel, event); err != nil {
			observability.LoggerFromContext(ctx).Warn().Err(err).
				Str("channel", channel).
				Str("event_type", string(event.EventType)).
				Msg("failed to publish consultation event")
		}
	}
}

func (s *ConsultationService) rememberEvent(ctx context.Context, event *entities.ConsultationEvent) {
	if s.eventCache == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	ttl := int(s.cfg.EventRetention / time.Second)
	if err := s.eventCache.Set(ctx, providers.LastEventCacheKey(event.ConsultationID), data, ttl); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("consultation_id", event.ConsultationID).
			Msg("failed to cache consultation event")
	}
}

// Get retrieves a consultation by ID
func (s *ConsultationService) Get(ctx context.Context, id string) (*entities.Consultation, error) {
	return s.repo.GetByID(ctx, id)
}

// List retrieves consultations for the history view
func (s *ConsultationService) List(ctx context.Context, filter repositories.ConsultationFilter) ([]*entities.Consultation, error) {
	return s.repo.List(ctx, filter)
}

// Update applies history-view edits. The embedding is refreshed when the
// summary or transcription changed and the embedded text no longer matches.
func (s *ConsultationService) Update(ctx context.Context, id string, upd ConsultationUpdate) (*entities.Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	textChanged := false
	set := func(dst *string, v *string) bool {
		if v == nil {
			return false
		}
		nv := strings.TrimSpace(*v)
		changed := nv != *dst
		*dst = nv
		return changed
	}
	set(&c.VetName, upd.VetName)
	set(&c.OwnerName, upd.OwnerName)
	if upd.PatientName != nil && strings.TrimSpace(*upd.PatientName) == "" {
		return nil, apperrors.NewValidationError("patient name cannot be empty")
	}
	set(&c.PatientName, upd.PatientName)
	set(&c.Species, upd.Species)
	if set(&c.Summary, upd.Summary) {
		textChanged = true
	}
	if set(&c.Transcription, upd.Transcription) {
		textChanged = true
	}
	if upd.ExtractedInfo != nil {
		c.ExtractedInfo = *upd.ExtractedInfo
	}
	if upd.Tags != nil {
		c.Tags = DeriveTags(upd.Tags, "", "")
	}
	c.UniqueTag = c.DeriveUniqueTag()
	c.UpdatedAt = s.now().UTC()

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}

	if textChanged {
		s.refreshEmbedding(ctx, c)
	}

	s.publish(ctx, entities.NewConsultationEvent(c.ID, c.PatientName, entities.ConsultationEventUpdated))
	return c, nil
}

func (s *ConsultationService) refreshEmbedding(ctx context.Context, c *entities.Consultation) {
	text := c.EmbeddingText()
	hash := contentHash(text)
	if hash == c.ContentHash || s.ai == nil {
		return
	}
	vec, err := s.ai.Embed(ctx, text)
	if err == nil {
		err = s.repo.UpdateEmbedding(ctx, c.ID, vec, s.ai.EmbeddingModel(), hash)
	}
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("consultation_id", c.ID).
			Msg("failed to refresh embedding")
		return
	}
	c.Embedding = vec
	c.EmbeddingModel = s.ai.EmbeddingModel()
	c.ContentHash = hash
}

// Delete deletes a consultation and its attachments
func (s *ConsultationService) Delete(ctx context.Context, id string) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, entities.NewConsultationEvent(id, c.PatientName, entities.ConsultationEventDeleted))
	return nil
}

// GetAttachment returns one attachment with its payload
func (s *ConsultationService) GetAttachment(ctx context.Context, consultationID, attachmentID string) (*entities.Attachment, error) {
	return s.attachments.GetByID(ctx, consultationID, attachmentID)
}

// BackfillResult summarises one backfill run.
type BackfillResult struct {
	Processed int
	Failed    int
}

// BackfillEmbeddings embeds up to limit consultations that have no vector,
// using the given number of workers.
func (s *ConsultationService) BackfillEmbeddings(ctx context.Context, workers, limit int) (BackfillResult, error) {
	if s.ai == nil {
		return BackfillResult{}, apperrors.NewUnavailableError("ai gateway is not configured", nil)
	}
	if workers <= 0 {
		workers = 4
	}

	pending, err := s.repo.ListMissingEmbeddings(ctx, limit)
	if err != nil {
		return BackfillResult{}, err
	}

	jobs := make(chan *entities.Consultation)
	var (
		mu     sync.Mutex
		result BackfillResult
	)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for c := range jobs {
				text := c.EmbeddingText()
				vec, err := s.ai.Embed(gctx, text)
				if err == nil {
					err = s.repo.UpdateEmbedding(gctx, c.ID, vec, s.ai.EmbeddingModel(), contentHash(text))
				}
				mu.Lock()
				if err != nil {
					result.Failed++
					observability.LoggerFromContext(gctx).Warn().Err(err).
						Str("consultation_id", c.ID).
						Msg("backfill embedding failed")
				} else {
					result.Processed++
				}
				mu.Unlock()
			}
			return nil
		})
	}

	go func() {
		defer close(jobs)
		for _, c := range pending {
			select {
			case jobs <- c:
			case <-gctx.Done():
				return
			}
		}
	}()

	_ = g.Wait()
	return result, ctx.Err()
}
