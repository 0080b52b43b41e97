package services

import (
	"context"
	"strings"

	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
	"github.com/vetai/backend/internal/domain/repositories"
	"github.com/vetai/backend/internal/infrastructure/observability"
	apperrors "github.com/vetai/backend/pkg/errors"
)

// NoInformationAnswer is returned when no consultation is relevant to a question.
const NoInformationAnswer = "No relevant information found in the consultation records."

// Assistant context limits.
const (
	DefaultAssistantContext = 5
	MaxAssistantContext     = 20
	DefaultMatchThreshold   = 0.5
	contextSeparator        = "\n\n---\n\n"
)

// AssistantService answers questions from the consultation records
type AssistantService struct {
	repo           repositories.ConsultationRepository
	ai             providers.AIGateway
	matchThreshold float64
}

// NewAssistantService creates a new assistant service
func NewAssistantService(repo repositories.ConsultationRepository, ai providers.AIGateway, matchThreshold float64) *AssistantService {
	if matchThreshold <= 0 {
		matchThreshold = DefaultMatchThreshold
	}
	return &AssistantService{repo: repo, ai: ai, matchThreshold: matchThreshold}
}

// Ask retrieves the consultations closest to question and answers from them.
// When the question cannot be embedded the most recent consultations are used.
func (s *AssistantService) Ask(ctx context.Context, question string, contextLimit int) (*entities.AssistantAnswer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, apperrors.NewValidationError("question is required")
	}
	if s.ai == nil {
		return nil, apperrors.NewUnavailableError("assistant is not configured", nil)
	}
	switch {
	case contextLimit <= 0:
		contextLimit = DefaultAssistantContext
	case contextLimit > MaxAssistantContext:
		contextLimit = MaxAssistantContext
	}

	ctx, span := observability.StartSpan(ctx, "AssistantService.Ask")
	defer span.End()

	consultations, err := s.retrieve(ctx, question, contextLimit)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	result := &entities.AssistantAnswer{
		Question: question,
		Sources:  []string{},
		Context:  []entities.SearchCandidate{},
	}
	if len(consultations) == 0 {
		result.Answer = NoInformationAnswer
		return result, nil
	}

	episodes := make([]string, 0, len(consultations))
	for _, c := range consultations {
		episodes = append(episodes, c.EpisodeText())
		result.Sources = append(result.Sources, c.ID)
		result.Context = append(result.Context, c.Candidate(promptSummaryLimit))
	}

	answer, err := s.ai.AnswerFromContext(ctx, question, strings.Join(episodes, contextSeparator))
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	result.Answer = strings.TrimSpace(answer)
	return result, nil
}

func (s *AssistantService) retrieve(ctx context.Context, question string, limit int) ([]*entities.Consultation, error) {
	vec, err := s.ai.Embed(ctx, question)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Msg("question embedding failed, using recent consultations")
		return s.repo.List(ctx, repositories.ConsultationFilter{Limit: limit})
	}

	matches, err := s.repo.Match(ctx, vec, s.matchThreshold, limit)
	if err != nil {
		return nil, err
	}
	out := make([]*entities.Consultation, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.Consultation)
	}
	return out, nil
}
