package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
	"github.com/vetai/backend/internal/domain/repositories"
	"github.com/vetai/backend/internal/graph"
	"github.com/vetai/backend/internal/infrastructure/observability"
	apperrors "github.com/vetai/backend/pkg/errors"
)

const defaultGraphCacheTTL = 600

// GraphOptions controls the per-request view of a patient graph.
type GraphOptions struct {
	Filter string
	Layout bool
}

// GraphService builds patient knowledge graphs
type GraphService struct {
	repo     repositories.ConsultationRepository
	ai       providers.AIGateway
	cache    providers.CacheProvider
	metrics  *observability.Metrics
	cacheTTL int
	useLLM   bool
	layout   graph.LayoutOptions
}

// NewGraphService creates a new graph service. ai and cache may be nil.
func NewGraphService(
	repo repositories.ConsultationRepository,
	ai providers.AIGateway,
	cache providers.CacheProvider,
	metrics *observability.Metrics,
	cacheTTLSeconds int,
	useLLM bool,
) *GraphService {
	if cacheTTLSeconds <= 0 {
		cacheTTLSeconds = defaultGraphCacheTTL
	}
	return &GraphService{
		repo:     repo,
		ai:       ai,
		cache:    cache,
		metrics:  metrics,
		cacheTTL: cacheTTLSeconds,
		useLLM:   useLLM,
		layout:   graph.DefaultLayoutOptions(),
	}
}

// PatientGraph returns the knowledge graph for one patient. A patient with
// no consultations gets an empty graph.
func (s *GraphService) PatientGraph(ctx context.Context, patientName string, opts GraphOptions) (*entities.KnowledgeGraphData, error) {
	patientName = strings.TrimSpace(patientName)
	if patientName == "" {
		return nil, apperrors.NewValidationError("patient name is required")
	}

	ctx, span := observability.StartSpan(ctx, "GraphService.PatientGraph")
	defer span.End()

	consultations, err := s.repo.List(ctx, repositories.ConsultationFilter{
		PatientName: patientName,
		Limit:       repositories.MaxConsultationLimit,
	})
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if len(consultations) == 0 {
		return entities.EmptyGraph(), nil
	}

	key := providers.GraphCacheKey(entities.NormalizePatientName(patientName), graphFingerprint(consultations))
	g, ok := s.cached(ctx, key)
	if !ok {
		g = s.build(ctx, patientName, consultations)
		s.store(ctx, key, g)
	}

	graph.ApplyFilter(g, opts.Filter)
	if opts.Layout {
		graph.Layout(g, s.layout)
	}
	return g, nil
}

func (s *GraphService) build(ctx context.Context, patientName string, consultations []*entities.Consultation) *entities.KnowledgeGraphData {
	chronological := make([]*entities.Consultation, len(consultations))
	copy(chronological, consultations)
	sort.SliceStable(chronological, func(i, j int) bool {
		return chronological[i].VisitDate() < chronological[j].VisitDate()
	})

	if s.useLLM && s.ai != nil {
		raw, err := s.ai.BuildGraph(ctx, patientName, chronological)
		if err == nil {
			g := graph.Sanitize(raw)
			if len(g.Nodes) > 0 {
				g.Source = entities.GraphSourceLLM
				g.ConsultationCount = len(consultations)
				return g
			}
			err = apperrors.NewExternalError("language model returned an empty graph", nil)
		}
		observability.LoggerFromContext(ctx).Warn().Err(err).
			Str("patient", patientName).
			Msg("llm graph failed, using structured graph")
	}

	g := graph.Sanitize(graph.BuildStructured(patientName, chronological))
	g.Source = entities.GraphSourceStructured
	g.ConsultationCount = len(consultations)
	return g
}

func (s *GraphService) cached(ctx context.Context, key string) (*entities.KnowledgeGraphData, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.RecordCacheResult(ctx, s.metrics, "graph", false)
		return nil, false
	}
	var g entities.KnowledgeGraphData
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, false
	}
	observability.RecordCacheResult(ctx, s.metrics, "graph", true)
	return &g, true
}

func (s *GraphService) store(ctx context.Context, key string, g *entities.KnowledgeGraphData) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(g)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Str("key", key).Msg("failed to cache graph")
	}
}

// graphFingerprint changes whenever a consultation is added, removed or edited.
func graphFingerprint(consultations []*entities.Consultation) string {
	parts := make([]string, 0, len(consultations))
	for _, c := range consultations {
		parts = append(parts, c.ID+"@"+c.UpdatedAt.UTC().Format(time.RFC3339Nano))
	}
	sort.Strings(parts)
	sum := sha256.Sum256([]byte(strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:8])
}
