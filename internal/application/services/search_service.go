package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"

	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
	"github.com/vetai/backend/internal/domain/repositories"
	"github.com/vetai/backend/internal/infrastructure/observability"
	apperrors "github.com/vetai/backend/pkg/errors"
)

// Search tier names.
const (
	TierEmbedding = "embedding"
	TierPrompt    = "prompt"
)

// Search defaults.
const (
	DefaultSimilarityThreshold = 0.7
	DefaultSearchLimit         = 20
	DefaultPromptCandidates    = 100
	promptSummaryLimit         = 200
	promptCacheTTLSeconds      = 300
)

// SearchStrategy is one tier of the consultation search.
type SearchStrategy interface {
	Name() string
	Search(ctx context.Context, query string, candidates []*entities.Consultation) ([]entities.SearchHit, error)
}

// EmbeddingSearchStrategy ranks candidates by the dot product of their
// stored unit vectors with the query vector.
type EmbeddingSearchStrategy struct {
	ai        providers.AIGateway
	threshold float64
}

// NewEmbeddingSearchStrategy creates the embedding tier
func NewEmbeddingSearchStrategy(ai providers.AIGateway, threshold float64) *EmbeddingSearchStrategy {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &EmbeddingSearchStrategy{ai: ai, threshold: threshold}
}

func (s *EmbeddingSearchStrategy) Name() string { return TierEmbedding }

func (s *EmbeddingSearchStrategy) Search(ctx context.Context, query string, candidates []*entities.Consultation) ([]entities.SearchHit, error) {
	if s.ai == nil {
		return nil, apperrors.NewUnavailableError("embedding search is not configured", nil)
	}
	vec, err := s.ai.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits := make([]entities.SearchHit, 0)
	for _, c := range candidates {
		if len(c.Embedding) != len(vec) {
			continue
		}
		score := dot(vec, c.Embedding)
		if score < s.threshold {
			continue
		}
		hits = append(hits, entities.SearchHit{Consultation: c, Score: &score})
	}
	sort.SliceStable(hits, func(i, j int) bool { return *hits[i].Score > *hits[j].Score })
	return hits, nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// PromptSearchStrategy asks the language model to pick matching records from
// compact digests. Answers are cached per query and candidate set.
type PromptSearchStrategy struct {
	ai            providers.AIGateway
	cache         providers.CacheProvider
	metrics       *observability.Metrics
	maxCandidates int
}

// NewPromptSearchStrategy creates the prompt tier. cache may be nil.
func NewPromptSearchStrategy(ai providers.AIGateway, cache providers.CacheProvider, metrics *observability.Metrics, maxCandidates int) *PromptSearchStrategy {
	if maxCandidates <= 0 {
		maxCandidates = DefaultPromptCandidates
	}
	return &PromptSearchStrategy{ai: ai, cache: cache, metrics: metrics, maxCandidates: maxCandidates}
}

func (s *PromptSearchStrategy) Name() string { return TierPrompt }

func (s *PromptSearchStrategy) Search(ctx context.Context, query string, candidates []*entities.Consultation) ([]entities.SearchHit, error) {
	if s.ai == nil {
		return nil, apperrors.NewUnavailableError("prompt search is not configured", nil)
	}
	if len(candidates) > s.maxCandidates {
		candidates = candidates[:s.maxCandidates]
	}
	if len(candidates) == 0 {
		return []entities.SearchHit{}, nil
	}

	byID := make(map[string]*entities.Consultation, len(candidates))
	digests := make([]entities.SearchCandidate, 0, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
		digests = append(digests, c.Candidate(promptSummaryLimit))
	}

	key := promptCacheKey(query, candidates)
	ids, cached := s.cachedIDs(ctx, key)
	if !cached {
		var err error
		ids, err = s.ai.SearchByPrompt(ctx, query, digests)
		if err != nil {
			return nil, err
		}
		s.storeIDs(ctx, key, ids)
	}

	hits := make([]entities.SearchHit, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		hits = append(hits, entities.SearchHit{Consultation: c})
	}
	return hits, nil
}

func (s *PromptSearchStrategy) cachedIDs(ctx context.Context, key string) ([]string, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		observability.RecordCacheResult(ctx, s.metrics, "search_prompt", false)
		return nil, false
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false
	}
	observability.RecordCacheResult(ctx, s.metrics, "search_prompt", true)
	return ids, true
}

func (s *PromptSearchStrategy) storeIDs(ctx context.Context, key string, ids []string) {
	if s.cache == nil {
		return
	}
	if ids == nil {
		ids = []string{}
	}
	data, _ := json.Marshal(ids)
	if err := s.cache.Set(ctx, key, data, promptCacheTTLSeconds); err != nil {
		observability.LoggerFromContext(ctx).Warn().Err(err).Msg("failed to cache prompt search result")
	}
}

func promptCacheKey(query string, candidates []*entities.Consultation) string {
	h := sha256.New()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(query))))
	for _, c := range candidates {
		h.Write([]byte{0})
		h.Write([]byte(c.ID))
		h.Write([]byte(c.UpdatedAt.UTC().String()))
	}
	return providers.CacheKeyPromptSearchPrefix + hex.EncodeToString(h.Sum(nil))
}

// SearchService runs the search tiers in precedence order
type SearchService struct {
	repo         repositories.ConsultationRepository
	strategies   []SearchStrategy
	guard        *RequestGuard
	metrics      *observability.Metrics
	defaultLimit int
}

// NewSearchService creates a search service. Strategies are tried in the order given.
func NewSearchService(repo repositories.ConsultationRepository, guard *RequestGuard, metrics *observability.Metrics, defaultLimit int, strategies ...SearchStrategy) *SearchService {
	if defaultLimit <= 0 {
		defaultLimit = DefaultSearchLimit
	}
	if guard == nil {
		guard = NewRequestGuard()
	}
	return &SearchService{
		repo:         repo,
		strategies:   strategies,
		guard:        guard,
		metrics:      metrics,
		defaultLimit: defaultLimit,
	}
}

// Search returns the hits of the first tier that finds anything. A failing
// tier counts as empty; when every tier fails the last error is returned.
func (s *SearchService) Search(ctx context.Context, query string, limit int) (*entities.SearchOutcome, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperrors.NewValidationError("query is required")
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}

	ctx, span := observability.StartSpan(ctx, "SearchService.Search")
	defer span.End()

	candidates, err := s.loadCandidates(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	outcome := &entities.SearchOutcome{Query: query, Hits: []entities.SearchHit{}}
	var lastErr error
	failures := 0
	for _, strategy := range s.strategies {
		hits, err := strategy.Search(ctx, query, candidates)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			failures++
			lastErr = err
			observability.LoggerFromContext(ctx).Warn().Err(err).
				Str("tier", strategy.Name()).
				Msg("search tier failed")
			continue
		}
		if len(hits) == 0 {
			continue
		}
		if len(hits) > limit {
			hits = hits[:limit]
		}
		outcome.Tier = strategy.Name()
		outcome.Hits = hits
		observability.RecordSearchTier(ctx, s.metrics, outcome.Tier, len(hits))
		return outcome, nil
	}

	if failures > 0 && failures == len(s.strategies) {
		observability.RecordError(span, lastErr)
		return nil, lastErr
	}
	observability.RecordSearchTier(ctx, s.metrics, "none", 0)
	return outcome, nil
}

// loadCandidates pages through every consultation, newest first, with vectors.
func (s *SearchService) loadCandidates(ctx context.Context) ([]*entities.Consultation, error) {
	var all []*entities.Consultation
	for offset := 0; ; offset += repositories.MaxConsultationLimit {
		page, err := s.repo.List(ctx, repositories.ConsultationFilter{
			Limit:             repositories.MaxConsultationLimit,
			Offset:            offset,
			IncludeEmbeddings: true,
		})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < repositories.MaxConsultationLimit {
			return all, nil
		}
	}
}

// SearchForClient runs Search under the client's request guard. A search
// replaced by a newer one from the same client returns CONFLICT.
func (s *SearchService) SearchForClient(ctx context.Context, clientID, query string, limit int) (*entities.SearchOutcome, error) {
	req := s.guard.Begin(ctx, clientID)
	defer req.Done()

	outcome, err := s.Search(req.Context(), query, limit)
	if req.Superseded() {
		return nil, apperrors.NewConflictError("search superseded by a newer request")
	}
	return outcome, err
}

// Guard returns the request guard shared by this service's client searches.
func (s *SearchService) Guard() *RequestGuard {
	return s.guard
}
