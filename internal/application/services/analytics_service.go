package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
	"github.com/vetai/backend/internal/domain/repositories"
	"github.com/vetai/backend/internal/infrastructure/observability"
	apperrors "github.com/vetai/backend/pkg/errors"
)

// Analytics limits.
const (
	analyticsCacheTTLSeconds   = 60
	topDiagnosesLimit          = 10
	MaxExecutiveConsultations  = 50
	unknownBucket              = "unknown"
	noConsultationsExecSummary = "No consultations found for the selected period."
)

// AnalyticsFilter narrows the consultations an analytics view covers.
type AnalyticsFilter struct {
	From        *time.Time `json:"from,omitempty"`
	To          *time.Time `json:"to,omitempty"`
	Species     string     `json:"species,omitempty"`
	VetName     string     `json:"vet_name,omitempty"`
	PatientName string     `json:"patient_name,omitempty"`
}

func (f AnalyticsFilter) consultationFilter(limit, offset int) repositories.ConsultationFilter {
	return repositories.ConsultationFilter{
		PatientName: f.PatientName,
		VetName:     f.VetName,
		Species:     f.Species,
		From:        f.From,
		To:          f.To,
		Limit:       limit,
		Offset:      offset,
	}
}

func (f AnalyticsFilter) cacheKey() string {
	data, _ := json.Marshal(f)
	sum := sha256.Sum256(data)
	return providers.CacheKeyAnalyticsPrefix + "summary:" + hex.EncodeToString(sum[:8])
}

// AnalyticsService aggregates the consultation history
type AnalyticsService struct {
	repo    repositories.ConsultationRepository
	ai      providers.AIGateway
	cache   providers.CacheProvider
	metrics *observability.Metrics
}

// NewAnalyticsService creates a new analytics service. ai and cache may be nil.
func NewAnalyticsService(repo repositories.ConsultationRepository, ai providers.AIGateway, cache providers.CacheProvider, metrics *observability.Metrics) *AnalyticsService {
	return &AnalyticsService{repo: repo, ai: ai, cache: cache, metrics: metrics}
}

// Summary returns the aggregate counts for the filtered consultations
func (s *AnalyticsService) Summary(ctx context.Context, filter AnalyticsFilter) (*entities.AnalyticsSummary, error) {
	key := filter.cacheKey()
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, key); err == nil {
			var summary entities.AnalyticsSummary
			if json.Unmarshal(data, &summary) == nil {
				observability.RecordCacheResult(ctx, s.metrics, "analytics", true)
				return &summary, nil
			}
		}
		observability.RecordCacheResult(ctx, s.metrics, "analytics", false)
	}

	consultations, err := s.loadAll(ctx, filter)
	if err != nil {
		return nil, err
	}
	summary := Aggregate(consultations)

	if s.cache != nil {
		if data, err := json.Marshal(summary); err == nil {
			if err := s.cache.Set(ctx, key, data, analyticsCacheTTLSeconds); err != nil {
				observability.LoggerFromContext(ctx).Warn().Err(err).Msg("failed to cache analytics summary")
			}
		}
	}
	return summary, nil
}

func (s *AnalyticsService) loadAll(ctx context.Context, filter AnalyticsFilter) ([]*entities.Consultation, error) {
	var all []*entities.Consultation
	for offset := 0; ; offset += repositories.MaxConsultationLimit {
		page, err := s.repo.List(ctx, filter.consultationFilter(repositories.MaxConsultationLimit, offset))
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < repositories.MaxConsultationLimit {
			return all, nil
		}
	}
}

// Aggregate computes the analytics counts over consultations.
func Aggregate(consultations []*entities.Consultation) *entities.AnalyticsSummary {
	species := map[string]int{}
	vets := map[string]int{}
	months := map[string]int{}
	diagnoses := map[string]int{}
	patients := map[string]struct{}{}

	summary := &entities.AnalyticsSummary{TotalConsultations: len(consultations)}
	for _, c := range consultations {
		patients[entities.NormalizePatientName(c.PatientName)] = struct{}{}
		species[bucket(c.Species)]++
		vets[bucket(c.VetName)]++
		if date := c.VisitDate(); len(date) >= 7 {
			months[date[:7]]++
		}
		if d := strings.ToLower(strings.TrimSpace(c.ExtractedInfo.Clinical.Diagnosis)); d != "" {
			diagnoses[d]++
		}
		if c.EmbeddingModel != "" {
			summary.EmbeddedCount++
		}
		if c.Status == entities.ConsultationStatusPartial {
			summary.PartialCount++
		}
	}

	summary.UniquePatients = len(patients)
	summary.BySpecies = byCount(species, 0)
	summary.ByVet = byCount(vets, 0)
	summary.TopDiagnoses = byCount(diagnoses, topDiagnosesLimit)
	summary.ByMonth = make([]entities.CountEntry, 0, len(months))
	for k, v := range months {
		summary.ByMonth = append(summary.ByMonth, entities.CountEntry{Key: k, Count: v})
	}
	sort.Slice(summary.ByMonth, func(i, j int) bool { return summary.ByMonth[i].Key < summary.ByMonth[j].Key })
	return summary
}

func bucket(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return unknownBucket
	}
	return v
}

func byCount(counts map[string]int, limit int) []entities.CountEntry {
	out := make([]entities.CountEntry, 0, len(counts))
	for k, v := range counts {
		out = append(out, entities.CountEntry{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ExecutiveSummary asks the language model for a narrative over the newest
// filtered consultations.
func (s *AnalyticsService) ExecutiveSummary(ctx context.Context, filter AnalyticsFilter) (*entities.ExecutiveSummary, error) {
	if s.ai == nil {
		return nil, apperrors.NewUnavailableError("executive summary is not configured", nil)
	}
	consultations, err := s.repo.List(ctx, filter.consultationFilter(MaxExecutiveConsultations, 0))
	if err != nil {
		return nil, err
	}
	if len(consultations) == 0 {
		return &entities.ExecutiveSummary{Summary: noConsultationsExecSummary}, nil
	}

	text, err := s.ai.ExecutiveSummary(ctx, consultations)
	if err != nil {
		return nil, fmt.Errorf("executive summary: %w", err)
	}
	return &entities.ExecutiveSummary{
		Summary:           strings.TrimSpace(text),
		ConsultationCount: len(consultations),
	}, nil
}
