package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vetai/backend/internal/adapters/cache"
	"github.com/vetai/backend/internal/application/services"
	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/repositories"
	apperrors "github.com/vetai/backend/pkg/errors"
)

func analyticsFixture() []*entities.Consultation {
	at := func(month time.Month, day int) time.Time { return time.Date(2025, month, day, 9, 0, 0, 0, time.UTC) }
	diag := func(d string) entities.ExtractedInfo {
		return entities.ExtractedInfo{Clinical: entities.ClinicalInfo{Diagnosis: d}}
	}
	return []*entities.Consultation{
		{PatientName: "Max", Species: "Dog", VetName: "Dr. Smith", ConsultedAt: at(1, 6), ExtractedInfo: diag("Otitis"), EmbeddingModel: "m", Status: entities.ConsultationStatusComplete},
		{PatientName: "max ", Species: "dog", VetName: "Dr. Smith", ConsultedAt: at(1, 20), ExtractedInfo: diag("otitis "), EmbeddingModel: "m", Status: entities.ConsultationStatusComplete},
		{PatientName: "Luna", Species: "Cat", VetName: "Dr. Jones", ConsultedAt: at(2, 3), ExtractedInfo: diag("Hyperthyroidism"), Status: entities.ConsultationStatusPartial},
		{PatientName: "Rex", ConsultedAt: at(2, 14)},
	}
}

func TestAggregate(t *testing.T) {
	summary := services.Aggregate(analyticsFixture())

	assert.Equal(t, 4, summary.TotalConsultations)
	assert.Equal(t, 3, summary.UniquePatients)
	assert.Equal(t, []entities.CountEntry{{Key: "dog", Count: 2}, {Key: "cat", Count: 1}, {Key: "unknown", Count: 1}}, summary.BySpecies)
	assert.Equal(t, []entities.CountEntry{{Key: "dr. smith", Count: 2}, {Key: "dr. jones", Count: 1}, {Key: "unknown", Count: 1}}, summary.ByVet)
	assert.Equal(t, []entities.CountEntry{{Key: "2025-01", Count: 2}, {Key: "2025-02", Count: 2}}, summary.ByMonth)
	assert.Equal(t, []entities.CountEntry{{Key: "otitis", Count: 2}, {Key: "hyperthyroidism", Count: 1}}, summary.TopDiagnoses)
	assert.Equal(t, 2, summary.EmbeddedCount)
	assert.Equal(t, 1, summary.PartialCount)
}

func TestAnalyticsService_Summary_Cached(t *testing.T) {
	repo := new(MockConsultationRepository)
	service := services.NewAnalyticsService(repo, nil, cache.NewMemoryAdapter(), nil)

	repo.On("List", mock.Anything, repositories.ConsultationFilter{Species: "dog", Limit: repositories.MaxConsultationLimit}).
		Return(analyticsFixture()[:2], nil).Once()

	first, err := service.Summary(context.Background(), services.AnalyticsFilter{Species: "dog"})
	require.NoError(t, err)
	second, err := service.Summary(context.Background(), services.AnalyticsFilter{Species: "dog"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 2, second.TotalConsultations)
	repo.AssertNumberOfCalls(t, "List", 1)
}

func TestAnalyticsService_ExecutiveSummary(t *testing.T) {
	t.Run("summarises the newest consultations", func(t *testing.T) {
		repo := new(MockConsultationRepository)
		ai := new(MockAIGateway)
		service := services.NewAnalyticsService(repo, ai, nil, nil)

		fixture := analyticsFixture()
		repo.On("List", mock.Anything, repositories.ConsultationFilter{Limit: services.MaxExecutiveConsultations}).Return(fixture, nil)
		ai.On("ExecutiveSummary", mock.Anything, fixture).Return("Busy month for ear problems.\n", nil)

		summary, err := service.ExecutiveSummary(context.Background(), services.AnalyticsFilter{})

		require.NoError(t, err)
		assert.Equal(t, "Busy month for ear problems.", summary.Summary)
		assert.Equal(t, 4, summary.ConsultationCount)
	})

	t.Run("no consultations skips the model", func(t *testing.T) {
		repo := new(MockConsultationRepository)
		ai := new(MockAIGateway)
		service := services.NewAnalyticsService(repo, ai, nil, nil)

		repo.On("List", mock.Anything, mock.Anything).Return([]*entities.Consultation{}, nil)

		summary, err := service.ExecutiveSummary(context.Background(), services.AnalyticsFilter{})

		require.NoError(t, err)
		assert.Equal(t, 0, summary.ConsultationCount)
		assert.NotEmpty(t, summary.Summary)
		ai.AssertNotCalled(t, "ExecutiveSummary", mock.Anything, mock.Anything)
	})

	t.Run("gateway is required", func(t *testing.T) {
		service := services.NewAnalyticsService(new(MockConsultationRepository), nil, nil, nil)
		_, err := service.ExecutiveSummary(context.Background(), services.AnalyticsFilter{})
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeUnavailable))
	})
}
