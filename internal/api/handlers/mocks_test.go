package handlers_test

import (
	"context"
	"errors"

	"github.com/stretchr/testify/mock"

	"github.com/vetai/backend/internal/application/services"
	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/repositories"
)

type MockConsultationService struct {
	mock.Mock
}

func (m *MockConsultationService) Ingest(ctx context.Context, req *services.UploadRequest) (*entities.Consultation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Consultation), args.Error(1)
}

func (m *MockConsultationService) IngestAsync(ctx context.Context, req *services.UploadRequest) (*entities.Consultation, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Consultation), args.Error(1)
}

func (m *MockConsultationService) Get(ctx context.Context, id string) (*entities.Consultation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Consultation), args.Error(1)
}

func (m *MockConsultationService) List(ctx context.Context, filter repositories.ConsultationFilter) ([]*entities.Consultation, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Consultation), args.Error(1)
}

func (m *MockConsultationService) Update(ctx context.Context, id string, upd services.ConsultationUpdate) (*entities.Consultation, error) {
	args := m.Called(ctx, id, upd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Consultation), args.Error(1)
}

func (m *MockConsultationService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockConsultationService) GetAttachment(ctx context.Context, consultationID, attachmentID string) (*entities.Attachment, error) {
	args := m.Called(ctx, consultationID, attachmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Attachment), args.Error(1)
}

type MockSearchService struct {
	mock.Mock
}

func (m *MockSearchService) Search(ctx context.Context, query string, limit int) (*entities.SearchOutcome, error) {
	args := m.Called(ctx, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SearchOutcome), args.Error(1)
}

func (m *MockSearchService) SearchForClient(ctx context.Context, clientID, query string, limit int) (*entities.SearchOutcome, error) {
	args := m.Called(ctx, clientID, query, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.SearchOutcome), args.Error(1)
}

type MockGraphService struct {
	mock.Mock
}

func (m *MockGraphService) PatientGraph(ctx context.Context, patientName string, opts services.GraphOptions) (*entities.KnowledgeGraphData, error) {
	args := m.Called(ctx, patientName, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.KnowledgeGraphData), args.Error(1)
}

type MockAssistantService struct {
	mock.Mock
}

func (m *MockAssistantService) Ask(ctx context.Context, question string, contextLimit int) (*entities.AssistantAnswer, error) {
	args := m.Called(ctx, question, contextLimit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.AssistantAnswer), args.Error(1)
}

type MockAnalyticsService struct {
	mock.Mock
}

func (m *MockAnalyticsService) Summary(ctx context.Context, filter services.AnalyticsFilter) (*entities.AnalyticsSummary, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.AnalyticsSummary), args.Error(1)
}

func (m *MockAnalyticsService) ExecutiveSummary(ctx context.Context, filter services.AnalyticsFilter) (*entities.ExecutiveSummary, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.ExecutiveSummary), args.Error(1)
}

type fakePinger struct {
	down bool
}

func (p fakePinger) Ping(context.Context) error {
	if p.down {
		return errors.New("connection refused")
	}
	return nil
}
