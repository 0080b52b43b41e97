package services_test

import (
	"context"
	"io"

	"github.com/stretchr/testify/mock"

	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
	"github.com/vetai/backend/internal/domain/repositories"
)

type MockConsultationRepository struct {
	mock.Mock
}

func (m *MockConsultationRepository) Create(ctx context.Context, consultation *entities.Consultation) error {
	args := m.Called(ctx, consultation)
	return args.Error(0)
}

func (m *MockConsultationRepository) GetByID(ctx context.Context, id string) (*entities.Consultation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Consultation), args.Error(1)
}

func (m *MockConsultationRepository) List(ctx context.Context, filter repositories.ConsultationFilter) ([]*entities.Consultation, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Consultation), args.Error(1)
}

func (m *MockConsultationRepository) Update(ctx context.Context, consultation *entities.Consultation) error {
	args := m.Called(ctx, consultation)
	return args.Error(0)
}

func (m *MockConsultationRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockConsultationRepository) Match(ctx context.Context, embedding []float32, threshold float64, limit int) ([]*entities.ConsultationMatch, error) {
	args := m.Called(ctx, embedding, threshold, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.ConsultationMatch), args.Error(1)
}

func (m *MockConsultationRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]*entities.Consultation, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Consultation), args.Error(1)
}

func (m *MockConsultationRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32, model, contentHash string) error {
	args := m.Called(ctx, id, embedding, model, contentHash)
	return args.Error(0)
}

func (m *MockConsultationRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockAttachmentRepository struct {
	mock.Mock
}

func (m *MockAttachmentRepository) ListByConsultation(ctx context.Context, consultationID string) ([]*entities.Attachment, error) {
	args := m.Called(ctx, consultationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entities.Attachment), args.Error(1)
}

func (m *MockAttachmentRepository) GetByID(ctx context.Context, consultationID, attachmentID string) (*entities.Attachment, error) {
	args := m.Called(ctx, consultationID, attachmentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Attachment), args.Error(1)
}

type MockAIGateway struct {
	mock.Mock
}

func (m *MockAIGateway) Transcribe(ctx context.Context, audio io.Reader, filename, mimeType string) (string, error) {
	args := m.Called(ctx, audio, filename, mimeType)
	return args.String(0), args.Error(1)
}

func (m *MockAIGateway) Summarize(ctx context.Context, transcript string) (string, error) {
	args := m.Called(ctx, transcript)
	return args.String(0), args.Error(1)
}

func (m *MockAIGateway) Extract(ctx context.Context, transcript string) (*providers.ExtractionResult, error) {
	args := m.Called(ctx, transcript)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.ExtractionResult), args.Error(1)
}

func (m *MockAIGateway) BuildGraph(ctx context.Context, patientName string, consultations []*entities.Consultation) (*entities.KnowledgeGraphData, error) {
	args := m.Called(ctx, patientName, consultations)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.KnowledgeGraphData), args.Error(1)
}

func (m *MockAIGateway) AnswerFromContext(ctx context.Context, question, contextText string) (string, error) {
	args := m.Called(ctx, question, contextText)
	return args.String(0), args.Error(1)
}

func (m *MockAIGateway) SearchByPrompt(ctx context.Context, query string, candidates []entities.SearchCandidate) ([]string, error) {
	args := m.Called(ctx, query, candidates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockAIGateway) ExecutiveSummary(ctx context.Context, consultations []*entities.Consultation) (string, error) {
	args := m.Called(ctx, consultations)
	return args.String(0), args.Error(1)
}

func (m *MockAIGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

func (m *MockAIGateway) EmbeddingModel() string {
	args := m.Called()
	return args.String(0)
}

// fakeStrategy is a scripted search tier.
type fakeStrategy struct {
	name  string
	hits  []entities.SearchHit
	err   error
	calls int
	block chan struct{}
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Search(ctx context.Context, _ string, _ []*entities.Consultation) ([]entities.SearchHit, error) {
	f.calls++
	if f.block != nil {
		close(f.block)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.hits, f.err
}
