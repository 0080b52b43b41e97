package providers

import (
	"context"
	"io"

	"github.com/vetai/backend/internal/domain/entities"
)

// ExtractionResult is what the extraction prompt returns for one transcript.
type ExtractionResult struct {
	Info        entities.ExtractedInfo `json:"extracted_info"`
	Tags        []string               `json:"tags"`
	VetName     string                 `json:"vet_name"`
	OwnerName   string                 `json:"owner_name"`
	PatientName string                 `json:"patient_name"`
	Species     string                 `json:"species"`
}

// AIGateway is the hosted language-model provider used by every service.
type AIGateway interface {
	// Transcribe converts consultation audio to text
	Transcribe(ctx context.Context, audio io.Reader, filename, mimeType string) (string, error)

	// Summarize produces a short clinical summary of a transcript
	Summarize(ctx context.Context, transcript string) (string, error)

	// Extract pulls structured fields out of a transcript
	Extract(ctx context.Context, transcript string) (*ExtractionResult, error)

	// BuildGraph asks the model for a knowledge graph over a patient's history
	BuildGraph(ctx context.Context, patientName string, consultations []*entities.Consultation) (*entities.KnowledgeGraphData, error)

	// AnswerFromContext answers a question using only the supplied record text
	AnswerFromContext(ctx context.Context, question, contextText string) (string, error)

	// SearchByPrompt returns the ids of candidates the model judges relevant, best first
	SearchByPrompt(ctx context.Context, query string, candidates []entities.SearchCandidate) ([]string, error)

	// ExecutiveSummary writes a narrative overview of many consultations
	ExecutiveSummary(ctx context.Context, consultations []*entities.Consultation) (string, error)

	// Embed returns an L2-normalised embedding of the configured dimension
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbeddingModel names the model vectors are produced with
	EmbeddingModel() string
}
