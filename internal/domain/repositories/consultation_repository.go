package repositories

import (
	"context"
	"time"

	"github.com/vetai/backend/internal/domain/entities"
)

// ConsultationRepository defines the interface for consultation data operations
type ConsultationRepository interface {
	// Create inserts a consultation and its attachments atomically
	Create(ctx context.Context, consultation *entities.Consultation) error

	// GetByID retrieves a consultation with attachment metadata
	GetByID(ctx context.Context, id string) (*entities.Consultation, error)

	// List retrieves consultations newest first
	List(ctx context.Context, filter ConsultationFilter) ([]*entities.Consultation, error)

	// Update persists edited fields of an existing consultation
	Update(ctx context.Context, consultation *entities.Consultation) error

	// Delete removes a consultation and, by cascade, its attachments
	Delete(ctx context.Context, id string) error

	// Match ranks embedded consultations by cosine similarity to a vector
	Match(ctx context.Context, embedding []float32, threshold float64, limit int) ([]*entities.ConsultationMatch, error)

	// ListMissingEmbeddings returns consultations that have no vector yet
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*entities.Consultation, error)

	// UpdateEmbedding stores a vector together with its model and content hash
	UpdateEmbedding(ctx context.Context, id string, embedding []float32, model, contentHash string) error

	// Ping checks database availability
	Ping(ctx context.Context) error
}

// Listing limits.
const (
	DefaultConsultationLimit = 50
	MaxConsultationLimit     = 500
)

// ConsultationFilter defines filters for listing consultations
type ConsultationFilter struct {
	PatientName       string
	VetName           string
	Species           string
	From              *time.Time
	To                *time.Time
	Tag               string
	Query             string
	Limit             int
	Offset            int
	IncludeEmbeddings bool
}

// EffectiveLimit applies the default and the ceiling to Limit.
func (f ConsultationFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultConsultationLimit
	case f.Limit > MaxConsultationLimit:
		return MaxConsultationLimit
	default:
		return f.Limit
	}
}
