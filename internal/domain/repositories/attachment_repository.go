package repositories

import (
	"context"

	"github.com/vetai/backend/internal/domain/entities"
)

// AttachmentRepository defines read access to consultation attachments
type AttachmentRepository interface {
	// ListByConsultation returns attachment metadata without payloads
	ListByConsultation(ctx context.Context, consultationID string) ([]*entities.Attachment, error)

	// GetByID returns one attachment with its decompressed payload
	GetByID(ctx context.Context, consultationID, attachmentID string) (*entities.Attachment, error)
}
