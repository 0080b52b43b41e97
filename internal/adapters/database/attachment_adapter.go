package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/repositories"
	"github.com/vetai/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/vetai/backend/pkg/errors"
)

// AttachmentAdapter implements the AttachmentRepository interface
type AttachmentAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewAttachmentAdapter creates a new attachment adapter
func NewAttachmentAdapter(client *postgres.Client) repositories.AttachmentRepository {
	return &AttachmentAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func insertAttachment(ctx context.Context, db *goqu.Database, ex execer, att *entities.Attachment) error {
	if att.ID == "" {
		att.ID = uuid.NewString()
	}
	if att.CreatedAt.IsZero() {
		att.CreatedAt = time.Now().UTC()
	}
	if att.SizeBytes == 0 {
		att.SizeBytes = int64(len(att.Data))
	}
	if att.MimeType == "" {
		att.MimeType = "application/octet-stream"
	}

	record := goqu.Record{
		"id":              att.ID,
		"consultation_id": att.ConsultationID,
		"name":            att.Name,
		"mime_type":       att.MimeType,
		"size_bytes":      att.SizeBytes,
		"storage_path":    nullIfEmpty(att.StoragePath),
		"data":            nil,
		"compressed":      false,
		"created_at":      att.CreatedAt.UTC(),
	}
	if att.IsInline() {
		packed, err := compressPayload(att.Data)
		if err != nil {
			return apperrors.NewInternalError("failed to compress attachment", err)
		}
		record["data"] = packed
		record["compressed"] = true
	}

	query, args, err := db.Insert(attachmentsTable).Rows(record).Prepared(true).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build attachment insert", err)
	}
	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		return apperrors.NewInternalError(fmt.Sprintf("failed to store attachment %s", att.Name), err)
	}
	return nil
}

func listAttachments(ctx context.Context, db *goqu.Database, q querier, consultationID string) ([]*entities.Attachment, error) {
	query, args, err := db.From(attachmentsTable).
		Select("id", "consultation_id", "name", "mime_type", "size_bytes", "storage_path", "created_at").
		Where(goqu.Ex{"consultation_id": consultationID}).
		Order(goqu.I("created_at").Asc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build attachment query", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list attachments", err)
	}
	defer rows.Close()

	attachments := make([]*entities.Attachment, 0)
	for rows.Next() {
		att := &entities.Attachment{}
		var storagePath sql.NullString
		if err := rows.Scan(&att.ID, &att.ConsultationID, &att.Name, &att.MimeType, &att.SizeBytes, &storagePath, &att.CreatedAt); err != nil {
			return nil, apperrors.NewInternalError("failed to scan attachment", err)
		}
		att.StoragePath = storagePath.String
		attachments = append(attachments, att)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate attachments", err)
	}
	return attachments, nil
}

// ListByConsultation returns attachment metadata for a consultation
func (a *AttachmentAdapter) ListByConsultation(ctx context.Context, consultationID string) ([]*entities.Attachment, error) {
	if _, err := uuid.Parse(consultationID); err != nil {
		return []*entities.Attachment{}, nil
	}
	return listAttachments(ctx, a.db, a.client.DB(), consultationID)
}

// GetByID returns one attachment with its payload
func (a *AttachmentAdapter) GetByID(ctx context.Context, consultationID, attachmentID string) (*entities.Attachment, error) {
	notFound := apperrors.NewNotFoundError(fmt.Sprintf("attachment %s not found on consultation %s", attachmentID, consultationID))
	if _, err := uuid.Parse(consultationID); err != nil {
		return nil, notFound
	}
	if _, err := uuid.Parse(attachmentID); err != nil {
		return nil, notFound
	}

	query, args, err := a.db.From(attachmentsTable).
		Select("id", "consultation_id", "name", "mime_type", "size_bytes", "storage_path", "data", "compressed", "created_at").
		Where(goqu.Ex{"id": attachmentID, "consultation_id": consultationID}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build attachment query", err)
	}

	att := &entities.Attachment{}
	var storagePath sql.NullString
	var data []byte
	var compressed bool
	err = a.client.DB().QueryRowContext(ctx, query, args...).Scan(
		&att.ID, &att.ConsultationID, &att.Name, &att.MimeType, &att.SizeBytes,
		&storagePath, &data, &compressed, &att.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, notFound
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get attachment", err)
	}

	att.StoragePath = storagePath.String
	if compressed && len(data) > 0 {
		if data, err = decompressPayload(data); err != nil {
			return nil, apperrors.NewInternalError("failed to read attachment payload", err)
		}
	}
	att.Data = data
	return att, nil
}
