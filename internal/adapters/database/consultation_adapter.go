package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/repositories"
	"github.com/vetai/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/vetai/backend/pkg/errors"
)

const (
	consultationsTable = "consultations"
	attachmentsTable   = "attachments"

	pgUniqueViolation = "23505"
)

var consultationColumns = []string{
	"id", "created_at", "updated_at", "consulted_at",
	"vet_name", "owner_name", "patient_name", "species",
	"transcription", "summary", "extracted_info", "tags", "unique_tag",
	"embedding_model", "content_hash", "status", "processing_errors",
}

// ConsultationAdapter implements the ConsultationRepository interface
type ConsultationAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

// NewConsultationAdapter creates a new consultation adapter
func NewConsultationAdapter(client *postgres.Client) repositories.ConsultationRepository {
	return &ConsultationAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// selectColumns lists the consultation columns under an optional table alias.
// The embedding column is always present so one scan function serves every query.
func selectColumns(alias string, withEmbedding bool) []interface{} {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	cols := make([]interface{}, 0, len(consultationColumns)+1)
	for _, c := range consultationColumns {
		cols = append(cols, goqu.I(prefix+c))
	}
	if withEmbedding {
		cols = append(cols, goqu.L(prefix+"embedding::text").As("embedding"))
	} else {
		cols = append(cols, goqu.L("NULL::text").As("embedding"))
	}
	return cols
}

func scanConsultation(row rowScanner, extra ...interface{}) (*entities.Consultation, error) {
	c := &entities.Consultation{}
	var (
		extracted      []byte
		status         string
		embeddingModel sql.NullString
		contentHash    sql.NullString
		embedding      sql.NullString
	)

	dest := []interface{}{
		&c.ID, &c.CreatedAt, &c.UpdatedAt, &c.ConsultedAt,
		&c.VetName, &c.OwnerName, &c.PatientName, &c.Species,
		&c.Transcription, &c.Summary, &extracted, pq.Array(&c.Tags), &c.UniqueTag,
		&embeddingModel, &contentHash, &status, pq.Array(&c.ProcessingErrors),
		&embedding,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	c.Status = entities.ConsultationStatus(status)
	c.EmbeddingModel = embeddingModel.String
	c.ContentHash = contentHash.String
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &c.ExtractedInfo); err != nil {
			return nil, fmt.Errorf("failed to decode extracted_info for %s: %w", c.ID, err)
		}
	}
	if embedding.Valid {
		vec, err := parseVector(embedding.String)
		if err != nil {
			return nil, err
		}
		c.Embedding = vec
	}
	return c, nil
}

func consultationRecord(c *entities.Consultation) (goqu.Record, error) {
	extracted, err := json.Marshal(c.ExtractedInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extracted_info: %w", err)
	}
	return goqu.Record{
		"consulted_at":      c.ConsultedAt.UTC(),
		"vet_name":          c.VetName,
		"owner_name":        c.OwnerName,
		"patient_name":      c.PatientName,
		"species":           c.Species,
		"transcription":     c.Transcription,
		"summary":           c.Summary,
		"extracted_info":    string(extracted),
		"tags":              pq.StringArray(nonNil(c.Tags)),
		"unique_tag":        c.UniqueTag,
		"status":            string(c.Status),
		"processing_errors": pq.StringArray(nonNil(c.ProcessingErrors)),
		"updated_at":        c.UpdatedAt.UTC(),
	}, nil
}

func vectorValue(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	return goqu.L("?::vector", formatVector(v))
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// Create creates a new consultation together with its attachments
func (a *ConsultationAdapter) Create(ctx context.Context, c *entities.Consultation) (err error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.ConsultedAt.IsZero() {
		c.ConsultedAt = c.CreatedAt
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = entities.ConsultationStatusComplete
	}

	record, err := consultationRecord(c)
	if err != nil {
		return apperrors.NewInternalError("failed to build consultation record", err)
	}
	record["id"] = c.ID
	record["created_at"] = c.CreatedAt.UTC()
	record["embedding"] = vectorValue(c.Embedding)
	record["embedding_model"] = nullIfEmpty(c.EmbeddingModel)
	record["content_hash"] = nullIfEmpty(c.ContentHash)

	query, args, err := a.db.Insert(consultationsTable).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build consultation insert", err)
	}

	tx, err := a.client.DB().BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewInternalError("failed to begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError(fmt.Sprintf("a consultation for %s already exists", c.UniqueTag))
		}
		return apperrors.NewInternalError("failed to create consultation", err)
	}

	for i := range c.Attachments {
		att := &c.Attachments[i]
		att.ConsultationID = c.ID
		if err = insertAttachment(ctx, a.db, tx, att); err != nil {
			return err
		}
	}

	if err = tx.Commit(); err != nil {
		return apperrors.NewInternalError("failed to commit consultation", err)
	}
	return nil
}

// GetByID retrieves a consultation by ID
func (a *ConsultationAdapter) GetByID(ctx context.Context, id string) (*entities.Consultation, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("consultation with id %s not found", id))
	}

	query, args, err := a.db.From(consultationsTable).
		Select(selectColumns("", true)...).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build consultation query", err)
	}

	c, err := scanConsultation(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("consultation with id %s not found", id))
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get consultation", err)
	}

	attachments, err := listAttachments(ctx, a.db, a.client.DB(), id)
	if err != nil {
		return nil, err
	}
	for _, att := range attachments {
		c.Attachments = append(c.Attachments, *att)
	}
	return c, nil
}

// List retrieves consultations with filters, newest first
func (a *ConsultationAdapter) List(ctx context.Context, filter repositories.ConsultationFilter) ([]*entities.Consultation, error) {
	ds := a.db.From(consultationsTable).Select(selectColumns("", filter.IncludeEmbeddings)...)

	if filter.PatientName != "" {
		ds = ds.Where(goqu.Func("LOWER", goqu.I("patient_name")).Eq(strings.ToLower(strings.TrimSpace(filter.PatientName))))
	}
	if filter.VetName != "" {
		ds = ds.Where(goqu.Func("LOWER", goqu.I("vet_name")).Eq(strings.ToLower(strings.TrimSpace(filter.VetName))))
	}
	if filter.Species != "" {
		ds = ds.Where(goqu.Func("LOWER", goqu.I("species")).Eq(strings.ToLower(strings.TrimSpace(filter.Species))))
	}
	if filter.From != nil {
		ds = ds.Where(goqu.I("consulted_at").Gte(filter.From.UTC()))
	}
	if filter.To != nil {
		ds = ds.Where(goqu.I("consulted_at").Lte(filter.To.UTC()))
	}
	if filter.Tag != "" {
		ds = ds.Where(goqu.L("? = ANY(tags)", strings.ToLower(filter.Tag)))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		pattern := "%" + escapeLike(q) + "%"
		ds = ds.Where(goqu.Or(
			goqu.I("patient_name").ILike(pattern),
			goqu.I("owner_name").ILike(pattern),
			goqu.I("summary").ILike(pattern),
			goqu.L("extracted_info->'clinical'->>'diagnosis'").ILike(pattern),
		))
	}

	ds = ds.Order(goqu.I("consulted_at").Desc(), goqu.I("created_at").Desc()).
		Limit(uint(filter.EffectiveLimit()))
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build consultation list query", err)
	}
	return a.queryConsultations(ctx, query, args...)
}

// Update updates the editable fields of a consultation
func (a *ConsultationAdapter) Update(ctx context.Context, c *entities.Consultation) error {
	if _, err := uuid.Parse(c.ID); err != nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("consultation with id %s not found", c.ID))
	}
	c.UpdatedAt = time.Now().UTC()

	record, err := consultationRecord(c)
	if err != nil {
		return apperrors.NewInternalError("failed to build consultation record", err)
	}

	query, args, err := a.db.Update(consultationsTable).
		Set(record).
		Where(goqu.Ex{"id": c.ID}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build consultation update", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.NewConflictError(fmt.Sprintf("a consultation for %s already exists", c.UniqueTag))
		}
		return apperrors.NewInternalError("failed to update consultation", err)
	}
	return requireAffected(result, c.ID)
}

// Delete deletes a consultation; attachments go with it via the foreign key
func (a *ConsultationAdapter) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("consultation with id %s not found", id))
	}

	query, args, err := a.db.Delete(consultationsTable).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build consultation delete", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to delete consultation", err)
	}
	return requireAffected(result, id)
}

// Match ranks consultations with the match_consultations database function
func (a *ConsultationAdapter) Match(ctx context.Context, embedding []float32, threshold float64, limit int) ([]*entities.ConsultationMatch, error) {
	if len(embedding) == 0 {
		return nil, apperrors.NewValidationError("query embedding is required")
	}
	if limit <= 0 {
		limit = 5
	}

	cols := append(selectColumns("c", false), goqu.I("m.similarity"))
	query, args, err := a.db.From(
		goqu.L("match_consultations(?::vector, ?, ?)", formatVector(embedding), threshold, limit).As("m"),
	).
		Join(goqu.T(consultationsTable).As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("m.id")))).
		Select(cols...).
		Order(goqu.I("m.similarity").Desc()).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build match query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to match consultations", err)
	}
	defer rows.Close()

	matches := make([]*entities.ConsultationMatch, 0, limit)
	for rows.Next() {
		var similarity float64
		c, err := scanConsultation(rows, &similarity)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan consultation match", err)
		}
		matches = append(matches, &entities.ConsultationMatch{Consultation: c, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate consultation matches", err)
	}
	return matches, nil
}

// ListMissingEmbeddings returns the oldest consultations without a vector
func (a *ConsultationAdapter) ListMissingEmbeddings(ctx context.Context, limit int) ([]*entities.Consultation, error) {
	if limit <= 0 {
		limit = repositories.DefaultConsultationLimit
	}
	query, args, err := a.db.From(consultationsTable).
		Select(selectColumns("", false)...).
		Where(goqu.C("embedding").IsNull()).
		Order(goqu.I("created_at").Asc()).
		Limit(uint(limit)).
		ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build missing embeddings query", err)
	}
	return a.queryConsultations(ctx, query, args...)
}

// UpdateEmbedding stores a consultation's vector
func (a *ConsultationAdapter) UpdateEmbedding(ctx context.Context, id string, embedding []float32, model, contentHash string) error {
	query, args, err := a.db.Update(consultationsTable).
		Set(goqu.Record{
			"embedding":       vectorValue(embedding),
			"embedding_model": nullIfEmpty(model),
			"content_hash":    nullIfEmpty(contentHash),
		}).
		Where(goqu.Ex{"id": id}).
		ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build embedding update", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update consultation embedding", err)
	}
	return requireAffected(result, id)
}

// Ping checks database availability
func (a *ConsultationAdapter) Ping(ctx context.Context) error {
	return a.client.Ping(ctx)
}

func (a *ConsultationAdapter) queryConsultations(ctx context.Context, query string, args ...interface{}) ([]*entities.Consultation, error) {
	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to list consultations", err)
	}
	defer rows.Close()

	consultations := make([]*entities.Consultation, 0)
	for rows.Next() {
		c, err := scanConsultation(rows)
		if err != nil {
			return nil, apperrors.NewInternalError("failed to scan consultation", err)
		}
		consultations = append(consultations, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternalError("failed to iterate consultations", err)
	}
	return consultations, nil
}

func requireAffected(result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("consultation with id %s not found", id))
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
