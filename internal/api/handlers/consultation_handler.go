package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/vetai/backend/internal/application/services"
	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/repositories"
	apperrors "github.com/vetai/backend/pkg/errors"
)

const (
	defaultMaxRequestBytes = 64 << 20
	multipartMemory        = 32 << 20
)

// ConsultationService defines the consultation operations the handler needs
type ConsultationService interface {
	Ingest(ctx context.Context, req *services.UploadRequest) (*entities.Consultation, error)
	IngestAsync(ctx context.Context, req *services.UploadRequest) (*entities.Consultation, error)
	Get(ctx context.Context, id string) (*entities.Consultation, error)
	List(ctx context.Context, filter repositories.ConsultationFilter) ([]*entities.Consultation, error)
	Update(ctx context.Context, id string, upd services.ConsultationUpdate) (*entities.Consultation, error)
	Delete(ctx context.Context, id string) error
	GetAttachment(ctx context.Context, consultationID, attachmentID string) (*entities.Attachment, error)
}

// ConsultationHandler handles the upload and history views
type ConsultationHandler struct {
	service         ConsultationService
	maxRequestBytes int64
}

// NewConsultationHandler creates a new consultation handler
func NewConsultationHandler(service ConsultationService, maxRequestBytes int64) *ConsultationHandler {
	if maxRequestBytes <= 0 {
		maxRequestBytes = defaultMaxRequestBytes
	}
	return &ConsultationHandler{service: service, maxRequestBytes: maxRequestBytes}
}

type attachmentPayload struct {
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

type createConsultationRequest struct {
	Transcript  string              `json:"transcript"`
	VetName     string              `json:"vet_name"`
	OwnerName   string              `json:"owner_name"`
	PatientName string              `json:"patient_name"`
	Species     string              `json:"species"`
	ConsultedAt string              `json:"consulted_at"`
	Attachments []attachmentPayload `json:"attachments"`
}

// CreateConsultation handles POST /api/consultations. It accepts a multipart
// form with an audio file or a JSON body with a transcript.
func (h *ConsultationHandler) CreateConsultation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxRequestBytes)

	req, err := h.parseUpload(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		respondWithAppError(w, r, err)
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		c, err := h.service.IngestAsync(r.Context(), req)
		if err != nil {
			respondWithAppError(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusAccepted, withoutPayloads(c))
		return
	}

	c, err := h.service.Ingest(r.Context(), req)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, withoutPayloads(c))
}

func (h *ConsultationHandler) parseUpload(r *http.Request) (*services.UploadRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return parseMultipartUpload(r)
	}

	var body createConsultationRequest
	if err := decodeJSON(r, &body); err != nil {
		return nil, err
	}
	req := &services.UploadRequest{
		Transcript:  body.Transcript,
		VetName:     body.VetName,
		OwnerName:   body.OwnerName,
		PatientName: body.PatientName,
		Species:     body.Species,
	}
	if body.ConsultedAt != "" {
		at, err := parseDate(body.ConsultedAt)
		if err != nil {
			return nil, err
		}
		req.ConsultedAt = at
	}
	for _, a := range body.Attachments {
		req.Attachments = append(req.Attachments, &entities.Attachment{
			Name:      a.Name,
			MimeType:  a.MimeType,
			Data:      a.Data,
			SizeBytes: int64(len(a.Data)),
		})
	}
	return req, nil
}

func parseMultipartUpload(r *http.Request) (*services.UploadRequest, error) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, apperrors.NewValidationError("invalid multipart form")
	}

	req := &services.UploadRequest{
		Transcript:  r.FormValue("transcript"),
		VetName:     r.FormValue("vet_name"),
		OwnerName:   r.FormValue("owner_name"),
		PatientName: r.FormValue("patient_name"),
		Species:     r.FormValue("species"),
	}
	if v := r.FormValue("consulted_at"); v != "" {
		at, err := parseDate(v)
		if err != nil {
			return nil, err
		}
		req.ConsultedAt = at
	}

	if files := r.MultipartForm.File["audio"]; len(files) > 0 {
		data, err := readPart(files[0])
		if err != nil {
			return nil, err
		}
		req.Audio = data
		req.AudioFilename = files[0].Filename
		req.AudioMimeType = files[0].Header.Get("Content-Type")
	}

	for _, fh := range r.MultipartForm.File["attachments"] {
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		req.Attachments = append(req.Attachments, &entities.Attachment{
			Name:      fh.Filename,
			MimeType:  fh.Header.Get("Content-Type"),
			Data:      data,
			SizeBytes: int64(len(data)),
		})
	}
	return req, nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, apperrors.NewValidationError("cannot read uploaded file " + fh.Filename)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, apperrors.NewValidationError("cannot read uploaded file " + fh.Filename)
	}
	return data, nil
}

// withoutPayloads strips inline attachment bytes from a response body.
func withoutPayloads(c *entities.Consultation) *entities.Consultation {
	if c == nil || len(c.Attachments) == 0 {
		return c
	}
	out := *c
	out.Attachments = make([]entities.Attachment, len(c.Attachments))
	for i, a := range c.Attachments {
		a.Data = nil
		out.Attachments[i] = a
	}
	return &out
}

// ListConsultations handles GET /api/consultations
func (h *ConsultationHandler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	filter, err := parseConsultationFilter(r)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	consultations, err := h.service.List(r.Context(), filter)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	if consultations == nil {
		consultations = []*entities.Consultation{}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"consultations": consultations,
		"count":         len(consultations),
		"limit":         filter.EffectiveLimit(),
		"offset":        filter.Offset,
	})
}

func parseConsultationFilter(r *http.Request) (repositories.ConsultationFilter, error) {
	q := r.URL.Query()
	filter := repositories.ConsultationFilter{
		PatientName: strings.TrimSpace(q.Get("patient")),
		VetName:     strings.TrimSpace(q.Get("vet")),
		Species:     strings.TrimSpace(q.Get("species")),
		Tag:         strings.TrimSpace(q.Get("tag")),
		Query:       strings.TrimSpace(q.Get("q")),
	}

	var err error
	if filter.From, err = optionalDate(q.Get("from"), false); err != nil {
		return filter, err
	}
	if filter.To, err = optionalDate(q.Get("to"), true); err != nil {
		return filter, err
	}
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			return filter, apperrors.NewValidationError("invalid limit")
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			return filter, apperrors.NewValidationError("invalid offset")
		}
	}
	return filter, nil
}

// GetConsultation handles GET /api/consultations/{id}
func (h *ConsultationHandler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "consultation ID is required")
		return
	}

	c, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, withoutPayloads(c))
}

type updateConsultationRequest struct {
	VetName       *string                 `json:"vet_name"`
	OwnerName     *string                 `json:"owner_name"`
	PatientName   *string                 `json:"patient_name"`
	Species       *string                 `json:"species"`
	Summary       *string                 `json:"summary"`
	Transcription *string                 `json:"transcription"`
	Tags          []string                `json:"tags"`
	ExtractedInfo *entities.ExtractedInfo `json:"extracted_info"`
}

// UpdateConsultation handles PATCH /api/consultations/{id}
func (h *ConsultationHandler) UpdateConsultation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "consultation ID is required")
		return
	}

	var body updateConsultationRequest
	if err := decodeJSON(r, &body); err != nil {
		respondWithAppError(w, r, err)
		return
	}

	c, err := h.service.Update(r.Context(), id, services.ConsultationUpdate{
		VetName:       body.VetName,
		OwnerName:     body.OwnerName,
		PatientName:   body.PatientName,
		Species:       body.Species,
		Summary:       body.Summary,
		Transcription: body.Transcription,
		Tags:          body.Tags,
		ExtractedInfo: body.ExtractedInfo,
	})
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, withoutPayloads(c))
}

// DeleteConsultation handles DELETE /api/consultations/{id}
func (h *ConsultationHandler) DeleteConsultation(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "consultation ID is required")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		respondWithAppError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAttachment handles GET /api/consultations/{id}/attachments/{attachmentId}.
// Inline payloads are streamed as-is unless format=json asks for the
// JSON form with base64 data.
func (h *ConsultationHandler) GetAttachment(w http.ResponseWriter, r *http.Request) {
	consultationID := r.PathValue("id")
	attachmentID := r.PathValue("attachmentId")
	if consultationID == "" || attachmentID == "" {
		respondWithError(w, http.StatusBadRequest, "consultation and attachment IDs are required")
		return
	}

	a, err := h.service.GetAttachment(r.Context(), consultationID, attachmentID)
	if err != nil {
		respondWithAppError(w, r, err)
		return
	}

	if r.URL.Query().Get("format") == "json" || !a.IsInline() {
		respondWithJSON(w, http.StatusOK, a)
		return
	}

	contentType := a.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Name}))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(a.Data)
}
