package handlers_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vetai/backend/internal/api/handlers"
	"github.com/vetai/backend/internal/application/services"
	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/repositories"
	apperrors "github.com/vetai/backend/pkg/errors"
)

func TestConsultationHandler_CreateConsultation_Multipart(t *testing.T) {
	mockService := new(MockConsultationService)
	handler := handlers.NewConsultationHandler(mockService, 0)

	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	audio, err := mw.CreateFormFile("audio", "visit.webm")
	require.NoError(t, err)
	_, _ = audio.Write([]byte("fake-audio"))
	att, err := mw.CreateFormFile("attachments", "bloods.pdf")
	require.NoError(t, err)
	_, _ = att.Write([]byte("%PDF"))
	require.NoError(t, mw.WriteField("patient_name", "Max"))
	require.NoError(t, mw.WriteField("vet_name", "Dr. Smith"))
	require.NoError(t, mw.WriteField("consulted_at", "2024-12-30"))
	require.NoError(t, mw.Close())

	saved := &entities.Consultation{
		ID:          "c-1",
		PatientName: "Max",
		Status:      entities.ConsultationStatusComplete,
		Attachments: []entities.Attachment{{ID: "a-1", Name: "bloods.pdf", Data: []byte("%PDF")}},
	}
	mockService.On("Ingest", mock.Anything, mock.MatchedBy(func(req *services.UploadRequest) bool {
		return string(req.Audio) == "fake-audio" &&
			req.AudioFilename == "visit.webm" &&
			req.PatientName == "Max" &&
			req.VetName == "Dr. Smith" &&
			req.ConsultedAt.Equal(time.Date(2024, 12, 30, 0, 0, 0, 0, time.UTC)) &&
			len(req.Attachments) == 1 &&
			req.Attachments[0].Name == "bloods.pdf" &&
			req.Attachments[0].SizeBytes == 4
	})).Return(saved, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/consultations", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()

	handler.CreateConsultation(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "c-1", resp["id"])
	attachments := resp["attachments"].([]interface{})
	require.Len(t, attachments, 1)
	assert.NotContains(t, attachments[0].(map[string]interface{}), "data")
	// the service's copy keeps its payload
	assert.Equal(t, []byte("%PDF"), saved.Attachments[0].Data)
	mockService.AssertExpectations(t)
}

func TestConsultationHandler_CreateConsultation_JSONAsync(t *testing.T) {
	mockService := new(MockConsultationService)
	handler := handlers.NewConsultationHandler(mockService, 0)

	mockService.On("IngestAsync", mock.Anything, mock.MatchedBy(func(req *services.UploadRequest) bool {
		return req.Transcript == "Max is vomiting." && req.PatientName == "Max"
	})).Return(&entities.Consultation{ID: "c-2", Status: entities.ConsultationStatusProcessing}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/consultations?async=true",
		strings.NewReader(`{"transcript":"Max is vomiting.","patient_name":"Max"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.CreateConsultation(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"processing"`)
	mockService.AssertExpectations(t)
}

func TestConsultationHandler_CreateConsultation_Errors(t *testing.T) {
	t.Run("validation error from service", func(t *testing.T) {
		mockService := new(MockConsultationService)
		handler := handlers.NewConsultationHandler(mockService, 0)
		mockService.On("Ingest", mock.Anything, mock.Anything).
			Return(nil, apperrors.NewValidationError("audio or transcript is required"))

		req := httptest.NewRequest(http.MethodPost, "/api/consultations", strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		handler.CreateConsultation(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "audio or transcript is required")
	})

	t.Run("unavailable ai", func(t *testing.T) {
		mockService := new(MockConsultationService)
		handler := handlers.NewConsultationHandler(mockService, 0)
		mockService.On("Ingest", mock.Anything, mock.Anything).
			Return(nil, apperrors.NewUnavailableError("transcription is not configured", nil))

		req := httptest.NewRequest(http.MethodPost, "/api/consultations", strings.NewReader(`{"transcript":"x"}`))
		w := httptest.NewRecorder()
		handler.CreateConsultation(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("bad date", func(t *testing.T) {
		mockService := new(MockConsultationService)
		handler := handlers.NewConsultationHandler(mockService, 0)

		req := httptest.NewRequest(http.MethodPost, "/api/consultations",
			strings.NewReader(`{"transcript":"x","consulted_at":"yesterday"}`))
		w := httptest.NewRecorder()
		handler.CreateConsultation(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockService.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything)
	})

	t.Run("body too large", func(t *testing.T) {
		mockService := new(MockConsultationService)
		handler := handlers.NewConsultationHandler(mockService, 16)

		req := httptest.NewRequest(http.MethodPost, "/api/consultations",
			strings.NewReader(`{"transcript":"`+strings.Repeat("a", 64)+`"}`))
		w := httptest.NewRecorder()
		handler.CreateConsultation(w, req)

		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	})

	t.Run("internal error is hidden", func(t *testing.T) {
		mockService := new(MockConsultationService)
		handler := handlers.NewConsultationHandler(mockService, 0)
		mockService.On("Ingest", mock.Anything, mock.Anything).
			Return(nil, apperrors.NewInternalError("failed to create consultation", assert.AnError))

		req := httptest.NewRequest(http.MethodPost, "/api/consultations", strings.NewReader(`{"transcript":"x"}`))
		w := httptest.NewRecorder()
		handler.CreateConsultation(w, req)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), assert.AnError.Error())
	})
}

func TestConsultationHandler_ListConsultations(t *testing.T) {
	mockService := new(MockConsultationService)
	handler := handlers.NewConsultationHandler(mockService, 0)

	mockService.On("List", mock.Anything, mock.MatchedBy(func(f repositories.ConsultationFilter) bool {
		return f.PatientName == "Max" &&
			f.Species == "dog" &&
			f.Limit == 10 &&
			f.Offset == 20 &&
			f.From != nil && f.From.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) &&
			f.To != nil && f.To.After(time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC)) &&
			!f.IncludeEmbeddings
	})).Return([]*entities.Consultation{{ID: "c-1"}}, nil)

	req := httptest.NewRequest(http.MethodGet,
		"/api/consultations?patient=Max&species=dog&from=2024-01-01&to=2024-01-31&limit=10&offset=20", nil)
	w := httptest.NewRecorder()

	handler.ListConsultations(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["count"])
	assert.Equal(t, float64(10), resp["limit"])
	mockService.AssertExpectations(t)
}

func TestConsultationHandler_ListConsultations_EmptyAndInvalid(t *testing.T) {
	mockService := new(MockConsultationService)
	handler := handlers.NewConsultationHandler(mockService, 0)
	mockService.On("List", mock.Anything, mock.Anything).Return(nil, nil)

	w := httptest.NewRecorder()
	handler.ListConsultations(w, httptest.NewRequest(http.MethodGet, "/api/consultations", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"consultations":[]`)

	w = httptest.NewRecorder()
	handler.ListConsultations(w, httptest.NewRequest(http.MethodGet, "/api/consultations?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsultationHandler_GetConsultation(t *testing.T) {
	mockService := new(MockConsultationService)
	handler := handlers.NewConsultationHandler(mockService, 0)

	mockService.On("Get", mock.Anything, "c-1").Return(&entities.Consultation{ID: "c-1", PatientName: "Max"}, nil)
	mockService.On("Get", mock.Anything, "missing").Return(nil, apperrors.NewNotFoundError("consultation not found"))

	req := httptest.NewRequest(http.MethodGet, "/api/consultations/c-1", nil)
	req.SetPathValue("id", "c-1")
	w := httptest.NewRecorder()
	handler.GetConsultation(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"patient_name":"Max"`)

	req = httptest.NewRequest(http.MethodGet, "/api/consultations/missing", nil)
	req.SetPathValue("id", "missing")
	w = httptest.NewRecorder()
	handler.GetConsultation(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"consultation not found"}`, w.Body.String())
}

func TestConsultationHandler_UpdateConsultation(t *testing.T) {
	mockService := new(MockConsultationService)
	handler := handlers.NewConsultationHandler(mockService, 0)

	mockService.On("Update", mock.Anything, "c-1", mock.MatchedBy(func(upd services.ConsultationUpdate) bool {
		return upd.Summary != nil && *upd.Summary == "Revised." &&
			upd.PatientName == nil &&
			len(upd.Tags) == 1 && upd.Tags[0] == "gi"
	})).Return(&entities.Consultation{ID: "c-1", Summary: "Revised."}, nil)

	req := httptest.NewRequest(http.MethodPatch, "/api/consultations/c-1",
		strings.NewReader(`{"summary":"Revised.","tags":["gi"]}`))
	req.SetPathValue("id", "c-1")
	w := httptest.NewRecorder()

	handler.UpdateConsultation(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	mockService.AssertExpectations(t)

	req = httptest.NewRequest(http.MethodPatch, "/api/consultations/c-1", strings.NewReader(`{"unknown":1}`))
	req.SetPathValue("id", "c-1")
	w = httptest.NewRecorder()
	handler.UpdateConsultation(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestConsultationHandler_DeleteConsultation(t *testing.T) {
	mockService := new(MockConsultationService)
	handler := handlers.NewConsultationHandler(mockService, 0)
	mockService.On("Delete", mock.Anything, "c-1").Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/consultations/c-1", nil)
	req.SetPathValue("id", "c-1")
	w := httptest.NewRecorder()

	handler.DeleteConsultation(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestConsultationHandler_GetAttachment(t *testing.T) {
	mockService := new(MockConsultationService)
	handler := handlers.NewConsultationHandler(mockService, 0)
	mockService.On("GetAttachment", mock.Anything, "c-1", "a-1").Return(&entities.Attachment{
		ID:       "a-1",
		Name:     "x-ray.png",
		MimeType: "image/png",
		Data:     []byte{0x89, 'P', 'N', 'G'},
	}, nil)
	mockService.On("GetAttachment", mock.Anything, "c-1", "a-2").Return(&entities.Attachment{
		ID:          "a-2",
		Name:        "report.pdf",
		StoragePath: "s3://bucket/report.pdf",
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/consultations/c-1/attachments/a-1", nil)
	req.SetPathValue("id", "c-1")
	req.SetPathValue("attachmentId", "a-1")
	w := httptest.NewRecorder()
	handler.GetAttachment(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=x-ray.png`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, w.Body.Bytes())

	req = httptest.NewRequest(http.MethodGet, "/api/consultations/c-1/attachments/a-2", nil)
	req.SetPathValue("id", "c-1")
	req.SetPathValue("attachmentId", "a-2")
	w = httptest.NewRecorder()
	handler.GetAttachment(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"storage_path":"s3://bucket/report.pdf"`)
}
