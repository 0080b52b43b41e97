package database

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vetai/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/vetai/backend/pkg/errors"
)

const testAttachmentID = "0d3f0a52-5f9b-4c1e-8a0c-2b4a7e6f1d22"

func TestAttachmentAdapter_GetByID_DecompressesPayload(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	adapter := NewAttachmentAdapter(postgres.NewClientFromDB(db))

	packed, err := compressPayload([]byte("lab results"))
	require.NoError(t, err)

	mock.ExpectQuery(`FROM "attachments"`).WillReturnRows(
		sqlmock.NewRows([]string{"id", "consultation_id", "name", "mime_type", "size_bytes", "storage_path", "data", "compressed", "created_at"}).
			AddRow(testAttachmentID, testConsultationID, "labs.txt", "text/plain", 11, nil, packed, true, time.Now()),
	)

	att, err := adapter.GetByID(context.Background(), testConsultationID, testAttachmentID)

	require.NoError(t, err)
	assert.Equal(t, []byte("lab results"), att.Data)
	assert.True(t, att.IsInline())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentAdapter_GetByID_InvalidID(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	adapter := NewAttachmentAdapter(postgres.NewClientFromDB(db))

	_, err = adapter.GetByID(context.Background(), testConsultationID, "../etc/passwd")

	assert.True(t, apperrors.IsNotFound(err))
}

func TestPayloadCodec(t *testing.T) {
	body := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 20))
	packed, err := compressPayload(body)
	require.NoError(t, err)
	assert.Less(t, len(packed), len(body))

	out, err := decompressPayload(packed)
	require.NoError(t, err)
	assert.Equal(t, body, out)
}
