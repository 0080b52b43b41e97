package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerFromContext_AddsRequestID(t *testing.T) {
	var buf bytes.Buffer
	initLogger(&buf, "vetai-api", "production")
	t.Cleanup(func() { InitLogger("vetai-api", "development") })

	ctx := WithRequestID(context.Background(), "req-42")
	LoggerFromContext(ctx).Info().Msg("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "vetai-api", entry["service"])
	assert.Equal(t, "hello", entry["message"])
	assert.Equal(t, "req-42", RequestIDFromContext(ctx))
}

func TestInitLogger_ProductionSuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	initLogger(&buf, "vetai-api", "production")
	t.Cleanup(func() { InitLogger("vetai-api", "development") })

	log.Debug().Msg("noise")

	assert.Empty(t, buf.String())
}

func TestRecordHelpers_NilMetrics(t *testing.T) {
	assert.NotPanics(t, func() {
		RecordRequestMetric(context.Background(), nil, "GET", "/health", 200, 0)
		RecordCacheResult(context.Background(), nil, "graph", true)
		RecordSearchTier(context.Background(), nil, "embedding", 3)
		RecordIngestStep(context.Background(), nil, "summarize", nil)
	})
}
