package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"github.com/vetai/backend/internal/domain/entities"
	"github.com/vetai/backend/internal/domain/providers"
	"github.com/vetai/backend/internal/infrastructure/observability"
	"github.com/vetai/backend/pkg/config"
	apperrors "github.com/vetai/backend/pkg/errors"
	"github.com/vetai/backend/pkg/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const defaultBaseURL = "https://api.openai.com/v1"

// Operation names used for breakers, metrics and logs.
const (
	opTranscribe = "transcribe"
	opSummarize  = "summarize"
	opExtract    = "extract"
	opGraph      = "build_graph"
	opAnswer     = "answer"
	opSearch     = "search_by_prompt"
	opExecutive  = "executive_summary"
	opEmbed      = "embed"
)

// Client is the OpenAI-compatible AI gateway.
type Client struct {
	apiKey             string
	baseURL            string
	chatModel          string
	transcriptionModel string
	embeddingModel     string
	dimensions         int
	httpClient         *http.Client
	limiter            *tokenBucket
	retryCfg           retry.Config

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker
}

var _ providers.AIGateway = (*Client)(nil)

// NewClient creates a new gateway client.
func NewClient(cfg *config.AIConfig) (*Client, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, errors.New("ai api key is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		apiKey:             cfg.APIKey,
		baseURL:            baseURL,
		chatModel:          orDefault(cfg.ChatModel, "gpt-4o-mini"),
		transcriptionModel: orDefault(cfg.TranscriptionModel, "whisper-1"),
		embeddingModel:     orDefault(cfg.EmbeddingModel, "text-embedding-3-small"),
		dimensions:         cfg.EmbeddingDimensions,
		httpClient:         &http.Client{Timeout: timeout},
		limiter:            newTokenBucket(cfg.RateLimitRPM, cfg.RateLimitBurst),
		retryCfg:           retry.AIConfig(cfg.MaxRetries),
		breakers:           make(map[string]*gobreaker.CircuitBreaker),
	}, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Close releases the rate limiter. The client must not be used afterwards.
func (c *Client) Close() {
	if c.limiter != nil {
		c.limiter.Close()
	}
}

// EmbeddingModel names the model vectors are produced with.
func (c *Client) EmbeddingModel() string {
	return c.embeddingModel
}

// Transcribe converts consultation audio to text.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename, mimeType string) (string, error) {
	data, err := io.ReadAll(audio)
	if err != nil {
		return "", apperrors.NewValidationError("failed to read audio upload")
	}
	if len(data) == 0 {
		return "", apperrors.NewValidationError("audio upload is empty")
	}
	if filename == "" {
		filename = "audio.webm"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("model", c.transcriptionModel)
	_ = writer.WriteField("response_format", "json")
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", apperrors.NewInternalError("failed to build transcription request", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", apperrors.NewInternalError("failed to build transcription request", err)
	}
	if err := writer.Close(); err != nil {
		return "", apperrors.NewInternalError("failed to build transcription request", err)
	}
	payload := body.Bytes()

	var out struct {
		Text string `json:"text"`
	}
	err = c.call(ctx, opTranscribe, c.transcriptionModel, "/audio/transcriptions", writer.FormDataContentType(), payload, &out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Text), nil
}

// Summarize produces a short clinical summary of a transcript.
func (c *Client) Summarize(ctx context.Context, transcript string) (string, error) {
	return c.chat(ctx, opSummarize, summarizeSystemPrompt, transcript, false)
}

// Extract pulls structured fields out of a transcript.
func (c *Client) Extract(ctx context.Context, transcript string) (*providers.ExtractionResult, error) {
	text, err := c.chat(ctx, opExtract, extractSystemPrompt, transcript, true)
	if err != nil {
		return nil, err
	}
	result, err := parseExtraction([]byte(stripCodeFences(text)))
	if err != nil {
		return nil, apperrors.NewExternalError("extraction response was not valid JSON", err)
	}
	return result, nil
}

// BuildGraph asks the model for a knowledge graph over a patient's history.
func (c *Client) BuildGraph(ctx context.Context, patientName string, consultations []*entities.Consultation) (*entities.KnowledgeGraphData, error) {
	text, err := c.chat(ctx, opGraph, graphSystemPrompt, buildGraphUserPrompt(patientName, consultations), true)
	if err != nil {
		return nil, err
	}
	graph, err := parseGraph([]byte(stripCodeFences(text)))
	if err != nil {
		return nil, apperrors.NewExternalError("graph response was not valid JSON", err)
	}
	graph.Source = entities.GraphSourceLLM
	return graph, nil
}

// AnswerFromContext answers a question using only the supplied record text.
func (c *Client) AnswerFromContext(ctx context.Context, question, contextText string) (string, error) {
	return c.chat(ctx, opAnswer, answerSystemPrompt, buildAnswerUserPrompt(question, contextText), false)
}

// SearchByPrompt returns the ids of candidates the model judges relevant.
func (c *Client) SearchByPrompt(ctx context.Context, query string, candidates []entities.SearchCandidate) ([]string, error) {
	prompt, err := buildSearchUserPrompt(query, candidates)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build search prompt", err)
	}
	text, err := c.chat(ctx, opSearch, searchSystemPrompt, prompt, true)
	if err != nil {
		return nil, err
	}
	ids, err := parseSearchIDs([]byte(stripCodeFences(text)))
	if err != nil {
		return nil, apperrors.NewExternalError("search response was not valid JSON", err)
	}
	return ids, nil
}

// ExecutiveSummary writes a narrative overview of many consultations.
func (c *Client) ExecutiveSummary(ctx context.Context, consultations []*entities.Consultation) (string, error) {
	return c.chat(ctx, opExecutive, executiveSystemPrompt, buildExecutiveUserPrompt(consultations), false)
}

// Embed returns an L2-normalised embedding of the configured dimension.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperrors.NewValidationError("cannot embed empty text")
	}

	req := map[string]interface{}{
		"model": c.embeddingModel,
		"input": text,
	}
	if c.dimensions > 0 {
		req["dimensions"] = c.dimensions
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.NewInternalError("failed to encode embedding request", err)
	}

	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.call(ctx, opEmbed, c.embeddingModel, "/embeddings", "application/json", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 {
		return nil, apperrors.NewExternalError("embedding response contained no data", nil)
	}

	raw := out.Data[0].Embedding
	if c.dimensions > 0 && len(raw) != c.dimensions {
		return nil, apperrors.NewExternalError(fmt.Sprintf("embedding has %d dimensions, expected %d", len(raw), c.dimensions), nil)
	}
	vec, ok := normalize(raw)
	if !ok {
		return nil, apperrors.NewExternalError("embedding is a zero vector", nil)
	}
	return vec, nil
}

func normalize(v []float64) ([]float32, bool) {
	var sum float64
	for _, f := range v {
		sum += f * f
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, false
	}
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f / norm)
	}
	return out, true
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *Client) chat(ctx context.Context, op, system, user string, jsonMode bool) (string, error) {
	req := chatRequest{
		Model: c.chatModel,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: 0.2,
	}
	if jsonMode {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", apperrors.NewInternalError("failed to encode chat request", err)
	}

	var out chatResponse
	if err := c.call(ctx, op, c.chatModel, "/chat/completions", "application/json", body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", apperrors.NewExternalError(fmt.Sprintf("%s: response contained no choices", op), nil)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// call sends one logical request through the breaker, retrying transient
// failures, and decodes a 2xx JSON body into out.
func (c *Client) call(ctx context.Context, op, model, path, contentType string, body []byte, out interface{}) error {
	breaker := c.breaker(op)
	_, err := breaker.Execute(func() (interface{}, error) {
		return nil, retry.DoWithLog(ctx, c.retryCfg, "ai."+op,
			func() error { return c.attempt(ctx, op, model, path, contentType, body, out) },
			func(attempt int, err error, nextDelay time.Duration) {
				observability.LoggerFromContext(ctx).Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("retry_in", nextDelay).Msg("AI request failed, retrying")
			},
		)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewUnavailableError(fmt.Sprintf("AI provider unavailable for %s", op), err)
	}
	return err
}

func (c *Client) attempt(ctx context.Context, op, model, path, contentType string, body []byte, out interface{}) error {
	if c.limiter != nil {
		waitStart := time.Now()
		if err := c.limiter.Wait(ctx); err != nil {
			recordAIMetric(ctx, op, model, 0, 0, err)
			return retry.Permanent(err)
		}
		recordAIRateLimitWait(ctx, op, model, time.Since(waitStart))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(apperrors.NewInternalError("failed to build AI request", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		recordAIMetric(ctx, op, model, 0, time.Since(start), err)
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return apperrors.NewExternalError(fmt.Sprintf("%s request failed", op), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
		recordAIMetric(ctx, op, model, resp.StatusCode, time.Since(start), statusErr)

		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return retry.Permanent(apperrors.NewUnauthorizedError("AI provider rejected the API key", statusErr))
		case resp.StatusCode == http.StatusTooManyRequests:
			return retry.After(apperrors.NewExternalError(fmt.Sprintf("%s rate limited", op), statusErr), parseRetryAfter(resp.Header.Get("Retry-After")))
		case resp.StatusCode >= 500:
			return apperrors.NewExternalError(fmt.Sprintf("%s failed upstream", op), statusErr)
		default:
			return retry.Permanent(apperrors.NewExternalError(fmt.Sprintf("%s request rejected", op), statusErr))
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		recordAIMetric(ctx, op, model, resp.StatusCode, time.Since(start), err)
		return retry.Permanent(apperrors.NewExternalError(fmt.Sprintf("%s response could not be decoded", op), err))
	}

	recordAIMetric(ctx, op, model, resp.StatusCode, time.Since(start), nil)
	return nil
}

// parseRetryAfter reads a Retry-After header given in seconds or as an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func (c *Client) breaker(op string) *gobreaker.CircuitBreaker {
	c.breakerMu.Lock()
	defer c.breakerMu.Unlock()

	if cb, ok := c.breakers[op]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ai." + op,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		IsSuccessful: func(err error) bool {
			return err == nil ||
				errors.Is(err, context.Canceled) ||
				apperrors.IsType(err, apperrors.ErrorTypeValidation)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state change")
		},
	})
	c.breakers[op] = cb
	return cb
}

func newTokenBucket(rpm int, burst int) *tokenBucket {
	if rpm < 0 {
		return nil
	}
	if rpm == 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = 5
	}
	return newTokenBucketWithRate(rpm, burst)
}

type tokenBucket struct {
	tokens   chan struct{}
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

func newTokenBucketWithRate(rpm int, burst int) *tokenBucket {
	bucket := &tokenBucket{
		tokens:  make(chan struct{}, burst),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	for i := 0; i < burst; i++ {
		bucket.tokens <- struct{}{}
	}

	interval := time.Minute / time.Duration(rpm)
	if interval <= 0 {
		interval = time.Millisecond
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer close(bucket.stopped)
		defer ticker.Stop()
		for {
			select {
			case <-bucket.stop:
				return
			case <-ticker.C:
				select {
				case bucket.tokens <- struct{}{}:
				default:
				}
			}
		}
	}()

	return bucket
}

// Close stops the refill goroutine and waits for it to exit.
func (b *tokenBucket) Close() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.stopped
}

func (b *tokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.tokens:
		return nil
	}
}

type aiMetrics struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	requestErrors   metric.Int64Counter
	rateLimitWait   metric.Float64Histogram
}

var (
	aiMetricsOnce sync.Once
	aiMetricsOK   bool
	aiInstruments aiMetrics
)

func ensureAIMetrics() bool {
	aiMetricsOnce.Do(func() {
		meter := otel.Meter("github.com/vetai/backend/ai")

		requestCount, err := meter.Int64Counter(
			"ai.request.count",
			metric.WithDescription("Number of AI provider requests"),
		)
		if err != nil {
			return
		}
		requestDuration, err := meter.Float64Histogram(
			"ai.request.duration",
			metric.WithDescription("AI provider request duration in milliseconds"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return
		}
		requestErrors, err := meter.Int64Counter(
			"ai.request.errors",
			metric.WithDescription("Number of AI provider request errors"),
		)
		if err != nil {
			return
		}
		rateLimitWait, err := meter.Float64Histogram(
			"ai.rate_limit.wait",
			metric.WithDescription("Time spent waiting for the AI rate limiter in milliseconds"),
			metric.WithUnit("ms"),
		)
		if err != nil {
			return
		}

		aiInstruments = aiMetrics{
			requestCount:    requestCount,
			requestDuration: requestDuration,
			requestErrors:   requestErrors,
			rateLimitWait:   rateLimitWait,
		}
		aiMetricsOK = true
	})
	return aiMetricsOK
}

func recordAIMetric(ctx context.Context, op, model string, statusCode int, duration time.Duration, err error) {
	if !ensureAIMetrics() {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("ai.operation", op),
		attribute.String("ai.model", model),
	}
	if statusCode > 0 {
		attrs = append(attrs, attribute.Int("http.status_code", statusCode))
	}

	aiInstruments.requestCount.Add(ctx, 1, metric.WithAttributes(attrs...))
	aiInstruments.requestDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	if err != nil {
		aiInstruments.requestErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func recordAIRateLimitWait(ctx context.Context, op, model string, wait time.Duration) {
	if !ensureAIMetrics() {
		return
	}
	aiInstruments.rateLimitWait.Record(ctx, float64(wait.Milliseconds()), metric.WithAttributes(
		attribute.String("ai.operation", op),
		attribute.String("ai.model", model),
	))
}
