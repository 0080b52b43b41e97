package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vetai/backend/pkg/secrets"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	AI          AIConfig
	Search      SearchConfig
	Graph       GraphConfig
	Upload      UploadConfig
	OTEL        OTELConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	MigrationsPath string
	AutoMigrate    bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Enabled  bool
}

// AIConfig holds configuration for the OpenAI-compatible gateway
type AIConfig struct {
	APIKey              string
	BaseURL             string
	ChatModel           string
	TranscriptionModel  string
	EmbeddingModel      string
	EmbeddingDimensions int
	TimeoutSeconds      int
	RateLimitRPM        int
	RateLimitBurst      int
	MaxRetries          int
}

// SearchConfig holds search tuning
type SearchConfig struct {
	SimilarityThreshold float64
	DefaultLimit        int
	PromptMaxCandidates int
	MatchThreshold      float64
}

// GraphConfig holds knowledge graph settings
type GraphConfig struct {
	CacheTTLSeconds int
	UseLLM          bool
}

// UploadConfig holds upload limits
type UploadConfig struct {
	MaxRequestBytes    int64
	MaxAttachmentBytes int64
	AsyncTimeoutSecs   int
	EventRetentionSecs int
}

// OTELConfig holds OpenTelemetry configuration
type OTELConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Enabled        bool
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}

	cfg := &Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           getEnvAsInt("SERVER_PORT", 8080),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvAsInt("DB_PORT", 5432),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", ""),
			Database:       getEnv("DB_NAME", "vetai"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MigrationsPath: getEnv("DB_MIGRATIONS_PATH", "migrations"),
			AutoMigrate:    getEnvAsBool("DB_AUTO_MIGRATE", false),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", true),
		},
		AI: AIConfig{
			APIKey:              getEnv("AI_API_KEY", ""),
			BaseURL:             getEnv("AI_BASE_URL", "https://api.openai.com/v1"),
			ChatModel:           getEnv("AI_CHAT_MODEL", "gpt-4o-mini"),
			TranscriptionModel:  getEnv("AI_TRANSCRIPTION_MODEL", "whisper-1"),
			EmbeddingModel:      getEnv("AI_EMBEDDING_MODEL", "text-embedding-3-small"),
			EmbeddingDimensions: getEnvAsInt("AI_EMBEDDING_DIMENSIONS", SchemaEmbeddingDimensions),
			TimeoutSeconds:      getEnvAsInt("AI_TIMEOUT_SECONDS", 60),
			RateLimitRPM:        getEnvAsInt("AI_RATE_LIMIT_RPM", 60),
			RateLimitBurst:      getEnvAsInt("AI_RATE_LIMIT_BURST", 5),
			MaxRetries:          getEnvAsInt("AI_MAX_RETRIES", 3),
		},
		Search: SearchConfig{
			SimilarityThreshold: getEnvAsFloat("SEARCH_SIMILARITY_THRESHOLD", 0.7),
			DefaultLimit:        getEnvAsInt("SEARCH_DEFAULT_LIMIT", 20),
			PromptMaxCandidates: getEnvAsInt("SEARCH_PROMPT_MAX_CANDIDATES", 200),
			MatchThreshold:      getEnvAsFloat("ASSISTANT_MATCH_THRESHOLD", 0.5),
		},
		Graph: GraphConfig{
			CacheTTLSeconds: getEnvAsInt("GRAPH_CACHE_TTL_SECONDS", 600),
			UseLLM:          getEnvAsBool("GRAPH_USE_LLM", true),
		},
		Upload: UploadConfig{
			MaxRequestBytes:    int64(getEnvAsInt("UPLOAD_MAX_REQUEST_BYTES", 64<<20)),
			MaxAttachmentBytes: int64(getEnvAsInt("UPLOAD_MAX_ATTACHMENT_BYTES", 10<<20)),
			AsyncTimeoutSecs:   getEnvAsInt("UPLOAD_ASYNC_TIMEOUT_SECONDS", 300),
			EventRetentionSecs: getEnvAsInt("UPLOAD_EVENT_RETENTION_SECONDS", 3600),
		},
		OTEL: OTELConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "vetai-backend"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "1.0.0"),
			Endpoint:       getEnv("OTEL_ENDPOINT", ""),
			Enabled:        getEnvAsBool("OTEL_ENABLED", false),
		},
	}

	vaultCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	vaultSecrets, err := secrets.Fetch(vaultCtx, secrets.VaultConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to load secrets from vault: %w", err)
	}
	cfg.applySecrets(vaultSecrets)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applySecrets fills credentials the environment left empty.
func (c *Config) applySecrets(values map[string]string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = values[key]
		}
	}
	fill(&c.AI.APIKey, "AI_API_KEY")
	fill(&c.Database.Password, "DB_PASSWORD")
	fill(&c.Redis.Password, "REDIS_PASSWORD")
}

// SchemaEmbeddingDimensions is the width of the vector columns in migrations/.
// Changing it requires a new migration.
const SchemaEmbeddingDimensions = 768

// Validate rejects configuration values the service cannot run with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port)
	}
	if c.AI.EmbeddingDimensions != SchemaEmbeddingDimensions {
		return fmt.Errorf("AI_EMBEDDING_DIMENSIONS must be %d to match the consultations.embedding column, got %d",
			SchemaEmbeddingDimensions, c.AI.EmbeddingDimensions)
	}
	if c.Search.SimilarityThreshold < 0 || c.Search.SimilarityThreshold > 1 {
		return fmt.Errorf("SEARCH_SIMILARITY_THRESHOLD must be within [0,1], got %v", c.Search.SimilarityThreshold)
	}
	if c.Search.MatchThreshold < 0 || c.Search.MatchThreshold > 1 {
		return fmt.Errorf("ASSISTANT_MATCH_THRESHOLD must be within [0,1], got %v", c.Search.MatchThreshold)
	}
	if c.Search.DefaultLimit <= 0 {
		return fmt.Errorf("invalid SEARCH_DEFAULT_LIMIT %d", c.Search.DefaultLimit)
	}
	return nil
}

// DatabaseDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// DatabaseURL returns the connection string in URL form, as golang-migrate expects it
func (c *DatabaseConfig) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisAddr returns the Redis address
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Enabled reports whether an API key is configured for the AI gateway
func (c *AIConfig) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
