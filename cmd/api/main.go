package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vetai/backend/internal/adapters/cache"
	"github.com/vetai/backend/internal/adapters/database"
	"github.com/vetai/backend/internal/adapters/events"
	"github.com/vetai/backend/internal/api/handlers"
	"github.com/vetai/backend/internal/api/routes"
	"github.com/vetai/backend/internal/application/services"
	"github.com/vetai/backend/internal/domain/providers"
	"github.com/vetai/backend/internal/infrastructure/clients/openai"
	"github.com/vetai/backend/internal/infrastructure/clients/postgres"
	"github.com/vetai/backend/internal/infrastructure/clients/redis"
	"github.com/vetai/backend/internal/infrastructure/observability"
	"github.com/vetai/backend/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			log.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			log.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	if cfg.Database.AutoMigrate {
		if err := migrateUp(pgClient, cfg.Database.MigrationsPath); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
	}

	// Redis backs the cache and the event bus; without it both stay in process.
	var (
		cacheProvider providers.CacheProvider
		eventBus      providers.EventBus
		cachePinger   handlers.Pinger
		redisClient   *redis.Client
	)
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(&cfg.Redis)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using in-memory cache and event bus")
		}
	}
	if redisClient != nil {
		cacheProvider = cache.NewRedisAdapter(redisClient)
		eventBus = events.NewRedisEventBus(redisClient)
		cachePinger = redisClient
		log.Info().Str("addr", cfg.Redis.RedisAddr()).Msg("redis cache and event bus initialized")
	} else {
		cacheProvider = cache.NewMemoryAdapter()
		eventBus = events.NewMemoryEventBus()
	}

	var aiGateway providers.AIGateway
	if cfg.AI.Enabled() {
		client, err := openai.NewClient(&cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("AI gateway disabled")
		} else {
			defer client.Close()
			aiGateway = client
			log.Info().Str("embedding_model", client.EmbeddingModel()).Msg("AI gateway initialized")
		}
	} else {
		log.Warn().Msg("AI_API_KEY not set, transcription, enrichment and search tiers are disabled")
	}

	consultationRepo := database.NewConsultationAdapter(pgClient)
	attachmentRepo := database.NewAttachmentAdapter(pgClient)

	consultationService := services.NewConsultationService(
		consultationRepo,
		attachmentRepo,
		aiGateway,
		eventBus,
		metrics,
		services.ConsultationServiceConfig{
			AsyncTimeout:       time.Duration(cfg.Upload.AsyncTimeoutSecs) * time.Second,
			MaxAttachmentBytes: cfg.Upload.MaxAttachmentBytes,
			EventRetention:     time.Duration(cfg.Upload.EventRetentionSecs) * time.Second,
		},
	).WithEventCache(cacheProvider)
	searchService := services.NewSearchService(
		consultationRepo,
		services.NewRequestGuard(),
		metrics,
		cfg.Search.DefaultLimit,
		services.NewEmbeddingSearchStrategy(aiGateway, cfg.Search.SimilarityThreshold),
		services.NewPromptSearchStrategy(aiGateway, cacheProvider, metrics, cfg.Search.PromptMaxCandidates),
	)
	graphService := services.NewGraphService(consultationRepo, aiGateway, cacheProvider, metrics, cfg.Graph.CacheTTLSeconds, cfg.Graph.UseLLM)
	assistantService := services.NewAssistantService(consultationRepo, aiGateway, cfg.Search.MatchThreshold)
	analyticsService := services.NewAnalyticsService(consultationRepo, aiGateway, cacheProvider, metrics)

	cacheInvalidationService := services.NewCacheInvalidationService(cacheProvider, eventBus)
	if err := cacheInvalidationService.Start(); err != nil {
		log.Warn().Err(err).Msg("failed to start cache invalidation")
	}

	router := routes.NewRouter(routes.Handlers{
		Consultation: handlers.NewConsultationHandler(consultationService, cfg.Upload.MaxRequestBytes),
		Stream:       handlers.NewSSEHandler(eventBus).WithEventCache(cacheProvider),
		Search:       handlers.NewSearchHandler(searchService),
		Graph:        handlers.NewGraphHandler(graphService),
		Assistant:    handlers.NewAssistantHandler(assistantService),
		Analytics:    handlers.NewAnalyticsHandler(analyticsService),
		Health:       handlers.NewHealthHandler(pgClient, cachePinger, aiGateway != nil),
	}, cfg.Server.AllowedOrigins, metrics)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		// no write timeout: SSE streams and synchronous ingests run long
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during server shutdown")
	}

	drained := make(chan struct{})
	go func() {
		consultationService.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-shutdownCtx.Done():
		log.Warn().Msg("background ingests still running at shutdown")
	}

	cacheInvalidationService.Stop()
	if err := eventBus.Close(); err != nil {
		log.Error().Err(err).Msg("error closing event bus")
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis client")
		}
	}

	log.Info().Msg("server stopped")
}

func migrateUp(client *postgres.Client, path string) error {
	migrator, err := postgres.NewMigrator(client, path)
	if err != nil {
		return err
	}
	defer migrator.Close()
	return migrator.Up()
}
