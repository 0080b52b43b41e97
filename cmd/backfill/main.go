package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vetai/backend/internal/adapters/cache"
	"github.com/vetai/backend/internal/adapters/database"
	"github.com/vetai/backend/internal/application/services"
	"github.com/vetai/backend/internal/domain/providers"
	"github.com/vetai/backend/internal/infrastructure/clients/openai"
	"github.com/vetai/backend/internal/infrastructure/clients/postgres"
	"github.com/vetai/backend/internal/infrastructure/clients/redis"
	"github.com/vetai/backend/internal/infrastructure/observability"
	"github.com/vetai/backend/pkg/config"
)

func main() {
	var (
		workers int
		limit   int
	)
	flag.IntVar(&workers, "workers", 4, "Number of concurrent workers")
	flag.IntVar(&limit, "limit", 500, "Maximum consultations to embed in this run")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	observability.InitLogger("vetai-backfill", cfg.Environment)

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pgClient.Close()

	aiClient, err := openai.NewClient(&cfg.AI)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create AI client")
	}
	defer aiClient.Close()

	svc := services.NewConsultationService(
		database.NewConsultationAdapter(pgClient),
		database.NewAttachmentAdapter(pgClient),
		aiClient,
		nil,
		nil,
		services.ConsultationServiceConfig{},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	log.Info().Int("workers", workers).Int("limit", limit).Msg("starting embedding backfill")

	result, err := svc.BackfillEmbeddings(ctx, workers, limit)
	if err != nil {
		log.Error().Err(err).Msg("backfill interrupted")
	}
	log.Info().
		Int("processed", result.Processed).
		Int("failed", result.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("backfill complete")

	if result.Processed > 0 {
		invalidateCaches(ctx, cfg)
	}
}

// invalidateCaches drops derived views that were computed without the new
// vectors. Only a shared Redis cache outlives this process.
func invalidateCaches(ctx context.Context, cfg *config.Config) {
	if !cfg.Redis.Enabled {
		return
	}
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("skipping cache invalidation")
		return
	}
	defer redisClient.Close()

	var cacheProvider providers.CacheProvider = cache.NewRedisAdapter(redisClient)
	if err := services.NewCacheInvalidationService(cacheProvider, nil).InvalidateAll(ctx); err != nil {
		log.Warn().Err(err).Msg("cache invalidation failed")
	}
}
