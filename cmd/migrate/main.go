package main

import (
	"flag"

	"github.com/rs/zerolog/log"

	"github.com/vetai/backend/internal/infrastructure/clients/postgres"
	"github.com/vetai/backend/internal/infrastructure/observability"
	"github.com/vetai/backend/pkg/config"
)

func main() {
	var (
		down  bool
		steps int
		path  string
	)
	flag.BoolVar(&down, "down", false, "Roll back every migration")
	flag.IntVar(&steps, "steps", 0, "Apply n migrations (negative rolls back n)")
	flag.StringVar(&path, "path", "", "Migrations directory (defaults to DB_MIGRATIONS_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	observability.InitLogger("vetai-migrate", cfg.Environment)

	if path == "" {
		path = cfg.Database.MigrationsPath
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pgClient.Close()

	migrator, err := postgres.NewMigrator(pgClient, path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create migrator")
	}
	defer migrator.Close()

	switch {
	case steps != 0:
		err = migrator.Steps(steps)
	case down:
		err = migrator.Down()
	default:
		err = migrator.Up()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
}
