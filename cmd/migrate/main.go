package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/saviobatista/arnavi-gateway/internal/config"
	"github.com/saviobatista/arnavi-gateway/internal/db/migrations"
	"github.com/saviobatista/arnavi-gateway/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	dbURL := flag.String("db", cfg.DBConnStr, "Database connection string")
	rollback := flag.Bool("rollback", false, "Rollback the last migration")
	flag.Parse()

	logger := logging.New("migrate", cfg.LogLevel, cfg.LogFormat)
	if err := run(*dbURL, *rollback, logger); err != nil {
		logger.Error().Err(err).Msg("migration failed")
		os.Exit(1)
	}
}

func run(dbURL string, rollback bool, logger zerolog.Logger) error {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn().Err(err).Msg("error closing database")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return execute(ctx, db, rollback, logger)
}

// execute applies pending migrations, or reverts the last one when rollback is set
func execute(ctx context.Context, db *sql.DB, rollback bool, logger zerolog.Logger) error {
	migrator := migrations.New(db, logger)

	if rollback {
		reverted, err := migrator.Rollback(ctx, migrations.All())
		if errors.Is(err, migrations.ErrNothingToRollback) {
			logger.Info().Msg("no migrations to rollback")
			return nil
		}
		if err != nil {
			return err
		}
		logger.Info().Str("migration", reverted.Name).Msg("rollback complete")
		return nil
	}

	count, err := migrator.Migrate(ctx, migrations.All())
	if err != nil {
		return err
	}
	logger.Info().Int("applied", count).Msg("migrations complete")
	return nil
}
