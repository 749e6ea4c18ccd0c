package database

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/AlexKimmel/tgbot/internal/config"
)

const (
	pingTimeout      = 30 * time.Second
	migrationTimeout = 30 * time.Second
)

type DB struct {
	logger zerolog.Logger
	*gorm.DB
}

// NewDB connects to postgres, configures the pool and applies pending
// migrations.
func NewDB(ctx context.Context, logger zerolog.Logger, cfg config.DB) (*DB, error) {
	logger.Info().
		Str("host", cfg.Host).
		Int("port", cfg.Port).
		Str("db", cfg.Database).
		Str("user", cfg.User).
		Str("sslmode", cfg.SSLMode).
		Msg("connecting to database")

	gormDB, err := gorm.Open(postgres.Open(cfg.URL()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql DB: %w", err)
	}
	// a bot does little db work per update; keep the pool small
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	db := &DB{logger: logger, DB: gormDB}

	logger.Info().Dur("timeout", migrationTimeout).Msg("applying database migrations")
	migCtx, migCancel := context.WithTimeout(ctx, migrationTimeout)
	defer migCancel()
	if err := NewMigrationsManager(gormDB.WithContext(migCtx)).ApplyPending(); err != nil {
		_ = sqlDB.Close()
		logger.Error().Err(err).Msg("failed to apply database migrations")
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	logger.Info().Msg("database migrations applied")

	return db, nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
