package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/attemptguard/internal/config"
	"github.com/BradenHooton/attemptguard/internal/database"
	"github.com/BradenHooton/attemptguard/internal/models"
	"github.com/BradenHooton/attemptguard/internal/repositories"
	"github.com/BradenHooton/attemptguard/internal/services"
)

// attemptStores is the pair of stores backing the two guards plus the
// engine's health check and shutdown hook
type attemptStores struct {
	login  services.AttemptStore
	signup services.AttemptStore
	health func(ctx context.Context) error
	close  func()
}

// openStores connects the engine selected by STORE_DRIVER and applies its
// migrations when AUTO_MIGRATE is set
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*attemptStores, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := database.MigratePostgres(ctx, db, logger); err != nil {
				db.Close()
				return nil, err
			}
		}
		return &attemptStores{
			login:  repositories.NewLoginAttemptRepository(db),
			signup: repositories.NewSignUpAttemptRepository(db),
			health: db.HealthCheck,
			close:  db.Close,
		}, nil

	case config.DriverSQLite:
		db, err := database.OpenSQLite(cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Database.AutoMigrate {
			if err := database.MigrateSQLite(ctx, db, logger); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		return &attemptStores{
			login:  repositories.NewSQLiteAttemptRepository(db, models.FamilyLogin),
			signup: repositories.NewSQLiteAttemptRepository(db, models.FamilySignUp),
			health: db.HealthCheck,
			close:  func() { _ = db.Close() },
		}, nil

	case config.DriverRedis:
		client, err := database.NewRedisClient(&cfg.Store.Redis, logger)
		if err != nil {
			return nil, err
		}
		prefix := cfg.Store.Redis.Prefix
		return &attemptStores{
			login:  repositories.NewRedisAttemptRepository(client, prefix, models.FamilyLogin),
			signup: repositories.NewRedisAttemptRepository(client, prefix, models.FamilySignUp),
			health: func(ctx context.Context) error { return database.RedisHealthCheck(ctx, client) },
			close:  func() { _ = client.Close() },
		}, nil

	case config.DriverMemory:
		logger.Warn("using in-memory attempt store; counters are lost on restart")
		return &attemptStores{
			login:  repositories.NewMemoryAttemptRepository(models.FamilyLogin),
			signup: repositories.NewMemoryAttemptRepository(models.FamilySignUp),
			health: func(context.Context) error { return nil },
			close:  func() {},
		}, nil
	}

	return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
