package main

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/watashi-museum/museum/internal/config"
	"github.com/watashi-museum/museum/internal/database"
	"github.com/watashi-museum/museum/internal/storage"
	gormstorage "github.com/watashi-museum/museum/internal/storage/gorm"
	"github.com/watashi-museum/museum/internal/storage/memory"
	mongostorage "github.com/watashi-museum/museum/internal/storage/mongo"
)

// createStorageBackend builds the configured backend. The returned func
// closes the database connection the backend was opened on, if any.
func createStorageBackend(storageCfg config.StorageConfig) (storage.Backend, func(), error) {
	noop := func() {}

	switch storageCfg.Type {
	case "postgres":
		db, err := database.OpenPostgres(storageCfg.Postgres, dbLog)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		Logger.Info("Postgres storage backend initialized", "host", storageCfg.Postgres.Host)
		return newGormBackend(db, storageCfg, gormstorage.Config{}), closeDB(db), nil

	case "sqlite":
		db, err := database.OpenSQLite(storageCfg.SQLite.Path, dbLog)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to open SQLite: %w", err)
		}
		Logger.Info("SQLite storage backend initialized", "path", storageCfg.SQLite.Path)
		return newGormBackend(db, storageCfg, gormstorage.Config{
			DumpInterval: storageCfg.SQLite.DumpInterval,
			DumpPath:     storageCfg.SQLite.DumpPath,
		}), closeDB(db), nil

	case "mongo":
		Logger.Info("MongoDB storage backend initialized", "database", storageCfg.Mongo.Database)
		return mongostorage.New(storageCfg.Mongo, storageCfg.PollInterval, mongostorage.Dependencies{
			Logger: Logger,
		}), noop, nil

	case "memory", "":
		Logger.Info("Memory storage backend initialized")
		return memory.New(storageCfg.Memory), noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown storage type %q", storageCfg.Type)
	}
}

func newGormBackend(db *gorm.DB, storageCfg config.StorageConfig, cfg gormstorage.Config) *gormstorage.Backend {
	cfg.PollInterval = storageCfg.PollInterval
	cfg.FlushInterval = storageCfg.FlushInterval
	return gormstorage.New(gormstorage.Dependencies{DB: db, Logger: Logger}, cfg)
}

func closeDB(db *gorm.DB) func() {
	return func() {
		sqlDB, err := db.DB()
		if err != nil {
			return
		}
		if err := sqlDB.Close(); err != nil {
			Logger.Warn("Failed to close database", "error", err)
		}
	}
}
