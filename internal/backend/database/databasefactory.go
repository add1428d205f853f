package database

import (
	"fmt"
	"log/slog"
)

const (
	TypeMemory     = "memory"
	TypeFilesystem = "filesystem"
	TypeSQLite     = "sqlite"
	TypeRedis      = "redis"
)

func NewDatabase(databaseType, connectionString string) (database DatabaseService, err error) {
	switch databaseType {
	case TypeMemory:
		database = NewMemoryDatabase()
	case TypeFilesystem:
		database, err = NewFilesystemDatabase(connectionString)
	case TypeSQLite:
		database, err = NewSQLiteDatabase(connectionString)
	case TypeRedis:
		database, err = NewRedisDatabase(connectionString)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", databaseType)
	}
	if err != nil {
		return nil, err
	}

	// Ensure the slot storage exists (idempotent), important for in-memory SQLite
	slog.Info("initializing image slot storage", "type", databaseType)
	if err = database.CreateDatabase(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return database, nil
}
