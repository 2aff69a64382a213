//go:build sqlite && postgres

package main

import (
	"github.com/MrGSommer/vacation-planner-sub001/internal/audit"
	"github.com/MrGSommer/vacation-planner-sub001/internal/config"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
	pgstore "github.com/MrGSommer/vacation-planner-sub001/internal/storage/postgres"
	sqlitestore "github.com/MrGSommer/vacation-planner-sub001/internal/storage/sqlite"
)

// selectStore picks PostgreSQL if store.database_url is set, otherwise SQLite.
func selectStore(cfg config.StoreConfig, logger observability.Logger) (storage.Store, audit.AuditLogger) {
	if cfg.DatabaseURL != "" {
		st, err := pgstore.New(cfg.DatabaseURL)
		if err != nil {
			logger.Error("postgres init failed; falling back to sqlite", "error", err)
		} else {
			logger.Info("using postgres store")
			return st, audit.NewPostgresAuditLoggerFromPool(st.Pool())
		}
	}
	st, err := sqlitestore.New(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("sqlite init failed; falling back to memory store", "error", err)
		return storage.NewMemoryStore(), audit.NewMemoryAuditLogger()
	}
	logger.Info("using sqlite store", "dsn", cfg.SQLiteDSN)
	return st, audit.NewSQLiteAuditLoggerFromDB(st.DB())
}

func migrationStatus(cfg config.StoreConfig) string {
	if cfg.DatabaseURL != "" {
		if s, err := pgstore.Status(cfg.DatabaseURL); err == nil {
			return s
		}
	}
	s, err := sqlitestore.Status(cfg.SQLiteDSN)
	if err != nil {
		return ""
	}
	return s
}
