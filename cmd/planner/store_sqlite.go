//go:build sqlite && !postgres

package main

import (
	"github.com/MrGSommer/vacation-planner-sub001/internal/audit"
	"github.com/MrGSommer/vacation-planner-sub001/internal/config"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
	sqlitestore "github.com/MrGSommer/vacation-planner-sub001/internal/storage/sqlite"
)

// selectStore returns a SQLite-backed store when built with the 'sqlite' tag.
// The audit log shares its database.
func selectStore(cfg config.StoreConfig, logger observability.Logger) (storage.Store, audit.AuditLogger) {
	st, err := sqlitestore.New(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("sqlite init failed; falling back to memory store", "error", err)
		return storage.NewMemoryStore(), audit.NewMemoryAuditLogger()
	}
	logger.Info("using sqlite store", "dsn", cfg.SQLiteDSN)
	return st, audit.NewSQLiteAuditLoggerFromDB(st.DB())
}

func migrationStatus(cfg config.StoreConfig) string {
	s, err := sqlitestore.Status(cfg.SQLiteDSN)
	if err != nil {
		return ""
	}
	return s
}
