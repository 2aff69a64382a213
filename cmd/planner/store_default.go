//go:build !sqlite && !postgres

package main

import (
	"github.com/MrGSommer/vacation-planner-sub001/internal/audit"
	"github.com/MrGSommer/vacation-planner-sub001/internal/config"
	"github.com/MrGSommer/vacation-planner-sub001/internal/observability"
	"github.com/MrGSommer/vacation-planner-sub001/internal/storage"
)

// selectStore returns the in-memory store when built without a database tag.
// A configured DSN only produces a hint to rebuild.
func selectStore(cfg config.StoreConfig, logger observability.Logger) (storage.Store, audit.AuditLogger) {
	if cfg.DatabaseURL != "" {
		logger.Warn("store.database_url set, but binary not built with -tags postgres; using in-memory store")
	}
	logger.Info("using in-memory store")
	return storage.NewMemoryStore(), audit.NewMemoryAuditLogger()
}

// migrationStatus has nothing to report for the in-memory store.
func migrationStatus(config.StoreConfig) string { return "" }
