package migration

import (
	"fmt"

	"go.uber.org/zap"

	appconfig "github.com/BaSui01/flowguard/config"
)

// NewMigratorFromConfig creates a migrator for the ledger database
func NewMigratorFromConfig(cfg *appconfig.Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	return NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// NewMigratorFromDatabaseConfig creates a migrator that shares the ledger
// pool's connection string
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig, logger *zap.Logger) (*DefaultMigrator, error) {
	dsn, err := dbCfg.ConnectionString()
	if err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	return NewMigrator(Config{
		Driver:    dbCfg.Driver,
		DSN:       dsn,
		TableName: dbCfg.MigrationsTable,
	}, logger)
}
