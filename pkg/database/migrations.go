package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/ekaya-inc/obra-engine/migrations"
)

// ErrDirtySchema is returned when a previous migration failed halfway and
// the migrations table still carries the dirty flag.
var ErrDirtySchema = errors.New("database schema is dirty")

// RunMigrations brings the schema up to the newest embedded migration.
// Only pending migrations run, so it is safe on every start.
func RunMigrations(db *sql.DB, logger *zap.Logger) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "obra_schema_migrations"})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("Failed to close migrator", zap.NamedError("source", srcErr), zap.NamedError("database", dbErr))
		}
	}()

	from, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Info("Empty database, applying all migrations")
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	case dirty:
		return fmt.Errorf("%w at version %d; fix it by hand and force the version", ErrDirtySchema, from)
	}

	if err := m.Up(); errors.Is(err, migrate.ErrNoChange) {
		logger.Info("Schema up to date", zap.Uint("version", from))
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	to, _, _ := m.Version()
	logger.Info("Applied migrations", zap.Uint("from", from), zap.Uint("to", to))
	return nil
}
