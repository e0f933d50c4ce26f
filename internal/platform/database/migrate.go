package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationResult reports the schema version after Migrate.
type MigrationResult struct {
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate applies every embedded migration that has not run yet.
func Migrate(db *sql.DB, logger migrate.Logger) (MigrationResult, error) {
	m, err := newMigrator(db, logger)
	if err != nil {
		return MigrationResult{}, err
	}

	changed := true
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return MigrationResult{}, fmt.Errorf("database: apply migrations: %w", err)
		}
		changed = false
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationResult{}, fmt.Errorf("database: read migration version: %w", err)
	}
	return MigrationResult{Version: version, Dirty: dirty, Changed: changed}, nil
}

// Rollback reverts the given number of migrations.
func Rollback(db *sql.DB, steps int, logger migrate.Logger) error {
	if steps <= 0 {
		return errors.New("database: rollback steps must be positive")
	}
	m, err := newMigrator(db, logger)
	if err != nil {
		return err
	}
	if err := m.Steps(-steps); err != nil {
		return fmt.Errorf("database: rollback migrations: %w", err)
	}
	return nil
}

func newMigrator(db *sql.DB, logger migrate.Logger) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("database: db is required")
	}
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("database: load migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("database: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("database: migrator: %w", err)
	}
	if logger != nil {
		m.Log = logger
	}
	return m, nil
}
