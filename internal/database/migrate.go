package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/logger"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// SchemaVersion is the newest embedded migration
const SchemaVersion uint = 3

// Migrator handles database migrations
type Migrator struct {
	migrate *migrate.Migrate
	log     logger.Logger
}

// NewMigrator creates a migrator. An empty migrationsPath uses the
// migrations compiled into the binary.
func NewMigrator(db *DB, migrationsPath string, log logger.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db.conn(), &postgres.Config{})
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to create postgres driver")
	}

	var m *migrate.Migrate
	if migrationsPath == "" {
		src, serr := iofs.New(embeddedMigrations, "migrations")
		if serr != nil {
			return nil, apperrors.WrapError(serr, apperrors.ErrCodeStorageFailure, "failed to open embedded migrations")
		}
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
	} else {
		m, err = migrate.NewWithDatabaseInstance(fmt.Sprintf("file://%s", migrationsPath), "postgres", driver)
	}
	if err != nil {
		return nil, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to create migrator")
	}

	return &Migrator{migrate: m, log: log.WithField("component", "migrator")}, nil
}

// Up runs all pending migrations
func (m *Migrator) Up() error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to run migrations")
	}
	m.log.Info("Database migrations completed")
	return nil
}

// Down rolls back all migrations
func (m *Migrator) Down() error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to rollback migrations")
	}
	m.log.Info("Database migrations rolled back")
	return nil
}

// Version returns the current migration version. A database without any
// migration applied reports version 0.
func (m *Migrator) Version() (version uint, dirty bool, err error) {
	version, dirty, err = m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to get migration version")
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations
func (m *Migrator) Force(version int) error {
	if err := m.migrate.Force(version); err != nil {
		return apperrors.WrapError(err, apperrors.ErrCodeStorageFailure, "failed to force migration version")
	}
	m.log.Warn("Forced migration version", "version", version)
	return nil
}

// Close releases the source and the database driver. The driver closes the
// DB the migrator was created with.
func (m *Migrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
