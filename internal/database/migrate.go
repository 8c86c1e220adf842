package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationStatus describes where the database schema stands relative to
// the migrations compiled into the binary.
type MigrationStatus struct {
	Current uint `json:"current"`
	Latest  uint `json:"latest"`
	Dirty   bool `json:"dirty"`
}

// UpToDate reports whether no migrations are pending.
func (s MigrationStatus) UpToDate() bool {
	return !s.Dirty && s.Current == s.Latest
}

// MigrateUp applies all pending migrations. An already up-to-date
// database is not an error.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("database: migrate up: %w", err)
	}
	return nil
}

// MigrateTo moves the schema up or down to version.
func (db *DB) MigrateTo(version uint) error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}

	if err := m.Migrate(version); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("database: migrate to %d: %w", version, err)
	}
	return nil
}

// MigrateStatus reports the current and latest schema versions.
func (db *DB) MigrateStatus() (MigrationStatus, error) {
	latest, err := LatestMigration()
	if err != nil {
		return MigrationStatus{}, err
	}

	m, err := db.newMigrate()
	if err != nil {
		return MigrationStatus{}, err
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, fmt.Errorf("database: migration version: %w", err)
	}

	return MigrationStatus{Current: version, Latest: latest, Dirty: dirty}, nil
}

// LatestMigration returns the highest migration version embedded in the
// binary.
func LatestMigration() (uint, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return 0, fmt.Errorf("database: read migrations: %w", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("database: first migration: %w", err)
	}
	for {
		next, err := src.Next(version)
		if err != nil {
			// Next fails once the last version has been reached.
			return version, nil
		}
		version = next
	}
}

// newMigrate builds a migrate instance over a database/sql handle that
// shares the pgx pool. The handle is not closed here; closing it would
// close the pool.
func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("database: migration source: %w", err)
	}

	driver, err := pgxmigrate.WithInstance(stdlib.OpenDBFromPool(db.Pool), &pgxmigrate.Config{})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("database: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("database: migrate instance: %w", err)
	}
	return m, nil
}
