package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	log "github.com/sirupsen/logrus"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var fs embed.FS

func newMigrate(cfg Config) (*migrate.Migrate, error) {
	dir := "migrations/sqlite"
	if cfg.Driver == DriverPostgres {
		dir = "migrations/postgres"
	}

	// Create a new source instance using the embedded migrations
	d, err := iofs.New(fs, dir)
	if err != nil {
		return nil, err
	}

	url, err := cfg.migrateURL()
	if err != nil {
		return nil, err
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, url)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

// Migrate applies every pending migration
func Migrate(cfg Config) error {
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	err = m.Up()
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.WithFields(log.Fields{"driver": cfg.Driver}).Debug("Database schema is up to date")
		return nil
	case err != nil:
		return err
	}
	log.WithFields(log.Fields{"driver": cfg.Driver}).Info("Applied database migrations")
	return nil
}

// Rollback reverts the most recent migration
func Rollback(cfg Config) error {
	log.WithFields(log.Fields{"driver": cfg.Driver}).Info("Rolling back last migration")
	m, err := newMigrate(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
