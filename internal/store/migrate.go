package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/datallboy/gotubedl/internal/infra/config"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFiles embed.FS

func (s *PersistentStore) RunMigrations() error {
	var (
		driver database.Driver
		dir    string
		name   string
		err    error
	)

	switch s.driver {
	case config.DriverPostgres:
		dir, name = "migrations/postgres", "pgx5"
		driver, err = pgxmigrate.WithInstance(s.db, &pgxmigrate.Config{})
	default:
		// This driver works with modernc.org/sqlite as well
		dir, name = "migrations/sqlite", "sqlite"
		driver, err = sqlite.WithInstance(s.db, &sqlite.Config{})
	}
	if err != nil {
		return err
	}

	d, err := iofs.New(migrationFiles, dir)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, name, driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}
