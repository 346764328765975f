package postgres

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // required for postgres migrate driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/odpf/salt/log"
)

//go:embed migrations
var migrationFs embed.FS

const (
	resourcePath = "migrations"
)

// Migration applies the embedded schema migrations to the database behind dbURL
type Migration struct {
	l     log.Logger
	dbURL string
}

func NewMigration(logger log.Logger, dbURL string) (*Migration, error) {
	if logger == nil {
		return nil, errors.New("logger is nil")
	}
	if dbURL == "" {
		return nil, errors.New("database connection url is empty")
	}
	return &Migration{
		l:     logger,
		dbURL: dbURL,
	}, nil
}

func (m *Migration) Up() error {
	return m.run(func(client *migrate.Migrate) error {
		if err := client.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("error executing migration up: %w", err)
		}
		return nil
	})
}

func (m *Migration) Rollback(count int) error {
	if count < 1 {
		return fmt.Errorf("invalid value[%d] for rollback", count)
	}
	return m.run(func(client *migrate.Migrate) error {
		if err := client.Steps(-count); err != nil {
			return fmt.Errorf("error rolling back %d migrations: %w", count, err)
		}
		return nil
	})
}

func (m *Migration) ToVersion(version uint) error {
	return m.run(func(client *migrate.Migrate) error {
		if err := client.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("error migrating to version [%d]: %w", version, err)
		}
		return nil
	})
}

func (m *Migration) run(fn func(client *migrate.Migrate) error) error {
	client, err := m.newMigrationClient()
	if err != nil {
		return err
	}
	defer m.closeClient(client)

	if err := fn(client); err != nil {
		return err
	}

	version, dirty, err := client.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("error getting current migration version: %w", err)
	}
	m.l.Info("database schema migrated", "version", version, "dirty", dirty)
	return nil
}

func (m *Migration) newMigrationClient() (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(migrationFs, resourcePath)
	if err != nil {
		return nil, fmt.Errorf("error initializing source driver: %w", err)
	}
	client, err := migrate.NewWithSourceInstance("iofs", sourceDriver, m.dbURL)
	if err != nil {
		return nil, fmt.Errorf("error initializing migration instance: %w", err)
	}
	return client, nil
}

func (m *Migration) closeClient(client *migrate.Migrate) {
	sourceErr, databaseErr := client.Close()
	if sourceErr != nil {
		m.l.Error("source driver error encountered when closing migration connection", "error", sourceErr)
	}
	if databaseErr != nil {
		m.l.Error("database error encountered when closing migration connection", "error", databaseErr)
	}
}
