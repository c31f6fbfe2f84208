// Package migrations applies the versioned learnhub schema with golang-migrate.
//
// The SQL files are embedded, so the binary carries its own schema and the
// service never inspects the live schema at runtime.
package migrations

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed sql/*.sql
var files embed.FS

// Directions accepted by Run.
const (
	Up   = "up"
	Down = "down"
)

// Run applies migrations in direction against dsn.
// Being already at the target version is not an error.
func Run(dsn, direction string) error {
	if strings.TrimSpace(dsn) == "" {
		return errors.New("migrations: database url is empty")
	}
	if direction != Up && direction != Down {
		return fmt.Errorf("migrations: direction must be %q or %q, got %q", Up, Down, direction)
	}

	m, err := newMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()

	switch direction {
	case Up:
		err = m.Up()
	case Down:
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrations: %s: %w", direction, err)
	}
	return nil
}

// Version reports the applied schema version and whether the last migration
// left the database dirty.
func Version(dsn string) (uint, bool, error) {
	m, err := newMigrator(dsn)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func newMigrator(dsn string) (*migrate.Migrate, error) {
	src, err := iofs.New(files, "sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrations: open: %w", err)
	}
	return m, nil
}
