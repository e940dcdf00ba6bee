// Package db holds the schema migrations and the code that applies them.
package db

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5" // pgx v5 driver
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate brings the schema up to the newest embedded migration. Applied
// versions are tracked in schema_migrations, so calling it on an up-to-date
// database is a no-op. A nil logger falls back to slog.Default.
//
// connURL is a postgres:// (or postgresql://) URL.
func Migrate(connURL string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	m, err := open(connURL)
	if err != nil {
		return err
	}
	defer closeMigrator(m, logger)

	// A dirty version means a previous run died mid-migration. Applying
	// anything on top would compound the damage, so stop and ask for a human.
	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty; repair it and run 'migrate force %d'", version, version)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Debug("schema already up to date", "version", version)
			return nil
		}
		if v, d, vErr := m.Version(); vErr == nil && d {
			logger.Error("migration left the schema dirty",
				"version", v,
				"hint", fmt.Sprintf("repair it and run 'migrate force %d'", v))
		}
		return fmt.Errorf("applying migrations: %w", err)
	}

	if v, _, vErr := m.Version(); vErr == nil {
		logger.Info("applied migrations", "version", v)
	}
	return nil
}

// open builds a migrator over the embedded migration files.
func open(connURL string) (*migrate.Migrate, error) {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading embedded migrations: %w", err)
	}
	dbURL, err := migrateURL(connURL)
	if err != nil {
		return nil, err
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return nil, fmt.Errorf("connecting for migrations: %w", err)
	}
	return m, nil
}

func closeMigrator(m *migrate.Migrate, logger *slog.Logger) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		logger.Warn("closing migration source", "error", srcErr)
	}
	if dbErr != nil {
		logger.Warn("closing migration connection", "error", dbErr)
	}
}

// migrateURL rewrites the connection URL's scheme to pgx5, which is how
// golang-migrate selects its pgx v5 driver.
func migrateURL(connURL string) (string, error) {
	u, err := url.Parse(connURL)
	if err != nil {
		return "", fmt.Errorf("parsing database URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		u.Scheme = "pgx5"
		return u.String(), nil
	default:
		return "", fmt.Errorf("database URL scheme %q is not postgres", u.Scheme)
	}
}
