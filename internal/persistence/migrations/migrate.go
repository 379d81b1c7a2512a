// Package migrations wires golang-migrate execution for the persistence layer.
package migrations

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file" // file:// migrations loader
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	dbmigrations "github.com/quantfall/riskgate/db/migrations"
	"github.com/quantfall/riskgate/internal/observability"
)

var errNotDirectory = errors.New("migrations path must be a directory")

// Apply ensures the migrations located at migrationsDir are applied to the
// Postgres instance reachable via dsn. When the directory does not exist the
// SQL files embedded in the binary are used instead.
func Apply(ctx context.Context, dsn, migrationsDir string) error {
	m, cleanup, err := open(ctx, dsn, migrationsDir)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			observability.Count(observability.MetricMigrations, map[string]string{"result": "noop"})
			observability.Log().Info("database migrations up-to-date")
			return nil
		}
		observability.Count(observability.MetricMigrations, map[string]string{"result": "failed"})
		return fmt.Errorf("apply migrations: %w", err)
	}

	observability.Log().Info("database migrations applied")
	observability.Count(observability.MetricMigrations, map[string]string{"result": "applied"})

	return nil
}

// Rollback reverts the given number of applied migrations.
func Rollback(ctx context.Context, dsn, migrationsDir string, steps int) error {
	if steps <= 0 {
		return fmt.Errorf("rollback steps must be > 0")
	}
	m, cleanup, err := open(ctx, dsn, migrationsDir)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := m.Steps(-steps); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			observability.Log().Info("database migrations nothing to roll back")
			return nil
		}
		observability.Count(observability.MetricMigrations, map[string]string{"result": "rollback_failed"})
		return fmt.Errorf("rollback migrations: %w", err)
	}

	observability.Log().Info("database migrations rolled back", observability.F("steps", steps))
	observability.Count(observability.MetricMigrations, map[string]string{"result": "rolled_back"})
	return nil
}

func open(ctx context.Context, dsn, migrationsDir string) (*migrate.Migrate, func(), error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open migrations connection: %w", err)
	}
	closeDB := func() {
		if cerr := db.Close(); cerr != nil {
			observability.Log().Warn("database migrations close", observability.F("error", cerr))
		}
	}

	if err := db.PingContext(ctx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("initialise pgx v5 driver: %w", err)
	}

	var m *migrate.Migrate
	resolvedDir, dirErr := resolveDir(migrationsDir)
	switch {
	case dirErr == nil:
		observability.Log().Info("running database migrations", observability.F("path", resolvedDir))
		m, err = migrate.NewWithDatabaseInstance(fileURL(resolvedDir), "pgx5", driver)
	case errors.Is(dirErr, fs.ErrNotExist):
		observability.Log().Info("running embedded database migrations")
		var src source.Driver
		src, err = iofs.New(dbmigrations.Files, ".")
		if err == nil {
			m, err = migrate.NewWithInstance("iofs", src, "pgx5", driver)
		}
	default:
		closeDB()
		return nil, nil, dirErr
	}
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("initialise migrate instance: %w", err)
	}

	cleanup := func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			observability.Log().Warn("database migrations source close", observability.F("error", sourceErr))
		}
		if dbErr != nil {
			observability.Log().Warn("database migrations db close", observability.F("error", dbErr))
		}
	}
	return m, cleanup, nil
}

func resolveDir(dir string) (string, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return "", fmt.Errorf("migrations path required")
	}

	abs, err := filepath.Abs(clean)
	if err != nil {
		return "", fmt.Errorf("resolve migrations path: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("migrations directory: %w", err)
		}
		return "", fmt.Errorf("stat migrations directory: %w", err)
	}

	if !info.IsDir() {
		return "", fmt.Errorf("migrations directory: %w", errNotDirectory)
	}

	return abs, nil
}

func fileURL(path string) string {
	slashed := filepath.ToSlash(path)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	u := new(url.URL)
	u.Scheme = "file"
	u.Path = slashed
	return u.String()
}
