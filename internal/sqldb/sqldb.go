// Package sqldb opens and migrates the SQL database backing the plan ledger.
package sqldb

import (
	"context"
	"database/sql"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/alecthomas/errors"
)

// ErrConstraint is wrapped by [Driver.TranslateError] for integrity constraint violations.
var ErrConstraint = errors.New("constraint violation")

// Config for the database connection.
type Config struct {
	DSN     string `default:"${sqldsn=sqlite://bindgraph.db}" help:"DSN for the ledger database."`
	Create  bool   `help:"Drop and recreate the database before use."`
	Migrate bool   `default:"true" negatable:"" help:"Apply pending migrations on startup."`
}

// Driver abstracts the differences between SQL databases.
type Driver interface {
	Name() string
	// TranslateError wraps driver specific constraint violations in [ErrConstraint].
	TranslateError(err error) error
	// Denormalise rewrites "?" placeholders into the driver's native form.
	Denormalise(query string) string
	Open(dsn string) (*sql.DB, error)
	RecreateDatabase(ctx context.Context, dsn string) error
}

var (
	driversLock sync.Mutex
	drivers     = map[string]Driver{}
)

// Register a driver for a DSN scheme.
func Register(scheme string, driver Driver) {
	driversLock.Lock()
	defer driversLock.Unlock()
	drivers[scheme] = driver
}

// DriverForConfig returns the driver registered for the scheme of the configured DSN.
func DriverForConfig(config Config) (Driver, error) {
	scheme, _, ok := strings.Cut(config.DSN, "://")
	if !ok {
		return nil, errors.Errorf("DSN %q has no scheme", config.DSN)
	}
	driversLock.Lock()
	defer driversLock.Unlock()
	driver, ok := drivers[scheme]
	if !ok {
		return nil, errors.Errorf("unsupported SQL DSN scheme: %s", scheme)
	}
	return driver, nil
}

// Migrations are sets of *.sql files, applied in file name order across every set.
type Migrations []fs.FS

// New opens the configured database, optionally recreating it and applying migrations.
func New(ctx context.Context, config Config, logger *slog.Logger, migrations Migrations) (*sql.DB, error) {
	driver, err := DriverForConfig(config)
	if err != nil {
		return nil, err
	}
	if config.Create {
		logger.Debug("Recreating database", "driver", driver.Name())
		if err := driver.RecreateDatabase(ctx, config.DSN); err != nil {
			return nil, errors.Errorf("failed to recreate database: %w", err)
		}
	}
	db, err := driver.Open(config.DSN)
	if err != nil {
		return nil, errors.Errorf("failed to open %s connection: %w", driver.Name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Errorf("failed to connect to %s: %w", driver.Name(), err)
	}
	if config.Migrate {
		if err := Migrate(ctx, logger, driver, db, migrations); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

type migration struct {
	name string
	fs   fs.FS
}

// Migrate applies every migration not yet recorded in the schema_migrations table.
func Migrate(ctx context.Context, logger *slog.Logger, driver Driver, db *sql.DB, migrations Migrations) error {
	q := driver.Denormalise
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) NOT NULL PRIMARY KEY
		)`)
	if err != nil {
		return errors.Errorf("failed to create schema_migrations: %w", err)
	}
	var pending []migration
	for _, set := range migrations {
		names, err := fs.Glob(set, "*.sql")
		if err != nil {
			return errors.Errorf("failed to list migrations: %w", err)
		}
		for _, name := range names {
			pending = append(pending, migration{name: name, fs: set})
		}
	}
	slices.SortStableFunc(pending, func(a, b migration) int { return strings.Compare(a.name, b.name) })
	for _, m := range pending {
		version := strings.TrimSuffix(path.Base(m.name), ".sql")
		var count int
		err := db.QueryRowContext(ctx, q(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`), version).Scan(&count)
		if err != nil {
			return errors.Errorf("%s: failed to query migration state: %w", version, err)
		}
		if count > 0 {
			continue
		}
		body, err := fs.ReadFile(m.fs, m.name)
		if err != nil {
			return errors.Errorf("%s: failed to read migration: %w", version, err)
		}
		if err := apply(ctx, driver, db, version, string(body)); err != nil {
			return err
		}
		logger.Debug("Applied migration", "version", version)
	}
	return nil
}

func apply(ctx context.Context, driver Driver, db *sql.DB, version, body string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Errorf("%s: failed to begin transaction: %w", version, err)
	}
	defer tx.Rollback() //nolint:errcheck
	for _, statement := range strings.Split(body, ";") {
		if strings.TrimSpace(statement) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return errors.Errorf("%s: migration failed: %w", version, driver.TranslateError(err))
		}
	}
	if _, err := tx.ExecContext(ctx, driver.Denormalise(`INSERT INTO schema_migrations (version) VALUES (?)`), version); err != nil {
		return errors.Errorf("%s: failed to record migration: %w", version, driver.TranslateError(err))
	}
	return errors.WithStack(tx.Commit())
}
