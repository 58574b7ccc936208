package sqldb

import (
	"context"
	"database/sql"
	"os"
	"strings"

	"github.com/alecthomas/errors"
	"modernc.org/sqlite"
)

// Primary result code of SQLITE_CONSTRAINT and its extended codes.
const sqliteConstraint = 19

func init() {
	Register("sqlite", SQLiteDriver{})
}

type SQLiteDriver struct{}

var _ Driver = (*SQLiteDriver)(nil)

func (SQLiteDriver) Name() string { return "sqlite" }

func (SQLiteDriver) TranslateError(err error) error {
	var sqliteError *sqlite.Error
	if errors.As(err, &sqliteError) && sqliteError.Code()&0xff == sqliteConstraint {
		return errors.Errorf("%w: %w", ErrConstraint, err)
	}
	return err
}

func (SQLiteDriver) Denormalise(query string) string { return query }

// Open a sqlite database limited to a single connection.
func (SQLiteDriver) Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", transformSQLiteDSN(dsn))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (SQLiteDriver) RecreateDatabase(ctx context.Context, dsn string) error {
	if strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, ":memory:") {
		return nil
	}
	path := SQLitePath(dsn)
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return errors.WithStack(err)
}

// SQLitePath returns the file path of a sqlite DSN, or "" for in-memory databases.
func SQLitePath(dsn string) string {
	if strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, ":memory:") {
		return ""
	}
	path := strings.TrimPrefix(transformSQLiteDSN(dsn), "file:")
	path, _, _ = strings.Cut(path, "?")
	return path
}

func transformSQLiteDSN(dsn string) string {
	return strings.TrimPrefix(dsn, "sqlite://")
}
