package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/alecthomas/errors"
	"github.com/go-sql-driver/mysql"
)

func init() {
	Register("mysql", MySQLDriver{})
}

type MySQLDriver struct{}

var _ Driver = (*MySQLDriver)(nil)

// Duplicate entry, foreign key and NOT NULL violations.
var mysqlConstraintErrors = []uint16{1062, 1216, 1217, 1451, 1452, 1048}

func (MySQLDriver) Name() string { return "mysql" }

func (MySQLDriver) TranslateError(err error) error {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		for _, code := range mysqlConstraintErrors {
			if mysqlErr.Number == code {
				return errors.Errorf("%w: %w", ErrConstraint, err)
			}
		}
	}
	return err
}

func (MySQLDriver) Denormalise(query string) string { return query }

func (MySQLDriver) Open(dsn string) (*sql.DB, error) {
	config, err := parseMySQLDSN(dsn)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(config)
	if err != nil {
		return nil, errors.Errorf("failed to create MySQL connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

func (MySQLDriver) RecreateDatabase(ctx context.Context, dsn string) error {
	config, err := parseMySQLDSN(dsn)
	if err != nil {
		return err
	}
	dbName := config.DBName
	config.DBName = ""
	connector, err := mysql.NewConnector(config)
	if err != nil {
		return errors.Errorf("failed to create MySQL connector: %w", err)
	}
	db := sql.OpenDB(connector)
	defer db.Close()
	_, err = db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS `%s`", dbName)) //nolint
	if err != nil {
		return errors.Errorf("failed to drop database: %w", err)
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE `%s`", dbName)) //nolint
	if err != nil {
		return errors.Errorf("failed to create database: %w", err)
	}
	return nil
}

func parseMySQLDSN(dsn string) (*mysql.Config, error) {
	config, err := mysql.ParseDSN(strings.TrimPrefix(dsn, "mysql://"))
	if err != nil {
		return nil, errors.Errorf("failed to parse MySQL DSN: %w", err)
	}
	config.ParseTime = true
	return config, nil
}
