// Package sqlstore implements the table facade for relational backends.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/stratumdb/stratum/codec"
	"github.com/stratumdb/stratum/dsn"
	"github.com/stratumdb/stratum/query/sqlgen"
	"github.com/stratumdb/stratum/runtime"
)

// DB is a handle on one relational database. The underlying connection is
// shared read-only across all tables derived from it; pooling and
// reconnection belong to database/sql and the driver.
type DB struct {
	sql     *sql.DB
	dialect sqlgen.Dialect
	reg     *codec.Registry
	cfg     *dsn.Config
}

// Open parses a connection descriptor, selects the driver and returns a
// handle. The descriptor must name a default database.
func Open(raw string) (*DB, error) {
	cfg, err := dsn.Parse(raw)
	if err != nil {
		return nil, err
	}
	driver := cfg.Driver()
	if driver == "" {
		return nil, runtime.Misusef("unsupported provider %q", cfg.Scheme)
	}
	db, err := sql.Open(driver, cfg.SQLDSN())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Scheme, err)
	}
	return &DB{
		sql:     db,
		dialect: dialectFor(cfg.Scheme),
		reg:     codec.NewRegistry(),
		cfg:     cfg,
	}, nil
}

// OpenDB wraps an existing connection, for callers that manage their own.
func OpenDB(db *sql.DB, dialect sqlgen.Dialect) *DB {
	return &DB{sql: db, dialect: dialect, reg: codec.NewRegistry()}
}

func dialectFor(scheme string) sqlgen.Dialect {
	switch scheme {
	case "postgres", "postgresql":
		return sqlgen.Postgres
	case "mysql":
		return sqlgen.MySQL
	}
	return sqlgen.SQLite
}

// Connect verifies the connection.
func (d *DB) Connect(ctx context.Context) error {
	return d.sql.PingContext(ctx)
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	return d.sql.Close()
}

// Codec returns the handle's codec registry. Converters for additional
// semantic types must be registered before tables are used.
func (d *DB) Codec() *codec.Registry { return d.reg }

// SQL exposes the underlying connection.
func (d *DB) SQL() *sql.DB { return d.sql }
