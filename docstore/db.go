package docstore

import (
	"context"

	"github.com/stratumdb/stratum/codec"
	"github.com/stratumdb/stratum/dsn"
)

// DB is a handle on one document database. The driver is shared read-only
// across all tables derived from the handle.
type DB struct {
	drv  Driver
	reg  *codec.Registry
	name string
}

// Open validates the connection descriptor and binds the driver. The
// descriptor must name a default database.
func Open(drv Driver, raw string) (*DB, error) {
	cfg, err := dsn.Parse(raw)
	if err != nil {
		return nil, err
	}
	return &DB{drv: drv, reg: codec.NewRegistry(), name: cfg.Database}, nil
}

// New binds a driver directly, for drivers that carry their own
// connection configuration.
func New(drv Driver) *DB {
	return &DB{drv: drv, reg: codec.NewRegistry()}
}

// Codec returns the handle's codec registry.
func (d *DB) Codec() *codec.Registry { return d.reg }

// Driver exposes the underlying driver.
func (d *DB) Driver() Driver { return d.drv }

// Transaction runs fn against the same handle. Multi-document atomicity is
// not provided for this backend family: operations inside fn apply
// individually and are not rolled back when fn fails. Callers needing
// atomicity must arrange it at the driver level.
func (d *DB) Transaction(ctx context.Context, fn func(db *DB) error) error {
	return fn(d)
}
