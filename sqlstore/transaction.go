package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is one open transaction. Bind tables to it with Table.WithTx.
type Tx struct {
	tx *sql.Tx
}

// TransactionFunc runs within a transaction.
type TransactionFunc func(tx *Tx) error

// Transaction executes fn as a single atomic unit. When fn returns an error
// the transaction is rolled back and that inner error is surfaced.
func (d *DB) Transaction(ctx context.Context, fn TransactionFunc) error {
	return d.TransactionWithOptions(ctx, nil, fn)
}

// TransactionWithOptions is Transaction with an isolation/read-only
// pass-through. Isolation management beyond handing opts to the driver is
// not this layer's concern.
func (d *DB) TransactionWithOptions(ctx context.Context, opts *sql.TxOptions, fn TransactionFunc) error {
	sqlTx, err := d.sql.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	tx := &Tx{tx: sqlTx}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
