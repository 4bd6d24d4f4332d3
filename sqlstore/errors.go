package sqlstore

import (
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/stratumdb/stratum/runtime"
)

// classify maps a driver error onto the shared taxonomy so callers can
// branch on conflicts without matching message text.
func classify(op, table string, err error) error {
	if err == nil {
		return nil
	}
	if isDuplicate(err) {
		return &runtime.DuplicateKeyError{Table: table, Cause: err}
	}
	return &runtime.OpError{Op: op, Table: table, Cause: err}
}

func isDuplicate(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505" // unique_violation
	}
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062 // ER_DUP_ENTRY
	}
	return false
}
