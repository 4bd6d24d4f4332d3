package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/stratumdb/stratum/internal/debug"
	"github.com/stratumdb/stratum/migrate"
	"github.com/stratumdb/stratum/model"
	"github.com/stratumdb/stratum/query/sqlgen"
	"github.com/stratumdb/stratum/runtime"
)

// Reconcile brings the live table additively in line with the record type:
// create the table if absent, add missing columns with row-preserving
// defaults, create missing indexes. Running it again with an unchanged
// model is a no-op. A failed step aborts the call; steps already applied
// stay applied.
func (t *Table[T]) Reconcile(ctx context.Context) error {
	snap, err := t.db.snapshot(ctx, t.name)
	if err != nil {
		return &runtime.ReconcileError{Object: t.name, Cause: err}
	}
	steps := migrate.Plan(t.name, t.cols, snap)
	for _, step := range steps {
		if err := t.db.apply(ctx, step, t.idCol); err != nil {
			return err
		}
	}
	return nil
}

// snapshot reads the live schema of one table. Fetched fresh per call; the
// schema can change externally between calls.
func (d *DB) snapshot(ctx context.Context, table string) (migrate.Snapshot, error) {
	snap := migrate.Snapshot{
		Columns: map[string]migrate.Column{},
		Indexes: map[string]migrate.Index{},
	}
	switch d.dialect {
	case sqlgen.SQLite:
		if err := d.sqliteSnapshot(ctx, table, &snap); err != nil {
			return snap, err
		}
	case sqlgen.Postgres:
		if err := d.infoSchemaSnapshot(ctx, table, &snap,
			`SELECT column_name, data_type, is_nullable FROM information_schema.columns
			 WHERE table_schema = current_schema() AND table_name = $1`,
			`SELECT indexname, indexdef FROM pg_indexes
			 WHERE schemaname = current_schema() AND tablename = $1`, true); err != nil {
			return snap, err
		}
	case sqlgen.MySQL:
		if err := d.infoSchemaSnapshot(ctx, table, &snap,
			`SELECT column_name, data_type, is_nullable FROM information_schema.columns
			 WHERE table_schema = DATABASE() AND table_name = ?`,
			`SELECT DISTINCT index_name, non_unique FROM information_schema.statistics
			 WHERE table_schema = DATABASE() AND table_name = ?`, false); err != nil {
			return snap, err
		}
	}
	snap.Exists = len(snap.Columns) > 0
	return snap, nil
}

func (d *DB) sqliteSnapshot(ctx context.Context, table string, snap *migrate.Snapshot) error {
	rows, err := d.sql.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", d.dialect.Quote(table)))
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			colType string
			notNull int
			dflt    interface{}
			isPK    int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dflt, &isPK); err != nil {
			return err
		}
		snap.Columns[name] = migrate.Column{Name: name, Type: colType, Nullable: notNull == 0}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	idxRows, err := d.sql.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", d.dialect.Quote(table)))
	if err != nil {
		return err
	}
	defer idxRows.Close()
	for idxRows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := idxRows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return err
		}
		snap.Indexes[name] = migrate.Index{Name: name, Unique: unique == 1}
	}
	return idxRows.Err()
}

// infoSchemaSnapshot covers the information_schema backends. The second
// index column is either the index definition text (postgres) or the
// non_unique flag (mysql), selected by defIsText.
func (d *DB) infoSchemaSnapshot(ctx context.Context, table string, snap *migrate.Snapshot, colQuery, idxQuery string, defIsText bool) error {
	rows, err := d.sql.QueryContext(ctx, colQuery, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name, dataType, isNullable string
		if err := rows.Scan(&name, &dataType, &isNullable); err != nil {
			return err
		}
		snap.Columns[name] = migrate.Column{Name: name, Type: dataType, Nullable: strings.EqualFold(isNullable, "YES")}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	idxRows, err := d.sql.QueryContext(ctx, idxQuery, table)
	if err != nil {
		return err
	}
	defer idxRows.Close()
	for idxRows.Next() {
		var name string
		var unique bool
		if defIsText {
			var def string
			if err := idxRows.Scan(&name, &def); err != nil {
				return err
			}
			unique = strings.Contains(def, "UNIQUE")
		} else {
			var nonUnique int
			if err := idxRows.Scan(&name, &nonUnique); err != nil {
				return err
			}
			unique = nonUnique == 0
		}
		snap.Indexes[name] = migrate.Index{Name: name, Unique: unique}
	}
	return idxRows.Err()
}

func (d *DB) apply(ctx context.Context, step migrate.Step, idCol string) error {
	var ddl, column string
	switch step.Kind {
	case migrate.CreateTable:
		ddl = createTableDDL(d.dialect, step.Table, step.Columns, idCol)
	case migrate.AddColumn:
		column = step.Column.Column
		ddl = fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
			d.dialect.Quote(step.Table), columnDDL(d.dialect, step.Column, step.Column.Column == idCol))
	case migrate.CreateIndex:
		column = step.Index.Column
		ddl = createIndexDDL(d.dialect, step.Table, step.Index)
	}
	debug.Debug("reconcile", "table", step.Table, "ddl", ddl)
	if _, err := d.sql.ExecContext(ctx, ddl); err != nil {
		return &runtime.ReconcileError{Object: step.Table, Column: column, Cause: err}
	}
	return nil
}

func createTableDDL(dialect sqlgen.Dialect, table string, cols []model.Descriptor, idCol string) string {
	defs := make([]string, len(cols))
	for i, d := range cols {
		defs[i] = columnDDL(dialect, d, d.Column == idCol)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", dialect.Quote(table), strings.Join(defs, ", "))
}

func columnDDL(dialect sqlgen.Dialect, d model.Descriptor, isPK bool) string {
	def := dialect.Quote(d.Column) + " " + sqlType(dialect, d)
	if isPK {
		return def + " PRIMARY KEY"
	}
	if !d.Nullable {
		// The default keeps rows that predate the column valid.
		def += " NOT NULL DEFAULT " + defaultLiteral(dialect, d)
	}
	return def
}

func sqlType(dialect sqlgen.Dialect, d model.Descriptor) string {
	mysql := dialect == sqlgen.MySQL
	switch d.Type {
	case model.ID:
		if mysql {
			return "VARCHAR(64)"
		}
		return "TEXT"
	case model.UUID:
		if mysql {
			return "VARCHAR(36)"
		}
		return "TEXT"
	case model.String:
		if d.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", d.MaxLength)
		}
		if mysql {
			return "VARCHAR(255)"
		}
		return "TEXT"
	case model.Int:
		if mysql {
			return "INT"
		}
		return "INTEGER"
	case model.Int64:
		return "BIGINT"
	case model.Float:
		switch dialect {
		case sqlgen.Postgres:
			return "DOUBLE PRECISION"
		case sqlgen.MySQL:
			return "DOUBLE"
		}
		return "REAL"
	case model.Bool:
		return "BOOLEAN"
	case model.Bytes:
		if dialect == sqlgen.Postgres {
			return "BYTEA"
		}
		return "BLOB"
	case model.Time:
		if mysql {
			return "VARCHAR(40)"
		}
		return "TEXT"
	}
	if mysql {
		return "VARCHAR(255)"
	}
	return "TEXT"
}

func defaultLiteral(dialect sqlgen.Dialect, d model.Descriptor) string {
	switch d.Type {
	case model.Int, model.Int64, model.Float, model.Bool:
		return "0"
	case model.Bytes:
		if dialect == sqlgen.MySQL {
			return "('')"
		}
	}
	return "''"
}

func createIndexDDL(dialect sqlgen.Dialect, table string, idx migrate.IndexSpec) string {
	var b strings.Builder
	b.WriteString("CREATE ")
	if idx.Unique {
		b.WriteString("UNIQUE ")
	}
	b.WriteString("INDEX ")
	if dialect == sqlgen.Postgres {
		// Non-blocking build so reconcile does not stall concurrent traffic.
		b.WriteString("CONCURRENTLY ")
	}
	if dialect != sqlgen.MySQL {
		b.WriteString("IF NOT EXISTS ")
	}
	fmt.Fprintf(&b, "%s ON %s (%s)", dialect.Quote(idx.Name), dialect.Quote(table), dialect.Quote(idx.Column))
	return b.String()
}
