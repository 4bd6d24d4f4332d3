package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/stratumdb/stratum/codec"
	"github.com/stratumdb/stratum/internal/debug"
	"github.com/stratumdb/stratum/model"
	"github.com/stratumdb/stratum/query/ir"
	"github.com/stratumdb/stratum/query/sqlgen"
	"github.com/stratumdb/stratum/runtime"
)

// runner is satisfied by *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// Table is the CRUD facade for one record type on one relational table.
type Table[T any] struct {
	db    *DB
	name  string
	cols  []model.Descriptor
	idCol string
	tr    *sqlgen.Translator
	run   runner
}

// NewTable introspects T and binds it to the named table.
func NewTable[T any](db *DB, name string) (*Table[T], error) {
	var zero T
	cols, err := model.Describe(reflect.TypeOf(zero))
	if err != nil {
		return nil, err
	}
	t := &Table[T]{
		db:   db,
		name: name,
		cols: cols,
		tr:   sqlgen.New(db.dialect, db.reg),
		run:  db.sql,
	}
	for _, d := range cols {
		if d.Type == model.ID {
			t.idCol = d.Column
			break
		}
	}
	return t, nil
}

// WithTx rebinds the table to an open transaction.
func (t *Table[T]) WithTx(tx *Tx) *Table[T] {
	bound := *t
	bound.run = tx.tx
	return &bound
}

// Insert encodes and stores one record. A uniqueness violation surfaces as
// a duplicate-key error. An empty identifier field is assigned a fresh one
// before encoding, so the stored and in-memory records agree.
func (t *Table[T]) Insert(ctx context.Context, rec *T) error {
	t.assignID(rec)
	columns := make([]string, len(t.cols))
	values := make([]interface{}, len(t.cols))
	rv := reflect.ValueOf(rec).Elem()
	for i, d := range t.cols {
		columns[i] = d.Column
		values[i] = fieldValue(rv, d)
	}
	stmt, err := t.tr.Insert(t.name, columns, values)
	if err != nil {
		return err
	}
	debug.Debug("insert", "table", t.name, "sql", stmt.SQL)
	_, err = t.run.ExecContext(ctx, stmt.SQL, stmt.Args...)
	return classify("insert", t.name, err)
}

// FindOption adjusts a Find call.
type FindOption func(*findConfig)

type findConfig struct {
	skip  *int64
	limit *int64
	order []sqlgen.Order
}

// WithSkip skips the first n matches.
func WithSkip(n int64) FindOption {
	return func(c *findConfig) { c.skip = &n }
}

// WithLimit caps the number of returned records.
func WithLimit(n int64) FindOption {
	return func(c *findConfig) { c.limit = &n }
}

// OrderBy sorts ascending by a field's storage name.
func OrderBy(field string) FindOption {
	return func(c *findConfig) { c.order = append(c.order, sqlgen.Order{Field: field}) }
}

// OrderByDesc sorts descending by a field's storage name.
func OrderByDesc(field string) FindOption {
	return func(c *findConfig) { c.order = append(c.order, sqlgen.Order{Field: field, Desc: true}) }
}

// Find translates the predicate, executes it and decodes every row. The
// result is the fully materialized match set; there is no cursor to resume.
// A nil predicate matches everything.
func (t *Table[T]) Find(ctx context.Context, pred ir.Node, opts ...FindOption) ([]T, error) {
	var cfg findConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	stmt, err := t.tr.Select(t.name, pred, cfg.skip, cfg.limit, cfg.order)
	if err != nil {
		return nil, err
	}
	debug.Debug("find", "table", t.name, "sql", stmt.SQL)
	rows, err := t.run.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, classify("find", t.name, err)
	}
	defer rows.Close()
	return t.decodeRows(ctx, rows)
}

// FindOne returns the first match, or a not-found error.
func (t *Table[T]) FindOne(ctx context.Context, pred ir.Node, opts ...FindOption) (*T, error) {
	recs, err := t.Find(ctx, pred, append(opts, WithLimit(1))...)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%s: %w", t.name, runtime.ErrNotFound)
	}
	return &recs[0], nil
}

// Update applies a partial update to matching records.
type Update struct {
	Set   map[string]interface{}
	Inc   map[string]interface{}
	Limit *int // nil updates all matches; 1 updates at most one
}

// Update compiles the partial update and returns the modified-row count.
// Limit must be nil or exactly 1; anything else is a misuse, reported
// before any round-trip.
func (t *Table[T]) Update(ctx context.Context, pred ir.Node, up Update) (int64, error) {
	if up.Limit != nil && *up.Limit != 1 {
		return 0, runtime.Misusef("update limit must be omitted or 1, got %d", *up.Limit)
	}
	if len(up.Set) == 0 && len(up.Inc) == 0 {
		return 0, runtime.Misusef("update requires at least one set or increment field")
	}
	idCol := ""
	if up.Limit != nil {
		if t.idCol == "" {
			return 0, runtime.Misusef("update with limit requires an identifier field on %s", t.name)
		}
		idCol = t.idCol
	}
	stmt, err := t.tr.Update(t.name, up.Set, up.Inc, pred, idCol)
	if err != nil {
		return 0, err
	}
	debug.Debug("update", "table", t.name, "sql", stmt.SQL)
	res, err := t.run.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, classify("update", t.name, err)
	}
	return res.RowsAffected()
}

// Delete removes matching records and returns the removed count. Limit
// follows the same nil-or-1 contract as Update.
func (t *Table[T]) Delete(ctx context.Context, pred ir.Node, limit *int) (int64, error) {
	if limit != nil && *limit != 1 {
		return 0, runtime.Misusef("delete limit must be omitted or 1, got %d", *limit)
	}
	idCol := ""
	if limit != nil {
		if t.idCol == "" {
			return 0, runtime.Misusef("delete with limit requires an identifier field on %s", t.name)
		}
		idCol = t.idCol
	}
	stmt, err := t.tr.Delete(t.name, pred, idCol)
	if err != nil {
		return 0, err
	}
	debug.Debug("delete", "table", t.name, "sql", stmt.SQL)
	res, err := t.run.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, classify("delete", t.name, err)
	}
	return res.RowsAffected()
}

// Count returns the number of matching records.
func (t *Table[T]) Count(ctx context.Context, pred ir.Node) (int64, error) {
	stmt, err := t.tr.Count(t.name, pred)
	if err != nil {
		return 0, err
	}
	rows, err := t.run.QueryContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, classify("count", t.name, err)
	}
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, classify("count", t.name, err)
		}
	}
	return n, rows.Err()
}

func (t *Table[T]) assignID(rec *T) {
	if t.idCol == "" {
		return
	}
	rv := reflect.ValueOf(rec).Elem()
	for _, d := range t.cols {
		if d.Type != model.ID || d.Nullable {
			continue
		}
		fv := rv.FieldByIndex(d.Index)
		if fv.Kind() == reflect.String && fv.Len() == 0 {
			fv.SetString(string(codec.NewRecordID()))
		}
		return
	}
}

func fieldValue(rv reflect.Value, d model.Descriptor) interface{} {
	fv := rv.FieldByIndex(d.Index)
	if d.Nullable {
		if fv.IsNil() {
			return nil
		}
		return fv.Elem().Interface()
	}
	return fv.Interface()
}

// decodeRows materializes the result set, routing every value back through
// the codec. It refuses to decode once the context is cancelled; the rows
// are still drained by Close.
func (t *Table[T]) decodeRows(ctx context.Context, rows *sql.Rows) ([]T, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	byColumn := make(map[string]model.Descriptor, len(t.cols))
	for _, d := range t.cols {
		byColumn[d.Column] = d
	}

	var out []T
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		holders := make([]interface{}, len(columns))
		for i := range holders {
			holders[i] = new(interface{})
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, classify("decode", t.name, err)
		}

		var rec T
		rv := reflect.ValueOf(&rec).Elem()
		for i, col := range columns {
			d, ok := byColumn[col]
			if !ok {
				continue
			}
			raw := *holders[i].(*interface{})
			target := d.GoType
			if d.Nullable {
				target = reflect.PtrTo(d.GoType)
			}
			val := t.db.reg.Decode(raw, target)
			if val == nil {
				continue
			}
			vv := reflect.ValueOf(val)
			fv := rv.FieldByIndex(d.Index)
			if vv.Type().AssignableTo(fv.Type()) {
				fv.Set(vv)
			}
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
