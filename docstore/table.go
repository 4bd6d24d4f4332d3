package docstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/stratumdb/stratum/codec"
	"github.com/stratumdb/stratum/internal/debug"
	"github.com/stratumdb/stratum/migrate"
	"github.com/stratumdb/stratum/model"
	"github.com/stratumdb/stratum/query/docgen"
	"github.com/stratumdb/stratum/query/ir"
	"github.com/stratumdb/stratum/runtime"
)

// Table is the CRUD facade for one record type on one collection.
type Table[T any] struct {
	db    *DB
	name  string
	cols  []model.Descriptor
	idCol string
	tr    *docgen.Translator
}

// NewTable introspects T and binds it to the named collection.
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
		tr:   docgen.New(db.reg),
	}
	for _, d := range cols {
		if d.Type == model.ID {
			t.idCol = d.Column
			break
		}
	}
	return t, nil
}

// Insert encodes and stores one record. A uniqueness violation surfaces as
// a duplicate-key error. An empty identifier field is assigned a fresh one
// before encoding.
func (t *Table[T]) Insert(ctx context.Context, rec *T) error {
	t.assignID(rec)
	doc := make(map[string]interface{}, len(t.cols))
	rv := reflect.ValueOf(rec).Elem()
	for _, d := range t.cols {
		doc[d.Column] = t.db.reg.Encode(fieldValue(rv, d))
	}
	debug.Debug("insert", "collection", t.name)
	return t.classify("insert", t.db.drv.Insert(ctx, t.name, doc))
}

// FindOption adjusts a Find call.
type FindOption func(*FindOptions)

// WithSkip skips the first n matches.
func WithSkip(n int64) FindOption {
	return func(o *FindOptions) { o.Skip = n }
}

// WithLimit caps the number of returned records.
func WithLimit(n int64) FindOption {
	return func(o *FindOptions) { o.Limit = n }
}

// OrderBy sorts ascending by a field's storage name.
func OrderBy(field string) FindOption {
	return func(o *FindOptions) { o.Sort = append(o.Sort, SortField{Field: field}) }
}

// OrderByDesc sorts descending by a field's storage name.
func OrderByDesc(field string) FindOption {
	return func(o *FindOptions) { o.Sort = append(o.Sort, SortField{Field: field, Desc: true}) }
}

// Find translates the predicate, executes it and decodes every returned
// document. The result is fully materialized. A nil predicate matches
// everything.
func (t *Table[T]) Find(ctx context.Context, pred ir.Node, opts ...FindOption) ([]T, error) {
	var cfg FindOptions
	for _, opt := range opts {
		opt(&cfg)
	}
	filter, err := t.tr.Filter(pred)
	if err != nil {
		return nil, err
	}
	debug.Debug("find", "collection", t.name, "filter", fmt.Sprint(filter))
	docs, err := t.db.drv.Find(ctx, t.name, filter, cfg)
	if err != nil {
		return nil, t.classify("find", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		out = append(out, t.decode(doc))
	}
	return out, nil
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

// Update compiles the partial update and returns the modified-record
// count. Limit must be nil or exactly 1; anything else is a misuse,
// reported before any round-trip.
func (t *Table[T]) Update(ctx context.Context, pred ir.Node, up Update) (int64, error) {
	if up.Limit != nil && *up.Limit != 1 {
		return 0, runtime.Misusef("update limit must be omitted or 1, got %d", *up.Limit)
	}
	if len(up.Set) == 0 && len(up.Inc) == 0 {
		return 0, runtime.Misusef("update requires at least one set or increment field")
	}
	filter, err := t.tr.Filter(pred)
	if err != nil {
		return 0, err
	}
	update := t.tr.Update(up.Set, up.Inc)
	debug.Debug("update", "collection", t.name)
	n, err := t.db.drv.Update(ctx, t.name, filter, update, up.Limit != nil)
	return n, t.classify("update", err)
}

// Delete removes matching records and returns the removed count. Limit
// follows the same nil-or-1 contract as Update.
func (t *Table[T]) Delete(ctx context.Context, pred ir.Node, limit *int) (int64, error) {
	if limit != nil && *limit != 1 {
		return 0, runtime.Misusef("delete limit must be omitted or 1, got %d", *limit)
	}
	filter, err := t.tr.Filter(pred)
	if err != nil {
		return 0, err
	}
	debug.Debug("delete", "collection", t.name)
	n, err := t.db.drv.Delete(ctx, t.name, filter, limit != nil)
	return n, t.classify("delete", err)
}

// Count returns the number of matching records. The count happens on the
// driver's side; no documents are materialized.
func (t *Table[T]) Count(ctx context.Context, pred ir.Node) (int64, error) {
	filter, err := t.tr.Filter(pred)
	if err != nil {
		return 0, err
	}
	n, err := t.db.drv.Count(ctx, t.name, filter)
	return n, t.classify("count", err)
}

// Reconcile ensures the collection and its declared indexes exist. The
// backend is schemaless, so column additions do not apply; indexes absent
// from the model are left alone. A failed step aborts the call.
func (t *Table[T]) Reconcile(ctx context.Context) error {
	if err := t.db.drv.EnsureCollection(ctx, t.name); err != nil {
		return &runtime.ReconcileError{Object: t.name, Cause: err}
	}
	live, err := t.db.drv.Indexes(ctx, t.name)
	if err != nil {
		return &runtime.ReconcileError{Object: t.name, Cause: err}
	}
	existing := make(map[string]bool, len(live))
	for _, idx := range live {
		existing[idx.Name] = true
	}
	for _, d := range t.cols {
		if !d.Unique && !d.Indexed {
			continue
		}
		name := migrate.IndexName(t.name, d.Column, d.Unique)
		if existing[name] {
			continue
		}
		debug.Debug("reconcile", "collection", t.name, "index", name)
		idx := IndexSpec{Name: name, Field: d.Column, Unique: d.Unique}
		if err := t.db.drv.EnsureIndex(ctx, t.name, idx); err != nil {
			return &runtime.ReconcileError{Object: t.name, Column: d.Column, Cause: err}
		}
	}
	return nil
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

func (t *Table[T]) decode(doc map[string]interface{}) T {
	var rec T
	rv := reflect.ValueOf(&rec).Elem()
	for _, d := range t.cols {
		raw, ok := doc[d.Column]
		if !ok || raw == nil {
			continue
		}
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
	return rec
}

func (t *Table[T]) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, runtime.ErrDuplicateKey) {
		return err
	}
	return &runtime.OpError{Op: op, Table: t.name, Cause: err}
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
