// Package sqlgen compiles predicate trees into SQL statements with
// positional parameters.
package sqlgen

import (
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"

	"github.com/stratumdb/stratum/codec"
	"github.com/stratumdb/stratum/query/ir"
	"github.com/stratumdb/stratum/runtime"
)

// Statement is a compiled SQL statement with its positional arguments. The
// two are produced together and must be passed to execution as a unit;
// literals are never inlined into the text.
type Statement struct {
	SQL  string
	Args []interface{}
}

// Dialect selects identifier quoting and placeholder style.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
)

// Quote escapes an identifier for the dialect.
func (d Dialect) Quote(ident string) string {
	if d == MySQL {
		return "`" + ident + "`"
	}
	return `"` + ident + `"`
}

func (d Dialect) placeholders() sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}

// Translator compiles predicate trees and whole statements for one dialect.
// Literals pass through the codec at translate time, so identifier and
// timestamp values reach the driver already in wire form.
type Translator struct {
	dialect Dialect
	reg     *codec.Registry
}

// New creates a translator for a dialect.
func New(dialect Dialect, reg *codec.Registry) *Translator {
	return &Translator{dialect: dialect, reg: reg}
}

// Dialect returns the dialect this translator targets.
func (t *Translator) Dialect() Dialect { return t.dialect }

// Predicate compiles a predicate tree into a composable SQL condition.
// Arguments appear in left-to-right tree order. Node kinds or operators the
// dialect cannot express fail here, before any round-trip.
func (t *Translator) Predicate(n ir.Node) (sq.Sqlizer, error) {
	switch n := n.(type) {
	case ir.Always:
		return sq.Expr("1=1"), nil
	case ir.Never:
		// Literal false: cannot collide with any real column value.
		return sq.Expr("1=0"), nil
	case ir.Compare:
		return t.compare(n)
	case ir.Binary:
		left, err := t.Predicate(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := t.Predicate(n.Right)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case ir.AndOp:
			return sq.And{left, right}, nil
		case ir.OrOp:
			return sq.Or{left, right}, nil
		}
		return nil, &runtime.TranslationError{Backend: string(t.dialect), Node: string(ir.KindBinary), Detail: string(n.Op)}
	case ir.Unary:
		if n.Op != ir.NotOp {
			return nil, &runtime.TranslationError{Backend: string(t.dialect), Node: string(ir.KindUnary), Detail: string(n.Op)}
		}
		inner, err := t.Predicate(n.Operand)
		if err != nil {
			return nil, err
		}
		return notExpr{inner}, nil
	case ir.In:
		values := make([]interface{}, len(n.Values))
		for i, v := range n.Values {
			values[i] = t.reg.Encode(v)
		}
		return sq.Eq{t.dialect.Quote(n.Field): values}, nil
	case ir.Raw:
		frag, ok := n.Fragment.(string)
		if !ok {
			return nil, &runtime.TranslationError{Backend: string(t.dialect), Node: string(ir.KindRaw), Detail: "fragment must be statement text"}
		}
		return sq.Expr(frag), nil
	}
	return nil, &runtime.TranslationError{Backend: string(t.dialect), Node: fmt.Sprintf("%T", n)}
}

func (t *Translator) compare(n ir.Compare) (sq.Sqlizer, error) {
	col := t.dialect.Quote(n.Field)
	v := t.reg.Encode(n.Value)
	switch n.Op {
	case ir.Eq:
		return sq.Eq{col: v}, nil // nil renders as IS NULL
	case ir.Ne:
		return sq.NotEq{col: v}, nil // nil renders as IS NOT NULL
	case ir.Gt:
		return sq.Gt{col: v}, nil
	case ir.Lt:
		return sq.Lt{col: v}, nil
	case ir.Ge:
		return sq.GtOrEq{col: v}, nil
	case ir.Le:
		return sq.LtOrEq{col: v}, nil
	case ir.Like:
		return sq.Like{col: v}, nil
	}
	return nil, &runtime.TranslationError{Backend: string(t.dialect), Node: string(ir.KindCompare), Detail: string(n.Op)}
}

// notExpr defers compilation of the negated subtree so placeholder rewriting
// still sees the whole statement at once.
type notExpr struct {
	inner sq.Sqlizer
}

func (n notExpr) ToSql() (string, []interface{}, error) {
	s, args, err := n.inner.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + s + ")", args, nil
}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Select compiles a find into a SELECT statement. A nil predicate or Always
// emits no WHERE clause. Skip and limit are independently omittable.
func (t *Translator) Select(table string, pred ir.Node, skip, limit *int64, order []Order) (*Statement, error) {
	b := sq.Select("*").From(t.dialect.Quote(table)).PlaceholderFormat(t.dialect.placeholders())
	b, err := t.applyWhereSelect(b, pred)
	if err != nil {
		return nil, err
	}
	for _, o := range order {
		dir := "ASC"
		if o.Desc {
			dir = "DESC"
		}
		b = b.OrderBy(t.dialect.Quote(o.Field) + " " + dir)
	}
	if limit != nil {
		b = b.Limit(uint64(*limit))
	}
	if skip != nil {
		if limit == nil && t.dialect == MySQL {
			// MySQL refuses OFFSET without LIMIT.
			b = b.Limit(18446744073709551615)
		}
		b = b.Offset(uint64(*skip))
	}
	return toStatement(b.ToSql())
}

// Count compiles a SELECT COUNT(*) over the predicate.
func (t *Translator) Count(table string, pred ir.Node) (*Statement, error) {
	b := sq.Select("COUNT(*)").From(t.dialect.Quote(table)).PlaceholderFormat(t.dialect.placeholders())
	b, err := t.applyWhereSelect(b, pred)
	if err != nil {
		return nil, err
	}
	return toStatement(b.ToSql())
}

func (t *Translator) applyWhereSelect(b sq.SelectBuilder, pred ir.Node) (sq.SelectBuilder, error) {
	if pred == nil || pred.Kind() == ir.KindAlways {
		return b, nil
	}
	cond, err := t.Predicate(pred)
	if err != nil {
		return b, err
	}
	return b.Where(cond), nil
}

// Insert compiles a single-record INSERT. Values are encoded through the
// codec; columns and values are positionally paired.
func (t *Translator) Insert(table string, columns []string, values []interface{}) (*Statement, error) {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = t.dialect.Quote(c)
	}
	encoded := make([]interface{}, len(values))
	for i, v := range values {
		encoded[i] = t.reg.Encode(v)
	}
	b := sq.Insert(t.dialect.Quote(table)).
		Columns(quoted...).
		Values(encoded...).
		PlaceholderFormat(t.dialect.placeholders())
	return toStatement(b.ToSql())
}

// Update compiles a partial update. Set and increment entries are applied in
// sorted column order so the emitted statement is deterministic; a column in
// both maps takes the increment form, matching last-writer-wins compilation.
// When idCol is non-empty the update is restricted to at most one matching
// row via a keyed subselect, which every supported dialect accepts.
func (t *Translator) Update(table string, set, inc map[string]interface{}, pred ir.Node, idCol string) (*Statement, error) {
	b := sq.Update(t.dialect.Quote(table)).PlaceholderFormat(t.dialect.placeholders())

	for _, col := range sortedKeys(set) {
		if _, alsoInc := inc[col]; alsoInc {
			continue
		}
		b = b.Set(t.dialect.Quote(col), t.reg.Encode(set[col]))
	}
	for _, col := range sortedKeys(inc) {
		qc := t.dialect.Quote(col)
		b = b.Set(qc, sq.Expr(qc+" + ?", t.reg.Encode(inc[col])))
	}

	if idCol != "" {
		cond, err := t.limitOneCondition(table, pred, idCol)
		if err != nil {
			return nil, err
		}
		b = b.Where(cond)
	} else if pred != nil && pred.Kind() != ir.KindAlways {
		cond, err := t.Predicate(pred)
		if err != nil {
			return nil, err
		}
		b = b.Where(cond)
	}
	return toStatement(b.ToSql())
}

// Delete compiles a DELETE over the predicate. When idCol is non-empty at
// most one matching row is removed.
func (t *Translator) Delete(table string, pred ir.Node, idCol string) (*Statement, error) {
	b := sq.Delete(t.dialect.Quote(table)).PlaceholderFormat(t.dialect.placeholders())
	if idCol != "" {
		cond, err := t.limitOneCondition(table, pred, idCol)
		if err != nil {
			return nil, err
		}
		b = b.Where(cond)
	} else if pred != nil && pred.Kind() != ir.KindAlways {
		cond, err := t.Predicate(pred)
		if err != nil {
			return nil, err
		}
		b = b.Where(cond)
	}
	return toStatement(b.ToSql())
}

// limitOneCondition builds `id IN (SELECT id FROM (... LIMIT 1) x)`. The
// derived-table wrapping keeps MySQL happy about subselecting the updated
// table.
func (t *Translator) limitOneCondition(table string, pred ir.Node, idCol string) (sq.Sqlizer, error) {
	qid := t.dialect.Quote(idCol)
	inner := sq.Select(qid).From(t.dialect.Quote(table))
	if pred != nil && pred.Kind() != ir.KindAlways {
		cond, err := t.Predicate(pred)
		if err != nil {
			return nil, err
		}
		inner = inner.Where(cond)
	}
	innerSQL, innerArgs, err := inner.Limit(1).ToSql()
	if err != nil {
		return nil, err
	}
	return sq.Expr(qid+" IN (SELECT "+qid+" FROM ("+innerSQL+") one_row)", innerArgs...), nil
}

func toStatement(sql string, args []interface{}, err error) (*Statement, error) {
	if err != nil {
		return nil, err
	}
	return &Statement{SQL: sql, Args: args}, nil
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
