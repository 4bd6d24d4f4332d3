// Package docgen compiles predicate trees into document-store filter maps.
//
// The emitted form is a nested key -> (literal | {operator: literal}) map.
// Logical AND merges sibling predicate maps where their key sets are
// disjoint and falls back to the store's own $and operator otherwise.
package docgen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/stratumdb/stratum/codec"
	"github.com/stratumdb/stratum/query/ir"
	"github.com/stratumdb/stratum/runtime"
)

// Filter is the native predicate form of the document backend.
type Filter = map[string]interface{}

const backend = "document"

var compareOps = map[ir.Op]string{
	ir.Ne: "$ne",
	ir.Gt: "$gt",
	ir.Lt: "$lt",
	ir.Ge: "$gte",
	ir.Le: "$lte",
}

// Translator compiles predicate trees into filter maps, encoding literals
// through the codec at translate time.
type Translator struct {
	reg *codec.Registry
}

// New creates a document translator.
func New(reg *codec.Registry) *Translator {
	return &Translator{reg: reg}
}

// Filter compiles a predicate tree. A nil tree matches everything.
func (t *Translator) Filter(n ir.Node) (Filter, error) {
	if n == nil {
		return Filter{}, nil
	}
	switch n := n.(type) {
	case ir.Always:
		return Filter{}, nil
	case ir.Never:
		// Every stored document has an _id, so an absence test on it is
		// disjoint from any legitimate field value.
		return Filter{"_id": Filter{"$exists": false}}, nil
	case ir.Compare:
		v := t.reg.Encode(n.Value)
		switch n.Op {
		case ir.Eq:
			return Filter{n.Field: v}, nil
		case ir.Like:
			s, ok := v.(string)
			if !ok {
				return nil, &runtime.TranslationError{Backend: backend, Node: string(ir.KindCompare), Detail: "LIKE pattern must be text"}
			}
			return Filter{n.Field: Filter{"$regex": likeRegex(s), "$options": "i"}}, nil
		}
		if op, ok := compareOps[n.Op]; ok {
			return Filter{n.Field: Filter{op: v}}, nil
		}
		return nil, &runtime.TranslationError{Backend: backend, Node: string(ir.KindCompare), Detail: string(n.Op)}
	case ir.Binary:
		left, err := t.Filter(n.Left)
		if err != nil {
			return nil, err
		}
		right, err := t.Filter(n.Right)
		if err != nil {
			return nil, err
		}
		switch n.Op {
		case ir.AndOp:
			return mergeAnd(left, right), nil
		case ir.OrOp:
			return Filter{"$or": []Filter{left, right}}, nil
		}
		return nil, &runtime.TranslationError{Backend: backend, Node: string(ir.KindBinary), Detail: string(n.Op)}
	case ir.Unary:
		if n.Op != ir.NotOp {
			return nil, &runtime.TranslationError{Backend: backend, Node: string(ir.KindUnary), Detail: string(n.Op)}
		}
		inner, err := t.Filter(n.Operand)
		if err != nil {
			return nil, err
		}
		return Filter{"$nor": []Filter{inner}}, nil
	case ir.In:
		values := make([]interface{}, len(n.Values))
		for i, v := range n.Values {
			values[i] = t.reg.Encode(v)
		}
		return Filter{n.Field: Filter{"$in": values}}, nil
	case ir.Raw:
		frag, ok := n.Fragment.(map[string]interface{})
		if !ok {
			return nil, &runtime.TranslationError{Backend: backend, Node: string(ir.KindRaw), Detail: "fragment must be a filter map"}
		}
		return frag, nil
	}
	return nil, &runtime.TranslationError{Backend: backend, Node: fmt.Sprintf("%T", n)}
}

// Update builds the sparse update document from set and increment mappings.
// A field present in both takes the increment, matching last-writer-wins
// compilation order.
func (t *Translator) Update(set, inc map[string]interface{}) Filter {
	doc := Filter{}
	if len(set) > 0 {
		s := Filter{}
		for field, v := range set {
			if _, alsoInc := inc[field]; alsoInc {
				continue
			}
			s[field] = t.reg.Encode(v)
		}
		if len(s) > 0 {
			doc["$set"] = s
		}
	}
	if len(inc) > 0 {
		i := Filter{}
		for field, v := range inc {
			i[field] = t.reg.Encode(v)
		}
		doc["$inc"] = i
	}
	return doc
}

// likeRegex rewrites a LIKE pattern as an anchored regular expression so
// the operator selects the same records on both backend families: % matches
// any run, _ matches one character, everything else matches literally.
func likeRegex(pattern string) string {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return b.String()
}

func mergeAnd(left, right Filter) Filter {
	for key := range right {
		if _, clash := left[key]; clash {
			return Filter{"$and": []Filter{left, right}}
		}
	}
	merged := Filter{}
	for k, v := range left {
		merged[k] = v
	}
	for k, v := range right {
		merged[k] = v
	}
	return merged
}
