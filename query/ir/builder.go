// Package ir filter construction helpers.
package ir

// FieldRef names a field for comparison building.
type FieldRef struct {
	name string
}

// Field starts a comparison against the named field.
func Field(name string) FieldRef { return FieldRef{name: name} }

// Eq creates an equals condition. A nil value compiles to a null test.
func (f FieldRef) Eq(v interface{}) Node {
	return Compare{Field: f.name, Op: Eq, Value: v}
}

// Ne creates a not-equals condition. A nil value compiles to a not-null test.
func (f FieldRef) Ne(v interface{}) Node {
	return Compare{Field: f.name, Op: Ne, Value: v}
}

// Gt creates a greater-than condition.
func (f FieldRef) Gt(v interface{}) Node {
	return Compare{Field: f.name, Op: Gt, Value: v}
}

// Lt creates a less-than condition.
func (f FieldRef) Lt(v interface{}) Node {
	return Compare{Field: f.name, Op: Lt, Value: v}
}

// Ge creates a greater-or-equal condition.
func (f FieldRef) Ge(v interface{}) Node {
	return Compare{Field: f.name, Op: Ge, Value: v}
}

// Le creates a less-or-equal condition.
func (f FieldRef) Le(v interface{}) Node {
	return Compare{Field: f.name, Op: Le, Value: v}
}

// Like creates a pattern-match condition.
func (f FieldRef) Like(pattern string) Node {
	return Compare{Field: f.name, Op: Like, Value: pattern}
}

// In creates a set-membership condition.
func (f FieldRef) In(values ...interface{}) Node {
	return In{Field: f.name, Values: values}
}

// And combines predicates; all must match. No arguments yields Always.
func And(nodes ...Node) Node { return combine(AndOp, nodes) }

// Or combines predicates; any may match. No arguments yields Always.
func Or(nodes ...Node) Node { return combine(OrOp, nodes) }

func combine(op Logic, nodes []Node) Node {
	switch len(nodes) {
	case 0:
		return Always{}
	case 1:
		return nodes[0]
	}
	acc := nodes[0]
	for _, n := range nodes[1:] {
		acc = Binary{Op: op, Left: acc, Right: n}
	}
	return acc
}

// Not negates a predicate.
func Not(n Node) Node { return Unary{Op: NotOp, Operand: n} }

// All matches every record.
func All() Node { return Always{} }

// None matches no record.
func None() Node { return Never{} }

// Verbatim embeds a backend-specific fragment without translation. The
// fragment's shape is backend-defined: statement text for relational
// backends, a filter document for document backends.
func Verbatim(fragment interface{}) Node { return Raw{Fragment: fragment} }
