// Package ir defines the backend-neutral predicate tree shared by all
// backend translators.
package ir

// Node is one predicate in the expression tree. Trees are immutable once
// built and carry no backend-specific state; Verbatim is the one escape
// hatch and bypasses translation safety.
type Node interface {
	Kind() Kind
}

// Kind identifies the variant of a Node.
type Kind string

const (
	KindAlways  Kind = "Always"
	KindNever   Kind = "Never"
	KindCompare Kind = "Compare"
	KindBinary  Kind = "Binary"
	KindUnary   Kind = "Unary"
	KindIn      Kind = "In"
	KindRaw     Kind = "Raw"
)

// Op is a comparison operator.
type Op string

const (
	Eq   Op = "="
	Ne   Op = "!="
	Gt   Op = ">"
	Lt   Op = "<"
	Ge   Op = ">="
	Le   Op = "<="
	Like Op = "LIKE"
)

// Logic is a logical combinator.
type Logic string

const (
	AndOp Logic = "AND"
	OrOp  Logic = "OR"
	NotOp Logic = "NOT"
)

// Always matches every record.
type Always struct{}

func (Always) Kind() Kind { return KindAlways }

// Never matches no record.
type Never struct{}

func (Never) Kind() Kind { return KindNever }

// Compare tests one field against a literal. A nil Value compiles to the
// backend's native null test; that mapping is the translator's concern,
// the tree only records the literal.
type Compare struct {
	Field string
	Op    Op
	Value interface{}
}

func (Compare) Kind() Kind { return KindCompare }

// Binary combines two subtrees with AND or OR.
type Binary struct {
	Op    Logic
	Left  Node
	Right Node
}

func (Binary) Kind() Kind { return KindBinary }

// Unary negates a subtree.
type Unary struct {
	Op      Logic
	Operand Node
}

func (Unary) Kind() Kind { return KindUnary }

// In tests set membership of one field.
type In struct {
	Field  string
	Values []interface{}
}

func (In) Kind() Kind { return KindIn }

// Raw carries a backend-specific fragment verbatim. It is the only node
// without backend portability.
type Raw struct {
	Fragment interface{}
}

func (Raw) Kind() Kind { return KindRaw }
