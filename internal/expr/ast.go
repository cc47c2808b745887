// Package expr implements the predicate expression model: the AST, the
// lexer and parser for the query language, normalization, taxonomy
// resolution, and row-level evaluation.
package expr

import (
	"strings"

	"github.com/ci-fuzz/vast/pkg/types"
)

// RelOp is a relational operator of a predicate.
type RelOp int

const (
	OpEqual RelOp = iota
	OpNotEqual
	OpLess
	OpLessEqual
	OpGreater
	OpGreaterEqual
	OpIn
	OpNotIn
	OpMatch
	OpNotMatch
)

// String returns the operator in expression syntax.
func (op RelOp) String() string {
	switch op {
	case OpEqual:
		return "=="
	case OpNotEqual:
		return "!="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpIn:
		return "in"
	case OpNotIn:
		return "!in"
	case OpMatch:
		return "~"
	case OpNotMatch:
		return "!~"
	default:
		return "?"
	}
}

// Negate returns the complementary operator.
func (op RelOp) Negate() RelOp {
	switch op {
	case OpEqual:
		return OpNotEqual
	case OpNotEqual:
		return OpEqual
	case OpLess:
		return OpGreaterEqual
	case OpLessEqual:
		return OpGreater
	case OpGreater:
		return OpLessEqual
	case OpGreaterEqual:
		return OpLess
	case OpIn:
		return OpNotIn
	case OpNotIn:
		return OpIn
	case OpMatch:
		return OpNotMatch
	default:
		return OpMatch
	}
}

// Negated reports whether the operator carries a negation.
func (op RelOp) Negated() bool {
	switch op {
	case OpNotEqual, OpNotIn, OpNotMatch:
		return true
	default:
		return false
	}
}

// MetaKind selects which shard metadata a meta extractor tests.
type MetaKind int

const (
	// MetaTypeName tests the layout name of a shard's rows.
	MetaTypeName MetaKind = iota
	// MetaFieldName tests the fully qualified field names of a layout.
	MetaFieldName
)

// Operand is one side of a predicate. The concrete operands form a closed
// sum: MetaExtractor, FieldExtractor, TypeExtractor, and Constant.
type Operand interface {
	operandNode()
	String() string
}

// MetaExtractor tests shard metadata: #type or #field.
type MetaExtractor struct {
	Kind MetaKind
}

func (MetaExtractor) operandNode() {}

func (m MetaExtractor) String() string {
	if m.Kind == MetaTypeName {
		return "#type"
	}
	return "#field"
}

// FieldExtractor selects fields whose fully qualified name ends with the
// given (dot-separated) suffix.
type FieldExtractor struct {
	Field string
}

func (FieldExtractor) operandNode() {}

func (f FieldExtractor) String() string {
	return f.Field
}

// TypeExtractor selects fields whose type equals the given type. A named
// none type matches by type name only.
type TypeExtractor struct {
	Type types.Type
}

func (TypeExtractor) operandNode() {}

func (t TypeExtractor) String() string {
	return ":" + t.Type.String()
}

// Constant is a literal operand.
type Constant struct {
	Value types.Data
}

func (Constant) operandNode() {}

func (c Constant) String() string {
	return types.DataString(c.Value)
}

// Expression is a predicate tree. The concrete nodes form a closed sum:
// *Predicate, Conjunction, Disjunction, and *Negation.
type Expression interface {
	exprNode()
	String() string
}

// Predicate is a leaf comparison {lhs op rhs}.
type Predicate struct {
	LHS Operand
	Op  RelOp
	RHS Operand
}

func (*Predicate) exprNode() {}

func (p *Predicate) String() string {
	return p.LHS.String() + " " + p.Op.String() + " " + p.RHS.String()
}

// Conjunction is the n-ary logical AND of its operands.
type Conjunction []Expression

func (Conjunction) exprNode() {}

func (c Conjunction) String() string {
	return joinOperands(c, " && ")
}

// Disjunction is the n-ary logical OR of its operands.
type Disjunction []Expression

func (Disjunction) exprNode() {}

func (d Disjunction) String() string {
	return joinOperands(d, " || ")
}

// Negation is the logical NOT of its operand.
type Negation struct {
	Expr Expression
}

func (*Negation) exprNode() {}

func (n *Negation) String() string {
	if _, ok := n.Expr.(*Predicate); ok {
		return "! " + n.Expr.String()
	}
	return "! (" + n.Expr.String() + ")"
}

func joinOperands(xs []Expression, sep string) string {
	parts := make([]string, len(xs))
	for i, x := range xs {
		switch x.(type) {
		case Conjunction, Disjunction:
			parts[i] = "(" + x.String() + ")"
		default:
			parts[i] = x.String()
		}
	}
	return strings.Join(parts, sep)
}

// Visit walks the expression tree depth-first, calling fn on every node.
// Traversal of a subtree stops when fn returns false.
func Visit(e Expression, fn func(Expression) bool) {
	if e == nil || !fn(e) {
		return
	}
	switch x := e.(type) {
	case Conjunction:
		for _, op := range x {
			Visit(op, fn)
		}
	case Disjunction:
		for _, op := range x {
			Visit(op, fn)
		}
	case *Negation:
		Visit(x.Expr, fn)
	}
}

// Predicates returns all predicate leaves of the expression in traversal
// order.
func Predicates(e Expression) []*Predicate {
	var out []*Predicate
	Visit(e, func(node Expression) bool {
		if p, ok := node.(*Predicate); ok {
			out = append(out, p)
		}
		return true
	})
	return out
}

// Equal reports structural equality of two expressions.
func Equal(a, b Expression) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch x := a.(type) {
	case *Predicate:
		y, ok := b.(*Predicate)
		if !ok || x.Op != y.Op {
			return false
		}
		return operandEqual(x.LHS, y.LHS) && operandEqual(x.RHS, y.RHS)
	case Conjunction:
		y, ok := b.(Conjunction)
		return ok && sequenceEqual(x, y)
	case Disjunction:
		y, ok := b.(Disjunction)
		return ok && sequenceEqual(x, y)
	case *Negation:
		y, ok := b.(*Negation)
		return ok && Equal(x.Expr, y.Expr)
	}
	return false
}

func sequenceEqual(a, b []Expression) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func operandEqual(a, b Operand) bool {
	switch x := a.(type) {
	case MetaExtractor:
		y, ok := b.(MetaExtractor)
		return ok && x.Kind == y.Kind
	case FieldExtractor:
		y, ok := b.(FieldExtractor)
		return ok && x.Field == y.Field
	case TypeExtractor:
		y, ok := b.(TypeExtractor)
		return ok && x.Type.Equal(y.Type)
	case Constant:
		y, ok := b.(Constant)
		return ok && types.DataEqual(x.Value, y.Value)
	}
	return false
}
