package expr

import "github.com/ci-fuzz/vast/pkg/types"

// Tautology returns the canonical always-true expression.
func Tautology() Expression {
	return &Predicate{
		LHS: Constant{Value: types.BoolData(true)},
		Op:  OpEqual,
		RHS: Constant{Value: types.BoolData(true)},
	}
}

// Contradiction returns the canonical always-false expression.
func Contradiction() Expression {
	return &Predicate{
		LHS: Constant{Value: types.BoolData(true)},
		Op:  OpEqual,
		RHS: Constant{Value: types.BoolData(false)},
	}
}

// Normalize rewrites an expression into normal form: negations pushed to
// the predicate leaves via De Morgan, nested conjunctions and disjunctions
// flattened, duplicate operands removed, and constant predicates folded.
// Normalization preserves row-level semantics:
// EvaluateRow(Normalize(e), row, layout) == EvaluateRow(e, row, layout).
func Normalize(e Expression) Expression {
	return normalize(e, false)
}

func normalize(e Expression, negated bool) Expression {
	switch x := e.(type) {
	case *Negation:
		return normalize(x.Expr, !negated)
	case Conjunction:
		if negated {
			return normalizeSequence(x, true, false)
		}
		return normalizeSequence(x, false, true)
	case Disjunction:
		if negated {
			return normalizeSequence(x, true, true)
		}
		return normalizeSequence(x, false, false)
	case *Predicate:
		p := *x
		if negated {
			p.Op = p.Op.Negate()
		}
		if value, ok := foldConstant(&p); ok {
			if value {
				return Tautology()
			}
			return Contradiction()
		}
		return &p
	default:
		return e
	}
}

// normalizeSequence normalizes the operands of an n-ary node. When
// conjunctive is true the result is a conjunction, otherwise a
// disjunction; negated is pushed into the operands per De Morgan.
func normalizeSequence(operands []Expression, negated, conjunctive bool) Expression {
	var flat []Expression
	for _, op := range operands {
		norm := normalize(op, negated)
		// Fold constants: drop neutral elements, short-circuit absorbing
		// ones.
		if Equal(norm, Tautology()) {
			if conjunctive {
				continue
			}
			return Tautology()
		}
		if Equal(norm, Contradiction()) {
			if conjunctive {
				return Contradiction()
			}
			continue
		}
		// Flatten same-shape children.
		if conjunctive {
			if child, ok := norm.(Conjunction); ok {
				flat = append(flat, child...)
				continue
			}
		} else {
			if child, ok := norm.(Disjunction); ok {
				flat = append(flat, child...)
				continue
			}
		}
		flat = append(flat, norm)
	}
	flat = dedupe(flat)
	switch len(flat) {
	case 0:
		// All operands folded away: the neutral element remains.
		if conjunctive {
			return Tautology()
		}
		return Contradiction()
	case 1:
		return flat[0]
	}
	if conjunctive {
		return Conjunction(flat)
	}
	return Disjunction(flat)
}

func dedupe(xs []Expression) []Expression {
	var out []Expression
	for _, x := range xs {
		duplicate := false
		for _, seen := range out {
			if Equal(seen, x) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			out = append(out, x)
		}
	}
	return out
}

// foldConstant evaluates a predicate whose both sides are literals.
func foldConstant(p *Predicate) (bool, bool) {
	lhs, ok := p.LHS.(Constant)
	if !ok {
		return false, false
	}
	rhs, ok := p.RHS.(Constant)
	if !ok {
		return false, false
	}
	return EvaluateOp(lhs.Value, p.Op, rhs.Value), true
}
