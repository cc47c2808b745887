package expr

import (
	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/pkg/types"
)

// Concept is a taxonomy entry mapping a name to equivalent field paths and
// to other concepts whose fields it includes.
type Concept struct {
	Description string
	Fields      []string
	Concepts    []string
}

// Taxonomies is a set of user-defined concepts, expanded during
// expression resolution.
type Taxonomies struct {
	Concepts map[string]Concept
}

// maxConceptDepth bounds recursive concept expansion.
const maxConceptDepth = 64

// Resolve expands taxonomy concepts in an expression into the disjunction
// of their member field predicates and type-checks the result against the
// schema.
func Resolve(taxonomies Taxonomies, e Expression, schema types.Schema) (Expression, error) {
	resolved, err := resolveExpr(taxonomies, e)
	if err != nil {
		return nil, err
	}
	if err := TypeCheck(resolved, schema); err != nil {
		return nil, err
	}
	return resolved, nil
}

func resolveExpr(taxonomies Taxonomies, e Expression) (Expression, error) {
	switch x := e.(type) {
	case Conjunction:
		out := make(Conjunction, len(x))
		for i, op := range x {
			resolved, err := resolveExpr(taxonomies, op)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case Disjunction:
		out := make(Disjunction, len(x))
		for i, op := range x {
			resolved, err := resolveExpr(taxonomies, op)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	case *Negation:
		inner, err := resolveExpr(taxonomies, x.Expr)
		if err != nil {
			return nil, err
		}
		return &Negation{Expr: inner}, nil
	case *Predicate:
		fe, ok := x.LHS.(FieldExtractor)
		if !ok {
			return x, nil
		}
		if _, defined := taxonomies.Concepts[fe.Field]; !defined {
			return x, nil
		}
		fields, err := expandConcept(taxonomies, fe.Field, 0)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			return x, nil
		}
		operands := make(Disjunction, len(fields))
		for i, field := range fields {
			operands[i] = &Predicate{
				LHS: FieldExtractor{Field: field},
				Op:  x.Op,
				RHS: x.RHS,
			}
		}
		if len(operands) == 1 {
			return operands[0], nil
		}
		return operands, nil
	}
	return e, nil
}

// expandConcept returns the deduplicated field paths of a concept,
// following nested concepts.
func expandConcept(taxonomies Taxonomies, name string, depth int) ([]string, error) {
	if depth > maxConceptDepth {
		return nil, errors.New(errors.KindRecursionLimit,
			"concept %s exceeds maximum expansion depth %d", name, maxConceptDepth)
	}
	concept, ok := taxonomies.Concepts[name]
	if !ok {
		return nil, nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, field := range concept.Fields {
		if !seen[field] {
			seen[field] = true
			out = append(out, field)
		}
	}
	for _, nested := range concept.Concepts {
		fields, err := expandConcept(taxonomies, nested, depth+1)
		if err != nil {
			return nil, err
		}
		for _, field := range fields {
			if !seen[field] {
				seen[field] = true
				out = append(out, field)
			}
		}
	}
	return out, nil
}
