package expr

import (
	"net/netip"
	"strings"

	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/pkg/types"
)

// EvaluateOp applies a relational operator to two data values.
//
// Null semantics: comparing null to anything yields false, except equality
// which tests null-ness itself. Ill-typed combinations yield false.
func EvaluateOp(lhs types.Data, op RelOp, rhs types.Data) bool {
	switch op {
	case OpEqual:
		return types.DataEqual(lhs, rhs)
	case OpNotEqual:
		return !types.DataEqual(lhs, rhs)
	case OpIn:
		return evaluateIn(lhs, rhs)
	case OpNotIn:
		return !evaluateIn(lhs, rhs)
	case OpMatch:
		return evaluateMatch(lhs, rhs)
	case OpNotMatch:
		return !evaluateMatch(lhs, rhs)
	default:
		if lhs == nil || rhs == nil {
			return false
		}
		cmp, ok := types.CompareData(lhs, rhs)
		if !ok {
			return false
		}
		switch op {
		case OpLess:
			return cmp < 0
		case OpLessEqual:
			return cmp <= 0
		case OpGreater:
			return cmp > 0
		case OpGreaterEqual:
			return cmp >= 0
		}
		return false
	}
}

// evaluateIn implements membership: element of a list, address or subnet
// inside a subnet, and substring of a string.
func evaluateIn(lhs, rhs types.Data) bool {
	switch container := rhs.(type) {
	case types.ListData:
		for _, elem := range container {
			if types.DataEqual(lhs, elem) {
				return true
			}
		}
		return false
	case types.SubnetData:
		prefix := netip.Prefix(container)
		switch x := lhs.(type) {
		case types.AddressData:
			return prefix.Contains(netip.Addr(x))
		case types.SubnetData:
			inner := netip.Prefix(x)
			return prefix.Overlaps(inner) && prefix.Bits() <= inner.Bits()
		}
		return false
	case types.StringData:
		if s, ok := lhs.(types.StringData); ok {
			return strings.Contains(string(container), string(s))
		}
		return false
	default:
		return false
	}
}

// evaluateMatch implements pattern matching; the left-hand side must be a
// string and the right-hand side a pattern.
func evaluateMatch(lhs, rhs types.Data) bool {
	s, ok := lhs.(types.StringData)
	if !ok {
		return false
	}
	pattern, ok := rhs.(types.PatternData)
	if !ok {
		return false
	}
	return types.MatchPattern(pattern, string(s))
}

// EvaluateRow evaluates an expression against one row of the given
// layout. Ill-typed predicates evaluate to false.
func EvaluateRow(e Expression, row []types.Data, layout types.RecordLayout) bool {
	switch x := e.(type) {
	case Conjunction:
		for _, op := range x {
			if !EvaluateRow(op, row, layout) {
				return false
			}
		}
		return true
	case Disjunction:
		for _, op := range x {
			if EvaluateRow(op, row, layout) {
				return true
			}
		}
		return false
	case *Negation:
		return !EvaluateRow(x.Expr, row, layout)
	case *Predicate:
		return evaluatePredicate(x, row, layout)
	default:
		return false
	}
}

func evaluatePredicate(p *Predicate, row []types.Data, layout types.RecordLayout) bool {
	rhs, ok := p.RHS.(Constant)
	if !ok {
		// Extractor-extractor predicates are not evaluated row-wise.
		return false
	}
	// #field tests the qualified field names with suffix semantics.
	if meta, ok := p.LHS.(MetaExtractor); ok && meta.Kind == MetaFieldName {
		s, ok := rhs.Value.(types.StringData)
		if !ok {
			return false
		}
		matching := false
		for _, qf := range layout.QualifiedFields() {
			if fqnEndsWith(qf.FQN(), string(s)) {
				matching = true
				break
			}
		}
		return matching != p.Op.Negated()
	}
	for _, lhs := range resolveOperand(p.LHS, row, layout) {
		if EvaluateOp(lhs, p.Op, rhs.Value) {
			return true
		}
	}
	return false
}

// resolveOperand produces the candidate left-hand-side values of a
// predicate for one row.
func resolveOperand(op Operand, row []types.Data, layout types.RecordLayout) []types.Data {
	switch x := op.(type) {
	case Constant:
		return []types.Data{x.Value}
	case MetaExtractor:
		// MetaFieldName is handled in evaluatePredicate.
		return []types.Data{types.StringData(layout.Name())}
	case FieldExtractor:
		var out []types.Data
		for i, qf := range layout.QualifiedFields() {
			if i < len(row) && fqnEndsWith(qf.FQN(), x.Field) {
				out = append(out, row[i])
			}
		}
		return out
	case TypeExtractor:
		var out []types.Data
		for i, qf := range layout.QualifiedFields() {
			if i >= len(row) {
				break
			}
			if typeExtractorMatches(x.Type, qf.Type) {
				out = append(out, row[i])
			}
		}
		return out
	}
	return nil
}

// typeExtractorMatches reports whether a type extractor selects a field of
// the given type. A named none type matches by type name only; the
// timestamp name additionally matches fields carrying the timestamp
// attribute.
func typeExtractorMatches(extractor, field types.Type) bool {
	if extractor.Name == "timestamp" && field.HasAttribute("timestamp") {
		return true
	}
	if extractor.Kind == types.KindNone {
		return extractor.Name != "" && field.Name == extractor.Name
	}
	if extractor.Name != "" {
		// A named extractor matches aliases of the same name, plus
		// structurally equal unnamed field types.
		return field.Name == extractor.Name ||
			(field.Name == "" && field.Kind == extractor.Kind)
	}
	return field.Name == "" && field.StripAttributes().Equal(extractor.StripAttributes())
}

// fqnEndsWith reports whether a fully qualified name ends with the given
// dot-separated suffix at a component boundary.
func fqnEndsWith(fqn, suffix string) bool {
	if !strings.HasSuffix(fqn, suffix) {
		return false
	}
	if len(fqn) == len(suffix) {
		return true
	}
	return fqn[len(fqn)-len(suffix)-1] == '.'
}

// TypeCheck verifies that every predicate of an expression is well-typed
// against the schema. Returns a parse error naming the first offending
// predicate. Extractors that match no schema field pass; the field may
// exist in shards whose layout is not registered.
func TypeCheck(e Expression, schema types.Schema) error {
	for _, p := range Predicates(e) {
		rhs, ok := p.RHS.(Constant)
		if !ok {
			continue
		}
		fe, ok := p.LHS.(FieldExtractor)
		if !ok {
			continue
		}
		for _, layout := range schema.Layouts() {
			for _, qf := range layout.QualifiedFields() {
				if !fqnEndsWith(qf.FQN(), fe.Field) {
					continue
				}
				if compatible(qf.Type, p.Op, rhs.Value) {
					continue
				}
				return errors.New(errors.KindParse,
					"ill-typed predicate: field %s of type %s does not support %s %s",
					qf.FQN(), qf.Type, p.Op, types.DataString(rhs.Value))
			}
		}
	}
	return nil
}

// compatible reports whether (fieldType op value) can ever hold.
func compatible(fieldType types.Type, op RelOp, value types.Data) bool {
	if value == nil {
		return op == OpEqual || op == OpNotEqual
	}
	switch op {
	case OpEqual, OpNotEqual:
		return comparableKinds(fieldType.Kind, types.DataKind(value))
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		return fieldType.Orderable() && comparableKinds(fieldType.Kind, types.DataKind(value))
	case OpIn, OpNotIn:
		switch container := value.(type) {
		case types.ListData:
			for _, elem := range container {
				if comparableKinds(fieldType.Kind, types.DataKind(elem)) {
					return true
				}
			}
			return len(container) == 0
		case types.SubnetData:
			return fieldType.Kind == types.KindAddress || fieldType.Kind == types.KindSubnet
		case types.StringData:
			return fieldType.Kind == types.KindString
		default:
			return false
		}
	case OpMatch, OpNotMatch:
		return fieldType.Kind == types.KindString && types.DataKind(value) == types.KindPattern
	}
	return false
}

func comparableKinds(a, b types.Kind) bool {
	if a == b {
		return true
	}
	numeric := func(k types.Kind) bool {
		return k == types.KindInteger || k == types.KindCount || k == types.KindReal
	}
	return numeric(a) && numeric(b)
}
