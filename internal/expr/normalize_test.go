package expr

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ci-fuzz/vast/pkg/types"
)

func TestNormalizeDeMorgan(t *testing.T) {
	negated := Normalize(mustParse(t, "!(a == 1 && b == 2)"))
	expected := Normalize(mustParse(t, "a != 1 || b != 2"))
	assert.True(t, Equal(expected, negated), "got %s", negated)

	negatedOr := Normalize(mustParse(t, "!(a == 1 || b == 2)"))
	expectedAnd := Normalize(mustParse(t, "a != 1 && b != 2"))
	assert.True(t, Equal(expectedAnd, negatedOr), "got %s", negatedOr)
}

func TestNormalizeDoubleNegation(t *testing.T) {
	e := Normalize(mustParse(t, "! ! a == 1"))
	assert.True(t, Equal(mustParse(t, "a == 1"), e), "got %s", e)
}

func TestNormalizeFlattening(t *testing.T) {
	e := Normalize(mustParse(t, "(a == 1 && (b == 2 && c == 3))"))
	conj, ok := e.(Conjunction)
	require.True(t, ok)
	assert.Len(t, conj, 3)
}

func TestNormalizeDedupe(t *testing.T) {
	e := Normalize(mustParse(t, "a == 1 && a == 1"))
	assert.True(t, Equal(mustParse(t, "a == 1"), e), "got %s", e)
}

func TestNormalizeOperatorNegation(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"! a < 5", "a >= 5"},
		{"! a <= 5", "a > 5"},
		{"! a > 5", "a <= 5"},
		{"! a >= 5", "a < 5"},
		{"! a in [1]", "a !in [1]"},
		{"! a ~ /x/", "a !~ /x/"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := Normalize(mustParse(t, tt.input))
			assert.True(t, Equal(mustParse(t, tt.want), got), "got %s", got)
		})
	}
}

func TestNormalizeConstantFolding(t *testing.T) {
	// A constant-true member drops out of a conjunction.
	e := Normalize(mustParse(t, "1 == 1 && a == 2"))
	assert.True(t, Equal(mustParse(t, "a == 2"), e), "got %s", e)

	// A constant-false member collapses the whole conjunction.
	e = Normalize(mustParse(t, "1 == 2 && a == 2"))
	assert.True(t, Equal(Contradiction(), e), "got %s", e)

	// A constant-true member collapses the whole disjunction.
	e = Normalize(mustParse(t, "1 == 1 || a == 2"))
	assert.True(t, Equal(Tautology(), e), "got %s", e)

	// Negation of a tautology is a contradiction.
	e = Normalize(mustParse(t, "! 1 == 1"))
	assert.True(t, Equal(Contradiction(), e), "got %s", e)
}

func TestPrintParseRoundTrip(t *testing.T) {
	inputs := []string{
		"a == 1 && b == 2",
		"a == 1 || b == 2 && c == 3",
		"!(a == 1 && b != 2)",
		"src in 10.0.0.0/8 || uri ~ /*admin*/",
		"#type == \"zeek.conn\" && :addr == 10.0.0.1",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			norm := Normalize(mustParse(t, input))
			reparsed, err := Parse(norm.String())
			require.NoError(t, err, "printed form %q", norm.String())
			assert.True(t, Equal(norm, Normalize(reparsed)),
				"round trip of %q produced %s", norm.String(), reparsed)
		})
	}
}

// genExpression builds random expressions over a small field set so the
// gopter properties exercise nesting, negation, and duplication.
func genExpression() gopter.Gen {
	exprType := reflect.TypeOf((*Expression)(nil)).Elem()
	leaf := gen.IntRange(0, 5).FlatMap(func(v interface{}) gopter.Gen {
		i := v.(int)
		fields := []string{"a", "b", "c"}
		ops := []RelOp{OpEqual, OpNotEqual, OpLess, OpGreaterEqual}
		return gen.IntRange(0, 3).Map(func(o int) Expression {
			return &Predicate{
				LHS: FieldExtractor{Field: fields[i%len(fields)]},
				Op:  ops[o],
				RHS: Constant{Value: types.CountData(i)},
			}
		})
	}, exprType)

	return gen.IntRange(0, 30).FlatMap(func(v interface{}) gopter.Gen {
		shape := v.(int)
		switch {
		case shape < 12:
			return leaf
		case shape < 18:
			return leaf.Map(func(e Expression) Expression {
				return &Negation{Expr: e}
			})
		case shape < 24:
			return gopter.CombineGens(leaf, leaf).Map(func(vs []interface{}) Expression {
				return Conjunction{vs[0].(Expression), &Negation{Expr: vs[1].(Expression)}}
			})
		default:
			return gopter.CombineGens(leaf, leaf, leaf).Map(func(vs []interface{}) Expression {
				return Disjunction{
					vs[0].(Expression),
					&Negation{Expr: Conjunction{vs[1].(Expression), vs[2].(Expression)}},
				}
			})
		}
	}, exprType)
}

// TestProperty_NormalizePreservesEvaluation checks
// EvaluateRow(Normalize(e), row) == EvaluateRow(e, row) over random
// expressions and rows.
func TestProperty_NormalizePreservesEvaluation(t *testing.T) {
	layout := types.NewRecordLayout("t",
		types.Field{Name: "a", Type: types.Count()},
		types.Field{Name: "b", Type: types.Count()},
		types.Field{Name: "c", Type: types.Count()},
	)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("normalization preserves row evaluation", prop.ForAll(
		func(e Expression, a, b, c uint64) bool {
			row := []types.Data{types.CountData(a), types.CountData(b), types.CountData(c)}
			return EvaluateRow(e, row, layout) == EvaluateRow(Normalize(e), row, layout)
		},
		genExpression(),
		gen.UInt64Range(0, 6),
		gen.UInt64Range(0, 6),
		gen.UInt64Range(0, 6),
	))

	properties.Property("normalization is idempotent", prop.ForAll(
		func(e Expression) bool {
			once := Normalize(e)
			return Equal(once, Normalize(once))
		},
		genExpression(),
	))

	properties.TestingRun(t)
}
