package expr

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/pkg/types"
)

// Parse lexes and parses an expression. The empty input is a parse error.
func Parse(input string) (Expression, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.New(errors.KindParse, "empty expression")
	}
	p := &parser{lexer: NewLexer(input)}
	p.next()
	result, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.tok.Type != TokenEOF {
		return nil, errors.New(errors.KindParse, "trailing input at offset %d: %q", p.tok.Pos, p.tok.Literal)
	}
	return result, nil
}

// ParseWithSchema parses and then resolves field extractors against a
// schema, surfacing ill-typed predicates as parse errors.
func ParseWithSchema(input string, schema types.Schema) (Expression, error) {
	result, err := Parse(input)
	if err != nil {
		return nil, err
	}
	if err := TypeCheck(result, schema); err != nil {
		return nil, err
	}
	return result, nil
}

type parser struct {
	lexer *Lexer
	tok   Token
}

func (p *parser) next() {
	p.tok = p.lexer.NextToken()
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return errors.New(errors.KindParse, format, args...)
}

func (p *parser) parseOr() (Expression, error) {
	lhs, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if p.tok.Type != TokenOrOr {
		return lhs, nil
	}
	operands := Disjunction{lhs}
	for p.tok.Type == TokenOrOr {
		p.next()
		rhs, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		operands = append(operands, rhs)
	}
	return operands, nil
}

func (p *parser) parseAnd() (Expression, error) {
	lhs, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	if p.tok.Type != TokenAndAnd {
		return lhs, nil
	}
	operands := Conjunction{lhs}
	for p.tok.Type == TokenAndAnd {
		p.next()
		rhs, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		operands = append(operands, rhs)
	}
	return operands, nil
}

func (p *parser) parseNot() (Expression, error) {
	if p.tok.Type == TokenBang {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Negation{Expr: inner}, nil
	}
	return p.parseAtom()
}

func (p *parser) parseAtom() (Expression, error) {
	if p.tok.Type == TokenLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.Type != TokenRParen {
			return nil, p.errorf("expected ')' at offset %d", p.tok.Pos)
		}
		p.next()
		return inner, nil
	}
	return p.parsePredicate()
}

func (p *parser) parsePredicate() (Expression, error) {
	lhs, err := p.parseOperand(true)
	if err != nil {
		return nil, err
	}
	op, err := p.parseRelOp()
	if err != nil {
		return nil, err
	}
	rhs, err := p.parseOperand(false)
	if err != nil {
		return nil, err
	}
	return &Predicate{LHS: lhs, Op: op, RHS: rhs}, nil
}

func (p *parser) parseRelOp() (RelOp, error) {
	var op RelOp
	switch p.tok.Type {
	case TokenEq:
		op = OpEqual
	case TokenNeq:
		op = OpNotEqual
	case TokenLt:
		op = OpLess
	case TokenLe:
		op = OpLessEqual
	case TokenGt:
		op = OpGreater
	case TokenGe:
		op = OpGreaterEqual
	case TokenIn:
		op = OpIn
	case TokenNotIn:
		op = OpNotIn
	case TokenMatch:
		op = OpMatch
	case TokenNotMatch:
		op = OpNotMatch
	default:
		return 0, p.errorf("expected relational operator at offset %d, got %q", p.tok.Pos, p.tok.Literal)
	}
	p.next()
	return op, nil
}

// parseOperand parses one side of a predicate. On the left-hand side a
// bare word that does not read as a literal becomes a field extractor; on
// the right-hand side it is an error.
func (p *parser) parseOperand(lhs bool) (Operand, error) {
	switch p.tok.Type {
	case TokenMetaType:
		p.next()
		return MetaExtractor{Kind: MetaTypeName}, nil
	case TokenMetaField:
		p.next()
		return MetaExtractor{Kind: MetaFieldName}, nil
	case TokenTypeLit:
		t := typeFromName(p.tok.Literal)
		p.next()
		return TypeExtractor{Type: t}, nil
	case TokenString:
		value := types.StringData(p.tok.Literal)
		p.next()
		return Constant{Value: value}, nil
	case TokenPattern:
		value := types.PatternData(p.tok.Literal)
		p.next()
		return Constant{Value: value}, nil
	case TokenLBracket:
		return p.parseList()
	case TokenWord:
		word := p.tok.Literal
		pos := p.tok.Pos
		p.next()
		if value, ok := parseLiteral(word); ok {
			return Constant{Value: value}, nil
		}
		if lhs && isFieldName(word) {
			return FieldExtractor{Field: word}, nil
		}
		return nil, p.errorf("invalid literal at offset %d: %q", pos, word)
	default:
		return nil, p.errorf("expected operand at offset %d, got %q", p.tok.Pos, p.tok.Literal)
	}
}

func (p *parser) parseList() (Operand, error) {
	p.next() // '['
	var values types.ListData
	for p.tok.Type != TokenRBracket {
		elem, err := p.parseOperand(false)
		if err != nil {
			return nil, err
		}
		c, ok := elem.(Constant)
		if !ok {
			return nil, p.errorf("list elements must be literals")
		}
		values = append(values, c.Value)
		if p.tok.Type == TokenComma {
			p.next()
			continue
		}
		if p.tok.Type != TokenRBracket {
			return nil, p.errorf("expected ',' or ']' at offset %d", p.tok.Pos)
		}
	}
	p.next() // ']'
	return Constant{Value: values}, nil
}

// typeFromName maps a type-literal name to a structural type. Unknown
// names yield a named none type, which matches fields by type name only.
func typeFromName(name string) types.Type {
	switch name {
	case "bool":
		return types.Bool()
	case "int":
		return types.Integer()
	case "count":
		return types.Count()
	case "real":
		return types.Real()
	case "time", "timestamp":
		return types.Timestamp().Named(name)
	case "duration":
		return types.DurationType()
	case "string":
		return types.String()
	case "pattern":
		return types.PatternType()
	case "addr":
		return types.Address()
	case "subnet":
		return types.Subnet()
	default:
		return types.NoneType.Named(name)
	}
}

// isFieldName reports whether a word is a valid dotted field name.
func isFieldName(word string) bool {
	for _, part := range strings.Split(word, ".") {
		if part == "" {
			return false
		}
		for i := 0; i < len(part); i++ {
			ch := part[i]
			if !isIdentChar(ch) {
				return false
			}
			if i == 0 && ch >= '0' && ch <= '9' {
				return false
			}
		}
	}
	return true
}

// parseLiteral interprets a bare word as a data literal. Recognized forms,
// in order: bool, null, subnet, address, timestamp, duration, integer
// (leading sign), count, real.
func parseLiteral(word string) (types.Data, bool) {
	switch word {
	case "true":
		return types.BoolData(true), true
	case "false":
		return types.BoolData(false), true
	case "nil", "null":
		return nil, true
	}
	if strings.Contains(word, "/") {
		if prefix, err := netip.ParsePrefix(word); err == nil {
			return types.SubnetData(prefix), true
		}
		return nil, false
	}
	if addr, err := netip.ParseAddr(word); err == nil {
		return types.AddressData(addr), true
	}
	if ts, err := time.Parse(time.RFC3339Nano, word); err == nil {
		return types.TimeData(ts.UTC()), true
	}
	if ts, err := time.Parse("2006-01-02", word); err == nil {
		return types.TimeData(ts.UTC()), true
	}
	if d, ok := parseDuration(word); ok {
		return types.DurationData(d), true
	}
	if strings.HasPrefix(word, "+") || strings.HasPrefix(word, "-") {
		if v, err := strconv.ParseInt(word, 10, 64); err == nil {
			return types.IntegerData(v), true
		}
	}
	if v, err := strconv.ParseUint(word, 10, 64); err == nil {
		return types.CountData(v), true
	}
	if v, err := strconv.ParseFloat(word, 64); err == nil {
		return types.RealData(v), true
	}
	return nil, false
}

// parseDuration accepts Go duration syntax plus day and week units.
func parseDuration(word string) (time.Duration, bool) {
	if word == "" {
		return 0, false
	}
	last := word[len(word)-1]
	if last != 's' && last != 'm' && last != 'h' && last != 'd' && last != 'w' {
		return 0, false
	}
	// Reject bare identifiers like "ms" without a number.
	if first := word[0]; first != '+' && first != '-' && (first < '0' || first > '9') {
		return 0, false
	}
	switch last {
	case 'd':
		if v, err := strconv.ParseFloat(word[:len(word)-1], 64); err == nil {
			return time.Duration(v * float64(24*time.Hour)), true
		}
		return 0, false
	case 'w':
		if v, err := strconv.ParseFloat(word[:len(word)-1], 64); err == nil {
			return time.Duration(v * float64(7*24*time.Hour)), true
		}
		return 0, false
	default:
		d, err := time.ParseDuration(word)
		if err != nil {
			return 0, false
		}
		return d, true
	}
}
