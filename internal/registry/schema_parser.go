package registry

import (
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/pkg/types"
)

// maxIncludeDepth bounds @include nesting in schema files.
const maxIncludeDepth = 16

// ParseSchema parses schema text of the form
//
//	type <name> = record{ <field>: <type>, … }
//
// where a type is a builtin name, a previously defined type name, or a
// composite: record{…}, list<T>, map<K, V>, enum{a, b}. Comments start
// with // and run to end of line. The result satisfies
// ParseSchema(PrintSchema(s)) == s.
func ParseSchema(input string) (types.Schema, error) {
	p := &schemaParser{input: stripComments(input)}
	var schema types.Schema
	for {
		p.skipSpace()
		if p.eof() {
			return schema, nil
		}
		if !p.consumeWord("type") {
			return types.Schema{}, errors.New(errors.KindParse,
				"expected 'type' at offset %d", p.pos)
		}
		name, err := p.readIdent()
		if err != nil {
			return types.Schema{}, err
		}
		p.skipSpace()
		if !p.consume('=') {
			return types.Schema{}, errors.New(errors.KindParse,
				"expected '=' after type name %s", name)
		}
		t, err := p.readType(schema)
		if err != nil {
			return types.Schema{}, err
		}
		layout := types.RecordLayout{Type: t.Named(name)}
		if t.Kind != types.KindRecord {
			return types.Schema{}, errors.New(errors.KindParse,
				"type %s is not a record", name)
		}
		if !schema.Add(layout) {
			return types.Schema{}, errors.New(errors.KindParse,
				"duplicate type name %s", name)
		}
	}
}

// LoadSchemaFile parses a schema file, following @include directives up
// to the depth limit.
func LoadSchemaFile(path string) (types.Schema, error) {
	return loadSchemaFile(path, 0)
}

func loadSchemaFile(path string, depth int) (types.Schema, error) {
	if depth > maxIncludeDepth {
		return types.Schema{}, errors.New(errors.KindRecursionLimit,
			"schema include depth exceeds %d at %s", maxIncludeDepth, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Schema{}, errors.Wrap(errors.KindFilesystem, err, "reading schema file %s", path)
	}
	var merged types.Schema
	var body strings.Builder
	for _, line := range strings.Split(string(data), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "@include") {
			body.WriteString(line)
			body.WriteByte('\n')
			continue
		}
		target := strings.Trim(strings.TrimSpace(strings.TrimPrefix(trimmed, "@include")), `"`)
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		included, err := loadSchemaFile(target, depth+1)
		if err != nil {
			return types.Schema{}, err
		}
		merged, err = types.MergeSchemas(merged, included)
		if err != nil {
			return types.Schema{}, errors.Wrap(errors.KindParse, err, "merging %s", target)
		}
	}
	parsed, err := ParseSchema(body.String())
	if err != nil {
		return types.Schema{}, err
	}
	merged, err = types.MergeSchemas(merged, parsed)
	if err != nil {
		return types.Schema{}, errors.Wrap(errors.KindParse, err, "merging %s", path)
	}
	return merged, nil
}

func stripComments(input string) string {
	var sb strings.Builder
	for _, line := range strings.Split(input, "\n") {
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return sb.String()
}

type schemaParser struct {
	input string
	pos   int
}

func (p *schemaParser) eof() bool {
	return p.pos >= len(p.input)
}

func (p *schemaParser) skipSpace() {
	for !p.eof() && unicode.IsSpace(rune(p.input[p.pos])) {
		p.pos++
	}
}

func (p *schemaParser) consume(ch byte) bool {
	p.skipSpace()
	if p.eof() || p.input[p.pos] != ch {
		return false
	}
	p.pos++
	return true
}

func (p *schemaParser) consumeWord(word string) bool {
	p.skipSpace()
	if !strings.HasPrefix(p.input[p.pos:], word) {
		return false
	}
	end := p.pos + len(word)
	if end < len(p.input) && isSchemaIdentChar(p.input[end]) {
		return false
	}
	p.pos = end
	return true
}

func (p *schemaParser) readIdent() (string, error) {
	p.skipSpace()
	start := p.pos
	for !p.eof() && (isSchemaIdentChar(p.input[p.pos]) || p.input[p.pos] == '.') {
		p.pos++
	}
	if start == p.pos {
		return "", errors.New(errors.KindParse, "expected identifier at offset %d", start)
	}
	return p.input[start:p.pos], nil
}

// readType parses one type expression. Previously defined names in schema
// resolve to their layouts.
func (p *schemaParser) readType(schema types.Schema) (types.Type, error) {
	name, err := p.readIdent()
	if err != nil {
		return types.Type{}, err
	}
	switch name {
	case "record":
		return p.readRecord(schema)
	case "list":
		if !p.consume('<') {
			return types.Type{}, errors.New(errors.KindParse, "expected '<' after list")
		}
		elem, err := p.readType(schema)
		if err != nil {
			return types.Type{}, err
		}
		if !p.consume('>') {
			return types.Type{}, errors.New(errors.KindParse, "expected '>' after list element type")
		}
		return types.ListOf(elem), nil
	case "map":
		if !p.consume('<') {
			return types.Type{}, errors.New(errors.KindParse, "expected '<' after map")
		}
		key, err := p.readType(schema)
		if err != nil {
			return types.Type{}, err
		}
		if !p.consume(',') {
			return types.Type{}, errors.New(errors.KindParse, "expected ',' after map key type")
		}
		value, err := p.readType(schema)
		if err != nil {
			return types.Type{}, err
		}
		if !p.consume('>') {
			return types.Type{}, errors.New(errors.KindParse, "expected '>' after map value type")
		}
		return types.MapOf(key, value), nil
	case "enum":
		return p.readEnum()
	case "bool":
		return types.Bool(), nil
	case "int":
		return types.Integer(), nil
	case "count":
		return types.Count(), nil
	case "real":
		return types.Real(), nil
	case "time":
		return types.Timestamp(), nil
	case "duration":
		return types.DurationType(), nil
	case "string":
		return types.String(), nil
	case "pattern":
		return types.PatternType(), nil
	case "addr":
		return types.Address(), nil
	case "subnet":
		return types.Subnet(), nil
	default:
		if layout := schema.Find(name); layout != nil {
			return layout.Type, nil
		}
		return types.Type{}, errors.New(errors.KindParse, "unknown type %s", name)
	}
}

func (p *schemaParser) readRecord(schema types.Schema) (types.Type, error) {
	if !p.consume('{') {
		return types.Type{}, errors.New(errors.KindParse, "expected '{' after record")
	}
	var fields []types.Field
	for {
		p.skipSpace()
		if p.consume('}') {
			return types.Record(fields...), nil
		}
		name, err := p.readIdent()
		if err != nil {
			return types.Type{}, err
		}
		if !p.consume(':') {
			return types.Type{}, errors.New(errors.KindParse, "expected ':' after field %s", name)
		}
		fieldType, err := p.readType(schema)
		if err != nil {
			return types.Type{}, err
		}
		fields = append(fields, types.Field{Name: name, Type: fieldType})
		if !p.consume(',') {
			if !p.consume('}') {
				return types.Type{}, errors.New(errors.KindParse, "expected ',' or '}' in record")
			}
			return types.Record(fields...), nil
		}
	}
}

func (p *schemaParser) readEnum() (types.Type, error) {
	if !p.consume('{') {
		return types.Type{}, errors.New(errors.KindParse, "expected '{' after enum")
	}
	var labels []string
	for {
		p.skipSpace()
		if p.consume('}') {
			return types.Enumeration(labels...), nil
		}
		label, err := p.readIdent()
		if err != nil {
			return types.Type{}, err
		}
		labels = append(labels, label)
		if !p.consume(',') {
			if !p.consume('}') {
				return types.Type{}, errors.New(errors.KindParse, "expected ',' or '}' in enum")
			}
			return types.Enumeration(labels...), nil
		}
	}
}

func isSchemaIdentChar(ch byte) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
