package types

import (
	"fmt"
	"strings"
)

// RecordLayout is a named record type describing the schema of a shard's
// rows.
type RecordLayout struct {
	Type Type
}

// NewRecordLayout builds a layout from a named record type.
func NewRecordLayout(name string, fields ...Field) RecordLayout {
	return RecordLayout{Type: Record(fields...).Named(name)}
}

// Name returns the layout name.
func (l RecordLayout) Name() string {
	return l.Type.Name
}

// Valid reports whether the layout is a named record type.
func (l RecordLayout) Valid() bool {
	return l.Type.Kind == KindRecord && l.Type.Name != ""
}

// Equal reports structural and name equality of two layouts.
func (l RecordLayout) Equal(other RecordLayout) bool {
	return l.Type.Equal(other.Type)
}

// NumColumns returns the number of leaf columns after flattening nested
// records.
func (l RecordLayout) NumColumns() int {
	return len(l.QualifiedFields())
}

// QualifiedFields flattens nested records into leaf columns with dot-joined
// field paths, in declaration order.
func (l RecordLayout) QualifiedFields() []QualifiedField {
	var out []QualifiedField
	var walk func(prefix string, fields []Field)
	walk = func(prefix string, fields []Field) {
		for _, f := range fields {
			path := f.Name
			if prefix != "" {
				path = prefix + "." + f.Name
			}
			if f.Type.Kind == KindRecord && f.Type.Name == "" {
				walk(path, f.Type.Fields)
				continue
			}
			out = append(out, QualifiedField{
				LayoutName: l.Name(),
				FieldPath:  path,
				Type:       f.Type,
			})
		}
	}
	walk("", l.Type.Fields)
	return out
}

// ColumnIndex returns the index of the leaf column whose path equals path,
// or -1.
func (l RecordLayout) ColumnIndex(path string) int {
	for i, qf := range l.QualifiedFields() {
		if qf.FieldPath == path {
			return i
		}
	}
	return -1
}

// SupersetOf reports whether l contains every field of other with an equal
// type. Used by the schema registry to allow compatible widening.
func (l RecordLayout) SupersetOf(other RecordLayout) bool {
	mine := make(map[string]Type)
	for _, qf := range l.QualifiedFields() {
		mine[qf.FieldPath] = qf.Type
	}
	for _, qf := range other.QualifiedFields() {
		t, ok := mine[qf.FieldPath]
		if !ok || !t.Equal(qf.Type) {
			return false
		}
	}
	return true
}

// Schema is a sequence of record layouts with unique names.
type Schema struct {
	layouts []RecordLayout
}

// NewSchema builds a schema, silently dropping layouts with duplicate or
// empty names.
func NewSchema(layouts ...RecordLayout) Schema {
	var s Schema
	for _, l := range layouts {
		s.Add(l)
	}
	return s
}

// Add appends a layout unless its name is empty or already present.
// Reports whether the layout was added.
func (s *Schema) Add(l RecordLayout) bool {
	if !l.Valid() || s.Find(l.Name()) != nil {
		return false
	}
	s.layouts = append(s.layouts, l)
	return true
}

// Find returns the layout with the given name, or nil.
func (s *Schema) Find(name string) *RecordLayout {
	for i := range s.layouts {
		if s.layouts[i].Name() == name {
			return &s.layouts[i]
		}
	}
	return nil
}

// Layouts returns the layouts in insertion order.
func (s *Schema) Layouts() []RecordLayout {
	return s.layouts
}

// Len returns the number of layouts.
func (s *Schema) Len() int {
	return len(s.layouts)
}

// Equal reports whether two schemas contain the same layouts in the same
// order.
func (s Schema) Equal(other Schema) bool {
	if len(s.layouts) != len(other.layouts) {
		return false
	}
	for i := range s.layouts {
		if !s.layouts[i].Equal(other.layouts[i]) {
			return false
		}
	}
	return true
}

// CombineSchemas merges two schemas, preferring b's definition on name
// clashes.
func CombineSchemas(a, b Schema) Schema {
	result := Schema{layouts: append([]RecordLayout(nil), a.layouts...)}
	for _, l := range b.layouts {
		if existing := result.Find(l.Name()); existing != nil {
			*existing = l
		} else {
			result.layouts = append(result.layouts, l)
		}
	}
	return result
}

// MergeSchemas merges two schemas, failing when both define a layout of the
// same name with different structure.
func MergeSchemas(a, b Schema) (Schema, error) {
	result := Schema{layouts: append([]RecordLayout(nil), b.layouts...)}
	for _, l := range a.layouts {
		existing := result.Find(l.Name())
		if existing == nil {
			result.layouts = append(result.layouts, l)
			continue
		}
		if !existing.Equal(l) {
			return Schema{}, fmt.Errorf("type clash: cannot accommodate two types with the same name: %s", l.Name())
		}
	}
	return result, nil
}

// PrintSchema renders a schema in schema-file syntax, one type declaration
// per line.
func PrintSchema(s Schema) string {
	var sb strings.Builder
	for _, l := range s.layouts {
		fmt.Fprintf(&sb, "type %s = %s\n", l.Name(), l.Type.Definition())
	}
	return sb.String()
}
