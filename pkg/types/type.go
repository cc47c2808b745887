// Package types defines the data model shared by all VAST components:
// event IDs, the structural type system, tagged data values, record
// layouts, schemas, and columnar table slices.
package types

import (
	"fmt"
	"sort"
	"strings"
)

// Kind enumerates the structural type kinds.
type Kind int

const (
	KindNone Kind = iota
	KindBool
	KindInteger
	KindCount
	KindReal
	KindTime
	KindDuration
	KindString
	KindPattern
	KindAddress
	KindSubnet
	KindEnumeration
	KindList
	KindMap
	KindRecord
)

// String returns the textual name of the kind as used in schema files.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInteger:
		return "int"
	case KindCount:
		return "count"
	case KindReal:
		return "real"
	case KindTime:
		return "time"
	case KindDuration:
		return "duration"
	case KindString:
		return "string"
	case KindPattern:
		return "pattern"
	case KindAddress:
		return "addr"
	case KindSubnet:
		return "subnet"
	case KindEnumeration:
		return "enum"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindRecord:
		return "record"
	default:
		return "unknown"
	}
}

// Field is a named component of a record type.
type Field struct {
	Name string
	Type Type
}

// Type is a structural type description with an optional name and
// attribute map. Two types are equal iff their structure and name match.
type Type struct {
	Kind       Kind
	Name       string
	Attributes map[string]string

	// Elem is the element type for lists, and the value type for maps.
	Elem *Type
	// Key is the key type for maps.
	Key *Type
	// Fields holds the components of a record type.
	Fields []Field
	// Labels holds the members of an enumeration type.
	Labels []string
}

// NoneType is the unnamed bottom type. A type extractor carrying a named
// NoneType matches fields by type name only.
var NoneType = Type{Kind: KindNone}

// Named returns a copy of t carrying the given name.
func (t Type) Named(name string) Type {
	t.Name = name
	return t
}

// WithAttribute returns a copy of t with an additional attribute.
func (t Type) WithAttribute(key, value string) Type {
	attrs := make(map[string]string, len(t.Attributes)+1)
	for k, v := range t.Attributes {
		attrs[k] = v
	}
	attrs[key] = value
	t.Attributes = attrs
	return t
}

// HasAttribute reports whether the type carries the given attribute key.
func (t Type) HasAttribute(key string) bool {
	_, ok := t.Attributes[key]
	return ok
}

// StripAttributes returns a copy of t without attributes. Synopsis maps key
// types by their attribute-free form.
func (t Type) StripAttributes() Type {
	t.Attributes = nil
	return t
}

// Equal reports structural and name equality. Attributes do not
// participate in equality.
func (t Type) Equal(other Type) bool {
	if t.Kind != other.Kind || t.Name != other.Name {
		return false
	}
	switch t.Kind {
	case KindList:
		return equalElem(t.Elem, other.Elem)
	case KindMap:
		return equalElem(t.Key, other.Key) && equalElem(t.Elem, other.Elem)
	case KindRecord:
		if len(t.Fields) != len(other.Fields) {
			return false
		}
		for i := range t.Fields {
			if t.Fields[i].Name != other.Fields[i].Name {
				return false
			}
			if !t.Fields[i].Type.Equal(other.Fields[i].Type) {
				return false
			}
		}
		return true
	case KindEnumeration:
		if len(t.Labels) != len(other.Labels) {
			return false
		}
		for i := range t.Labels {
			if t.Labels[i] != other.Labels[i] {
				return false
			}
		}
		return true
	default:
		return true
	}
}

func equalElem(a, b *Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// String renders the type in schema-file syntax, preferring the name when
// one is set.
func (t Type) String() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Definition()
}

// Definition renders the structural definition of the type, ignoring its
// name.
func (t Type) Definition() string {
	switch t.Kind {
	case KindList:
		return fmt.Sprintf("list<%s>", t.Elem)
	case KindMap:
		return fmt.Sprintf("map<%s, %s>", t.Key, t.Elem)
	case KindRecord:
		parts := make([]string, len(t.Fields))
		for i, f := range t.Fields {
			parts[i] = fmt.Sprintf("%s: %s", f.Name, f.Type)
		}
		return fmt.Sprintf("record{%s}", strings.Join(parts, ", "))
	case KindEnumeration:
		return fmt.Sprintf("enum{%s}", strings.Join(t.Labels, ", "))
	default:
		return t.Kind.String()
	}
}

// Orderable reports whether values of the type admit <, <=, >, >=.
func (t Type) Orderable() bool {
	switch t.Kind {
	case KindInteger, KindCount, KindReal, KindTime, KindDuration, KindString:
		return true
	default:
		return false
	}
}

// Numeric reports whether the type participates in cross-kind numeric
// comparison.
func (t Type) Numeric() bool {
	switch t.Kind {
	case KindInteger, KindCount, KindReal:
		return true
	default:
		return false
	}
}

// Basic type constructors.

func Bool() Type     { return Type{Kind: KindBool} }
func Integer() Type  { return Type{Kind: KindInteger} }
func Count() Type    { return Type{Kind: KindCount} }
func Real() Type     { return Type{Kind: KindReal} }
func Timestamp() Type { return Type{Kind: KindTime} }
func DurationType() Type { return Type{Kind: KindDuration} }
func String() Type   { return Type{Kind: KindString} }
func PatternType() Type { return Type{Kind: KindPattern} }
func Address() Type  { return Type{Kind: KindAddress} }
func Subnet() Type   { return Type{Kind: KindSubnet} }

// ListOf returns a list type over elem.
func ListOf(elem Type) Type {
	return Type{Kind: KindList, Elem: &elem}
}

// MapOf returns a map type from key to value.
func MapOf(key, value Type) Type {
	return Type{Kind: KindMap, Key: &key, Elem: &value}
}

// Record returns a record type over the given fields.
func Record(fields ...Field) Type {
	return Type{Kind: KindRecord, Fields: fields}
}

// Enumeration returns an enumeration type over the given labels.
func Enumeration(labels ...string) Type {
	return Type{Kind: KindEnumeration, Labels: labels}
}

// QualifiedField names one leaf column of a record layout: the layout name
// plus the dot-joined path of the field within the record.
type QualifiedField struct {
	LayoutName string
	FieldPath  string
	Type       Type
}

// FQN returns the fully qualified field name, dot-joined from the layout
// name and the field path.
func (q QualifiedField) FQN() string {
	return q.LayoutName + "." + q.FieldPath
}

// SortQualifiedFields orders fields by FQN for deterministic iteration.
func SortQualifiedFields(fields []QualifiedField) {
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].FQN() < fields[j].FQN()
	})
}
