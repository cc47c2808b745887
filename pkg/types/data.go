package types

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"
	"time"
)

// Data is a tagged value inhabiting some Type. A nil Data is the null
// value, a first-class inhabitant of every type.
//
// The concrete inhabitants form a closed sum; adding a case requires
// touching every switch over Data in this package and in expr.
type Data interface {
	dataKind() Kind
}

// Concrete data values.
type (
	// BoolData is a boolean value.
	BoolData bool
	// IntegerData is a signed 64-bit integer.
	IntegerData int64
	// CountData is an unsigned 64-bit integer.
	CountData uint64
	// RealData is a 64-bit float.
	RealData float64
	// TimeData is a point in time.
	TimeData time.Time
	// DurationData is a span of time.
	DurationData time.Duration
	// StringData is a UTF-8 string.
	StringData string
	// PatternData is a glob-style pattern with * and ? wildcards.
	PatternData string
	// AddressData is an IPv4 or IPv6 address.
	AddressData netip.Addr
	// SubnetData is a CIDR prefix.
	SubnetData netip.Prefix
	// EnumerationData is a label of an enumeration type.
	EnumerationData string
	// ListData is an ordered sequence of values.
	ListData []Data
	// MapData is a sequence of key/value pairs.
	MapData []MapEntry
	// RecordData is a sequence of values positionally matching a record
	// layout.
	RecordData []Data
)

// MapEntry is one key/value pair of a MapData.
type MapEntry struct {
	Key   Data
	Value Data
}

func (BoolData) dataKind() Kind        { return KindBool }
func (IntegerData) dataKind() Kind     { return KindInteger }
func (CountData) dataKind() Kind       { return KindCount }
func (RealData) dataKind() Kind        { return KindReal }
func (TimeData) dataKind() Kind        { return KindTime }
func (DurationData) dataKind() Kind    { return KindDuration }
func (StringData) dataKind() Kind      { return KindString }
func (PatternData) dataKind() Kind     { return KindPattern }
func (AddressData) dataKind() Kind     { return KindAddress }
func (SubnetData) dataKind() Kind      { return KindSubnet }
func (EnumerationData) dataKind() Kind { return KindEnumeration }
func (ListData) dataKind() Kind        { return KindList }
func (MapData) dataKind() Kind         { return KindMap }
func (RecordData) dataKind() Kind      { return KindRecord }

// DataKind returns the kind of d, or KindNone for null.
func DataKind(d Data) Kind {
	if d == nil {
		return KindNone
	}
	return d.dataKind()
}

// DataEqual reports deep equality of two data values. Numeric values of
// different kinds compare by mathematical value.
func DataEqual(a, b Data) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if cmp, ok := CompareData(a, b); ok {
		return cmp == 0
	}
	return false
}

// CompareData compares two data values, returning -1, 0, or 1. The second
// return is false when the values are incomparable (different non-numeric
// kinds, or container types with incomparable elements).
func CompareData(a, b Data) (int, bool) {
	if a == nil || b == nil {
		if a == nil && b == nil {
			return 0, true
		}
		return 0, false
	}
	// Numeric cross-kind comparison by mathematical value.
	if na, oka := numericValue(a); oka {
		if nb, okb := numericValue(b); okb {
			return compareFloat(na, nb), true
		}
		return 0, false
	}
	switch x := a.(type) {
	case BoolData:
		y, ok := b.(BoolData)
		if !ok {
			return 0, false
		}
		return compareBool(bool(x), bool(y)), true
	case TimeData:
		y, ok := b.(TimeData)
		if !ok {
			return 0, false
		}
		return time.Time(x).Compare(time.Time(y)), true
	case DurationData:
		y, ok := b.(DurationData)
		if !ok {
			return 0, false
		}
		return compareInt(int64(x), int64(y)), true
	case StringData:
		y, ok := b.(StringData)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(x), string(y)), true
	case PatternData:
		y, ok := b.(PatternData)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(x), string(y)), true
	case EnumerationData:
		y, ok := b.(EnumerationData)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(x), string(y)), true
	case AddressData:
		y, ok := b.(AddressData)
		if !ok {
			return 0, false
		}
		return netip.Addr(x).Compare(netip.Addr(y)), true
	case SubnetData:
		y, ok := b.(SubnetData)
		if !ok {
			return 0, false
		}
		px, py := netip.Prefix(x), netip.Prefix(y)
		if c := px.Addr().Compare(py.Addr()); c != 0 {
			return c, true
		}
		return compareInt(int64(px.Bits()), int64(py.Bits())), true
	case ListData:
		y, ok := b.(ListData)
		if !ok {
			return 0, false
		}
		return compareSequence(x, y)
	case RecordData:
		y, ok := b.(RecordData)
		if !ok {
			return 0, false
		}
		return compareSequence(x, y)
	case MapData:
		y, ok := b.(MapData)
		if !ok {
			return 0, false
		}
		if len(x) != len(y) {
			return compareInt(int64(len(x)), int64(len(y))), true
		}
		for i := range x {
			if c, ok := CompareData(x[i].Key, y[i].Key); !ok {
				return 0, false
			} else if c != 0 {
				return c, true
			}
			if c, ok := CompareData(x[i].Value, y[i].Value); !ok {
				return 0, false
			} else if c != 0 {
				return c, true
			}
		}
		return 0, true
	}
	return 0, false
}

func compareSequence(a, b []Data) (int, bool) {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		c, ok := CompareData(a[i], b[i])
		if !ok {
			return 0, false
		}
		if c != 0 {
			return c, true
		}
	}
	return compareInt(int64(len(a)), int64(len(b))), true
}

func numericValue(d Data) (float64, bool) {
	switch x := d.(type) {
	case IntegerData:
		return float64(x), true
	case CountData:
		return float64(x), true
	case RealData:
		return float64(x), true
	default:
		return 0, false
	}
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	default:
		return 1
	}
}

// MatchPattern evaluates a glob pattern with * (any run) and ? (any single
// character) against s.
func MatchPattern(pattern PatternData, s string) bool {
	return globMatch(string(pattern), s)
}

func globMatch(pattern, s string) bool {
	// Iterative glob with single-star backtracking.
	pi, si := 0, 0
	star, mark := -1, 0
	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = si
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			si = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

// DataString renders a data value in expression syntax.
func DataString(d Data) string {
	switch x := d.(type) {
	case nil:
		return "nil"
	case BoolData:
		if x {
			return "true"
		}
		return "false"
	case IntegerData:
		return fmt.Sprintf("%+d", int64(x))
	case CountData:
		return fmt.Sprintf("%d", uint64(x))
	case RealData:
		s := fmt.Sprintf("%g", float64(x))
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case TimeData:
		return time.Time(x).UTC().Format(time.RFC3339Nano)
	case DurationData:
		return time.Duration(x).String()
	case StringData:
		return fmt.Sprintf("%q", string(x))
	case PatternData:
		return "/" + string(x) + "/"
	case AddressData:
		return netip.Addr(x).String()
	case SubnetData:
		return netip.Prefix(x).String()
	case EnumerationData:
		return string(x)
	case ListData:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = DataString(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case MapData:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = DataString(e.Key) + " -> " + DataString(e.Value)
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case RecordData:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = DataString(e)
		}
		return "<" + strings.Join(parts, ", ") + ">"
	default:
		return fmt.Sprintf("%v", d)
	}
}

// SortData orders a slice of data values using CompareData. Incomparable
// pairs keep their relative order.
func SortData(xs []Data) {
	sort.SliceStable(xs, func(i, j int) bool {
		c, ok := CompareData(xs[i], xs[j])
		return ok && c < 0
	})
}
