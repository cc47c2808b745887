package types

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Binary codec for types and data, built on msgpack. Every value is
// encoded as a [kind, payload...] array so that decoding restores the
// exact inhabitant. Null encodes as msgpack nil.

// EncodeData writes d to enc.
func EncodeData(enc *msgpack.Encoder, d Data) error {
	if d == nil {
		return enc.EncodeNil()
	}
	switch x := d.(type) {
	case BoolData:
		return encodeTagged(enc, KindBool, bool(x))
	case IntegerData:
		return encodeTagged(enc, KindInteger, int64(x))
	case CountData:
		return encodeTagged(enc, KindCount, uint64(x))
	case RealData:
		return encodeTagged(enc, KindReal, float64(x))
	case TimeData:
		return encodeTagged(enc, KindTime, time.Time(x).UnixNano())
	case DurationData:
		return encodeTagged(enc, KindDuration, int64(x))
	case StringData:
		return encodeTagged(enc, KindString, string(x))
	case PatternData:
		return encodeTagged(enc, KindPattern, string(x))
	case AddressData:
		return encodeTagged(enc, KindAddress, netip.Addr(x).String())
	case SubnetData:
		return encodeTagged(enc, KindSubnet, netip.Prefix(x).String())
	case EnumerationData:
		return encodeTagged(enc, KindEnumeration, string(x))
	case ListData:
		return encodeSequence(enc, KindList, x)
	case RecordData:
		return encodeSequence(enc, KindRecord, x)
	case MapData:
		if err := enc.EncodeArrayLen(2); err != nil {
			return err
		}
		if err := enc.EncodeInt(int64(KindMap)); err != nil {
			return err
		}
		if err := enc.EncodeArrayLen(len(x) * 2); err != nil {
			return err
		}
		for _, entry := range x {
			if err := EncodeData(enc, entry.Key); err != nil {
				return err
			}
			if err := EncodeData(enc, entry.Value); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("cannot encode data of kind %v", DataKind(d))
	}
}

func encodeTagged(enc *msgpack.Encoder, kind Kind, value interface{}) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(kind)); err != nil {
		return err
	}
	return enc.Encode(value)
}

func encodeSequence(enc *msgpack.Encoder, kind Kind, xs []Data) error {
	if err := enc.EncodeArrayLen(2); err != nil {
		return err
	}
	if err := enc.EncodeInt(int64(kind)); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(len(xs)); err != nil {
		return err
	}
	for _, x := range xs {
		if err := EncodeData(enc, x); err != nil {
			return err
		}
	}
	return nil
}

// DecodeData reads one data value from dec.
func DecodeData(dec *msgpack.Decoder) (Data, error) {
	code, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}
	if code == 0xc0 { // msgpack nil
		return nil, dec.DecodeNil()
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n != 2 {
		return nil, fmt.Errorf("malformed data value: array length %d", n)
	}
	kind, err := dec.DecodeInt64()
	if err != nil {
		return nil, err
	}
	switch Kind(kind) {
	case KindBool:
		v, err := dec.DecodeBool()
		return BoolData(v), err
	case KindInteger:
		v, err := dec.DecodeInt64()
		return IntegerData(v), err
	case KindCount:
		v, err := dec.DecodeUint64()
		return CountData(v), err
	case KindReal:
		v, err := dec.DecodeFloat64()
		return RealData(v), err
	case KindTime:
		v, err := dec.DecodeInt64()
		return TimeData(time.Unix(0, v).UTC()), err
	case KindDuration:
		v, err := dec.DecodeInt64()
		return DurationData(v), err
	case KindString:
		v, err := dec.DecodeString()
		return StringData(v), err
	case KindPattern:
		v, err := dec.DecodeString()
		return PatternData(v), err
	case KindAddress:
		s, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		addr, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("malformed address %q: %w", s, err)
		}
		return AddressData(addr), nil
	case KindSubnet:
		s, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("malformed subnet %q: %w", s, err)
		}
		return SubnetData(prefix), nil
	case KindEnumeration:
		v, err := dec.DecodeString()
		return EnumerationData(v), err
	case KindList:
		xs, err := decodeSequence(dec)
		return ListData(xs), err
	case KindRecord:
		xs, err := decodeSequence(dec)
		return RecordData(xs), err
	case KindMap:
		n, err := dec.DecodeArrayLen()
		if err != nil {
			return nil, err
		}
		if n%2 != 0 {
			return nil, fmt.Errorf("malformed map value: odd element count %d", n)
		}
		entries := make(MapData, 0, n/2)
		for i := 0; i < n; i += 2 {
			key, err := DecodeData(dec)
			if err != nil {
				return nil, err
			}
			value, err := DecodeData(dec)
			if err != nil {
				return nil, err
			}
			entries = append(entries, MapEntry{Key: key, Value: value})
		}
		return entries, nil
	default:
		return nil, fmt.Errorf("unknown data kind %d", kind)
	}
}

func decodeSequence(dec *msgpack.Decoder) ([]Data, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	xs := make([]Data, 0, n)
	for i := 0; i < n; i++ {
		x, err := DecodeData(dec)
		if err != nil {
			return nil, err
		}
		xs = append(xs, x)
	}
	return xs, nil
}

// wireType mirrors Type for msgpack round-trips.
type wireType struct {
	Kind       int               `msgpack:"kind"`
	Name       string            `msgpack:"name,omitempty"`
	Attributes map[string]string `msgpack:"attrs,omitempty"`
	Elem       *wireType         `msgpack:"elem,omitempty"`
	Key        *wireType         `msgpack:"key,omitempty"`
	Fields     []wireField       `msgpack:"fields,omitempty"`
	Labels     []string          `msgpack:"labels,omitempty"`
}

type wireField struct {
	Name string   `msgpack:"name"`
	Type wireType `msgpack:"type"`
}

func toWireType(t Type) wireType {
	w := wireType{
		Kind:       int(t.Kind),
		Name:       t.Name,
		Attributes: t.Attributes,
		Labels:     t.Labels,
	}
	if t.Elem != nil {
		e := toWireType(*t.Elem)
		w.Elem = &e
	}
	if t.Key != nil {
		k := toWireType(*t.Key)
		w.Key = &k
	}
	for _, f := range t.Fields {
		w.Fields = append(w.Fields, wireField{Name: f.Name, Type: toWireType(f.Type)})
	}
	return w
}

func fromWireType(w wireType) Type {
	t := Type{
		Kind:       Kind(w.Kind),
		Name:       w.Name,
		Attributes: w.Attributes,
		Labels:     w.Labels,
	}
	if w.Elem != nil {
		e := fromWireType(*w.Elem)
		t.Elem = &e
	}
	if w.Key != nil {
		k := fromWireType(*w.Key)
		t.Key = &k
	}
	for _, f := range w.Fields {
		t.Fields = append(t.Fields, Field{Name: f.Name, Type: fromWireType(f.Type)})
	}
	return t
}

// EncodeType writes a type to enc.
func EncodeType(enc *msgpack.Encoder, t Type) error {
	return enc.Encode(toWireType(t))
}

// DecodeType reads a type from dec.
func DecodeType(dec *msgpack.Decoder) (Type, error) {
	var w wireType
	if err := dec.Decode(&w); err != nil {
		return Type{}, err
	}
	return fromWireType(w), nil
}

// EncodeSlice writes a table slice to enc.
func EncodeSlice(enc *msgpack.Encoder, ts TableSlice) error {
	if err := EncodeType(enc, ts.Layout.Type); err != nil {
		return err
	}
	if err := enc.EncodeUint64(ts.Offset); err != nil {
		return err
	}
	if err := enc.EncodeArrayLen(ts.Rows()); err != nil {
		return err
	}
	for i := 0; i < ts.Rows(); i++ {
		row := ts.Row(i)
		if err := enc.EncodeArrayLen(len(row)); err != nil {
			return err
		}
		for _, d := range row {
			if err := EncodeData(enc, d); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeSlice reads a table slice from dec.
func DecodeSlice(dec *msgpack.Decoder) (TableSlice, error) {
	layoutType, err := DecodeType(dec)
	if err != nil {
		return TableSlice{}, err
	}
	offset, err := dec.DecodeUint64()
	if err != nil {
		return TableSlice{}, err
	}
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return TableSlice{}, err
	}
	rows := make([][]Data, 0, n)
	for i := 0; i < n; i++ {
		m, err := dec.DecodeArrayLen()
		if err != nil {
			return TableSlice{}, err
		}
		row := make([]Data, 0, m)
		for j := 0; j < m; j++ {
			d, err := DecodeData(dec)
			if err != nil {
				return TableSlice{}, err
			}
			row = append(row, d)
		}
		rows = append(rows, row)
	}
	return NewTableSlice(RecordLayout{Type: layoutType}, offset, rows), nil
}
