package synopsis

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ci-fuzz/vast/pkg/types"
)

// FieldEntry pairs one leaf column with its synopsis. A nil synopsis
// means the field exists but has no summary; such shards are always
// candidates for predicates on that field.
type FieldEntry struct {
	Field    types.QualifiedField
	Synopsis Synopsis
}

// TypeEntry pairs an attribute-free field type with its aggregate
// synopsis, consulted when a field has no dedicated synopsis.
type TypeEntry struct {
	Type     types.Type
	Synopsis Synopsis
}

// PartitionSynopsis holds the per-field and per-type synopses of one
// sealed shard.
type PartitionSynopsis struct {
	// Fields lists each leaf column with its synopsis, ordered by first
	// sight.
	Fields []FieldEntry

	// Types aggregates values per attribute-free field type.
	Types []TypeEntry

	// Events counts the rows summarized.
	Events uint64

	fieldIndex map[string]int // FQN → Fields index
	typeIndex  map[string]int // type key → Types index
	sealed     bool
}

// Options configures partition synopsis construction.
type Options struct {
	// Capacity is the expected number of events per shard, used to size
	// bloom filters.
	Capacity int

	// FPRate is the target false-positive rate for bloom synopses.
	FPRate float64
}

// DefaultOptions returns the default construction parameters.
func DefaultOptions() Options {
	return Options{Capacity: 1 << 20, FPRate: 0.01}
}

// NewPartitionSynopsis creates an empty partition synopsis.
func NewPartitionSynopsis() *PartitionSynopsis {
	return &PartitionSynopsis{
		fieldIndex: make(map[string]int),
		typeIndex:  make(map[string]int),
	}
}

// AddSlice feeds all rows of a table slice into the synopsis, creating
// per-field and per-type synopses on first sight of each column.
func (ps *PartitionSynopsis) AddSlice(ts types.TableSlice, opts Options) {
	if ps.sealed {
		return
	}
	for col, qf := range ts.Layout.QualifiedFields() {
		fieldSyn := ps.fieldSynopsis(qf, opts)
		typeSyn := ps.typeSynopsis(qf.Type, opts)
		for i := 0; i < ts.Rows(); i++ {
			v := ts.At(i, col)
			if fieldSyn != nil {
				fieldSyn.Add(v)
			}
			if typeSyn != nil {
				typeSyn.Add(v)
			}
		}
	}
	ps.Events += uint64(ts.Rows())
}

func (ps *PartitionSynopsis) fieldSynopsis(qf types.QualifiedField, opts Options) Synopsis {
	if i, ok := ps.fieldIndex[qf.FQN()]; ok {
		return ps.Fields[i].Synopsis
	}
	syn := BuildForType(qf.Type, opts.Capacity, opts.FPRate)
	ps.fieldIndex[qf.FQN()] = len(ps.Fields)
	ps.Fields = append(ps.Fields, FieldEntry{Field: qf, Synopsis: syn})
	return syn
}

func (ps *PartitionSynopsis) typeSynopsis(t types.Type, opts Options) Synopsis {
	key := typeSynopsisKey(t)
	if i, ok := ps.typeIndex[key]; ok {
		return ps.Types[i].Synopsis
	}
	syn := BuildForType(t, opts.Capacity, opts.FPRate)
	ps.typeIndex[key] = len(ps.Types)
	ps.Types = append(ps.Types, TypeEntry{Type: t.StripAttributes(), Synopsis: syn})
	return syn
}

// Seal freezes every contained synopsis.
func (ps *PartitionSynopsis) Seal() {
	for _, entry := range ps.Fields {
		if entry.Synopsis != nil {
			entry.Synopsis.Seal()
		}
	}
	for _, entry := range ps.Types {
		if entry.Synopsis != nil {
			entry.Synopsis.Seal()
		}
	}
	ps.sealed = true
}

// TypeSynopsisFor returns the per-type synopsis for a field type, or nil.
func (ps *PartitionSynopsis) TypeSynopsisFor(t types.Type) Synopsis {
	if i, ok := ps.typeIndex[typeSynopsisKey(t)]; ok {
		return ps.Types[i].Synopsis
	}
	return nil
}

// typeSynopsisKey keys per-type synopses by the attribute-free definition.
func typeSynopsisKey(t types.Type) string {
	stripped := t.StripAttributes()
	if stripped.Name != "" {
		return stripped.Name + "=" + stripped.Definition()
	}
	return stripped.Definition()
}

// Synopsis kind tags used in the serialized form.
const (
	synNone   = 0
	synBloom  = 1
	synMinMax = 2
	synBool   = 3
)

type wireSynopsis struct {
	Kind    int    `msgpack:"kind"`
	Payload []byte `msgpack:"payload,omitempty"`
}

func encodeSynopsis(s Synopsis) (wireSynopsis, error) {
	if s == nil {
		return wireSynopsis{Kind: synNone}, nil
	}
	payload, err := s.Serialize()
	if err != nil {
		return wireSynopsis{}, err
	}
	switch s.(type) {
	case *BloomSynopsis:
		return wireSynopsis{Kind: synBloom, Payload: payload}, nil
	case *MinMaxSynopsis:
		return wireSynopsis{Kind: synMinMax, Payload: payload}, nil
	case *BoolSynopsis:
		return wireSynopsis{Kind: synBool, Payload: payload}, nil
	default:
		return wireSynopsis{}, fmt.Errorf("unknown synopsis implementation %T", s)
	}
}

func decodeSynopsis(w wireSynopsis) (Synopsis, error) {
	switch w.Kind {
	case synNone:
		return nil, nil
	case synBloom:
		return DeserializeBloom(w.Payload)
	case synMinMax:
		return DeserializeMinMax(w.Payload)
	case synBool:
		return DeserializeBool(w.Payload)
	default:
		return nil, fmt.Errorf("unknown synopsis kind %d", w.Kind)
	}
}

// Serialize encodes the partition synopsis for persistence. Field types
// are encoded alongside each entry so the synopsis is self-describing.
func (ps *PartitionSynopsis) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeUint64(ps.Events); err != nil {
		return nil, err
	}
	if err := enc.EncodeArrayLen(len(ps.Fields)); err != nil {
		return nil, err
	}
	for _, entry := range ps.Fields {
		if err := enc.EncodeString(entry.Field.LayoutName); err != nil {
			return nil, err
		}
		if err := enc.EncodeString(entry.Field.FieldPath); err != nil {
			return nil, err
		}
		if err := types.EncodeType(enc, entry.Field.Type); err != nil {
			return nil, err
		}
		w, err := encodeSynopsis(entry.Synopsis)
		if err != nil {
			return nil, err
		}
		if err := enc.Encode(w); err != nil {
			return nil, err
		}
	}
	if err := enc.EncodeArrayLen(len(ps.Types)); err != nil {
		return nil, err
	}
	for _, entry := range ps.Types {
		if err := types.EncodeType(enc, entry.Type); err != nil {
			return nil, err
		}
		w, err := encodeSynopsis(entry.Synopsis)
		if err != nil {
			return nil, err
		}
		if err := enc.Encode(w); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DeserializePartition reconstructs a sealed partition synopsis.
func DeserializePartition(data []byte) (*PartitionSynopsis, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	ps := NewPartitionSynopsis()
	ps.sealed = true

	events, err := dec.DecodeUint64()
	if err != nil {
		return nil, err
	}
	ps.Events = events

	numFields, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	for i := 0; i < numFields; i++ {
		layout, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		path, err := dec.DecodeString()
		if err != nil {
			return nil, err
		}
		fieldType, err := types.DecodeType(dec)
		if err != nil {
			return nil, err
		}
		var w wireSynopsis
		if err := dec.Decode(&w); err != nil {
			return nil, err
		}
		syn, err := decodeSynopsis(w)
		if err != nil {
			return nil, err
		}
		qf := types.QualifiedField{LayoutName: layout, FieldPath: path, Type: fieldType}
		ps.fieldIndex[qf.FQN()] = len(ps.Fields)
		ps.Fields = append(ps.Fields, FieldEntry{Field: qf, Synopsis: syn})
	}

	numTypes, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	for i := 0; i < numTypes; i++ {
		t, err := types.DecodeType(dec)
		if err != nil {
			return nil, err
		}
		var w wireSynopsis
		if err := dec.Decode(&w); err != nil {
			return nil, err
		}
		syn, err := decodeSynopsis(w)
		if err != nil {
			return nil, err
		}
		ps.typeIndex[typeSynopsisKey(t)] = len(ps.Types)
		ps.Types = append(ps.Types, TypeEntry{Type: t, Synopsis: syn})
	}
	return ps, nil
}
