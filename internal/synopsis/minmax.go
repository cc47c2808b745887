package synopsis

import (
	"bytes"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ci-fuzz/vast/internal/expr"
	"github.com/ci-fuzz/vast/pkg/types"
)

// MinMaxSynopsis summarizes an orderable field with its value interval.
// It handles every order operator plus equality.
type MinMaxSynopsis struct {
	min    types.Data
	max    types.Data
	sealed bool
}

// NewMinMaxSynopsis creates an empty interval synopsis.
func NewMinMaxSynopsis() *MinMaxSynopsis {
	return &MinMaxSynopsis{}
}

// Add widens the interval to include v. Null values are ignored.
func (s *MinMaxSynopsis) Add(v types.Data) {
	if s.sealed || v == nil {
		return
	}
	if s.min == nil {
		s.min, s.max = v, v
		return
	}
	if cmp, ok := types.CompareData(v, s.min); ok && cmp < 0 {
		s.min = v
	}
	if cmp, ok := types.CompareData(v, s.max); ok && cmp > 0 {
		s.max = v
	}
}

// Lookup evaluates an order predicate against the interval. An empty
// interval excludes everything.
func (s *MinMaxSynopsis) Lookup(op expr.RelOp, v types.Data) *bool {
	if s.min == nil {
		return No()
	}
	if v == nil {
		return nil
	}
	cmpMin, okMin := types.CompareData(v, s.min)
	cmpMax, okMax := types.CompareData(v, s.max)
	if !okMin || !okMax {
		return nil
	}
	switch op {
	case expr.OpEqual:
		// v inside [min, max]?
		return boolResult(cmpMin >= 0 && cmpMax <= 0)
	case expr.OpLess:
		// Some x in [min, max] with x < v ⇔ min < v.
		return boolResult(cmpMin > 0)
	case expr.OpLessEqual:
		return boolResult(cmpMin >= 0)
	case expr.OpGreater:
		// Some x with x > v ⇔ max > v.
		return boolResult(cmpMax < 0)
	case expr.OpGreaterEqual:
		return boolResult(cmpMax <= 0)
	default:
		return nil
	}
}

func boolResult(v bool) *bool {
	if v {
		return Yes()
	}
	return No()
}

// Seal freezes the synopsis.
func (s *MinMaxSynopsis) Seal() {
	s.sealed = true
}

// Bounds returns the interval, or nils when no value was added.
func (s *MinMaxSynopsis) Bounds() (types.Data, types.Data) {
	return s.min, s.max
}

// Serialize encodes the interval.
func (s *MinMaxSynopsis) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := types.EncodeData(enc, s.min); err != nil {
		return nil, err
	}
	if err := types.EncodeData(enc, s.max); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeMinMax reconstructs a sealed interval synopsis.
func DeserializeMinMax(data []byte) (*MinMaxSynopsis, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	min, err := types.DecodeData(dec)
	if err != nil {
		return nil, err
	}
	max, err := types.DecodeData(dec)
	if err != nil {
		return nil, err
	}
	return &MinMaxSynopsis{min: min, max: max, sealed: true}, nil
}
