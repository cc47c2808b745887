package synopsis

import (
	"errors"

	"github.com/ci-fuzz/vast/internal/expr"
	"github.com/ci-fuzz/vast/pkg/types"
)

// BoolSynopsis summarizes a boolean field with two presence flags.
type BoolSynopsis struct {
	hasTrue  bool
	hasFalse bool
	sealed   bool
}

// NewBoolSynopsis creates an empty boolean synopsis.
func NewBoolSynopsis() *BoolSynopsis {
	return &BoolSynopsis{}
}

// Add records the presence of a boolean value. Null values are ignored.
func (s *BoolSynopsis) Add(v types.Data) {
	if s.sealed {
		return
	}
	if b, ok := v.(types.BoolData); ok {
		if b {
			s.hasTrue = true
		} else {
			s.hasFalse = true
		}
	}
}

// Lookup handles == and !=; other operators are not understood.
func (s *BoolSynopsis) Lookup(op expr.RelOp, v types.Data) *bool {
	b, ok := v.(types.BoolData)
	if !ok {
		return nil
	}
	switch op {
	case expr.OpEqual:
		if bool(b) {
			return boolResult(s.hasTrue)
		}
		return boolResult(s.hasFalse)
	case expr.OpNotEqual:
		if bool(b) {
			return boolResult(s.hasFalse)
		}
		return boolResult(s.hasTrue)
	default:
		return nil
	}
}

// Seal freezes the synopsis.
func (s *BoolSynopsis) Seal() {
	s.sealed = true
}

// Serialize encodes the two flags in one byte.
func (s *BoolSynopsis) Serialize() ([]byte, error) {
	var b byte
	if s.hasTrue {
		b |= 1
	}
	if s.hasFalse {
		b |= 2
	}
	return []byte{b}, nil
}

// DeserializeBool reconstructs a sealed boolean synopsis.
func DeserializeBool(data []byte) (*BoolSynopsis, error) {
	if len(data) != 1 {
		return nil, errors.New("bool synopsis: malformed payload")
	}
	return &BoolSynopsis{
		hasTrue:  data[0]&1 != 0,
		hasFalse: data[0]&2 != 0,
		sealed:   true,
	}, nil
}
