package synopsis

import (
	"encoding/binary"
	"net/netip"

	"github.com/ci-fuzz/vast/internal/bloom"
	"github.com/ci-fuzz/vast/internal/expr"
	"github.com/ci-fuzz/vast/pkg/types"
)

// BloomSynopsis summarizes a field with a bloom filter. It understands
// equality and membership; everything else returns nil.
type BloomSynopsis struct {
	filter *bloom.Filter
	sealed bool
}

// NewBloomSynopsis creates a bloom synopsis sized for the expected number
// of entries and target false-positive rate.
func NewBloomSynopsis(capacity int, fpRate float64) *BloomSynopsis {
	return &BloomSynopsis{filter: bloom.NewWithEstimates(capacity, fpRate)}
}

// Add inserts a value into the filter. Null values are ignored.
func (s *BloomSynopsis) Add(v types.Data) {
	if s.sealed || v == nil {
		return
	}
	if key, ok := bloomKey(v); ok {
		s.filter.Add(key)
	}
}

// Lookup handles == and in; other operators are not understood.
func (s *BloomSynopsis) Lookup(op expr.RelOp, v types.Data) *bool {
	switch op {
	case expr.OpEqual:
		key, ok := bloomKey(v)
		if !ok {
			return nil
		}
		if s.filter.Contains(key) {
			return Yes()
		}
		return No()
	case expr.OpIn:
		// The field value must equal one element of the container. For
		// lists, a shard can be excluded when no element may be present.
		list, ok := v.(types.ListData)
		if !ok {
			return nil
		}
		for _, elem := range list {
			key, ok := bloomKey(elem)
			if !ok {
				return nil
			}
			if s.filter.Contains(key) {
				return Yes()
			}
		}
		return No()
	default:
		return nil
	}
}

// Seal freezes the synopsis.
func (s *BloomSynopsis) Seal() {
	s.sealed = true
}

// Serialize encodes the underlying filter.
func (s *BloomSynopsis) Serialize() ([]byte, error) {
	return s.filter.Serialize(), nil
}

// Count returns the number of values added.
func (s *BloomSynopsis) Count() uint64 {
	return s.filter.Count()
}

// DeserializeBloom reconstructs a sealed bloom synopsis.
func DeserializeBloom(data []byte) (*BloomSynopsis, error) {
	filter, err := bloom.Deserialize(data)
	if err != nil {
		return nil, err
	}
	return &BloomSynopsis{filter: filter, sealed: true}, nil
}

// bloomKey derives the filter key bytes for a data value. Only the kinds
// a bloom synopsis is built for have keys.
func bloomKey(v types.Data) ([]byte, bool) {
	switch x := v.(type) {
	case types.StringData:
		return append([]byte{'s'}, x...), true
	case types.EnumerationData:
		return append([]byte{'e'}, x...), true
	case types.AddressData:
		addr := netip.Addr(x)
		b := addr.As16()
		return append([]byte{'a'}, b[:]...), true
	case types.SubnetData:
		prefix := netip.Prefix(x)
		b := prefix.Addr().As16()
		key := make([]byte, 0, 18)
		key = append(key, 'n')
		key = append(key, b[:]...)
		key = append(key, byte(prefix.Bits()))
		return key, true
	case types.CountData:
		var b [9]byte
		b[0] = 'c'
		binary.BigEndian.PutUint64(b[1:], uint64(x))
		return b[:], true
	default:
		return nil, false
	}
}
