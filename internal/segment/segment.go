// Package segment implements the immutable on-disk unit of the store: a
// content-addressed blob of table slices with the event-ID range they
// cover, plus the builder that accumulates slices until seal.
package segment

import (
	"bytes"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/internal/frame"
	"github.com/ci-fuzz/vast/pkg/types"
)

// Segment is an immutable, content-addressed blob of table slices. The
// UUID is allocated at seal time; a segment is written once and never
// mutated.
type Segment struct {
	id     uuid.UUID
	slices []types.TableSlice
	ids    types.IDSet
}

// FromSlices assembles a segment with a given identity. Used when a
// segment is rewritten minus erased rows; the UUID is preserved.
func FromSlices(id uuid.UUID, slices []types.TableSlice) *Segment {
	var ids types.IDSet
	for _, ts := range slices {
		ids = ids.Union(ts.IDs())
	}
	return &Segment{id: id, slices: slices, ids: ids}
}

// ID returns the segment's UUID.
func (s *Segment) ID() uuid.UUID {
	return s.id
}

// Slices returns the contained table slices. The returned slice must not
// be modified.
func (s *Segment) Slices() []types.TableSlice {
	return s.slices
}

// IDs returns the event-ID set covered by the segment.
func (s *Segment) IDs() types.IDSet {
	return s.ids
}

// Events returns the number of events in the segment.
func (s *Segment) Events() uint64 {
	return s.ids.Cardinality()
}

// SelectSlices returns the sub-slices whose row IDs intersect sel.
func (s *Segment) SelectSlices(sel types.IDSet) []types.TableSlice {
	var out []types.TableSlice
	for _, ts := range s.slices {
		if !ts.IDs().Overlaps(sel) {
			continue
		}
		out = append(out, ts.SelectRuns(sel)...)
	}
	return out
}

// Encode serializes the segment: a msgpack payload (ID, intervals,
// slices), snappy-compressed, wrapped in the shared file framing.
func (s *Segment) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	if err := enc.EncodeBytes(s.id[:]); err != nil {
		return nil, err
	}
	intervals := s.ids.Intervals()
	if err := enc.EncodeArrayLen(len(intervals)); err != nil {
		return nil, err
	}
	for _, iv := range intervals {
		if err := enc.EncodeUint64(iv.Lo); err != nil {
			return nil, err
		}
		if err := enc.EncodeUint64(iv.Hi); err != nil {
			return nil, err
		}
	}
	if err := enc.EncodeArrayLen(len(s.slices)); err != nil {
		return nil, err
	}
	for _, ts := range s.slices {
		if err := types.EncodeSlice(enc, ts); err != nil {
			return nil, err
		}
	}
	return frame.Encode(snappy.Encode(nil, buf.Bytes())), nil
}

// Decode reconstructs a segment from its encoded form.
func Decode(data []byte) (*Segment, error) {
	payload, err := frame.Decode(data)
	if err != nil {
		return nil, err
	}
	raw, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, errors.Wrap(errors.KindFormat, err, "decompressing segment payload")
	}
	dec := msgpack.NewDecoder(bytes.NewReader(raw))

	idBytes, err := dec.DecodeBytes()
	if err != nil {
		return nil, errors.Wrap(errors.KindFormat, err, "decoding segment ID")
	}
	id, err := uuid.FromBytes(idBytes)
	if err != nil {
		return nil, errors.Wrap(errors.KindFormat, err, "decoding segment ID")
	}

	numIntervals, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, errors.Wrap(errors.KindFormat, err, "decoding segment intervals")
	}
	intervals := make([]types.Interval, 0, numIntervals)
	for i := 0; i < numIntervals; i++ {
		lo, err := dec.DecodeUint64()
		if err != nil {
			return nil, errors.Wrap(errors.KindFormat, err, "decoding segment intervals")
		}
		hi, err := dec.DecodeUint64()
		if err != nil {
			return nil, errors.Wrap(errors.KindFormat, err, "decoding segment intervals")
		}
		intervals = append(intervals, types.Interval{Lo: lo, Hi: hi})
	}

	numSlices, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, errors.Wrap(errors.KindFormat, err, "decoding segment slices")
	}
	slices := make([]types.TableSlice, 0, numSlices)
	for i := 0; i < numSlices; i++ {
		ts, err := types.DecodeSlice(dec)
		if err != nil {
			return nil, errors.Wrap(errors.KindFormat, err, "decoding segment slices")
		}
		slices = append(slices, ts)
	}

	return &Segment{
		id:     id,
		slices: slices,
		ids:    types.NewIDSet(intervals...),
	}, nil
}
