package segment

import (
	"bytes"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ci-fuzz/vast/pkg/types"
)

// Builder is a mutable accumulator of table slices. Its UUID is reserved
// at construction and becomes the segment's identity at seal; it never
// collides with a sealed segment's UUID.
type Builder struct {
	id     uuid.UUID
	slices []types.TableSlice
	ids    types.IDSet
	bytes  int
}

// NewBuilder creates an empty builder with a fresh UUID.
func NewBuilder() *Builder {
	return &Builder{id: uuid.New()}
}

// ID returns the UUID reserved for the segment under construction.
func (b *Builder) ID() uuid.UUID {
	return b.id
}

// Add appends a table slice. Zero-row slices are ignored.
func (b *Builder) Add(ts types.TableSlice) {
	if ts.Rows() == 0 {
		return
	}
	b.slices = append(b.slices, ts)
	b.ids = b.ids.Union(ts.IDs())
	b.bytes += approximateSize(ts)
}

// Bytes returns the approximate encoded size of the accumulated slices.
func (b *Builder) Bytes() int {
	return b.bytes
}

// Events returns the number of accumulated events.
func (b *Builder) Events() uint64 {
	return b.ids.Cardinality()
}

// Empty reports whether no slices have been added.
func (b *Builder) Empty() bool {
	return len(b.slices) == 0
}

// IDs returns the event-ID set accumulated so far.
func (b *Builder) IDs() types.IDSet {
	return b.ids
}

// Slices returns a snapshot of the accumulated slices.
func (b *Builder) Slices() []types.TableSlice {
	return append([]types.TableSlice(nil), b.slices...)
}

// SelectSlices returns the accumulated sub-slices whose row IDs intersect
// sel. Used to answer queries against the segment under construction.
func (b *Builder) SelectSlices(sel types.IDSet) []types.TableSlice {
	var out []types.TableSlice
	for _, ts := range b.slices {
		if !ts.IDs().Overlaps(sel) {
			continue
		}
		out = append(out, ts.SelectRuns(sel)...)
	}
	return out
}

// Seal produces the immutable segment and resets the builder with a fresh
// UUID. Sealing an empty builder returns nil.
func (b *Builder) Seal() *Segment {
	if b.Empty() {
		return nil
	}
	seg := &Segment{id: b.id, slices: b.slices, ids: b.ids}
	*b = Builder{id: uuid.New()}
	return seg
}

// Reset discards the accumulated slices and reserves a fresh UUID.
func (b *Builder) Reset() {
	*b = Builder{id: uuid.New()}
}

// approximateSize estimates the encoded size of a slice by encoding it.
// The estimate drives the seal threshold, not the on-disk layout.
func approximateSize(ts types.TableSlice) int {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := types.EncodeSlice(enc, ts); err != nil {
		// Fall back to a rough per-row estimate on encode failure.
		return ts.Rows() * ts.Columns() * 16
	}
	return buf.Len()
}
