package segment

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ci-fuzz/vast/pkg/types"
)

func flowSlice(offset types.ID, n int) types.TableSlice {
	layout := types.NewRecordLayout("flow",
		types.Field{Name: "src", Type: types.Address()},
		types.Field{Name: "bytes", Type: types.Count()},
	)
	rows := make([][]types.Data, n)
	for i := range rows {
		rows[i] = []types.Data{
			types.AddressData(netip.MustParseAddr("10.0.0.1")),
			types.CountData(uint64(i)),
		}
	}
	return types.NewTableSlice(layout, offset, rows)
}

func TestBuilderAccumulation(t *testing.T) {
	b := NewBuilder()
	firstID := b.ID()
	assert.True(t, b.Empty())

	b.Add(flowSlice(0, 10))
	b.Add(flowSlice(10, 5))
	assert.Equal(t, uint64(15), b.Events())
	assert.Greater(t, b.Bytes(), 0)

	// Zero-row slices change nothing.
	before := b.Bytes()
	b.Add(flowSlice(100, 0))
	assert.Equal(t, before, b.Bytes())
	assert.Equal(t, uint64(15), b.Events())

	seg := b.Seal()
	require.NotNil(t, seg)
	assert.Equal(t, firstID, seg.ID())
	assert.Equal(t, uint64(15), seg.Events())

	// Sealing resets the builder with a fresh UUID.
	assert.True(t, b.Empty())
	assert.NotEqual(t, firstID, b.ID())
}

func TestSealEmptyBuilder(t *testing.T) {
	b := NewBuilder()
	assert.Nil(t, b.Seal())
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := NewBuilder()
	b.Add(flowSlice(100, 8))
	b.Add(flowSlice(200, 4))
	seg := b.Seal()

	data, err := seg.Encode()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, seg.ID(), decoded.ID())
	assert.True(t, seg.IDs().Equal(decoded.IDs()))
	require.Len(t, decoded.Slices(), 2)
	for i, ts := range decoded.Slices() {
		original := seg.Slices()[i]
		assert.Equal(t, original.Offset, ts.Offset)
		require.Equal(t, original.Rows(), ts.Rows())
		for r := 0; r < ts.Rows(); r++ {
			for c := 0; c < ts.Columns(); c++ {
				assert.True(t, types.DataEqual(original.At(r, c), ts.At(r, c)))
			}
		}
	}
}

func TestDecodeRejectsCorruption(t *testing.T) {
	b := NewBuilder()
	b.Add(flowSlice(0, 2))
	data, err := b.Seal().Encode()
	require.NoError(t, err)

	_, err = Decode(data[:8])
	assert.Error(t, err)

	corrupted := append([]byte(nil), data...)
	corrupted[0] = 'X'
	_, err = Decode(corrupted)
	assert.Error(t, err)
}

func TestSelectSlices(t *testing.T) {
	b := NewBuilder()
	b.Add(flowSlice(0, 10))
	b.Add(flowSlice(100, 10))
	seg := b.Seal()

	got := seg.SelectSlices(types.MakeInterval(5, 105))
	require.Len(t, got, 2)
	assert.Equal(t, types.ID(5), got[0].Offset)
	assert.Equal(t, 5, got[0].Rows())
	assert.Equal(t, types.ID(100), got[1].Offset)
	assert.Equal(t, 5, got[1].Rows())

	assert.Empty(t, seg.SelectSlices(types.MakeInterval(50, 60)))
}

func TestBuilderSelectSlices(t *testing.T) {
	b := NewBuilder()
	b.Add(flowSlice(0, 10))

	got := b.SelectSlices(types.MakeInterval(3, 6))
	require.Len(t, got, 1)
	assert.Equal(t, types.ID(3), got[0].Offset)
	assert.Equal(t, 3, got[0].Rows())
}
