package store

import (
	"context"
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ci-fuzz/vast/pkg/types"
)

func flowSlice(offset types.ID, n int) types.TableSlice {
	layout := types.NewRecordLayout("flow",
		types.Field{Name: "src", Type: types.Address()},
		types.Field{Name: "seq", Type: types.Count()},
	)
	rows := make([][]types.Data, n)
	for i := range rows {
		rows[i] = []types.Data{
			types.AddressData(netip.MustParseAddr("10.0.0.1")),
			types.CountData(uint64(offset) + uint64(i)),
		}
	}
	return types.NewTableSlice(layout, offset, rows)
}

func openTestStore(t *testing.T, dir string, maxBytes, cached int) *Store {
	t.Helper()
	s, err := Open(dir, Options{MaxSegmentBytes: maxBytes, CacheCapacity: cached})
	require.NoError(t, err)
	return s
}

func countRows(slices []types.TableSlice) int {
	n := 0
	for _, ts := range slices {
		n += ts.Rows()
	}
	return n
}

func TestPutGetRoundTrip(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 1<<20, 4)
	ctx := context.Background()

	sealed, err := s.Put(ctx, flowSlice(0, 100))
	require.NoError(t, err)
	assert.Nil(t, sealed, "below the threshold nothing seals")

	// Unsealed data is visible to gets.
	slices, err := s.Get(types.MakeInterval(10, 20))
	require.NoError(t, err)
	assert.Equal(t, 10, countRows(slices))

	sealed, err = s.Flush(ctx)
	require.NoError(t, err)
	require.NotNil(t, sealed)

	slices, err = s.Get(types.MakeInterval(10, 20))
	require.NoError(t, err)
	assert.Equal(t, 10, countRows(slices))
}

func TestPutZeroRowSliceIsNoOp(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 1<<20, 4)
	sealed, err := s.Put(context.Background(), flowSlice(0, 0))
	require.NoError(t, err)
	assert.Nil(t, sealed)
	assert.False(t, s.Dirty())
}

func TestSealOnThreshold(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 64, 4) // tiny threshold
	sealed, err := s.Put(context.Background(), flowSlice(0, 10))
	require.NoError(t, err)
	require.NotNil(t, sealed, "crossing the byte threshold seals")
	assert.Equal(t, uint64(10), sealed.Events())
	assert.False(t, s.Dirty())
}

// TestRecoveryAfterRestart covers put, put, restart, get.
func TestRecoveryAfterRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTestStore(t, dir, 1<<20, 4)
	_, err := s.Put(ctx, flowSlice(0, 50))
	require.NoError(t, err)
	_, err = s.Flush(ctx)
	require.NoError(t, err)
	_, err = s.Put(ctx, flowSlice(50, 50))
	require.NoError(t, err)
	_, err = s.Flush(ctx)
	require.NoError(t, err)

	// Reopen and read everything back.
	s2 := openTestStore(t, dir, 1<<20, 4)
	slices, err := s2.Get(types.MakeInterval(0, 100))
	require.NoError(t, err)
	assert.Equal(t, 100, countRows(slices))

	// The recovered rows carry their original values.
	for _, ts := range slices {
		for i := 0; i < ts.Rows(); i++ {
			seq := ts.At(i, 1).(types.CountData)
			assert.Equal(t, types.CountData(ts.RowID(i)), seq)
		}
	}
}

// TestLRUBound covers the capacity-3 access sequence U1,U2,U3,U4,U1.
func TestLRUBound(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := openTestStore(t, dir, 1<<20, 3)
	var ids []uuid.UUID
	for i := 0; i < 4; i++ {
		_, err := s.Put(ctx, flowSlice(types.ID(i*10), 10))
		require.NoError(t, err)
		sealed, err := s.Flush(ctx)
		require.NoError(t, err)
		require.NotNil(t, sealed)
		ids = append(ids, sealed.ID())
	}
	s.ClearCache()

	access := []uuid.UUID{ids[0], ids[1], ids[2], ids[3], ids[0]}
	for _, id := range access {
		_, err := s.GetSegment(id, s.SegmentIDs(id))
		require.NoError(t, err)
	}

	resident := s.ResidentSegments()
	require.Len(t, resident, 3, "the cache never exceeds its capacity")
	assert.Equal(t, []uuid.UUID{ids[0], ids[3], ids[2]}, resident, "MRU order U1,U4,U3")
}

func TestEraseDropsAndRewrites(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := openTestStore(t, dir, 1<<20, 4)

	_, err := s.Put(ctx, flowSlice(0, 10))
	require.NoError(t, err)
	first, err := s.Flush(ctx)
	require.NoError(t, err)
	_, err = s.Put(ctx, flowSlice(10, 10))
	require.NoError(t, err)
	second, err := s.Flush(ctx)
	require.NoError(t, err)

	// Fully covering the first segment drops it.
	dropped, err := s.Erase(ctx, types.MakeInterval(0, 10))
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first.ID()}, dropped)

	slices, err := s.Get(types.MakeInterval(0, 20))
	require.NoError(t, err)
	assert.Equal(t, 10, countRows(slices))

	// Partially covering the second rewrites it in place.
	dropped, err = s.Erase(ctx, types.MakeInterval(10, 15))
	require.NoError(t, err)
	assert.Empty(t, dropped)

	slices, err = s.Get(types.MakeInterval(0, 20))
	require.NoError(t, err)
	assert.Equal(t, 5, countRows(slices))
	assert.Equal(t, []uuid.UUID{second.ID()}, s.Select(types.MakeInterval(0, 20)))

	// The rewrite survives a restart.
	s2 := openTestStore(t, dir, 1<<20, 4)
	slices, err = s2.Get(types.MakeInterval(0, 20))
	require.NoError(t, err)
	assert.Equal(t, 5, countRows(slices))
}

func TestEraseFromActiveBuilder(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 1<<20, 4)
	ctx := context.Background()

	_, err := s.Put(ctx, flowSlice(0, 10))
	require.NoError(t, err)

	dropped, err := s.Erase(ctx, types.MakeInterval(0, 5))
	require.NoError(t, err)
	assert.Empty(t, dropped)

	slices, err := s.Get(types.MakeInterval(0, 10))
	require.NoError(t, err)
	assert.Equal(t, 5, countRows(slices))
}

func TestRangeMapInvariants(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	s := openTestStore(t, dir, 1<<20, 4)

	for i := 0; i < 5; i++ {
		_, err := s.Put(ctx, flowSlice(types.ID(i*100), 50))
		require.NoError(t, err)
		_, err = s.Flush(ctx)
		require.NoError(t, err)
	}
	_, err := s.Erase(ctx, types.MakeInterval(120, 140))
	require.NoError(t, err)

	intervals := s.ranges.Intervals()
	for i := 1; i < len(intervals); i++ {
		assert.LessOrEqual(t, intervals[i-1].Hi, intervals[i].Lo,
			"intervals must stay sorted and disjoint")
	}
}

func TestStatus(t *testing.T) {
	s := openTestStore(t, t.TempDir(), 1<<20, 4)
	ctx := context.Background()

	_, err := s.Put(ctx, flowSlice(0, 10))
	require.NoError(t, err)
	st := s.Status(false)
	assert.Equal(t, 0, st.Segments)
	assert.Equal(t, uint64(10), st.BuilderEvents)
	assert.Equal(t, uint64(10), st.Events)

	_, err = s.Flush(ctx)
	require.NoError(t, err)
	st = s.Status(true)
	assert.Equal(t, 1, st.Segments)
	assert.Len(t, st.Resident, 1)
}
