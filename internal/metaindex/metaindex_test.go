package metaindex

import (
	"net/netip"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ci-fuzz/vast/internal/expr"
	"github.com/ci-fuzz/vast/internal/synopsis"
	"github.com/ci-fuzz/vast/pkg/types"
)

func flowLayout() types.RecordLayout {
	return types.NewRecordLayout("flow",
		types.Field{Name: "src_ip", Type: types.Address()},
		types.Field{Name: "dst_port", Type: types.Count()},
	)
}

func flowSynopsis(t *testing.T, addr string, port uint64) *synopsis.PartitionSynopsis {
	t.Helper()
	rows := [][]types.Data{
		{types.AddressData(netip.MustParseAddr(addr)), types.CountData(port)},
	}
	ps := synopsis.NewPartitionSynopsis()
	ps.AddSlice(types.NewTableSlice(flowLayout(), 0, rows), synopsis.Options{Capacity: 16, FPRate: 0.01})
	ps.Seal()
	return ps
}

func parse(t *testing.T, input string) expr.Expression {
	t.Helper()
	e, err := expr.Parse(input)
	require.NoError(t, err)
	return expr.Normalize(e)
}

func sorted(xs []uuid.UUID) bool {
	return sort.SliceIsSorted(xs, func(i, j int) bool {
		return UUIDLess(xs[i], xs[j])
	})
}

func TestLookupCandidatePruning(t *testing.T) {
	index := New(nil)
	p1 := uuid.New()
	p2 := uuid.New()
	index.Insert(p1, flowSynopsis(t, "10.0.0.1", 22))
	index.Insert(p2, flowSynopsis(t, "192.168.1.5", 80))

	// Only P1 contains 10.0.0.1.
	result := index.Lookup(parse(t, "src_ip == 10.0.0.1"))
	assert.Equal(t, []uuid.UUID{p1}, result)

	// The disjunction may include P2 as well because 80 appears there.
	result = index.Lookup(parse(t, "src_ip == 10.0.0.1 || dst_port == 80"))
	assert.Contains(t, result, p1)
	assert.Contains(t, result, p2)
	assert.True(t, sorted(result))

	// Port 22 only lives in P1.
	result = index.Lookup(parse(t, "src_ip == 10.0.0.1 || dst_port == 22"))
	assert.Equal(t, []uuid.UUID{p1}, result)

	// A conjunction that no partition satisfies prunes everything.
	result = index.Lookup(parse(t, "src_ip == 10.0.0.1 && dst_port == 80"))
	assert.Empty(t, result)
}

func TestLookupSortedNoDuplicates(t *testing.T) {
	index := New(nil)
	var all []uuid.UUID
	for i := 0; i < 16; i++ {
		id := uuid.New()
		all = append(all, id)
		index.Insert(id, flowSynopsis(t, "10.0.0.1", uint64(i)))
	}

	result := index.Lookup(parse(t, "src_ip == 10.0.0.1 || dst_port >= 0"))
	require.Len(t, result, len(all))
	assert.True(t, sorted(result))
	seen := make(map[uuid.UUID]bool)
	for _, id := range result {
		assert.False(t, seen[id], "duplicate %s", id)
		seen[id] = true
	}
}

func TestLookupNegationReturnsUniverse(t *testing.T) {
	index := New(nil)
	p1 := uuid.New()
	p2 := uuid.New()
	index.Insert(p1, flowSynopsis(t, "10.0.0.1", 22))
	index.Insert(p2, flowSynopsis(t, "192.168.1.5", 80))

	// Negations cannot be answered from lossy synopses.
	e, err := expr.Parse("! src_ip == 10.0.0.1")
	require.NoError(t, err)
	result := index.Lookup(e) // unnormalized: the negation survives
	assert.Len(t, result, 2)
	assert.True(t, sorted(result))
}

func TestLookupEmptyIndex(t *testing.T) {
	index := New(nil)
	assert.Empty(t, index.Lookup(parse(t, "src_ip == 10.0.0.1")))
}

func TestLookupMetaTypeName(t *testing.T) {
	index := New(nil)
	p1 := uuid.New()
	index.Insert(p1, flowSynopsis(t, "10.0.0.1", 22))

	assert.Equal(t, []uuid.UUID{p1}, index.Lookup(parse(t, "#type == \"flow\"")))
	assert.Empty(t, index.Lookup(parse(t, "#type == \"alert\"")))
	assert.Equal(t, []uuid.UUID{p1}, index.Lookup(parse(t, "#type != \"alert\"")))
	assert.Equal(t, []uuid.UUID{p1}, index.Lookup(parse(t, "#type ~ /fl*/")))
}

func TestLookupMetaFieldName(t *testing.T) {
	index := New(nil)
	p1 := uuid.New()
	index.Insert(p1, flowSynopsis(t, "10.0.0.1", 22))

	assert.Equal(t, []uuid.UUID{p1}, index.Lookup(parse(t, "#field == \"src_ip\"")))
	assert.Equal(t, []uuid.UUID{p1}, index.Lookup(parse(t, "#field == \"flow.src_ip\"")))
	assert.Empty(t, index.Lookup(parse(t, "#field == \"nope\"")))
	assert.Equal(t, []uuid.UUID{p1}, index.Lookup(parse(t, "#field != \"nope\"")))
	assert.Empty(t, index.Lookup(parse(t, "#field != \"src_ip\"")))

	// Non-string RHS: warn and return the universe.
	assert.Len(t, index.Lookup(parse(t, "#field == 42")), 1)
}

func TestLookupTypeExtractor(t *testing.T) {
	index := New(nil)
	p1 := uuid.New()
	p2 := uuid.New()
	index.Insert(p1, flowSynopsis(t, "10.0.0.1", 22))
	index.Insert(p2, flowSynopsis(t, "192.168.1.5", 80))

	result := index.Lookup(parse(t, ":addr == 10.0.0.1"))
	assert.Equal(t, []uuid.UUID{p1}, result)

	result = index.Lookup(parse(t, ":count == 80"))
	assert.Equal(t, []uuid.UUID{p2}, result)
}

func TestLookupTimestampAttributeQuirk(t *testing.T) {
	layout := types.NewRecordLayout("log",
		types.Field{Name: "ts", Type: types.Timestamp().WithAttribute("timestamp", "")},
	)
	rows := [][]types.Data{{types.TimeData(mustTime("2020-06-01T00:00:00Z"))}}
	ps := synopsis.NewPartitionSynopsis()
	ps.AddSlice(types.NewTableSlice(layout, 0, rows), synopsis.DefaultOptions())
	ps.Seal()

	index := New(nil)
	p1 := uuid.New()
	index.Insert(p1, ps)

	// The timestamp extractor matches the field via its attribute.
	result := index.Lookup(parse(t, ":timestamp >= 2020-01-01T00:00:00Z"))
	assert.Equal(t, []uuid.UUID{p1}, result)

	result = index.Lookup(parse(t, ":timestamp >= 2021-01-01T00:00:00Z"))
	assert.Empty(t, result)
}

func TestFieldWithoutSynopsisIsAlwaysCandidate(t *testing.T) {
	// A pattern-typed field gets no synopsis; predicates on it cannot
	// prune.
	layout := types.NewRecordLayout("log",
		types.Field{Name: "re", Type: types.PatternType()},
	)
	rows := [][]types.Data{{types.PatternData("x*")}}
	ps := synopsis.NewPartitionSynopsis()
	ps.AddSlice(types.NewTableSlice(layout, 0, rows), synopsis.DefaultOptions())
	ps.Seal()

	index := New(nil)
	p1 := uuid.New()
	index.Insert(p1, ps)

	result := index.Lookup(parse(t, "re == /y*/"))
	assert.Equal(t, []uuid.UUID{p1}, result)
}

func TestEraseAndMerge(t *testing.T) {
	index := New(nil)
	p1 := uuid.New()
	index.Insert(p1, flowSynopsis(t, "10.0.0.1", 22))
	require.Equal(t, 1, index.Len())

	index.Erase(p1)
	assert.Equal(t, 0, index.Len())

	batch := map[uuid.UUID]*synopsis.PartitionSynopsis{
		uuid.New(): flowSynopsis(t, "10.0.0.1", 1),
		uuid.New(): flowSynopsis(t, "10.0.0.2", 2),
	}
	index.Merge(batch)
	assert.Equal(t, 2, index.Len())
	assert.Equal(t, uint64(2), index.Events())
}

func mustTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t.UTC()
}
