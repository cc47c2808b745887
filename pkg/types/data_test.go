package types

import (
	"bytes"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestCompareDataNumericCrossKind(t *testing.T) {
	tests := []struct {
		name string
		a, b Data
		want int
	}{
		{"int vs count equal", IntegerData(5), CountData(5), 0},
		{"int vs real less", IntegerData(2), RealData(2.5), -1},
		{"count vs real greater", CountData(10), RealData(9.5), 1},
		{"string order", StringData("a"), StringData("b"), -1},
		{"time order", TimeData(time.Unix(1, 0)), TimeData(time.Unix(2, 0)), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CompareData(tt.a, tt.b)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareDataIncomparable(t *testing.T) {
	_, ok := CompareData(StringData("x"), IntegerData(1))
	assert.False(t, ok)

	_, ok = CompareData(nil, IntegerData(1))
	assert.False(t, ok)

	cmp, ok := CompareData(nil, nil)
	require.True(t, ok)
	assert.Equal(t, 0, cmp)
}

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"*", "anything", true},
		{"foo*", "foobar", true},
		{"*bar", "foobar", true},
		{"f?o", "foo", true},
		{"f?o", "fo", false},
		{"exact", "exact", true},
		{"exact", "exactly", false},
		{"*evil*", "totally evil domain", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchPattern(PatternData(tt.pattern), tt.input))
		})
	}
}

func TestSliceCodecRoundTrip(t *testing.T) {
	layout := connLayout()
	rows := [][]Data{
		{
			TimeData(time.Unix(1600000000, 42).UTC()),
			AddressData(netip.MustParseAddr("10.0.0.1")),
			AddressData(netip.MustParseAddr("192.168.1.5")),
			CountData(443),
			StringData("tcp"),
		},
		{
			TimeData(time.Unix(1600000001, 0).UTC()),
			AddressData(netip.MustParseAddr("fe80::1")),
			nil,
			CountData(80),
			StringData("udp"),
		},
	}
	original := NewTableSlice(layout, 100, rows)

	var buf bytes.Buffer
	require.NoError(t, EncodeSlice(msgpack.NewEncoder(&buf), original))

	decoded, err := DecodeSlice(msgpack.NewDecoder(&buf))
	require.NoError(t, err)

	assert.True(t, decoded.Layout.Equal(original.Layout))
	assert.Equal(t, original.Offset, decoded.Offset)
	require.Equal(t, original.Rows(), decoded.Rows())
	for i := 0; i < original.Rows(); i++ {
		for j := 0; j < original.Columns(); j++ {
			assert.True(t, DataEqual(original.At(i, j), decoded.At(i, j)),
				"row %d col %d", i, j)
		}
	}
}

func TestDataCodecContainers(t *testing.T) {
	value := MapData{
		{Key: StringData("ports"), Value: ListData{CountData(80), CountData(443)}},
		{Key: StringData("nested"), Value: RecordData{BoolData(true), nil}},
	}

	var buf bytes.Buffer
	require.NoError(t, EncodeData(msgpack.NewEncoder(&buf), value))
	decoded, err := DecodeData(msgpack.NewDecoder(&buf))
	require.NoError(t, err)
	assert.True(t, DataEqual(value, decoded))
}

func TestSelectRuns(t *testing.T) {
	layout := NewRecordLayout("t", Field{Name: "n", Type: Count()})
	rows := make([][]Data, 10)
	for i := range rows {
		rows[i] = []Data{CountData(i)}
	}
	ts := NewTableSlice(layout, 100, rows)

	sel := NewIDSet(Interval{Lo: 102, Hi: 104}, Interval{Lo: 107, Hi: 109})
	runs := ts.SelectRuns(sel)

	require.Len(t, runs, 2)
	assert.Equal(t, ID(102), runs[0].Offset)
	assert.Equal(t, 2, runs[0].Rows())
	assert.Equal(t, ID(107), runs[1].Offset)
	assert.True(t, DataEqual(CountData(7), runs[1].At(0, 0)))
}

func TestZeroRowSlice(t *testing.T) {
	layout := NewRecordLayout("t", Field{Name: "n", Type: Count()})
	ts := NewTableSlice(layout, 0, nil)
	assert.Equal(t, 0, ts.Rows())
	assert.True(t, ts.IDs().Empty())
}
