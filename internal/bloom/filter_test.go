package bloom

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterNoFalseNegatives(t *testing.T) {
	f := NewWithEstimates(1000, 0.01)
	for i := 0; i < 1000; i++ {
		f.Add(itemBytes(uint64(i)))
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, f.Contains(itemBytes(uint64(i))), "item %d", i)
	}
	assert.Equal(t, uint64(1000), f.Count())
}

func TestFilterFalsePositiveRate(t *testing.T) {
	const n = 10000
	f := NewWithEstimates(n, 0.01)
	for i := 0; i < n; i++ {
		f.Add(itemBytes(uint64(i)))
	}

	rng := rand.New(rand.NewSource(1))
	falsePositives := 0
	for i := 0; i < n; i++ {
		// Disjoint sample: values far outside the inserted range.
		probe := uint64(1<<32) + uint64(rng.Int63n(1<<31))
		if f.Contains(itemBytes(probe)) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(n)
	assert.LessOrEqual(t, rate, 0.02, "observed FP rate %f", rate)
}

func TestOptimalParameters(t *testing.T) {
	bits, hashes := OptimalParameters(1000, 0.01)
	assert.Greater(t, bits, 9000, "roughly 9.6 bits per item at 1%%")
	assert.Less(t, bits, 11000)
	assert.GreaterOrEqual(t, hashes, 6)
	assert.LessOrEqual(t, hashes, 8)

	// Degenerate inputs fall back to defaults.
	bits, hashes = OptimalParameters(0, 2.0)
	assert.Greater(t, bits, 0)
	assert.Greater(t, hashes, 0)
}

func TestSerializeRoundTrip(t *testing.T) {
	f := NewWithEstimates(500, 0.01)
	for i := 0; i < 500; i++ {
		f.Add(itemBytes(uint64(i * 7)))
	}

	restored, err := Deserialize(f.Serialize())
	require.NoError(t, err)

	assert.Equal(t, f.NumBits(), restored.NumBits())
	assert.Equal(t, f.NumHashes(), restored.NumHashes())
	assert.Equal(t, f.Count(), restored.Count())
	for i := 0; i < 500; i++ {
		assert.True(t, restored.Contains(itemBytes(uint64(i*7))))
	}
}

func TestDeserializeMalformed(t *testing.T) {
	_, err := Deserialize(nil)
	assert.Error(t, err)

	_, err = Deserialize(make([]byte, 10))
	assert.Error(t, err)

	// Valid header, truncated payload.
	data := f0Serialized(t)
	_, err = Deserialize(data[:25])
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	a := New(1024, 4)
	b := New(1024, 4)
	a.Add(itemBytes(1))
	b.Add(itemBytes(2))

	require.True(t, a.Merge(b))
	assert.True(t, a.Contains(itemBytes(1)))
	assert.True(t, a.Contains(itemBytes(2)))

	c := New(2048, 4)
	assert.False(t, a.Merge(c), "geometry mismatch is rejected")
}

func f0Serialized(t *testing.T) []byte {
	t.Helper()
	f := New(1024, 4)
	f.Add(itemBytes(42))
	return f.Serialize()
}

func itemBytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
