package frame

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ci-fuzz/vast/internal/errors"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello segments")
	decoded, err := Decode(Encode(payload))
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)

	empty, err := Decode(Encode(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too short", []byte("VA")},
		{"bad magic", append([]byte("NOPE\x01"), 0, 0, 0, 0)},
		{"bad version", append([]byte("VAST\x07"), 0, 0, 0, 0)},
		{"length mismatch", append(Encode([]byte("x")), 'y')},
		{"truncated", Encode([]byte("full payload"))[:12]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			require.Error(t, err)
			assert.Equal(t, errors.KindFormat, errors.KindOf(err))
		})
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob")
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	require.NoError(t, WriteFile(path, payload))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestReadFrom(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Encode([]byte("first")))
	buf.Write(Encode([]byte("second")))

	first, err := ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), first)

	second, err := ReadFrom(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), second)

	_, err = ReadFrom(&buf)
	assert.Error(t, err)
}
