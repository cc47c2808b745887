// Package frame implements the self-describing binary file framing shared
// by segments and partition-synopsis files: a fixed magic, a format
// version, a little-endian length prefix, and the payload.
package frame

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/ci-fuzz/vast/internal/errors"
)

// Magic identifies engine-owned files.
var Magic = [4]byte{'V', 'A', 'S', 'T'}

// Version is the current framing version.
const Version = 1

// headerSize is magic + version byte + uint32 length.
const headerSize = 4 + 1 + 4

// Encode wraps a payload in the file framing.
func Encode(payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	copy(buf[0:4], Magic[:])
	buf[4] = Version
	binary.LittleEndian.PutUint32(buf[5:9], uint32(len(payload)))
	copy(buf[headerSize:], payload)
	return buf
}

// Decode verifies the framing and returns the payload.
func Decode(data []byte) ([]byte, error) {
	if len(data) < headerSize {
		return nil, errors.New(errors.KindFormat, "file too short for frame header: %d bytes", len(data))
	}
	if [4]byte(data[0:4]) != Magic {
		return nil, errors.New(errors.KindFormat, "bad magic %q", data[0:4])
	}
	if data[4] != Version {
		return nil, errors.New(errors.KindFormat, "unsupported format version %d", data[4])
	}
	length := binary.LittleEndian.Uint32(data[5:9])
	if int(length) != len(data)-headerSize {
		return nil, errors.New(errors.KindFormat, "length prefix %d does not match payload size %d", length, len(data)-headerSize)
	}
	return data[headerSize:], nil
}

// WriteFile atomically writes a framed payload: write to a temp file in
// the same directory, fsync, then rename over the target.
func WriteFile(path string, payload []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.KindFilesystem, err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(Encode(payload)); err != nil {
		tmp.Close()
		return errors.Wrap(errors.KindFilesystem, err, "writing %s", tmpName)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(errors.KindFilesystem, err, "syncing %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(errors.KindFilesystem, err, "closing %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrap(errors.KindFilesystem, err, "renaming %s to %s", tmpName, path)
	}
	return nil
}

// ReadFile reads a framed file and returns its payload.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.KindFilesystem, err, "reading %s", path)
	}
	return Decode(data)
}

// ReadFrom reads one framed payload from a stream.
func ReadFrom(r io.Reader) ([]byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(errors.KindFormat, err, "reading frame header")
	}
	if [4]byte(header[0:4]) != Magic {
		return nil, errors.New(errors.KindFormat, "bad magic %q", header[0:4])
	}
	if header[4] != Version {
		return nil, errors.New(errors.KindFormat, "unsupported format version %d", header[4])
	}
	length := binary.LittleEndian.Uint32(header[5:9])
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(errors.KindFormat, err, "reading frame payload")
	}
	return payload, nil
}
