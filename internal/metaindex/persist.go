package metaindex

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/internal/frame"
	"github.com/ci-fuzz/vast/internal/synopsis"
)

// dirName is the meta-index directory under the database directory.
const dirName = "meta-index"

// Dir returns the meta-index directory for a database directory.
func Dir(dbDir string) string {
	return filepath.Join(dbDir, dirName)
}

// Save persists every registered synopsis as one framed file per UUID.
func (m *MetaIndex) Save(dbDir string) error {
	dir := Dir(dbDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.KindFilesystem, err, "creating %s", dir)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, ps := range m.synopses {
		payload, err := ps.Serialize()
		if err != nil {
			return errors.Wrap(errors.KindFormat, err, "serializing synopsis %s", id)
		}
		if err := frame.WriteFile(filepath.Join(dir, id.String()), payload); err != nil {
			return err
		}
	}
	return nil
}

// SaveOne persists a single partition's synopsis.
func (m *MetaIndex) SaveOne(dbDir string, id uuid.UUID) error {
	ps := m.Get(id)
	if ps == nil {
		return nil
	}
	dir := Dir(dbDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.KindFilesystem, err, "creating %s", dir)
	}
	payload, err := ps.Serialize()
	if err != nil {
		return errors.Wrap(errors.KindFormat, err, "serializing synopsis %s", id)
	}
	return frame.WriteFile(filepath.Join(dir, id.String()), payload)
}

// Remove deletes a partition's persisted synopsis file.
func Remove(dbDir string, id uuid.UUID) error {
	path := filepath.Join(Dir(dbDir), id.String())
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.KindFilesystem, err, "removing %s", path)
	}
	return nil
}

// Load reads all persisted synopses from the meta-index directory.
// Files that fail their framing or version check are skipped with a log
// entry; startup continues.
func (m *MetaIndex) Load(dbDir string) error {
	dir := Dir(dbDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(errors.KindFilesystem, err, "reading %s", dir)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, err := uuid.Parse(entry.Name())
		if err != nil {
			m.logger.Warn("skipping non-synopsis file in meta-index directory",
				"file", entry.Name())
			continue
		}
		payload, err := frame.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			m.logger.Warn("skipping unreadable partition synopsis",
				"partition", id, "error", err)
			continue
		}
		ps, err := synopsis.DeserializePartition(payload)
		if err != nil {
			m.logger.Warn("skipping malformed partition synopsis",
				"partition", id, "error", err)
			continue
		}
		m.Insert(id, ps)
	}
	return nil
}
