// Package store implements the content-addressed segment store: a
// persistent directory of sealed segments, a range map from event-ID
// intervals to segment UUIDs, an in-memory LRU of decoded segments, and
// the active segment builder.
package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/internal/segment"
	"github.com/ci-fuzz/vast/internal/storage"
	"github.com/ci-fuzz/vast/pkg/types"
)

// segmentDirName is the segment directory under the database directory.
const segmentDirName = "segments"

// Options configures a segment store.
type Options struct {
	// MaxSegmentBytes is the builder size threshold that triggers a seal.
	MaxSegmentBytes int

	// CacheCapacity is the maximum number of decoded segments kept in
	// memory.
	CacheCapacity int

	// Archive, when set, receives a copy of every sealed segment.
	Archive storage.ObjectStorage

	// Logger receives store diagnostics.
	Logger *slog.Logger
}

// Store owns the segment directory. All operations are serialized through
// one mutex; a Get observes either the pre-Put or post-Put state of the
// active builder, never a partial write.
type Store struct {
	mu sync.Mutex

	dir     string
	opts    Options
	ranges  RangeMap
	cache   *segmentCache
	builder *segment.Builder
	logger  *slog.Logger
}

// Open creates a store over dir, scanning <dir>/segments/ and registering
// every segment found. Files failing their framing check are skipped with
// a log entry.
func Open(dir string, opts Options) (*Store, error) {
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = 128 << 20
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		dir:     dir,
		opts:    opts,
		cache:   newSegmentCache(opts.CacheCapacity),
		builder: segment.NewBuilder(),
		logger:  logger,
	}
	if err := os.MkdirAll(s.segmentDir(), 0o755); err != nil {
		return nil, errors.Wrap(errors.KindFilesystem, err, "creating %s", s.segmentDir())
	}
	if err := s.registerSegments(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) segmentDir() string {
	return filepath.Join(s.dir, segmentDirName)
}

func (s *Store) segmentPath(id uuid.UUID) string {
	return filepath.Join(s.segmentDir(), id.String())
}

// registerSegments scans the segment directory and populates the range
// map.
func (s *Store) registerSegments() error {
	entries, err := os.ReadDir(s.segmentDir())
	if err != nil {
		return errors.Wrap(errors.KindFilesystem, err, "reading %s", s.segmentDir())
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		id, err := uuid.Parse(entry.Name())
		if err != nil {
			s.logger.Warn("skipping non-segment file", "file", entry.Name())
			continue
		}
		seg, err := s.loadFromDisk(id)
		if err != nil {
			s.logger.Warn("skipping unreadable segment", "segment", id, "error", err)
			continue
		}
		if !s.ranges.Insert(seg.IDs(), id) {
			s.logger.Warn("segment overlaps registered ID range, skipping", "segment", id)
		}
	}
	s.logger.Info("segment store opened",
		"dir", s.segmentDir(), "segments", len(s.ranges.Segments()))
	return nil
}

// Put appends a table slice to the active builder. When the builder
// reaches the size threshold it is sealed; the sealed segment is returned
// so the caller can index it, otherwise nil. Zero-row slices are no-ops.
func (s *Store) Put(ctx context.Context, ts types.TableSlice) (*segment.Segment, error) {
	if ts.Rows() == 0 {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builder.Add(ts)
	if s.builder.Bytes() < s.opts.MaxSegmentBytes {
		return nil, nil
	}
	return s.sealActive(ctx)
}

// Flush seals the active builder even below the threshold. Returns the
// sealed segment, or nil when the builder was empty.
func (s *Store) Flush(ctx context.Context) (*segment.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sealActive(ctx)
}

// sealActive seals the builder and writes the segment atomically.
// Caller must hold s.mu.
func (s *Store) sealActive(ctx context.Context) (*segment.Segment, error) {
	seg := s.builder.Seal()
	if seg == nil {
		return nil, nil
	}
	if err := s.writeSegment(ctx, seg); err != nil {
		return nil, err
	}
	if !s.ranges.Insert(seg.IDs(), seg.ID()) {
		return nil, errors.New(errors.KindFilesystem,
			"segment %s overlaps registered ID range", seg.ID())
	}
	s.cache.put(seg)
	s.logger.Info("sealed segment",
		"segment", seg.ID(), "events", seg.Events())
	return seg, nil
}

// writeSegment encodes and atomically persists a segment, retrying the
// write once on filesystem failure.
func (s *Store) writeSegment(ctx context.Context, seg *segment.Segment) error {
	data, err := seg.Encode()
	if err != nil {
		return errors.Wrap(errors.KindFormat, err, "encoding segment %s", seg.ID())
	}
	path := s.segmentPath(seg.ID())
	if err := writeAtomic(path, data); err != nil {
		s.logger.Warn("segment write failed, retrying", "segment", seg.ID(), "error", err)
		if err := writeAtomic(path, data); err != nil {
			return err
		}
	}
	if s.opts.Archive != nil {
		object := segmentDirName + "/" + seg.ID().String()
		if err := s.opts.Archive.Upload(ctx, path, object); err != nil {
			// Archival is best-effort; the local copy remains authoritative.
			s.logger.Warn("segment archival failed", "segment", seg.ID(), "error", err)
		}
	}
	return nil
}

// Get returns the table slices whose row IDs are in sel, drawn from
// sealed segments and the active builder.
func (s *Store) Get(sel types.IDSet) ([]types.TableSlice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.TableSlice
	for _, id := range s.ranges.Select(sel) {
		seg, err := s.loadLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, seg.SelectSlices(sel)...)
	}
	out = append(out, s.builder.SelectSlices(sel)...)
	return out, nil
}

// GetSegment returns the slices of one sealed segment restricted to sel.
// It also serves the segment under construction by its reserved UUID.
func (s *Store) GetSegment(id uuid.UUID, sel types.IDSet) ([]types.TableSlice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == s.builder.ID() {
		return s.builder.SelectSlices(sel), nil
	}
	seg, err := s.loadLocked(id)
	if err != nil {
		return nil, err
	}
	return seg.SelectSlices(sel), nil
}

// SegmentIDs returns the event-ID set of a sealed segment.
func (s *Store) SegmentIDs(id uuid.UUID) types.IDSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ranges.SegmentIDs(id)
}

// Select returns the sorted UUIDs of sealed segments intersecting sel.
func (s *Store) Select(sel types.IDSet) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ranges.Select(sel)
}

// Erase removes the given IDs. Segments fully covered by sel are dropped
// (file, range-map entries, and cache entry); partially covered segments
// are rewritten minus the overlap. Returns the UUIDs of dropped segments
// so the caller can erase their synopses.
func (s *Store) Erase(ctx context.Context, sel types.IDSet) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped []uuid.UUID
	for _, id := range s.ranges.Select(sel) {
		segIDs := s.ranges.SegmentIDs(id)
		remaining := segIDs.Difference(sel)
		if remaining.Empty() {
			if err := s.dropLocked(ctx, id); err != nil {
				return dropped, err
			}
			dropped = append(dropped, id)
			continue
		}
		if err := s.rewriteLocked(ctx, id, remaining); err != nil {
			return dropped, err
		}
	}
	// Erase may also hit the active builder; rows already buffered but not
	// sealed are dropped by rebuilding the builder without them.
	if s.builder.IDs().Overlaps(sel) {
		keep := s.builder.IDs().Difference(sel)
		slices := s.builder.SelectSlices(keep)
		s.builder.Reset()
		for _, ts := range slices {
			s.builder.Add(ts)
		}
	}
	return dropped, nil
}

// dropLocked removes a whole segment. Caller must hold s.mu.
func (s *Store) dropLocked(ctx context.Context, id uuid.UUID) error {
	path := s.segmentPath(id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.KindFilesystem, err, "removing %s", path)
	}
	s.ranges.EraseSegment(id)
	s.cache.drop(id)
	if s.opts.Archive != nil {
		object := segmentDirName + "/" + id.String()
		if err := s.opts.Archive.Delete(ctx, object); err != nil {
			s.logger.Warn("archive deletion failed", "segment", id, "error", err)
		}
	}
	s.logger.Info("dropped segment", "segment", id)
	return nil
}

// rewriteLocked replaces a segment with a copy containing only the rows
// in keep. The UUID is preserved. Caller must hold s.mu.
func (s *Store) rewriteLocked(ctx context.Context, id uuid.UUID, keep types.IDSet) error {
	seg, err := s.loadLocked(id)
	if err != nil {
		return err
	}
	rewritten := segment.FromSlices(id, seg.SelectSlices(keep))
	if err := s.writeSegment(ctx, rewritten); err != nil {
		return err
	}
	s.ranges.EraseSegment(id)
	if !s.ranges.Insert(rewritten.IDs(), id) {
		return errors.New(errors.KindFilesystem,
			"rewritten segment %s overlaps registered ID range", id)
	}
	s.cache.drop(id)
	s.cache.put(rewritten)
	s.logger.Info("rewrote segment",
		"segment", id, "events", rewritten.Events())
	return nil
}

// loadLocked returns a decoded segment, from cache or disk. Caller must
// hold s.mu.
func (s *Store) loadLocked(id uuid.UUID) (*segment.Segment, error) {
	if seg := s.cache.get(id); seg != nil {
		return seg, nil
	}
	seg, err := s.loadFromDisk(id)
	if err != nil {
		return nil, err
	}
	s.cache.put(seg)
	return seg, nil
}

// loadFromDisk reads and decodes a segment file, retrying the read once
// on filesystem failure.
func (s *Store) loadFromDisk(id uuid.UUID) (*segment.Segment, error) {
	path := s.segmentPath(id)
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("segment read failed, retrying", "segment", id, "error", err)
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(errors.KindFilesystem, err, "reading %s", path)
		}
	}
	seg, err := segment.Decode(data)
	if err != nil {
		return nil, err
	}
	return seg, nil
}

// writeAtomic writes data to path via a temp file and rename.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(errors.KindFilesystem, err, "creating temp file in %s", dir)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
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

// Status summarizes the store for the status document.
type Status struct {
	Segments       int      `json:"segments"`
	CachedSegments int      `json:"cached_segments"`
	BuilderEvents  uint64   `json:"builder_events"`
	BuilderBytes   int      `json:"builder_bytes"`
	Events         uint64   `json:"events"`
	Resident       []string `json:"resident,omitempty"`
}

// Status returns a snapshot of the store state. detailed adds the
// resident segment UUIDs in MRU order.
func (s *Store) Status(detailed bool) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	var events uint64
	for _, id := range s.ranges.Segments() {
		events += s.ranges.SegmentIDs(id).Cardinality()
	}
	st := Status{
		Segments:       len(s.ranges.Segments()),
		CachedSegments: s.cache.len(),
		BuilderEvents:  s.builder.Events(),
		BuilderBytes:   s.builder.Bytes(),
		Events:         events + s.builder.Events(),
	}
	if detailed {
		for _, id := range s.cache.resident() {
			st.Resident = append(st.Resident, id.String())
		}
	}
	return st
}

// Dirty reports whether the active builder holds unwritten data.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.builder.Empty()
}

// ActiveID returns the UUID reserved for the segment under construction.
func (s *Store) ActiveID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builder.ID()
}

// Cached reports whether a segment is resident in the cache.
func (s *Store) Cached(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.contains(id)
}

// ResidentSegments returns the cached segment UUIDs in MRU order.
func (s *Store) ResidentSegments() []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.resident()
}

// ClearCache evicts all cached segments; sealed segments stay on disk.
func (s *Store) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.clear()
}
