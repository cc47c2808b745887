// Package server wires the engine components together: the schema
// registry, the meta-index, the segment store, and the query pipeline. It
// also serves the HTTP status and query endpoints and coordinates
// graceful shutdown.
package server

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ci-fuzz/vast/internal/config"
	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/internal/expr"
	"github.com/ci-fuzz/vast/internal/metaindex"
	"github.com/ci-fuzz/vast/internal/query"
	"github.com/ci-fuzz/vast/internal/registry"
	"github.com/ci-fuzz/vast/internal/storage"
	"github.com/ci-fuzz/vast/internal/store"
	"github.com/ci-fuzz/vast/internal/synopsis"
	"github.com/ci-fuzz/vast/pkg/types"
)

// Engine owns one database directory and the components over it.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *registry.Registry
	index    *metaindex.MetaIndex
	segments *store.Store
	pipeline *query.Pipeline

	mu       sync.Mutex
	nextID   types.ID
	synopsis *activeSynopsis
}

// activeSynopsis accumulates the synopsis of the shard under
// construction alongside the store's active builder.
type activeSynopsis struct {
	ps     *synopsis.PartitionSynopsis
	opts   synopsis.Options
	events uint64
}

func newActiveSynopsis(cfg *config.Config) *activeSynopsis {
	return &activeSynopsis{
		ps: synopsis.NewPartitionSynopsis(),
		opts: synopsis.Options{
			Capacity: int(cfg.MaxPartitionSize),
			FPRate:   cfg.MetaIndexFPRate,
		},
	}
}

func (a *activeSynopsis) add(ts types.TableSlice) {
	a.ps.AddSlice(ts, a.opts)
	a.events += uint64(ts.Rows())
}

func (a *activeSynopsis) seal() *synopsis.PartitionSynopsis {
	a.ps.Seal()
	return a.ps
}

// Open constructs the engine over the configured database directory,
// loading all persisted state.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.DBDirectory, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindFilesystem, err, "creating %s", cfg.DBDirectory)
	}

	reg := registry.New(logger)
	if err := reg.Load(cfg.TypeRegistryPath()); err != nil {
		logger.Warn("type registry snapshot unreadable, starting empty", "error", err)
	}

	index := metaindex.New(logger)
	if err := index.Load(cfg.DBDirectory); err != nil {
		return nil, err
	}

	archive, err := openArchive(ctx, cfg)
	if err != nil {
		return nil, err
	}
	segments, err := store.Open(cfg.DBDirectory, store.Options{
		MaxSegmentBytes: cfg.MaxSegmentSize,
		CacheCapacity:   cfg.SegmentsCached,
		Archive:         archive,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		index:    index,
		segments: segments,
		synopsis: newActiveSynopsis(cfg),
	}
	e.nextID = e.recoverNextID()

	e.pipeline = query.New(query.Config{
		MaxPartitionSize:      cfg.MaxPartitionSize,
		MaxResidentPartitions: cfg.MaxResidentPartitions,
		MaxTastePartitions:    cfg.MaxTastePartitions,
		MaxQueries:            cfg.MaxQueries,
	}, index, segments, reg, logger)

	logger.Info("engine opened",
		"db", cfg.DBDirectory,
		"partitions", index.Len(),
		"events", index.Events())
	return e, nil
}

func openArchive(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Archive.Type {
	case "", "none":
		return nil, nil
	case "local":
		return storage.NewLocalStorage(cfg.Archive.Path)
	case "s3":
		return storage.NewS3Storage(ctx, cfg.Archive.S3)
	default:
		return nil, errors.New(errors.KindInvalidConfiguration,
			"unknown archive type %s", cfg.Archive.Type)
	}
}

// recoverNextID derives the next free event ID from the registered
// segments.
func (e *Engine) recoverNextID() types.ID {
	var next types.ID
	for _, id := range e.segments.Select(types.MakeInterval(0, ^types.ID(0))) {
		if bounds := e.segments.SegmentIDs(id).Bounds(); bounds.Hi > next {
			next = bounds.Hi
		}
	}
	return next
}

// Registry returns the schema registry.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// MetaIndex returns the meta-index.
func (e *Engine) MetaIndex() *metaindex.MetaIndex {
	return e.index
}

// Store returns the segment store.
func (e *Engine) Store() *store.Store {
	return e.segments
}

// Pipeline returns the query pipeline.
func (e *Engine) Pipeline() *query.Pipeline {
	return e.pipeline
}

// Ingest appends rows of one layout, allocating dense event IDs. Rows not
// matching the layout's column count are dropped with a type_clash log.
func (e *Engine) Ingest(ctx context.Context, layout types.RecordLayout, rows [][]types.Data) error {
	if len(rows) == 0 {
		return nil
	}
	fields := layout.QualifiedFields()
	kept := rows[:0]
	for _, row := range rows {
		if len(row) != len(fields) {
			e.logger.Warn("dropping row not matching layout",
				"layout", layout.Name(), "columns", len(row), "want", len(fields),
				"error", errors.New(errors.KindTypeClash, "row arity mismatch"))
			continue
		}
		// Values of the wrong kind become null with a conversion warning.
		for i, v := range row {
			if v == nil || convertible(types.DataKind(v), fields[i].Type.Kind) {
				continue
			}
			e.logger.Warn("nulling unconvertible value",
				"layout", layout.Name(), "field", fields[i].FieldPath,
				"error", errors.New(errors.KindConvert,
					"cannot convert %v to %s", types.DataKind(v), fields[i].Type))
			row[i] = nil
		}
		kept = append(kept, row)
	}
	if len(kept) == 0 {
		return nil
	}
	e.registry.Insert(layout)

	e.mu.Lock()
	defer e.mu.Unlock()
	// Split the batch at shard boundaries so no partition exceeds its
	// event budget.
	for len(kept) > 0 {
		capacity := e.cfg.MaxPartitionSize - e.synopsis.events
		chunk := kept
		if uint64(len(chunk)) > capacity {
			chunk = chunk[:capacity]
		}
		kept = kept[len(chunk):]

		ts := types.NewTableSlice(layout, e.nextID, chunk)
		e.nextID += types.ID(len(chunk))

		e.synopsis.add(ts)
		sealed, err := e.segments.Put(ctx, ts)
		if err != nil {
			return err
		}
		if sealed == nil && e.synopsis.events >= e.cfg.MaxPartitionSize {
			// The shard reached its event budget before the byte
			// threshold.
			sealed, err = e.segments.Flush(ctx)
			if err != nil {
				return err
			}
		}
		if sealed != nil {
			e.sealPartitionLocked(sealed.ID())
		}
	}
	return nil
}

// convertible reports whether a value kind may inhabit a column kind.
// Numeric kinds convert among each other; containers are not inspected
// beyond their outer kind.
func convertible(value, column types.Kind) bool {
	if value == column {
		return true
	}
	numeric := func(k types.Kind) bool {
		return k == types.KindInteger || k == types.KindCount || k == types.KindReal
	}
	return numeric(value) && numeric(column)
}

// sealPartitionLocked installs the active synopsis into the meta-index
// under the sealed segment's UUID. Caller must hold e.mu.
func (e *Engine) sealPartitionLocked(id uuid.UUID) {
	ps := e.synopsis.seal()
	e.index.Insert(id, ps)
	if err := e.index.SaveOne(e.cfg.DBDirectory, id); err != nil {
		e.logger.Warn("persisting partition synopsis failed", "partition", id, "error", err)
	}
	e.synopsis = newActiveSynopsis(e.cfg)
}

// Flush seals the active shard regardless of thresholds.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	sealed, err := e.segments.Flush(ctx)
	if err != nil {
		return err
	}
	if sealed != nil {
		e.sealPartitionLocked(sealed.ID())
	}
	return nil
}

// Submit parses, resolves, and runs a query expression.
func (e *Engine) Submit(ctx context.Context, input string, opts query.Options) (*query.Query, error) {
	parsed, err := expr.Parse(input)
	if err != nil {
		return nil, err
	}
	return e.pipeline.Submit(ctx, parsed, opts)
}

// Get retrieves events by literal ID.
func (e *Engine) Get(sel types.IDSet) ([]types.TableSlice, error) {
	return e.segments.Get(sel)
}

// Erase removes the given IDs from the store and drops the synopses of
// fully erased partitions.
func (e *Engine) Erase(ctx context.Context, sel types.IDSet) error {
	dropped, err := e.segments.Erase(ctx, sel)
	for _, id := range dropped {
		e.index.Erase(id)
		if err := metaindex.Remove(e.cfg.DBDirectory, id); err != nil {
			e.logger.Warn("removing persisted synopsis failed", "partition", id, "error", err)
		}
	}
	return err
}

// Status is the engine status document.
type Status struct {
	Version    string       `json:"version"`
	Partitions int          `json:"partitions"`
	Events     uint64       `json:"events"`
	Layouts    []string     `json:"layouts"`
	Store      store.Status `json:"store"`
}

// Status assembles the status document.
func (e *Engine) Status(detailed bool) Status {
	return Status{
		Version:    Version,
		Partitions: e.index.Len(),
		Events:     e.index.Events(),
		Layouts:    e.registry.Names(),
		Store:      e.segments.Status(detailed),
	}
}

// Version is the engine version reported in the status document.
const Version = "0.1.0"

// Close flushes the active shard and persists all state, bounded by the
// shutdown grace period.
func (e *Engine) Close(ctx context.Context) error {
	grace := time.Duration(e.cfg.ShutdownGracePeriod)
	if grace <= 0 {
		grace = 3 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var firstErr error
		if err := e.Flush(ctx); err != nil {
			firstErr = err
		}
		if err := e.registry.Save(e.cfg.TypeRegistryPath()); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := e.saveSchemaSnapshot(); err != nil && firstErr == nil {
			firstErr = err
		}
		done <- firstErr
	}()

	select {
	case err := <-done:
		if err != nil {
			e.logger.Error("shutdown finished with error", "error", err)
		} else {
			e.logger.Info("shutdown complete")
		}
		return err
	case <-ctx.Done():
		e.logger.Error("shutdown grace period exceeded, abandoning state flush")
		return errors.Wrap(errors.KindFilesystem, ctx.Err(), "shutdown grace period exceeded")
	}
}

// saveSchemaSnapshot writes the current schema as text alongside the
// binary layout history.
func (e *Engine) saveSchemaSnapshot() error {
	schema := e.registry.Schema()
	data := []byte(types.PrintSchema(schema))
	if err := os.WriteFile(e.cfg.SchemaPath(), data, 0o644); err != nil {
		return errors.Wrap(errors.KindFilesystem, err, "writing %s", e.cfg.SchemaPath())
	}
	return nil
}
