// Package query implements the staged query pipeline: meta-index lookup,
// the taste wave, the steady phase bounded by resident partitions, credit
// based backpressure, FIFO admission, and cancellation.
package query

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/internal/expr"
	"github.com/ci-fuzz/vast/internal/metaindex"
	"github.com/ci-fuzz/vast/internal/registry"
	"github.com/ci-fuzz/vast/internal/store"
	"github.com/ci-fuzz/vast/pkg/types"
)

// Config holds the pipeline limits.
type Config struct {
	// MaxPartitionSize is the target number of events per shard.
	MaxPartitionSize uint64

	// MaxResidentPartitions caps concurrently materialized shards per
	// query.
	MaxResidentPartitions int

	// MaxTastePartitions is the size of the first evaluation wave.
	MaxTastePartitions int

	// MaxQueries is the concurrency cap on active queries. Excess
	// queries queue FIFO and begin as soon as a running query finishes
	// its meta-index phase.
	MaxQueries int
}

// DefaultConfig returns the default pipeline limits.
func DefaultConfig() Config {
	return Config{
		MaxPartitionSize:      1 << 20,
		MaxResidentPartitions: 10,
		MaxTastePartitions:    5,
		MaxQueries:            10,
	}
}

// Pipeline evaluates queries against the meta-index and segment store.
type Pipeline struct {
	cfg      Config
	index    *metaindex.MetaIndex
	segments *store.Store
	registry *registry.Registry
	logger   *slog.Logger
	admit    *admissionQueue
}

// New creates a pipeline.
func New(cfg Config, index *metaindex.MetaIndex, segments *store.Store, reg *registry.Registry, logger *slog.Logger) *Pipeline {
	if cfg.MaxResidentPartitions <= 0 {
		cfg.MaxResidentPartitions = 10
	}
	if cfg.MaxTastePartitions <= 0 || cfg.MaxTastePartitions > cfg.MaxResidentPartitions {
		cfg.MaxTastePartitions = min(5, cfg.MaxResidentPartitions)
	}
	if cfg.MaxQueries <= 0 {
		cfg.MaxQueries = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:      cfg,
		index:    index,
		segments: segments,
		registry: reg,
		logger:   logger,
		admit:    newAdmissionQueue(cfg.MaxQueries),
	}
}

// Hit is one matching event streamed to the client.
type Hit struct {
	Layout types.RecordLayout
	ID     types.ID
	Row    []types.Data
}

// Options configures one query submission.
type Options struct {
	// Credit is the initial number of events the client can accept.
	// Zero means unlimited (no backpressure).
	Credit int64
}

// Query is the client handle of a running query. Hits are streamed until
// the channel closes; Err reports the terminal error, if any.
type Query struct {
	ID   uuid.UUID
	Hits <-chan Hit

	hits   chan Hit
	done   chan struct{}
	cancel context.CancelFunc
	credit *creditGate

	mu  sync.Mutex
	err error

	// Candidates is the meta-index candidate vector, populated once the
	// meta-index phase completes.
	candMu     sync.Mutex
	candidates []uuid.UUID
}

// Cancel transitions the query to draining: new slices are rejected and
// in-flight loads complete with their results discarded. Hits already
// delivered remain valid.
func (q *Query) Cancel() {
	q.cancel()
	q.credit.release()
}

// AddCredit advertises that the client can accept n more events.
func (q *Query) AddCredit(n int64) {
	q.credit.add(n)
}

// Done returns a channel closed when the query has fully drained.
func (q *Query) Done() <-chan struct{} {
	return q.done
}

// Err returns the terminal error of the query, or nil after a complete
// stream.
func (q *Query) Err() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Candidates returns the meta-index candidate vector. Empty until the
// meta-index phase completes.
func (q *Query) Candidates() []uuid.UUID {
	q.candMu.Lock()
	defer q.candMu.Unlock()
	return append([]uuid.UUID(nil), q.candidates...)
}

func (q *Query) fail(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err == nil {
		q.err = err
	}
}

// Submit parses nothing: it takes an already parsed expression, resolves
// taxonomies, normalizes, consults the meta-index, and streams matching
// events. Submission blocks in the FIFO admission queue while MaxQueries
// queries are inside their meta-index phase.
func (p *Pipeline) Submit(ctx context.Context, e expr.Expression, opts Options) (*Query, error) {
	if e == nil {
		return nil, errors.New(errors.KindParse, "empty expression")
	}
	if err := p.admit.acquire(ctx); err != nil {
		return nil, err
	}
	qctx, cancel := context.WithCancel(ctx)
	q := &Query{
		ID:     uuid.New(),
		done:   make(chan struct{}),
		cancel: cancel,
		credit: newCreditGate(opts.Credit),
	}
	q.hits = make(chan Hit, 64)
	q.Hits = q.hits
	go p.run(qctx, q, e)
	return q, nil
}

// run drives one query to completion.
func (p *Pipeline) run(ctx context.Context, q *Query, e expr.Expression) {
	released := false
	release := func() {
		if !released {
			released = true
			p.admit.release()
		}
	}
	defer func() {
		release()
		close(q.hits)
		close(q.done)
		q.cancel()
	}()

	// Meta-index phase: resolve, normalize, prune.
	resolved, err := expr.Resolve(p.registry.Taxonomies(), e, p.registry.Schema())
	if err != nil {
		q.fail(err)
		return
	}
	norm := expr.Normalize(resolved)
	candidates := p.index.Lookup(norm)
	q.candMu.Lock()
	q.candidates = candidates
	q.candMu.Unlock()
	release()
	p.logger.Debug("query entered evaluation",
		"query", q.ID, "candidates", len(candidates))

	// Taste phase: the first wave, materialized concurrently.
	taste := candidates[:min(len(candidates), p.cfg.MaxTastePartitions)]
	steady := candidates[len(taste):]
	if err := p.evaluateWave(ctx, q, norm, taste, len(taste)); err != nil {
		q.fail(p.classify(ctx, err))
		return
	}

	// Steady phase: remaining candidates in UUID order, bounded by
	// MaxResidentPartitions, gated on client credit.
	if err := p.evaluateWave(ctx, q, norm, steady, p.cfg.MaxResidentPartitions); err != nil {
		q.fail(p.classify(ctx, err))
		return
	}
	if err := ctx.Err(); err != nil {
		q.fail(p.classify(ctx, err))
	}
}

// classify maps context termination onto the engine error kinds.
func (p *Pipeline) classify(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(errors.KindDeadlineExceeded, err, "query exceeded client deadline")
	}
	if ctx.Err() == context.Canceled {
		return nil // cancellation is not an error; partial results stand
	}
	return err
}

// evaluateWave materializes a set of candidates with bounded concurrency,
// waiting for client credit before each shard.
func (p *Pipeline) evaluateWave(ctx context.Context, q *Query, e expr.Expression, candidates []uuid.UUID, concurrency int) error {
	if len(candidates) == 0 {
		return nil
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range candidates {
		// Backpressure: hold off materializing the next shard while the
		// client has no outstanding credit.
		if err := q.credit.waitPositive(gctx); err != nil {
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		id := id
		g.Go(func() error {
			defer sem.Release(1)
			return p.evaluatePartition(gctx, q, e, id)
		})
	}
	return g.Wait()
}

// evaluatePartition materializes one shard and streams its matching rows.
func (p *Pipeline) evaluatePartition(ctx context.Context, q *Query, e expr.Expression, id uuid.UUID) error {
	ids := p.segments.SegmentIDs(id)
	if ids.Empty() {
		// The synopsis outlived its segment; nothing to materialize.
		p.logger.Warn("candidate partition has no segment", "partition", id)
		return nil
	}
	slices, err := p.segments.GetSegment(id, ids)
	if err != nil {
		return err
	}
	for _, ts := range slices {
		for i := 0; i < ts.Rows(); i++ {
			if err := ctx.Err(); err != nil {
				// Draining: the load completed, its rows are discarded.
				return err
			}
			row := ts.Row(i)
			if !expr.EvaluateRow(e, row, ts.Layout) {
				continue
			}
			hit := Hit{Layout: ts.Layout, ID: ts.RowID(i), Row: row}
			select {
			case q.hits <- hit:
				q.credit.consume(1)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// admissionQueue is a FIFO counting semaphore bounding concurrent
// queries through their meta-index phase.
type admissionQueue struct {
	mu      sync.Mutex
	tokens  int
	waiters []chan struct{}
}

func newAdmissionQueue(tokens int) *admissionQueue {
	return &admissionQueue{tokens: tokens}
}

func (a *admissionQueue) acquire(ctx context.Context) error {
	a.mu.Lock()
	if a.tokens > 0 {
		a.tokens--
		a.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	a.waiters = append(a.waiters, waiter)
	a.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		a.mu.Lock()
		for i, w := range a.waiters {
			if w == waiter {
				a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
				a.mu.Unlock()
				return ctx.Err()
			}
		}
		a.mu.Unlock()
		// The token was already handed over; give it back.
		a.release()
		return ctx.Err()
	}
}

func (a *admissionQueue) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.waiters) > 0 {
		waiter := a.waiters[0]
		a.waiters = a.waiters[1:]
		close(waiter)
		return
	}
	a.tokens++
}

// creditGate tracks outstanding client credit. A zero initial credit
// means unlimited.
type creditGate struct {
	mu        sync.Mutex
	cond      *sync.Cond
	credit    int64
	unlimited bool
	closed    bool
}

func newCreditGate(initial int64) *creditGate {
	g := &creditGate{credit: initial, unlimited: initial <= 0}
	g.cond = sync.NewCond(&g.mu)
	return g
}

func (g *creditGate) add(n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unlimited || n <= 0 {
		return
	}
	g.credit += n
	g.cond.Broadcast()
}

func (g *creditGate) consume(n int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.unlimited {
		return
	}
	g.credit -= n
}

// waitPositive blocks until credit is available or the context ends.
func (g *creditGate) waitPositive(ctx context.Context) error {
	if g.unlimited {
		return nil
	}
	// Wake the waiter when the context ends.
	stop := context.AfterFunc(ctx, func() {
		g.mu.Lock()
		g.closed = true
		g.mu.Unlock()
		g.cond.Broadcast()
	})
	defer stop()

	g.mu.Lock()
	defer g.mu.Unlock()
	for g.credit <= 0 && !g.closed {
		g.cond.Wait()
	}
	if g.closed && g.credit <= 0 {
		return ctx.Err()
	}
	return nil
}

// release unblocks any waiter; used on cancellation.
func (g *creditGate) release() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	g.cond.Broadcast()
}
