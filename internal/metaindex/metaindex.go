// Package metaindex maintains the process-wide catalogue of per-shard
// synopses and answers candidate lookups for expressions. A lookup never
// produces false negatives: any shard that could contain a matching row
// is in the result.
package metaindex

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ci-fuzz/vast/internal/expr"
	"github.com/ci-fuzz/vast/internal/synopsis"
	"github.com/ci-fuzz/vast/pkg/types"
)

// MetaIndex maps partition UUIDs to their synopses.
type MetaIndex struct {
	mu       sync.RWMutex
	synopses map[uuid.UUID]*synopsis.PartitionSynopsis
	logger   *slog.Logger
}

// New creates an empty meta-index.
func New(logger *slog.Logger) *MetaIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &MetaIndex{
		synopses: make(map[uuid.UUID]*synopsis.PartitionSynopsis),
		logger:   logger,
	}
}

// Insert registers the synopsis of a sealed partition.
func (m *MetaIndex) Insert(id uuid.UUID, ps *synopsis.PartitionSynopsis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.synopses[id] = ps
}

// Erase removes a partition's synopsis.
func (m *MetaIndex) Erase(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.synopses, id)
}

// Merge registers a batch of synopses.
func (m *MetaIndex) Merge(batch map[uuid.UUID]*synopsis.PartitionSynopsis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ps := range batch {
		m.synopses[id] = ps
	}
}

// Get returns the synopsis of a partition, or nil.
func (m *MetaIndex) Get(id uuid.UUID) *synopsis.PartitionSynopsis {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.synopses[id]
}

// Len returns the number of registered partitions.
func (m *MetaIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.synopses)
}

// Events returns the total number of events across all partitions.
func (m *MetaIndex) Events() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n uint64
	for _, ps := range m.synopses {
		n += ps.Events
	}
	return n
}

// Lookup returns the sorted, duplicate-free vector of partition UUIDs
// that may contain rows matching the expression.
func (m *MetaIndex) Lookup(e expr.Expression) []uuid.UUID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := m.lookup(e)
	m.logger.Debug("meta-index lookup",
		"partitions", len(m.synopses), "candidates", len(result))
	return result
}

func (m *MetaIndex) lookup(e expr.Expression) []uuid.UUID {
	switch x := e.(type) {
	case expr.Conjunction:
		var result []uuid.UUID
		for i, op := range x {
			xs := m.lookup(op)
			if len(xs) == 0 {
				return nil // short-circuit
			}
			if i == 0 {
				result = xs
				continue
			}
			result = intersectSorted(result, xs)
			if len(result) == 0 {
				return nil
			}
		}
		return result
	case expr.Disjunction:
		var result []uuid.UUID
		for _, op := range x {
			xs := m.lookup(op)
			if len(xs) == len(m.synopses) {
				return xs // short-circuit: the union is the universe
			}
			result = unionSorted(result, xs)
		}
		return result
	case *expr.Negation:
		// A synopsis may return false positives, so negating its result
		// could produce false negatives. Return the universe.
		return m.allPartitions()
	case *expr.Predicate:
		return m.lookupPredicate(x)
	default:
		m.logger.Error("meta-index received an empty expression")
		return m.allPartitions()
	}
}

func (m *MetaIndex) lookupPredicate(p *expr.Predicate) []uuid.UUID {
	rhs, ok := p.RHS.(expr.Constant)
	if !ok {
		m.logger.Warn("meta-index cannot process predicate", "predicate", p.String())
		return m.allPartitions()
	}
	switch lhs := p.LHS.(type) {
	case expr.MetaExtractor:
		if lhs.Kind == expr.MetaTypeName {
			return m.lookupTypeName(p.Op, rhs.Value)
		}
		return m.lookupFieldName(p.Op, rhs.Value)
	case expr.FieldExtractor:
		return m.search(p, func(qf types.QualifiedField) bool {
			return fqnEndsWith(qf.FQN(), lhs.Field)
		})
	case expr.TypeExtractor:
		return m.lookupTypeExtractor(p, lhs)
	case expr.Constant:
		// Constant predicates survive normalization as tautology or
		// contradiction markers.
		if expr.EvaluateOp(lhs.Value, p.Op, rhs.Value) {
			return m.allPartitions()
		}
		return nil
	default:
		m.logger.Warn("meta-index cannot process predicate", "predicate", p.String())
		return m.allPartitions()
	}
}

// lookupTypeName handles `#type op literal`: only the layout names are
// consulted, no synopses.
func (m *MetaIndex) lookupTypeName(op expr.RelOp, value types.Data) []uuid.UUID {
	var result []uuid.UUID
	for id, ps := range m.synopses {
		for _, entry := range ps.Fields {
			name := types.StringData(entry.Field.LayoutName)
			if expr.EvaluateOp(name, op, value) {
				result = append(result, id)
				break
			}
		}
	}
	sortUUIDs(result)
	return result
}

// lookupFieldName handles `#field op literal`: a partition matches when
// some fully qualified field name has the literal as a suffix, negated as
// appropriate by the operator.
func (m *MetaIndex) lookupFieldName(op expr.RelOp, value types.Data) []uuid.UUID {
	s, ok := value.(types.StringData)
	if !ok {
		// Preserved behavior: warn and return the universe rather than
		// erroring out.
		m.logger.Warn("#field meta queries only support string comparisons")
		return m.allPartitions()
	}
	var result []uuid.UUID
	for id, ps := range m.synopses {
		matching := false
		for _, entry := range ps.Fields {
			if fqnEndsWith(entry.Field.FQN(), string(s)) {
				matching = true
				break
			}
		}
		if matching != op.Negated() {
			result = append(result, id)
		}
	}
	sortUUIDs(result)
	return result
}

// search includes every partition with a field accepted by match whose
// synopsis cannot rule out the predicate.
func (m *MetaIndex) search(p *expr.Predicate, match func(types.QualifiedField) bool) []uuid.UUID {
	rhs := p.RHS.(expr.Constant).Value
	var result []uuid.UUID
	for id, ps := range m.synopses {
		if m.partitionMatches(ps, p.Op, rhs, match) {
			result = append(result, id)
		}
	}
	sortUUIDs(result)
	return result
}

func (m *MetaIndex) partitionMatches(ps *synopsis.PartitionSynopsis, op expr.RelOp, rhs types.Data, match func(types.QualifiedField) bool) bool {
	for _, entry := range ps.Fields {
		if !match(entry.Field) {
			continue
		}
		if entry.Synopsis != nil {
			if hit := entry.Synopsis.Lookup(op, rhs); hit == nil || *hit {
				return true
			}
			continue
		}
		// The field has no dedicated synopsis; fall back to the synopsis
		// for its type.
		if typeSyn := ps.TypeSynopsisFor(entry.Field.Type.StripAttributes()); typeSyn != nil {
			if hit := typeSyn.Lookup(op, rhs); hit == nil || *hit {
				return true
			}
			continue
		}
		// Nothing to rule this partition out.
		return true
	}
	return false
}

// lookupTypeExtractor handles `:type op literal`. A named none type
// matches by type name only; the name timestamp additionally matches
// fields whose type carries the timestamp attribute.
func (m *MetaIndex) lookupTypeExtractor(p *expr.Predicate, lhs expr.TypeExtractor) []uuid.UUID {
	var result []uuid.UUID
	if lhs.Type.Kind == types.KindNone {
		result = m.search(p, func(qf types.QualifiedField) bool {
			return lhs.Type.Name != "" && qf.Type.Name == lhs.Type.Name
		})
	} else {
		result = m.search(p, func(qf types.QualifiedField) bool {
			if qf.Type.Name != "" {
				return qf.Type.Name == lhs.Type.Name
			}
			if lhs.Type.Name != "" {
				return qf.Type.Kind == lhs.Type.Kind
			}
			return qf.Type.StripAttributes().Equal(lhs.Type.StripAttributes())
		})
	}
	if lhs.Type.Name == "timestamp" {
		withAttr := m.search(p, func(qf types.QualifiedField) bool {
			return qf.Type.HasAttribute("timestamp")
		})
		result = unionSorted(result, withAttr)
	}
	return result
}

// allPartitions returns the sorted universe of partition UUIDs.
func (m *MetaIndex) allPartitions() []uuid.UUID {
	result := make([]uuid.UUID, 0, len(m.synopses))
	for id := range m.synopses {
		result = append(result, id)
	}
	sortUUIDs(result)
	return result
}

// UUIDLess orders UUIDs bytewise.
func UUIDLess(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func sortUUIDs(xs []uuid.UUID) {
	sort.Slice(xs, func(i, j int) bool {
		return UUIDLess(xs[i], xs[j])
	})
}

// intersectSorted intersects two sorted UUID vectors.
func intersectSorted(a, b []uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case UUIDLess(a[i], b[j]):
			i++
		default:
			j++
		}
	}
	return out
}

// unionSorted unions two sorted UUID vectors, dropping duplicates.
func unionSorted(a, b []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case UUIDLess(a[i], b[j]):
			out = append(out, a[i])
			i++
		default:
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func fqnEndsWith(fqn, suffix string) bool {
	if len(suffix) > len(fqn) {
		return false
	}
	if fqn[len(fqn)-len(suffix):] != suffix {
		return false
	}
	if len(fqn) == len(suffix) {
		return true
	}
	return fqn[len(fqn)-len(suffix)-1] == '.'
}
