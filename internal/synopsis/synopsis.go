// Package synopsis provides compact, lossy per-field summaries of sealed
// shards. A synopsis answers lookups with three-valued logic: definitely
// not present, possibly present, or "not understood" — the latter two both
// keep a shard in the candidate set, so a synopsis can only ever shrink a
// query's work, never lose a match.
package synopsis

import (
	"github.com/ci-fuzz/vast/internal/expr"
	"github.com/ci-fuzz/vast/pkg/types"
)

// Synopsis summarizes the values of one field or type within a shard.
//
// Lookup returns nil when the synopsis does not understand the operator or
// value; callers must treat nil like a positive hit. Add is monotonic:
// later calls only widen the set of matching values. Seal freezes the
// structure; Add after Seal is a programming error.
type Synopsis interface {
	// Add feeds one value into the synopsis.
	Add(v types.Data)

	// Lookup evaluates (op, v) against the summary.
	//   - *true:  the shard may contain a matching row (false positives ok)
	//   - *false: the shard cannot contain a matching row
	//   - nil:    the pair is not understood; treat as *true
	Lookup(op expr.RelOp, v types.Data) *bool

	// Seal freezes the synopsis.
	Seal()

	// Serialize encodes the synopsis for persistence.
	Serialize() ([]byte, error)
}

// definitelyNot and possibly back the canonical lookup results.
var (
	definitelyNot = false
	possibly      = true
)

// No returns the definite-miss lookup result.
func No() *bool { return &definitelyNot }

// Yes returns the possible-hit lookup result.
func Yes() *bool { return &possibly }

// BuildForType constructs the synopsis appropriate for a field type, or
// nil when the type has no synopsis (the shard is then always a
// candidate for predicates on that field).
//
// fpRate parameterizes bloom synopses; capacity is the expected number of
// entries.
func BuildForType(t types.Type, capacity int, fpRate float64) Synopsis {
	switch t.Kind {
	case types.KindString, types.KindAddress, types.KindSubnet, types.KindEnumeration:
		return NewBloomSynopsis(capacity, fpRate)
	case types.KindInteger, types.KindCount, types.KindReal, types.KindTime, types.KindDuration:
		return NewMinMaxSynopsis()
	case types.KindBool:
		return NewBoolSynopsis()
	default:
		return nil
	}
}
