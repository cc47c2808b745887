package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ci-fuzz/vast/internal/expr"
	"github.com/ci-fuzz/vast/pkg/types"
)

func flowV1() types.RecordLayout {
	return types.NewRecordLayout("flow",
		types.Field{Name: "src", Type: types.Address()},
	)
}

func flowV2() types.RecordLayout {
	return types.NewRecordLayout("flow",
		types.Field{Name: "src", Type: types.Address()},
		types.Field{Name: "dst", Type: types.Address()},
	)
}

func TestInsertAndHistory(t *testing.T) {
	r := New(nil)
	r.Insert(flowV1())
	r.Insert(flowV2())

	current, ok := r.Current("flow")
	require.True(t, ok)
	assert.True(t, current.Equal(flowV2()), "the newest layout becomes current")

	history := r.History("flow")
	require.Len(t, history, 2)
	assert.True(t, history[0].Equal(flowV2()))
	assert.True(t, history[1].Equal(flowV1()))

	// Re-inserting the current layout does not grow the history.
	r.Insert(flowV2())
	assert.Len(t, r.History("flow"), 2)
}

func TestSchemaAndNames(t *testing.T) {
	r := New(nil)
	r.Insert(flowV1())
	r.Insert(types.NewRecordLayout("alert",
		types.Field{Name: "msg", Type: types.String()},
	))

	schema := r.Schema()
	assert.Equal(t, 2, schema.Len())
	assert.Equal(t, []string{"alert", "flow"}, r.Names())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "type-registry.bin")

	r := New(nil)
	r.Insert(flowV1())
	r.Insert(flowV2())
	r.DefineConcept("net.src_ip", expr.Concept{
		Description: "source address across schemas",
		Fields:      []string{"flow.src"},
	})
	require.NoError(t, r.Save(path))

	restored := New(nil)
	require.NoError(t, restored.Load(path))

	history := restored.History("flow")
	require.Len(t, history, 2)
	assert.True(t, history[0].Equal(flowV2()))

	taxonomies := restored.Taxonomies()
	concept, ok := taxonomies.Concepts["net.src_ip"]
	require.True(t, ok)
	assert.Equal(t, []string{"flow.src"}, concept.Fields)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	r := New(nil)
	assert.NoError(t, r.Load(filepath.Join(t.TempDir(), "nope.bin")))
}

func TestTaxonomyResolution(t *testing.T) {
	r := New(nil)
	r.Insert(flowV2())
	r.DefineConcept("source", expr.Concept{Fields: []string{"flow.src"}})
	r.DefineConcept("endpoint", expr.Concept{
		Fields:   []string{"flow.dst"},
		Concepts: []string{"source"},
	})

	e, err := expr.Parse("endpoint == 10.0.0.1")
	require.NoError(t, err)
	resolved, err := expr.Resolve(r.Taxonomies(), e, r.Schema())
	require.NoError(t, err)

	disj, ok := resolved.(expr.Disjunction)
	require.True(t, ok, "a concept expands into a disjunction, got %s", resolved)
	assert.Len(t, disj, 2)
}
