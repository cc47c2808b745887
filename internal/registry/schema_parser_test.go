package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/pkg/types"
)

func TestParseSchemaBasics(t *testing.T) {
	schema, err := ParseSchema(`
		// Connection records.
		type conn = record{
			src: addr,
			dst: addr,
			port: count,
			proto: string,
		}
		type wrapper = record{ inner: conn, note: string }
	`)
	require.NoError(t, err)
	require.Equal(t, 2, schema.Len())

	conn := schema.Find("conn")
	require.NotNil(t, conn)
	assert.Equal(t, 4, conn.NumColumns())

	wrapper := schema.Find("wrapper")
	require.NotNil(t, wrapper)
	fields := wrapper.QualifiedFields()
	// The named record reference stays one column deep under its field
	// name because only unnamed records flatten.
	require.NotEmpty(t, fields)
}

func TestParseSchemaComposites(t *testing.T) {
	schema, err := ParseSchema(`
		type x = record{
			tags: list<string>,
			attrs: map<string, count>,
			sev: enum{low, medium, high},
		}
	`)
	require.NoError(t, err)
	x := schema.Find("x")
	require.NotNil(t, x)

	fields := x.Type.Fields
	require.Len(t, fields, 3)
	assert.Equal(t, types.KindList, fields[0].Type.Kind)
	assert.Equal(t, types.KindMap, fields[1].Type.Kind)
	assert.Equal(t, types.KindEnumeration, fields[2].Type.Kind)
	assert.Equal(t, []string{"low", "medium", "high"}, fields[2].Type.Labels)
}

func TestParseSchemaErrors(t *testing.T) {
	tests := []string{
		"type = record{}",
		"type x record{}",
		"type x = count",          // not a record
		"type x = record{ a: }",   // missing type
		"type x = record{ a: unknown_type }",
		"type x = record{} type x = record{}", // duplicate
	}
	for _, input := range tests {
		t.Run(input, func(t *testing.T) {
			_, err := ParseSchema(input)
			require.Error(t, err)
			assert.Equal(t, errors.KindParse, errors.KindOf(err))
		})
	}
}

func TestPrintParseSchemaRoundTrip(t *testing.T) {
	original := types.NewSchema(
		types.NewRecordLayout("conn",
			types.Field{Name: "src", Type: types.Address()},
			types.Field{Name: "meta", Type: types.Record(
				types.Field{Name: "uid", Type: types.String()},
			)},
		),
		types.NewRecordLayout("alert",
			types.Field{Name: "sev", Type: types.Enumeration("low", "high")},
			types.Field{Name: "tags", Type: types.ListOf(types.String())},
		),
	)

	printed := types.PrintSchema(original)
	reparsed, err := ParseSchema(printed)
	require.NoError(t, err, "printed schema:\n%s", printed)
	assert.True(t, original.Equal(reparsed), "printed schema:\n%s", printed)
}

func TestLoadSchemaFileWithIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.schema")
	main := filepath.Join(dir, "main.schema")

	require.NoError(t, os.WriteFile(base, []byte(
		"type conn = record{ src: addr }\n"), 0o644))
	require.NoError(t, os.WriteFile(main, []byte(
		"@include \"base.schema\"\ntype alert = record{ msg: string }\n"), 0o644))

	schema, err := LoadSchemaFile(main)
	require.NoError(t, err)
	assert.Equal(t, 2, schema.Len())
	assert.NotNil(t, schema.Find("conn"))
	assert.NotNil(t, schema.Find("alert"))
}

func TestLoadSchemaFileIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.schema")
	b := filepath.Join(dir, "b.schema")
	require.NoError(t, os.WriteFile(a, []byte("@include \"b.schema\"\n"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("@include \"a.schema\"\n"), 0o644))

	_, err := LoadSchemaFile(a)
	require.Error(t, err)
	assert.Equal(t, errors.KindRecursionLimit, errors.KindOf(err))
}
