// Package registry implements the schema registry: the per-name history
// of record layouts, the user-defined taxonomies, and their persisted
// snapshots.
package registry

import (
	"bytes"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ci-fuzz/vast/internal/errors"
	"github.com/ci-fuzz/vast/internal/expr"
	"github.com/ci-fuzz/vast/internal/frame"
	"github.com/ci-fuzz/vast/pkg/types"
)

// Registry holds the layout history (most recent first) and taxonomies.
type Registry struct {
	mu         sync.RWMutex
	history    map[string][]types.RecordLayout
	names      []string // insertion order
	taxonomies expr.Taxonomies
	logger     *slog.Logger
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		history:    make(map[string][]types.RecordLayout),
		taxonomies: expr.Taxonomies{Concepts: make(map[string]expr.Concept)},
		logger:     logger,
	}
}

// Insert registers a layout as the current definition of its name. When a
// different-structure layout of the same name exists, a warning is logged
// unless the new layout is a superset of the old; the new layout becomes
// current either way.
func (r *Registry) Insert(layout types.RecordLayout) {
	if !layout.Valid() {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := layout.Name()
	versions, known := r.history[name]
	if !known {
		r.names = append(r.names, name)
	}
	if len(versions) > 0 {
		current := versions[0]
		if current.Equal(layout) {
			return
		}
		if !layout.SupersetOf(current) {
			r.logger.Warn("incompatible layout redefinition",
				"layout", name)
		}
	}
	r.history[name] = append([]types.RecordLayout{layout}, versions...)
}

// Current returns the current layout of a name, or false.
func (r *Registry) Current(name string) (types.RecordLayout, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := r.history[name]
	if len(versions) == 0 {
		return types.RecordLayout{}, false
	}
	return versions[0], true
}

// History returns all known versions of a name, most recent first.
func (r *Registry) History(name string) []types.RecordLayout {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]types.RecordLayout(nil), r.history[name]...)
}

// Schema returns the current layouts as a schema, in insertion order.
func (r *Registry) Schema() types.Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var layouts []types.RecordLayout
	for _, name := range r.names {
		if versions := r.history[name]; len(versions) > 0 {
			layouts = append(layouts, versions[0])
		}
	}
	return types.NewSchema(layouts...)
}

// Names returns the sorted layout names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]string(nil), r.names...)
	sort.Strings(out)
	return out
}

// Taxonomies returns the registered taxonomies.
func (r *Registry) Taxonomies() expr.Taxonomies {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.taxonomies
}

// DefineConcept registers or replaces a taxonomy concept.
func (r *Registry) DefineConcept(name string, concept expr.Concept) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.taxonomies.Concepts[name] = concept
}

// Snapshot formats.

type wireLayouts struct {
	Names    []string            `msgpack:"names"`
	Versions map[string][][]byte `msgpack:"versions"`
}

type wireConcept struct {
	Description string   `msgpack:"description,omitempty"`
	Fields      []string `msgpack:"fields,omitempty"`
	Concepts    []string `msgpack:"concepts,omitempty"`
}

type wireSnapshot struct {
	Layouts  wireLayouts            `msgpack:"layouts"`
	Concepts map[string]wireConcept `msgpack:"concepts"`
}

// Save persists the full layout history and taxonomies to path, framed
// and msgpack-encoded. Called on shutdown.
func (r *Registry) Save(path string) error {
	r.mu.RLock()
	snapshot := wireSnapshot{
		Layouts: wireLayouts{
			Names:    append([]string(nil), r.names...),
			Versions: make(map[string][][]byte, len(r.history)),
		},
		Concepts: make(map[string]wireConcept, len(r.taxonomies.Concepts)),
	}
	for name, versions := range r.history {
		encoded := make([][]byte, 0, len(versions))
		for _, layout := range versions {
			data, err := encodeLayout(layout)
			if err != nil {
				r.mu.RUnlock()
				return errors.Wrap(errors.KindFormat, err, "encoding layout %s", name)
			}
			encoded = append(encoded, data)
		}
		snapshot.Layouts.Versions[name] = encoded
	}
	for name, concept := range r.taxonomies.Concepts {
		snapshot.Concepts[name] = wireConcept{
			Description: concept.Description,
			Fields:      concept.Fields,
			Concepts:    concept.Concepts,
		}
	}
	r.mu.RUnlock()

	payload, err := msgpack.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(errors.KindFormat, err, "encoding registry snapshot")
	}
	return frame.WriteFile(path, payload)
}

// Load restores a snapshot written by Save. A missing file is not an
// error.
func (r *Registry) Load(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	payload, err := frame.ReadFile(path)
	if err != nil {
		return err
	}
	var snapshot wireSnapshot
	if err := msgpack.Unmarshal(payload, &snapshot); err != nil {
		return errors.Wrap(errors.KindFormat, err, "decoding registry snapshot %s", path)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = snapshot.Layouts.Names
	r.history = make(map[string][]types.RecordLayout, len(snapshot.Layouts.Versions))
	for name, encoded := range snapshot.Layouts.Versions {
		versions := make([]types.RecordLayout, 0, len(encoded))
		for _, data := range encoded {
			layout, err := decodeLayout(data)
			if err != nil {
				return errors.Wrap(errors.KindFormat, err, "decoding layout %s", name)
			}
			versions = append(versions, layout)
		}
		r.history[name] = versions
	}
	r.taxonomies.Concepts = make(map[string]expr.Concept, len(snapshot.Concepts))
	for name, concept := range snapshot.Concepts {
		r.taxonomies.Concepts[name] = expr.Concept{
			Description: concept.Description,
			Fields:      concept.Fields,
			Concepts:    concept.Concepts,
		}
	}
	return nil
}

func encodeLayout(layout types.RecordLayout) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := types.EncodeType(enc, layout.Type); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeLayout(data []byte) (types.RecordLayout, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	t, err := types.DecodeType(dec)
	if err != nil {
		return types.RecordLayout{}, err
	}
	return types.RecordLayout{Type: t}, nil
}
