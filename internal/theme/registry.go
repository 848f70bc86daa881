package theme

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultID is the theme used when a lookup names an unknown theme.
const DefaultID = "nebula"

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Registry holds loaded themes by id.
type Registry struct {
	themes map[string]*Theme
	def    string
}

// NewRegistry returns an empty registry whose fallback is DefaultID.
func NewRegistry() *Registry {
	return &Registry{themes: make(map[string]*Theme), def: DefaultID}
}

// Builtin returns a registry holding the embedded themes.
func Builtin() (*Registry, error) {
	r := NewRegistry()
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, fmt.Errorf("read builtin themes: %w", err)
	}
	for _, entry := range entries {
		data, err := builtinFS.ReadFile("builtin/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read builtin theme %s: %w", entry.Name(), err)
		}
		t, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("builtin %s: %w", entry.Name(), err)
		}
		r.Add(t)
	}
	return r, nil
}

// LoadDir adds every *.yaml / *.yml theme in dir, replacing themes with the
// same id. It returns the ids loaded.
func (r *Registry) LoadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read theme dir: %w", err)
	}
	var loaded []string
	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("read %s: %w", path, err)
		}
		t, err := Parse(data)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		r.Add(t)
		loaded = append(loaded, t.ID)
	}
	return loaded, nil
}

// Add registers t under its id.
func (r *Registry) Add(t *Theme) {
	r.themes[t.ID] = t
}

// SetDefault changes the fallback theme. Unknown ids are rejected.
func (r *Registry) SetDefault(id string) error {
	id = strings.ToLower(id)
	if _, ok := r.themes[id]; !ok {
		return fmt.Errorf("unknown theme %q", id)
	}
	r.def = id
	return nil
}

// Get returns the theme with id.
func (r *Registry) Get(id string) (*Theme, bool) {
	t, ok := r.themes[strings.ToLower(id)]
	return t, ok
}

// Resolve returns the theme with id, or the default theme with found=false
// when id is unknown. It returns nil only for an empty registry.
func (r *Registry) Resolve(id string) (t *Theme, found bool) {
	if t, ok := r.Get(id); ok {
		return t, true
	}
	if t, ok := r.themes[r.def]; ok {
		return t, false
	}
	ids := r.IDs()
	if len(ids) == 0 {
		return nil, false
	}
	return r.themes[ids[0]], false
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.themes))
	for id := range r.themes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// All returns every theme sorted by id.
func (r *Registry) All() []*Theme {
	ids := r.IDs()
	out := make([]*Theme, len(ids))
	for i, id := range ids {
		out[i] = r.themes[id]
	}
	return out
}

// Next returns the theme after id in sorted order, wrapping around.
func (r *Registry) Next(id string) *Theme {
	ids := r.IDs()
	if len(ids) == 0 {
		return nil
	}
	for i, candidate := range ids {
		if candidate == id {
			return r.themes[ids[(i+1)%len(ids)]]
		}
	}
	return r.themes[ids[0]]
}
