package schema

import (
	"fmt"
	"sort"

	"github.com/spf13/viper"
)

// Registry holds all loaded raw schemas, keyed by the schema id embedded
// as the first 4 bytes of every partition key. Read-only after load.
type Registry struct {
	byID   map[int32]*RawSchema
	byName map[string]*RawSchema
}

// NewRegistry builds a registry from compiled schemas
func NewRegistry(schemas []*RawSchema) (*Registry, error) {
	r := &Registry{
		byID:   make(map[int32]*RawSchema, len(schemas)),
		byName: make(map[string]*RawSchema, len(schemas)),
	}
	for _, s := range schemas {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.byID[s.ID]; exists {
			return nil, fmt.Errorf("duplicate schema id %d", s.ID)
		}
		if _, exists := r.byName[s.Name]; exists {
			return nil, fmt.Errorf("duplicate schema name %q", s.Name)
		}
		r.byID[s.ID] = s
		r.byName[s.Name] = s
	}
	return r, nil
}

// ByID looks up a schema by its numeric id
func (r *Registry) ByID(id int32) (*RawSchema, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// ByName looks up a schema by name
func (r *Registry) ByName(name string) (*RawSchema, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Schemas returns all schemas ordered by id
func (r *Registry) Schemas() []*RawSchema {
	out := make([]*RawSchema, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MaxBlockMetaSize returns the largest per-chunk record estimate across
// all downsample schemas in the registry, or 0 if none declare one
func (r *Registry) MaxBlockMetaSize() int {
	max := 0
	for _, s := range r.byID {
		if s.Downsample == nil {
			continue
		}
		if size := s.Downsample.BlockMetaSize(); size > max {
			max = size
		}
	}
	return max
}

// LoadFile loads a registry from a YAML schema file of the shape:
//
//	schemas:
//	  - id: 1
//	    name: gauge
//	    columns: [...]
//	    downsample: {...}
func LoadFile(path string) (*Registry, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}

	var doc struct {
		Schemas []Spec `mapstructure:"schemas"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema file %s: %w", path, err)
	}
	if len(doc.Schemas) == 0 {
		return nil, fmt.Errorf("schema file %s declares no schemas", path)
	}

	return CompileSpecs(doc.Schemas)
}

// CompileSpecs compiles a list of serialized schema specs into a registry
func CompileSpecs(specs []Spec) (*Registry, error) {
	schemas := make([]*RawSchema, 0, len(specs))
	for i := range specs {
		s, err := specs[i].Compile()
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, s)
	}
	return NewRegistry(schemas)
}
