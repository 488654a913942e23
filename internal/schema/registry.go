package schema

import (
	"github.com/kestrelsearch/kestrel/pkg/config"
)

// Registry holds the resolved schema for every configured record class.
// Classes absent from the registry are not indexed.
type Registry struct {
	schemas map[string]*Schema
}

// NewRegistry resolves every configured class eagerly so configuration
// errors surface at startup, before any write is accepted.
func NewRegistry(cfg config.SchemasConfig) (*Registry, error) {
	resolver := NewResolver(cfg.DenyLists)
	schemas := make(map[string]*Schema, len(cfg.Classes))
	for class, classCfg := range cfg.Classes {
		s, err := resolver.Resolve(class, classCfg.Fields)
		if err != nil {
			return nil, err
		}
		schemas[class] = s
	}
	return &Registry{schemas: schemas}, nil
}

// NewRegistryFromSchemas builds a registry from pre-resolved schemas.
func NewRegistryFromSchemas(schemas ...*Schema) *Registry {
	m := make(map[string]*Schema, len(schemas))
	for _, s := range schemas {
		m[s.Class] = s
	}
	return &Registry{schemas: m}
}

// For returns the schema for a record class, if the class is indexed.
func (r *Registry) For(class string) (*Schema, bool) {
	s, ok := r.schemas[class]
	return s, ok
}

// Classes returns the names of all indexed classes.
func (r *Registry) Classes() []string {
	names := make([]string, 0, len(r.schemas))
	for class := range r.schemas {
		names = append(names, class)
	}
	return names
}
