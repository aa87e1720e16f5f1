package types

import (
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// EndpointKey identifies a route as (HTTP method, path). Matching is exact:
// path parameters are not templated, so /users/42 and /users/<id> are
// different endpoints. Known limitation, kept from the observed behavior.
type EndpointKey struct {
	Method string
	Path   string
}

// String returns the canonical "METHOD /path" form used in logs and prompts
func (k EndpointKey) String() string {
	return k.Method + " " + k.Path
}

// FieldType is the declared type of a schema field.
type FieldType string

const (
	TypeNull   FieldType = "null"
	TypeBool   FieldType = "bool"
	TypeNumber FieldType = "number"
	TypeString FieldType = "string"
	TypeArray  FieldType = "array"
	TypeObject FieldType = "object"
	// TypeAny matches every runtime kind; used when a schema was observed
	// with inconsistent value types for the same path.
	TypeAny FieldType = "any"
)

// Matches reports whether a runtime kind satisfies the declared type
func (t FieldType) Matches(k Kind) bool {
	if t == TypeAny {
		return true
	}
	return string(t) == k.String()
}

// valid reports whether the type name is one the schema language knows
func (t FieldType) valid() bool {
	switch t {
	case TypeNull, TypeBool, TypeNumber, TypeString, TypeArray, TypeObject, TypeAny:
		return true
	}
	return false
}

// FieldDescriptor describes one dotted field path of an endpoint schema
type FieldDescriptor struct {
	Required bool      `yaml:"required"`
	Type     FieldType `yaml:"type"`
}

// SchemaEntry holds the expected fields for one endpoint, keyed by dotted
// path (e.g. "name.first_name"). Immutable once loaded.
type SchemaEntry struct {
	Fields map[string]FieldDescriptor
}

// SortedPaths returns the schema's field paths in lexical order
func (e *SchemaEntry) SortedPaths() []string {
	paths := make([]string, 0, len(e.Fields))
	for path := range e.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// SchemaStore provides schema lookup per endpoint.
// Reads vastly outnumber writes: entries are registered at startup and the
// store is effectively read-only while serving traffic.
type SchemaStore interface {
	// Lookup retrieves the schema for an endpoint; ok is false when the
	// endpoint was never described (schema-unknown, not an error)
	Lookup(key EndpointKey) (*SchemaEntry, bool)

	// Register adds or replaces the schema for an endpoint
	Register(key EndpointKey, entry *SchemaEntry)

	// ListEndpoints returns all described endpoint keys
	ListEndpoints() []EndpointKey
}

// StandardSchemaStore is the default SchemaStore implementation
type StandardSchemaStore struct {
	mu      sync.RWMutex
	entries map[EndpointKey]*SchemaEntry
}

// NewStandardSchemaStore creates an empty schema store
func NewStandardSchemaStore() *StandardSchemaStore {
	return &StandardSchemaStore{
		entries: make(map[EndpointKey]*SchemaEntry),
	}
}

// Lookup retrieves the schema entry for an endpoint
func (s *StandardSchemaStore) Lookup(key EndpointKey) (*SchemaEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	return entry, ok
}

// Register adds or replaces the schema for an endpoint
func (s *StandardSchemaStore) Register(key EndpointKey, entry *SchemaEntry) {
	if entry == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry
}

// ListEndpoints returns all registered endpoint keys
func (s *StandardSchemaStore) ListEndpoints() []EndpointKey {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]EndpointKey, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return keys
}

// schemaFileYAML mirrors the schemas.yaml layout:
//
//	endpoints:
//	  - method: POST
//	    path: /receive
//	    fields:
//	      source: {type: string, required: true}
//	      name.first_name: {type: string, required: true}
type schemaFileYAML struct {
	Endpoints []struct {
		Method string                     `yaml:"method"`
		Path   string                     `yaml:"path"`
		Fields map[string]FieldDescriptor `yaml:"fields"`
	} `yaml:"endpoints"`
}

// LoadSchemaFile populates a schema store from a YAML schema file.
// A missing file yields an empty store and no error: endpoints without
// schemas are simply forwarded unchanged.
func LoadSchemaFile(path string) (*StandardSchemaStore, error) {
	store := NewStandardSchemaStore()

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("📝 %s not found, starting with an empty schema store", path)
			return store, nil
		}
		return nil, fmt.Errorf("failed to open %s: %v", path, err)
	}
	defer file.Close()

	var yamlData schemaFileYAML
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&yamlData); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %v", path, err)
	}

	for _, ep := range yamlData.Endpoints {
		method := strings.ToUpper(strings.TrimSpace(ep.Method))
		if method == "" || ep.Path == "" {
			return nil, fmt.Errorf("%s: endpoint entries need both method and path", path)
		}
		entry := &SchemaEntry{Fields: make(map[string]FieldDescriptor, len(ep.Fields))}
		for fieldPath, desc := range ep.Fields {
			if desc.Type == "" {
				desc.Type = TypeAny
			}
			if !desc.Type.valid() {
				return nil, fmt.Errorf("%s: unknown field type %q for %s %s %s",
					path, desc.Type, method, ep.Path, fieldPath)
			}
			entry.Fields[fieldPath] = desc
		}
		store.Register(EndpointKey{Method: method, Path: ep.Path}, entry)
	}

	log.Printf("📝 Loaded schemas for %d endpoints from %s", len(yamlData.Endpoints), path)
	return store, nil
}
