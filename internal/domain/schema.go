package domain

import "encoding/json"

// Schema is the engine's erased representation of a task's input or output
// type. Rather than threading Go generics through the fluent builder, the
// engine tags every schema with a Name and carries the OpenAPI-style JSON
// Schema document that the Schema Port validates payloads against at
// runtime; compile-time compatibility checks compare Names.
type Schema struct {
	Name string          `json:"name"`
	Doc  json.RawMessage `json:"doc,omitempty"`
}

// AnySchema accepts any payload and is compatible with every other schema.
// Used for tasks that intentionally don't constrain their neighbor's type.
var AnySchema = &Schema{Name: "any"}

// CompatibleWith reports whether a value of schema s may be bound as the
// input to a node declaring schema other. Compatibility is nominal: either
// side may be AnySchema, or the two names must match exactly.
func (s *Schema) CompatibleWith(other *Schema) bool {
	if s == nil || other == nil {
		return true
	}
	if s.Name == AnySchema.Name || other.Name == AnySchema.Name {
		return true
	}
	return s.Name == other.Name
}

// NewSchema constructs a named schema with an optional JSON Schema document
// for the Schema Port to validate against.
func NewSchema(name string, doc json.RawMessage) *Schema {
	return &Schema{Name: name, Doc: doc}
}
