package ports

import "encoding/json"

// SchemaPort validates a payload against a declared schema (C1). It
// produces a normalized value or a validation error; the engine treats
// validation failures as domain.ErrorKindValidation and never retries them.
type SchemaPort interface {
	// Validate checks payload against the schema document and returns the
	// normalized value the engine should bind as node input/output.
	Validate(schemaDoc json.RawMessage, payload json.RawMessage) (json.RawMessage, error)
}
