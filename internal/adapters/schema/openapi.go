package schema

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/ports"
)

// OpenAPIValidator implements ports.SchemaPort by compiling each schema
// document into an openapi3.Schema on first use and caching the compiled
// form by document bytes, since the same Schema is validated against on
// every node execution.
type OpenAPIValidator struct {
	mu     sync.RWMutex
	cache  map[string]*openapi3.Schema
	logger *slog.Logger
}

func NewOpenAPIValidator(logger *slog.Logger) *OpenAPIValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAPIValidator{
		cache:  make(map[string]*openapi3.Schema),
		logger: logger.With("component", "openapi-schema-validator"),
	}
}

func (v *OpenAPIValidator) Validate(schemaDoc json.RawMessage, payload json.RawMessage) (json.RawMessage, error) {
	if len(schemaDoc) == 0 {
		return payload, nil
	}

	compiled, err := v.compile(schemaDoc)
	if err != nil {
		return nil, domain.NewValidationError("malformed schema document", err)
	}

	var value interface{}
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, domain.NewValidationError("payload is not valid JSON", err)
	}

	if err := compiled.VisitJSON(value); err != nil {
		return nil, domain.NewValidationError("payload does not satisfy schema", err)
	}

	return payload, nil
}

func (v *OpenAPIValidator) compile(schemaDoc json.RawMessage) (*openapi3.Schema, error) {
	key := string(schemaDoc)

	v.mu.RLock()
	if compiled, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return compiled, nil
	}
	v.mu.RUnlock()

	loaded := &openapi3.Schema{}
	if err := loaded.UnmarshalJSON(schemaDoc); err != nil {
		return nil, err
	}

	loader := openapi3.NewLoader()
	loader.Context = context.Background()
	if err := loader.ResolveRefsIn(&openapi3.T{
		Components: &openapi3.Components{
			Schemas: openapi3.Schemas{"root": &openapi3.SchemaRef{Value: loaded}},
		},
	}, nil); err != nil {
		v.logger.Debug("schema has unresolvable refs, validating without ref resolution", "error", err)
	}

	v.mu.Lock()
	v.cache[key] = loaded
	v.mu.Unlock()

	return loaded, nil
}

var _ ports.SchemaPort = (*OpenAPIValidator)(nil)
