package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAPIValidator_AcceptsMatchingPayload(t *testing.T) {
	v := NewOpenAPIValidator(nil)
	doc := json.RawMessage(`{
		"type": "object",
		"required": ["orderID", "amount"],
		"properties": {
			"orderID": {"type": "string"},
			"amount": {"type": "number", "minimum": 0}
		}
	}`)
	payload := json.RawMessage(`{"orderID": "abc-1", "amount": 42.5}`)

	out, err := v.Validate(doc, payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(out))
}

func TestOpenAPIValidator_RejectsMissingRequiredField(t *testing.T) {
	v := NewOpenAPIValidator(nil)
	doc := json.RawMessage(`{
		"type": "object",
		"required": ["orderID"],
		"properties": {"orderID": {"type": "string"}}
	}`)
	payload := json.RawMessage(`{}`)

	_, err := v.Validate(doc, payload)
	require.Error(t, err)
}

func TestOpenAPIValidator_RejectsTypeMismatch(t *testing.T) {
	v := NewOpenAPIValidator(nil)
	doc := json.RawMessage(`{"type": "number"}`)
	payload := json.RawMessage(`"not a number"`)

	_, err := v.Validate(doc, payload)
	require.Error(t, err)
}

func TestOpenAPIValidator_EmptySchemaPassesThrough(t *testing.T) {
	v := NewOpenAPIValidator(nil)
	payload := json.RawMessage(`{"anything": true}`)

	out, err := v.Validate(nil, payload)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(out))
}

func TestOpenAPIValidator_CachesCompiledSchema(t *testing.T) {
	v := NewOpenAPIValidator(nil)
	doc := json.RawMessage(`{"type": "string"}`)

	_, err := v.Validate(doc, json.RawMessage(`"first"`))
	require.NoError(t, err)

	_, ok := v.cache[string(doc)]
	require.True(t, ok)

	_, err = v.Validate(doc, json.RawMessage(`"second"`))
	require.NoError(t, err)
}
