package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultRetryOnExcludesCancelledValidationAndCircuitOpen(t *testing.T) {
	assert.False(t, DefaultRetryOn(ErrorKindCancelled))
	assert.False(t, DefaultRetryOn(ErrorKindValidation))
	assert.False(t, DefaultRetryOn(ErrorKindCircuitOpen))
	assert.True(t, DefaultRetryOn(ErrorKindTask))
	assert.True(t, DefaultRetryOn(ErrorKindTimeout))
}

func TestRetryPolicyResolveFillsDefaults(t *testing.T) {
	var p *RetryPolicy
	resolved := p.Resolve()
	assert.Equal(t, 1, resolved.MaxAttempts)
	assert.NotNil(t, resolved.RetryOn)

	custom := &RetryPolicy{MaxAttempts: 3}
	resolved = custom.Resolve()
	assert.Equal(t, 3, resolved.MaxAttempts)
	assert.NotNil(t, resolved.RetryOn)
}
