package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/eleven-am/flowcore/internal/domain"
)

func exponentialPolicy() *domain.RetryPolicy {
	return &domain.RetryPolicy{
		MaxAttempts: 3,
		Strategy:    domain.RetryStrategyExponential,
		Base:        100 * time.Millisecond,
		Factor:      2,
		Cap:         5 * time.Second,
		Jitter:      domain.JitterNone,
		RetryOn:     domain.DefaultRetryOn,
	}
}

func TestNextDelay_ExponentialMatchesScenarioS5(t *testing.T) {
	p := exponentialPolicy()
	assert.Equal(t, 100*time.Millisecond, NextDelay(p, 1))
	assert.Equal(t, 200*time.Millisecond, NextDelay(p, 2))
}

func TestNextDelay_ExponentialRespectsCap(t *testing.T) {
	p := exponentialPolicy()
	p.Base = time.Second
	p.Cap = 3 * time.Second
	assert.Equal(t, 3*time.Second, NextDelay(p, 10))
}

func TestNextDelay_LinearIncreasesByStep(t *testing.T) {
	p := &domain.RetryPolicy{MaxAttempts: 5, Strategy: domain.RetryStrategyLinear, Base: 100 * time.Millisecond, Step: 50 * time.Millisecond, Jitter: domain.JitterNone}
	assert.Equal(t, 100*time.Millisecond, NextDelay(p, 1))
	assert.Equal(t, 150*time.Millisecond, NextDelay(p, 2))
	assert.Equal(t, 200*time.Millisecond, NextDelay(p, 3))
}

func TestNextDelay_FixedIsConstant(t *testing.T) {
	p := &domain.RetryPolicy{MaxAttempts: 5, Strategy: domain.RetryStrategyFixed, Base: 250 * time.Millisecond, Jitter: domain.JitterNone}
	assert.Equal(t, 250*time.Millisecond, NextDelay(p, 1))
	assert.Equal(t, 250*time.Millisecond, NextDelay(p, 4))
}

func TestNextDelay_FullJitterNeverExceedsComputedDelay(t *testing.T) {
	p := &domain.RetryPolicy{MaxAttempts: 5, Strategy: domain.RetryStrategyFixed, Base: 100 * time.Millisecond, Jitter: domain.JitterFull}
	for i := 0; i < 50; i++ {
		d := NextDelay(p, 1)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestShouldRetry_StopsAtMaxAttempts(t *testing.T) {
	p := exponentialPolicy()
	assert.True(t, ShouldRetry(p, 1, domain.ErrorKindTask))
	assert.True(t, ShouldRetry(p, 2, domain.ErrorKindTask))
	assert.False(t, ShouldRetry(p, 3, domain.ErrorKindTask))
}

func TestShouldRetry_ExcludesNonRetryableKinds(t *testing.T) {
	p := exponentialPolicy()
	assert.False(t, ShouldRetry(p, 1, domain.ErrorKindValidation))
	assert.False(t, ShouldRetry(p, 1, domain.ErrorKindCancelled))
	assert.False(t, ShouldRetry(p, 1, domain.ErrorKindCircuitOpen))
}
