package policy

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/eleven-am/flowcore/internal/adapters/circuit_breaker"
	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/ports"
)

// disabledFailureThreshold stands in for a domain.CircuitBreakerConfig with
// FailureThreshold <= 0 ("never open"). The teacher's NewCircuitBreaker
// substitutes its own default of 5 for any threshold <= 0, so 0 cannot be
// passed through directly without accidentally enabling the breaker.
const disabledFailureThreshold = 1 << 30

// attemptCeiling bounds a single Call's internal timeout generously; the
// scheduler enforces the task's real per-attempt deadline itself; this
// ceiling exists only so the breaker's own context.WithTimeout never fires
// first.
const attemptCeiling = 24 * time.Hour

// CircuitBreaker keys a breaker per task_id (§4.5) and translates the
// domain-level configuration into the teacher-style breaker's config shape:
// one probe (MaxRequests=1) and one success (SuccessThreshold=1) to close a
// half-open breaker, matching the distilled spec's half_open→closed-on-one-
// success rule instead of the teacher's own default of three.
type CircuitBreaker struct {
	provider ports.CircuitBreakerProvider
}

func NewCircuitBreaker(logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{provider: circuit_breaker.NewProvider(logger)}
}

func toPortsConfig(cfg *domain.CircuitBreakerConfig) ports.CircuitBreakerConfig {
	if cfg == nil {
		cfg = domain.DefaultCircuitBreakerConfig()
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = disabledFailureThreshold
	}
	// The teacher's breaker also replaces an Interval <= 0 with its own 10s
	// default, so a zero cooldown is passed as the smallest positive interval.
	interval := cfg.Cooldown
	if interval <= 0 {
		interval = time.Nanosecond
	}
	return ports.CircuitBreakerConfig{
		FailureThreshold: threshold,
		SuccessThreshold: 1,
		MaxRequests:      1,
		Interval:         interval,
		Timeout:          attemptCeiling,
	}
}

// Execute runs fn through the breaker keyed by taskID, translating the
// breaker's own open-circuit sentinel into domain.ErrorKindCircuitOpen so
// callers only ever see the closed EngineError set.
func (b *CircuitBreaker) Execute(ctx context.Context, taskID string, cfg *domain.CircuitBreakerConfig, fn func(context.Context) error) error {
	breaker := b.provider.CreateCircuitBreaker(taskID, toPortsConfig(cfg))
	err := breaker.Call(ctx, fn)
	if errors.Is(err, circuit_breaker.ErrCircuitBreakerOpen) {
		return domain.NewCircuitOpenError(taskID)
	}
	return err
}

// State reports the current breaker state for taskID, creating one with the
// default configuration if none exists yet.
func (b *CircuitBreaker) State(taskID string) ports.CircuitBreakerState {
	return b.provider.GetCircuitBreaker(taskID).State()
}
