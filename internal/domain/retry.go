package domain

import "time"

// RetryStrategyKind selects the delay curve used between attempts.
type RetryStrategyKind string

const (
	RetryStrategyFixed       RetryStrategyKind = "fixed"
	RetryStrategyLinear      RetryStrategyKind = "linear"
	RetryStrategyExponential RetryStrategyKind = "exponential"
)

// JitterKind selects how the computed delay is randomized before sleeping.
type JitterKind string

const (
	JitterNone JitterKind = "none"
	JitterFull JitterKind = "full"
)

// RetryPolicy is the declarative configuration attached to a task or
// inherited from the flow/engine default. internal/policy turns this into
// concrete per-attempt delays; RetryOn decides whether a given failure kind
// consumes retry budget at all.
type RetryPolicy struct {
	MaxAttempts int               `json:"max_attempts" yaml:"max_attempts"`
	Strategy    RetryStrategyKind `json:"strategy" yaml:"strategy"`
	Base        time.Duration     `json:"base" yaml:"base"`
	Step        time.Duration     `json:"step" yaml:"step"`
	Factor      float64           `json:"factor" yaml:"factor"`
	Cap         time.Duration     `json:"cap" yaml:"cap"`
	Jitter      JitterKind        `json:"jitter" yaml:"jitter"`

	// RetryOn is not serializable and is never persisted; it defaults to
	// DefaultRetryOn when nil.
	RetryOn func(kind ErrorKind) bool `json:"-" yaml:"-"`
}

// DefaultRetryOn retries every error kind except Cancelled, ValidationError,
// and CircuitOpen, matching §4.5's default retry_on predicate. CircuitOpen is
// excluded because a short-circuit is not itself a task failure worth
// spending retry budget on; it still counts toward the circuit's own failure
// window, just not toward the task's attempt count.
func DefaultRetryOn(kind ErrorKind) bool {
	return kind != ErrorKindCancelled && kind != ErrorKindValidation && kind != ErrorKindCircuitOpen
}

// DefaultRetryPolicy is the flow-level fallback applied to tasks that
// declare no policy of their own: a single attempt, no retry.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 1,
		Strategy:    RetryStrategyFixed,
		Base:        0,
		Jitter:      JitterNone,
		RetryOn:     DefaultRetryOn,
	}
}

// Resolve fills in RetryOn when the policy was loaded from YAML/JSON and so
// arrived with a nil predicate.
func (p *RetryPolicy) Resolve() *RetryPolicy {
	if p == nil {
		return DefaultRetryPolicy()
	}
	resolved := *p
	if resolved.RetryOn == nil {
		resolved.RetryOn = DefaultRetryOn
	}
	if resolved.MaxAttempts <= 0 {
		resolved.MaxAttempts = 1
	}
	return &resolved
}
