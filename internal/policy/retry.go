// Package policy turns the declarative RetryPolicy/CircuitBreakerConfig
// objects on a domain.Task into concrete per-attempt behavior: a delay
// before the next attempt, a breaker that may short-circuit an attempt
// before it runs, and the reverse-order compensation pass on terminal
// failure.
package policy

import (
	"math/rand"
	"time"

	"github.com/eleven-am/flowcore/internal/domain"
)

// NextDelay computes the delay before the next retry given a resolved
// policy, following §4.5's three strategies. attempt (1-indexed) is the
// attempt number that just failed; the returned
// delay precedes the next attempt.
func NextDelay(p *domain.RetryPolicy, attempt int) time.Duration {
	resolved := p.Resolve()

	var delay time.Duration
	switch resolved.Strategy {
	case domain.RetryStrategyLinear:
		delay = resolved.Base + time.Duration(attempt-1)*resolved.Step
	case domain.RetryStrategyExponential:
		factor := resolved.Factor
		if factor <= 0 {
			factor = 2
		}
		delay = time.Duration(float64(resolved.Base) * pow(factor, attempt-1))
	default:
		delay = resolved.Base
	}

	if resolved.Cap > 0 && delay > resolved.Cap {
		delay = resolved.Cap
	}
	if delay < 0 {
		delay = 0
	}

	return applyJitter(resolved.Jitter, delay)
}

func pow(base float64, exp int) float64 {
	if exp <= 0 {
		return 1
	}
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func applyJitter(kind domain.JitterKind, delay time.Duration) time.Duration {
	if kind != domain.JitterFull || delay <= 0 {
		return delay
	}
	return time.Duration(rand.Int63n(int64(delay) + 1))
}

// ShouldRetry reports whether attempt should consume retry budget: the
// policy has attempts remaining and its RetryOn predicate accepts the
// failure kind that just occurred.
func ShouldRetry(p *domain.RetryPolicy, attempt int, kind domain.ErrorKind) bool {
	resolved := p.Resolve()
	if attempt >= resolved.MaxAttempts {
		return false
	}
	return resolved.RetryOn(kind)
}
