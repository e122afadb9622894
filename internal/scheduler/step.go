package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/eleven-am/flowcore/internal/domain"
	"github.com/eleven-am/flowcore/internal/policy"
	"github.com/eleven-am/flowcore/internal/xjson"
)

// runStep drives one Step node through its full attempt loop: bind input,
// enforce the circuit breaker and per-attempt timeout, invoke the task, and
// on failure consult the retry policy exactly as §4.5 describes. Every
// attempt's start/success/failure/retry is persisted through the event log
// before the loop proceeds, matching the crash-safety requirement.
func (s *Scheduler) runStep(ctx context.Context, node *domain.Node, input json.RawMessage, scope *varScope) (json.RawMessage, error) {
	task := node.Step.Task
	retryPolicy := s.resolveRetryPolicy(task)

	// A task is invoked "with validated inputs via C1": a task carrying a
	// concrete schema document gets its predecessor's output normalized and
	// checked through the Schema Port before the first attempt ever runs.
	// AnySchema (and any schema with no document) is a no-op here, matching
	// the Schema Port's own passthrough for an empty document.
	if task.InputSchema != nil && len(task.InputSchema.Doc) > 0 {
		normalized, err := s.deps.Schema.Validate(task.InputSchema.Doc, input)
		if err != nil {
			return nil, domain.NewValidationError("step_input_schema", err)
		}
		input = normalized
	}

	var value any
	if err := xjson.Unmarshal(input, &value); err != nil {
		return nil, domain.NewValidationError("unmarshal_step_input", err)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, domain.NewCancelledError(node.ID)
		}

		if _, err := s.appendEvent(ctx, domain.NewNodeStartedEvent(s.exec.ExecutionID, 0, node.ID, attempt)); err != nil {
			return nil, err
		}

		attemptCtx, cancel := s.withAttemptTimeout(ctx)
		// Outputs/Variables are snapshot copies, not the live maps: a
		// concurrent sibling arm (Parallel/ForEach) may be mutating exec at
		// the same time, and a failed attempt's staged writes (tc.Writes())
		// must not leak into shared state before the scheduler reconciles
		// them below on success. variablesSnapshot layers this arm's own
		// not-yet-merged writes over the shared base, but never a sibling
		// arm's (those live in a scope this one can't see).
		s.mu.Lock()
		outputsSnapshot := cloneRawJSONMap(s.exec.Outputs)
		s.mu.Unlock()
		variablesSnapshot := s.resolvedVariables(scope)
		tc := domain.NewTaskContext(attemptCtx, s.exec.FlowID, s.exec.ExecutionID, node.ID, attempt, outputsSnapshot, variablesSnapshot)

		var result any
		execErr := s.deps.Breaker.Execute(attemptCtx, task.ID, task.CircuitBreaker, func(c context.Context) error {
			out, err := task.Execute(c, tc, value)
			result = out
			return err
		})
		cancel()

		if execErr == nil {
			outputBytes, err := xjson.Marshal(result)
			if err != nil {
				return nil, domain.NewValidationError("marshal_step_output", err)
			}
			if scope != nil {
				for _, w := range tc.Writes() {
					scope.set(w.Key, w.Value)
				}
			}
			s.mu.Lock()
			if scope == nil {
				for _, w := range tc.Writes() {
					s.exec.Variables[w.Key] = w.Value
				}
			}
			s.exec.MarkNodeCompleted(node.ID, outputBytes)
			_, err = s.deps.Events.Append(ctx, s.exec, domain.NewNodeSucceededEvent(s.exec.ExecutionID, 0, node.ID, attempt, node.ID))
			s.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return outputBytes, nil
		}

		kind := s.classifyFailure(attemptCtx, ctx, node.ID, attempt, execErr)
		engineErr := &domain.EngineError{Kind: kind, NodeID: node.ID, Attempt: attempt, Detail: execErr.Error(), Cause: execErr}

		if kind == domain.ErrorKindCancelled {
			return nil, engineErr
		}

		if !policy.ShouldRetry(retryPolicy, attempt, kind) {
			s.mu.Lock()
			s.exec.MarkNodeFailed(node.ID, kind, engineErr.Error())
			_, err := s.deps.Events.Append(ctx, s.exec, domain.NewNodeFailedEvent(s.exec.ExecutionID, 0, node.ID, attempt, kind, engineErr.Error()))
			s.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, engineErr
		}

		delay := policy.NextDelay(retryPolicy, attempt)
		if _, err := s.appendEvent(ctx, domain.NewRetryScheduledEvent(s.exec.ExecutionID, 0, node.ID, attempt+1, delay)); err != nil {
			return nil, err
		}
		if err := sleepCancelAware(ctx, delay); err != nil {
			return nil, domain.NewCancelledError(node.ID)
		}
	}
}

// classifyFailure turns a raw task/breaker error into the closed ErrorKind
// set the retry policy and event log operate on.
func (s *Scheduler) classifyFailure(attemptCtx, runCtx context.Context, nodeID string, attempt int, err error) domain.ErrorKind {
	if kind, ok := domain.KindOf(err); ok {
		return kind
	}
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return domain.ErrorKindTimeout
	}
	if runCtx.Err() != nil {
		return domain.ErrorKindCancelled
	}
	return domain.ErrorKindTask
}

func (s *Scheduler) withAttemptTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.deps.Config.NodeExecutionTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.deps.Config.NodeExecutionTimeout)
}

func (s *Scheduler) resolveRetryPolicy(task *domain.Task) *domain.RetryPolicy {
	if task.RetryPolicy != nil {
		return task.RetryPolicy
	}
	return &s.deps.Config.DefaultRetry
}

func cloneRawJSONMap(m map[string]json.RawMessage) map[string]json.RawMessage {
	clone := make(map[string]json.RawMessage, len(m))
	for k, v := range m {
		clone[k] = v
	}
	return clone
}

// sleepCancelAware waits out a retry delay but returns early, with an error,
// if ctx is cancelled first — a pause request must interrupt a pending
// retry, not just a running attempt.
func sleepCancelAware(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
