package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nexus-run/nexus-core/internal/observability"
	"github.com/nexus-run/nexus-core/internal/runtime"
	"github.com/nexus-run/nexus-core/pkg/corekit"
)

// AgentRunner is the surface the Workflow Executor needs from the Agent
// Runtime: run one agent turn and get back its final text.
type AgentRunner interface {
	Execute(ctx context.Context, agentID, sessionID string, message corekit.Message) ([]corekit.Message, error)
}

// Config tunes the executor's timeout defaults.
type Config struct {
	// DefaultTimeout bounds both the overall workflow and each step when
	// the workflow or step does not set its own.
	DefaultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 300 * time.Second
	}
	return c
}

// Executor runs Workflow step trees against an Agent Runtime, recursing
// through Parallel/Sequential/Conditional children and threading a
// single ExecutionContext (cloned per Parallel branch, merged back
// after) through the whole run.
type Executor struct {
	runner    AgentRunner
	evaluator ConditionEvaluator
	config    Config
	log       *observability.Logger
	metrics   *observability.Metrics

	sessionPrefix string
}

// New returns an Executor that drives agents through runner, using a
// SimpleConditionEvaluator unless overridden with WithConditionEvaluator.
func New(runner AgentRunner, config Config, log *observability.Logger, metrics *observability.Metrics) *Executor {
	return &Executor{
		runner:        runner,
		evaluator:     SimpleConditionEvaluator{},
		config:        config.withDefaults(),
		log:           log,
		metrics:       metrics,
		sessionPrefix: "workflow",
	}
}

// WithConditionEvaluator swaps in a custom ConditionEvaluator.
func (e *Executor) WithConditionEvaluator(evaluator ConditionEvaluator) *Executor {
	e.evaluator = evaluator
	return e
}

// Run executes workflow's root step to completion, returning the final
// ExecutionContext (variables and every step's recorded StepResult).
// A workflow-level timeout failing the whole run reports
// errs.ErrTimeout-shaped behavior via a failed root StepResult plus a
// non-nil error, matching the step-level timeout contract below.
func (e *Executor) Run(ctx context.Context, wf Workflow) (*corekit.ExecutionContext, corekit.StepResult, error) {
	if e.log != nil {
		e.log.Info("workflow starting", "workflow_id", wf.ID, "name", wf.Name)
	}

	timeout := e.config.DefaultTimeout
	if wf.TimeoutSecs != nil {
		timeout = time.Duration(*wf.TimeoutSecs) * time.Second
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCtx := corekit.NewExecutionContext()

	result, err := e.executeStep(runCtx, wf.Root, execCtx)
	if err != nil {
		if e.log != nil {
			e.log.Error("workflow execution error", "workflow_id", wf.ID, "error", err)
		}
		return execCtx, corekit.StepResult{}, err
	}
	if result.Success {
		if e.log != nil {
			e.log.Info("workflow completed", "workflow_id", wf.ID)
		}
	} else if e.log != nil {
		e.log.Error("workflow failed", "workflow_id", wf.ID, "error", result.Error)
	}
	return execCtx, result, nil
}

// executeStep applies the per-step timeout wrapper and records the
// result into execCtx regardless of outcome, then dispatches by step
// kind. It runs executeStepInner synchronously under a deadlined
// context rather than racing it against the deadline in a select:
// every leaf call (ultimately the AgentRunner) is expected to return
// promptly once its context is done, so there is never a lingering
// goroutine still mutating execCtx after this function returns.
func (e *Executor) executeStep(ctx context.Context, step Step, execCtx *corekit.ExecutionContext) (corekit.StepResult, error) {
	if e.log != nil {
		e.log.Debug("executing step", "step_id", step.ID, "name", step.Name, "kind", string(step.Kind))
	}

	timeout := e.config.DefaultTimeout
	if step.TimeoutSecs != nil {
		timeout = time.Duration(*step.TimeoutSecs) * time.Second
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := e.executeStepInner(stepCtx, step, execCtx)
	if err != nil {
		result = corekit.FailureResult(step.ID, err.Error())
	}
	if stepCtx.Err() == context.DeadlineExceeded {
		if e.log != nil {
			e.log.Warn("step timed out", "step_id", step.ID)
		}
		result = corekit.FailureResult(step.ID, "Step timeout")
	}

	result = result.WithDuration(time.Since(start).Milliseconds())
	execCtx.RecordResult(result)
	return result, nil
}

func (e *Executor) executeStepInner(ctx context.Context, step Step, execCtx *corekit.ExecutionContext) (corekit.StepResult, error) {
	switch step.Kind {
	case StepAgent:
		return e.executeAgentStep(ctx, step, execCtx)
	case StepParallel:
		return e.executeParallelSteps(ctx, step, execCtx)
	case StepSequential:
		return e.executeSequentialSteps(ctx, step, execCtx)
	case StepConditional:
		return e.executeConditionalStep(ctx, step, execCtx)
	case StepWaitForEvent:
		return e.executeWaitForEventStep(ctx, step)
	default:
		return corekit.FailureResult(step.ID, fmt.Sprintf("unknown step kind %q", step.Kind)), nil
	}
}

func (e *Executor) executeAgentStep(ctx context.Context, step Step, execCtx *corekit.ExecutionContext) (corekit.StepResult, error) {
	sessionID := fmt.Sprintf("%s:%s", e.sessionPrefix, step.ID)
	messages, err := e.runner.Execute(ctx, step.Agent, sessionID, corekit.Message{
		Role:    corekit.RoleUser,
		Content: step.Prompt,
	})
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordError("workflow", "agent_step_failed")
		}
		return corekit.FailureResult(step.ID, err.Error()), nil
	}
	var output string
	if len(messages) > 0 {
		output = messages[len(messages)-1].Content
	}
	return corekit.SuccessResult(step.ID, output), nil
}

// executeParallelSteps clones execCtx once per child so siblings cannot
// see each other's partial state, runs every child concurrently, then
// merges each child context back into the parent in completion order.
func (e *Executor) executeParallelSteps(ctx context.Context, step Step, execCtx *corekit.ExecutionContext) (corekit.StepResult, error) {
	type childOutcome struct {
		result  corekit.StepResult
		context *corekit.ExecutionContext
	}
	results := make([]childOutcome, len(step.Steps))

	type slot struct {
		index int
		childOutcome
	}
	outcomes := make(chan slot, len(step.Steps))

	for i, child := range step.Steps {
		i, child := i, child
		childCtx := execCtx.Clone()
		go func() {
			result, _ := e.executeStep(ctx, child, childCtx)
			outcomes <- slot{index: i, childOutcome: childOutcome{result: result, context: childCtx}}
		}()
	}
	for range step.Steps {
		s := <-outcomes
		results[s.index] = s.childOutcome
	}

	var errMsgs []string
	allSuccess := true
	for _, o := range results {
		execCtx.Merge(o.context)
		if !o.result.Success {
			allSuccess = false
			if o.result.Error != "" {
				errMsgs = append(errMsgs, o.result.Error)
			}
		}
	}

	if allSuccess {
		return corekit.SuccessResult(step.ID, results), nil
	}
	return corekit.FailureResult(step.ID, strings.Join(errMsgs, "; ")), nil
}

func (e *Executor) executeSequentialSteps(ctx context.Context, step Step, execCtx *corekit.ExecutionContext) (corekit.StepResult, error) {
	var outputs []corekit.StepResult
	for _, child := range step.Steps {
		result, _ := e.executeStep(ctx, child, execCtx)
		outputs = append(outputs, result)
		if !result.Success {
			return corekit.FailureResult(step.ID, fmt.Sprintf("Sequential step %s failed: %s", result.StepID, result.Error)), nil
		}
	}
	return corekit.SuccessResult(step.ID, outputs), nil
}

func (e *Executor) executeConditionalStep(ctx context.Context, step Step, execCtx *corekit.ExecutionContext) (corekit.StepResult, error) {
	matched, err := e.evaluator.Evaluate(step.Condition, execCtx)
	if err != nil {
		return corekit.FailureResult(step.ID, err.Error()), nil
	}
	if e.log != nil {
		e.log.Debug("condition evaluated", "step_id", step.ID, "condition", step.Condition, "result", matched)
	}

	if matched {
		result, _ := e.executeStep(ctx, *step.IfTrue, execCtx)
		return corekit.StepResult{
			StepID:  step.ID,
			Success: result.Success,
			Error:   result.Error,
			Output: map[string]any{
				"condition": step.Condition,
				"branch":    "if_true",
				"result":    result.Output,
			},
		}, nil
	}
	if step.IfFalse != nil {
		result, _ := e.executeStep(ctx, *step.IfFalse, execCtx)
		return corekit.StepResult{
			StepID:  step.ID,
			Success: result.Success,
			Error:   result.Error,
			Output: map[string]any{
				"condition": step.Condition,
				"branch":    "if_false",
				"result":    result.Output,
			},
		}, nil
	}
	return corekit.SuccessResult(step.ID, map[string]any{
		"condition": step.Condition,
		"branch":    "none",
		"result":    nil,
	}), nil
}

// executeWaitForEventStep is a documented placeholder: it has no event
// bus to subscribe to yet, so it sleeps briefly (bounded by the step's
// own timeout) and reports a placeholder success. Wiring it to a real
// event source is an open follow-up, not a hidden shortcut.
func (e *Executor) executeWaitForEventStep(ctx context.Context, step Step) (corekit.StepResult, error) {
	if e.log != nil {
		e.log.Warn("wait_for_event step using placeholder implementation", "step_id", step.ID, "event_type", step.EventType)
	}

	wait := 100 * time.Millisecond
	if step.EventTimeoutSecs != nil {
		if bound := time.Duration(*step.EventTimeoutSecs) * time.Second; bound < wait {
			wait = bound
		}
	}

	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}

	return corekit.SuccessResult(step.ID, map[string]any{
		"event_type": step.EventType,
		"status":     "placeholder",
		"message":    "wait_for_event is not yet integrated with an event source; step completed as placeholder",
	}), nil
}

var _ AgentRunner = (*runtime.Runtime)(nil)
