package corekit

// StepResult is the outcome of executing one WorkflowStep.
type StepResult struct {
	StepID     string `json:"step_id"`
	Success    bool   `json:"success"`
	Output     any    `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// SuccessResult builds a successful StepResult.
func SuccessResult(stepID string, output any) StepResult {
	return StepResult{StepID: stepID, Success: true, Output: output}
}

// FailureResult builds a failed StepResult.
func FailureResult(stepID, errMsg string) StepResult {
	return StepResult{StepID: stepID, Success: false, Error: errMsg}
}

// WithDuration returns a copy of the result stamped with an elapsed
// duration in milliseconds.
func (r StepResult) WithDuration(ms int64) StepResult {
	r.DurationMs = ms
	return r
}

// ExecutionContext threads variables and prior step results through a
// workflow run. Variables set by a successful step are visible to later
// steps under the step's own id.
type ExecutionContext struct {
	Variables   map[string]any        `json:"variables"`
	StepResults map[string]StepResult `json:"step_results"`
	Metadata    any                   `json:"metadata,omitempty"`
}

// NewExecutionContext returns an ExecutionContext ready for use.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		Variables:   make(map[string]any),
		StepResults: make(map[string]StepResult),
	}
}

// Clone returns a deep-enough copy for safe concurrent use by Parallel
// child steps: a new map at each level, but values themselves are not
// deep-copied (they are JSON-shaped and treated as immutable once set).
func (c *ExecutionContext) Clone() *ExecutionContext {
	clone := &ExecutionContext{
		Variables:   make(map[string]any, len(c.Variables)),
		StepResults: make(map[string]StepResult, len(c.StepResults)),
		Metadata:    c.Metadata,
	}
	for k, v := range c.Variables {
		clone.Variables[k] = v
	}
	for k, v := range c.StepResults {
		clone.StepResults[k] = v
	}
	return clone
}

// Set assigns a variable.
func (c *ExecutionContext) Set(name string, value any) {
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}
	c.Variables[name] = value
}

// Get reads a variable.
func (c *ExecutionContext) Get(name string) (any, bool) {
	v, ok := c.Variables[name]
	return v, ok
}

// RecordResult stores a step's result and, on success, also exposes its
// output as a variable keyed by the step id.
func (c *ExecutionContext) RecordResult(result StepResult) {
	if c.StepResults == nil {
		c.StepResults = make(map[string]StepResult)
	}
	c.StepResults[result.StepID] = result
	if result.Success {
		c.Set(result.StepID, result.Output)
	}
}

// Merge folds another context's variables and step results into this one,
// used to join Parallel child contexts back into the parent after they
// complete.
func (c *ExecutionContext) Merge(other *ExecutionContext) {
	if other == nil {
		return
	}
	for k, v := range other.Variables {
		c.Set(k, v)
	}
	for k, v := range other.StepResults {
		if c.StepResults == nil {
			c.StepResults = make(map[string]StepResult)
		}
		c.StepResults[k] = v
	}
}
