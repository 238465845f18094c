// Package workflow implements the Workflow Executor: a composable
// multi-step wrapper over the Agent Runtime that runs typed steps
// (agent calls, parallel/sequential fan-out, conditionals, and event
// waits) and threads an ExecutionContext through the run.
package workflow

// StepKind discriminates the variant a Step carries. Go has no tagged
// union, so a Step is a flat struct and only the fields matching Kind
// are meaningful, the same shape the corpus uses for its own step and
// event types.
type StepKind string

const (
	StepAgent         StepKind = "agent"
	StepParallel      StepKind = "parallel"
	StepSequential    StepKind = "sequential"
	StepConditional   StepKind = "conditional"
	StepWaitForEvent  StepKind = "wait_for_event"
)

// Step is one node of a workflow tree.
type Step struct {
	ID          string
	Name        string
	Kind        StepKind
	TimeoutSecs *int

	// StepAgent
	Agent  string
	Prompt string

	// StepParallel / StepSequential
	Steps []Step

	// StepConditional
	Condition string
	IfTrue    *Step
	IfFalse   *Step

	// StepWaitForEvent
	EventType      string
	EventTimeoutSecs *int
}

// AgentStep builds a StepAgent step.
func AgentStep(id, name, agent, prompt string) Step {
	return Step{ID: id, Name: name, Kind: StepAgent, Agent: agent, Prompt: prompt}
}

// ParallelStep builds a StepParallel step.
func ParallelStep(id, name string, steps []Step) Step {
	return Step{ID: id, Name: name, Kind: StepParallel, Steps: steps}
}

// SequentialStep builds a StepSequential step.
func SequentialStep(id, name string, steps []Step) Step {
	return Step{ID: id, Name: name, Kind: StepSequential, Steps: steps}
}

// ConditionalStep builds a StepConditional step. ifFalse may be nil.
func ConditionalStep(id, name, condition string, ifTrue Step, ifFalse *Step) Step {
	return Step{ID: id, Name: name, Kind: StepConditional, Condition: condition, IfTrue: &ifTrue, IfFalse: ifFalse}
}

// WaitForEventStep builds a StepWaitForEvent step.
func WaitForEventStep(id, name, eventType string, timeoutSecs *int) Step {
	return Step{ID: id, Name: name, Kind: StepWaitForEvent, EventType: eventType, EventTimeoutSecs: timeoutSecs}
}

// Workflow is a named, rooted step tree with an overall timeout.
type Workflow struct {
	ID          string
	Name        string
	Root        Step
	TimeoutSecs *int
}
