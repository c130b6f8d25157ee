package workflow

import "time"

// StepAction tells the engine what to do after a step finishes.
type StepAction string

const (
	// ActionContinue proceeds to the next step.
	ActionContinue StepAction = "continue"
	// ActionExitLoop breaks out of the enclosing loop step.
	ActionExitLoop StepAction = "exit_loop"
	// ActionBlock halts the workflow pending user action.
	ActionBlock StepAction = "block"
	// ActionFail stops the workflow as failed.
	ActionFail StepAction = "fail"
)

// StepResult is the outcome of executing one step.
type StepResult struct {
	Success bool
	// Skipped is true when a 'when' condition suppressed the step entirely.
	Skipped bool
	// Output is stdout+stderr for script steps, or the agent's whole raw
	// output for agent steps.
	Output   string
	ExitCode int
	Error    string
	Duration time.Duration
	Action   StepAction
}

// StepContext carries the state threaded through one workflow run: the
// worktree it executes in, identifiers for logging/events, accumulated
// variables, and loop position.
type StepContext struct {
	WorktreePath string
	BeadID       string
	WorkflowID   string

	// Variables holds workflow variables, including prior step outputs
	// under variables["step_name"].
	Variables map[string]interface{}

	InLoop        bool
	LoopIteration int // 0-indexed, meaningful only when InLoop
}

// NewStepContext builds an empty StepContext for one workflow run.
func NewStepContext(worktreePath, beadID, workflowID string) *StepContext {
	return &StepContext{
		WorktreePath: worktreePath,
		BeadID:       beadID,
		WorkflowID:   workflowID,
		Variables:    make(map[string]interface{}),
	}
}

// GetVariable returns a stored variable, or nil if it was never set.
func (c *StepContext) GetVariable(name string) interface{} {
	return c.Variables[name]
}

// SetVariable stores a variable for later steps to read.
func (c *StepContext) SetVariable(name string, value interface{}) {
	c.Variables[name] = value
}

// SetPrevious records result under variables["previous"] so the next
// step's 'when' condition and templates can reference it.
func (c *StepContext) SetPrevious(result *StepResult) {
	c.Variables["previous"] = map[string]interface{}{
		"success": result.Success,
		"failed":  !result.Success,
		"output":  result.Output,
	}
}

// WorkflowStatus is the lifecycle state of a workflow run.
type WorkflowStatus string

const (
	WorkflowRunning      WorkflowStatus = "running"
	WorkflowBlocked      WorkflowStatus = "blocked"
	WorkflowCompleted    WorkflowStatus = "completed"
	WorkflowFailed       WorkflowStatus = "failed"
	WorkflowPendingMerge WorkflowStatus = "pending_merge"
	WorkflowCancelled    WorkflowStatus = "cancelled"
)

// EventEmitter decouples the workflow engine from whatever broadcasts its
// lifecycle events (websocket hub, log sink, message bus, ...).
type EventEmitter interface {
	EmitWorkflowStarted(workflowID, taskID, grimoireName string)
	EmitWorkflowStepStarted(workflowID, taskID, stepName, stepType string, stepIndex int)

	// EmitWorkflowStepCompleted reports one step's outcome; stepErr is
	// empty when success is true.
	EmitWorkflowStepCompleted(workflowID, taskID, stepName string, stepIndex int, success bool, duration string, stepErr string)

	EmitWorkflowBlocked(workflowID, taskID, reason string)
	EmitWorkflowMergePending(workflowID, taskID string)
	EmitWorkflowCompleted(workflowID, taskID, grimoireName, duration string)
	EmitWorkflowCancelled(workflowID, taskID string)
}
