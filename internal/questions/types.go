// Package questions detects and tracks questions an agent asks mid-run
// (confirmations, menu choices, free-form input, permission prompts) so a
// workflow can pause and relay them to a human instead of hanging forever.
package questions

import "time"

// QuestionType classifies how a detected question expects to be answered.
type QuestionType string

const (
	QuestionTypeConfirmation QuestionType = "confirmation"
	QuestionTypeChoice       QuestionType = "choice"
	QuestionTypeInput        QuestionType = "input"
	QuestionTypePermission   QuestionType = "permission"
	QuestionTypeUnknown      QuestionType = "unknown"
)

// WorkflowContext pins a question to the workflow run and step it came
// from, so an answer can be routed back to the right agent's stdin.
type WorkflowContext struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	StepName   string `json:"step_name,omitempty"`
	StepIndex  int    `json:"step_index"`
	// StepTaskID is the step-specific task ID used to address stdin
	// delivery, distinct from the overall bead/task ID.
	StepTaskID string `json:"step_task_id"`
}

// Question is a question an agent raised, along with its workflow
// provenance and (once available) its answer and delivery status.
type Question struct {
	ID      string          `json:"id"`
	TaskID  string          `json:"task_id"`
	Context WorkflowContext `json:"context"`
	Type    QuestionType    `json:"type"`
	Text    string          `json:"text"`
	// RawContext is extra surrounding output captured alongside Text, kept
	// for debugging when Text alone doesn't make the question clear.
	RawContext  string     `json:"raw_context,omitempty"`
	Options     []string   `json:"options,omitempty"`
	Sequence    uint64     `json:"sequence"`
	DetectedAt  time.Time  `json:"detected_at"`
	AnsweredAt  *time.Time `json:"answered_at,omitempty"`
	Answer      string     `json:"answer,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	Error       string     `json:"error,omitempty"` // set if stdin delivery of Answer failed
}

// IsPending reports whether the question still has no answer recorded.
func (q *Question) IsPending() bool {
	return q.AnsweredAt == nil
}

// IsDelivered reports whether the answer has been sent to the agent.
func (q *Question) IsDelivered() bool {
	return q.DeliveredAt != nil
}
