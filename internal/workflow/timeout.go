package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Default timeout values. Step executors do not use these: a step without
// its own timeout gets grimoire.Step.DefaultTimeout (15m for agent steps,
// 5m for the others).
const (
	DefaultAgentTimeout    = 10 * time.Minute
	DefaultScriptTimeout   = 5 * time.Minute
	DefaultWorkflowTimeout = 1 * time.Hour
)

// TimeoutError reports that a step or an entire workflow ran past its
// allotted time.
type TimeoutError struct {
	// StepName is empty for a workflow-level timeout.
	StepName string
	Duration time.Duration
	// IsWorkflowTimeout distinguishes a workflow-level timeout from a
	// step-level one; StepName is meaningless when this is true.
	IsWorkflowTimeout bool
}

func (e *TimeoutError) Error() string {
	if e.IsWorkflowTimeout {
		return fmt.Sprintf("workflow timeout exceeded after %s", e.Duration)
	}
	return fmt.Sprintf("step %q timeout exceeded after %s", e.StepName, e.Duration)
}

// IsTimeoutError reports whether err is (or wraps) a TimeoutError.
func IsTimeoutError(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// workflowTimeoutError builds the TimeoutError reported when the workflow's
// overall budget, rather than a single step's, has been exhausted.
func workflowTimeoutError(budget time.Duration) *TimeoutError {
	return &TimeoutError{Duration: budget, IsWorkflowTimeout: true}
}

// TimeoutManager derives step-level deadlines from a single workflow-level
// deadline, so a slow step can never let the whole run overrun its budget.
type TimeoutManager struct {
	workflowStart   time.Time
	workflowTimeout time.Duration
	workflowCtx     context.Context
	workflowCancel  context.CancelFunc
}

// NewTimeoutManager starts the workflow clock and derives a context bounded
// by workflowTimeout from ctx.
func NewTimeoutManager(ctx context.Context, workflowTimeout time.Duration) *TimeoutManager {
	workflowCtx, workflowCancel := context.WithTimeout(ctx, workflowTimeout)

	return &TimeoutManager{
		workflowStart:   time.Now(),
		workflowTimeout: workflowTimeout,
		workflowCtx:     workflowCtx,
		workflowCancel:  workflowCancel,
	}
}

// Cancel releases the workflow context's resources. Call once the workflow
// finishes, regardless of outcome.
func (m *TimeoutManager) Cancel() {
	if m.workflowCancel != nil {
		m.workflowCancel()
	}
}

// WorkflowContext returns the context bounded by the workflow timeout.
func (m *TimeoutManager) WorkflowContext() context.Context {
	return m.workflowCtx
}

// RemainingWorkflowTime returns how much of the workflow budget is left,
// floored at zero.
func (m *TimeoutManager) RemainingWorkflowTime() time.Duration {
	remaining := m.workflowTimeout - time.Since(m.workflowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// IsWorkflowTimedOut reports whether the workflow context has already
// expired.
func (m *TimeoutManager) IsWorkflowTimedOut() bool {
	return m.workflowCtx.Err() != nil
}

// StepContext derives a context for one step, bounded by whichever is
// smaller: stepTimeout or the time remaining in the workflow's own budget.
// The caller must call the returned cancel func.
func (m *TimeoutManager) StepContext(stepName string, stepTimeout time.Duration) (context.Context, context.CancelFunc, error) {
	if m.workflowCtx.Err() != nil {
		return nil, nil, workflowTimeoutError(m.workflowTimeout)
	}

	remaining := m.RemainingWorkflowTime()
	if remaining <= 0 {
		return nil, nil, workflowTimeoutError(m.workflowTimeout)
	}

	effectiveTimeout := stepTimeout
	if remaining < stepTimeout {
		effectiveTimeout = remaining
	}

	stepCtx, cancel := context.WithTimeout(m.workflowCtx, effectiveTimeout)
	return stepCtx, cancel, nil
}

// CheckStepTimeout inspects ctx after a step has run and, if it expired,
// reports whether that was the workflow's deadline or the step's own.
func (m *TimeoutManager) CheckStepTimeout(stepName string, stepTimeout time.Duration, ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}

	if m.workflowCtx.Err() != nil && m.RemainingWorkflowTime() <= 0 {
		return workflowTimeoutError(m.workflowTimeout)
	}

	return &TimeoutError{StepName: stepName, Duration: stepTimeout}
}

// TimeoutConfig holds the timeouts parsed out of a grimoire definition.
type TimeoutConfig struct {
	WorkflowTimeout    time.Duration
	StepTimeouts       map[string]time.Duration
	DefaultStepTimeout time.Duration
}

// GetStepTimeout returns the timeout configured for stepName, falling back
// to DefaultStepTimeout when the step has no override.
func (c *TimeoutConfig) GetStepTimeout(stepName string) time.Duration {
	if timeout, ok := c.StepTimeouts[stepName]; ok {
		return timeout
	}
	return c.DefaultStepTimeout
}

// ParseDuration parses s as a duration, or returns defaultDuration if s is
// empty.
func ParseDuration(s string, defaultDuration time.Duration) (time.Duration, error) {
	if s == "" {
		return defaultDuration, nil
	}
	return time.ParseDuration(s)
}

// FormatDuration renders d in the largest whole unit(s) that fit, e.g.
// "1h30m", "5m", "45s", "200ms".
func FormatDuration(d time.Duration) string {
	if d >= time.Hour {
		hours := d / time.Hour
		minutes := (d % time.Hour) / time.Minute
		if minutes > 0 {
			return fmt.Sprintf("%dh%dm", hours, minutes)
		}
		return fmt.Sprintf("%dh", hours)
	}
	if d >= time.Minute {
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		if seconds > 0 {
			return fmt.Sprintf("%dm%ds", minutes, seconds)
		}
		return fmt.Sprintf("%dm", minutes)
	}
	if d >= time.Second {
		return fmt.Sprintf("%ds", d/time.Second)
	}
	return fmt.Sprintf("%dms", d/time.Millisecond)
}
