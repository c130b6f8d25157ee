package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// WorkflowState is the on-disk snapshot of one workflow run, written after
// every step so a crash or restart can resume from CurrentStep.
type WorkflowState struct {
	TaskID       string         `json:"task_id"`
	WorkflowID   string         `json:"workflow_id"`
	GrimoireName string         `json:"grimoire_name"`
	WorktreePath string         `json:"worktree_path"`
	Status       WorkflowStatus `json:"status"`
	CurrentStep  int            `json:"current_step"`

	CompletedSteps map[string]*StepResult `json:"completed_steps"`
	StepOutputs    map[string]string      `json:"step_outputs"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// StatePersister reads and writes WorkflowState files under
// <covenDir>/workflows/<taskID>.json.
type StatePersister struct {
	stateDir string
}

// NewStatePersister builds a persister rooted at covenDir.
func NewStatePersister(covenDir string) *StatePersister {
	return &StatePersister{stateDir: filepath.Join(covenDir, "workflows")}
}

// StateDir returns the directory holding workflow state files.
func (p *StatePersister) StateDir() string {
	return p.stateDir
}

// Save writes state to disk, stamping UpdatedAt and writing via a
// rename-into-place so readers never see a partial file.
func (p *StatePersister) Save(state *WorkflowState) error {
	if err := os.MkdirAll(p.stateDir, 0755); err != nil {
		return fmt.Errorf("failed to create workflow state dir: %w", err)
	}

	state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow state: %w", err)
	}

	statePath := p.statePath(state.TaskID)
	tmpPath := statePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write workflow state: %w", err)
	}
	if err := os.Rename(tmpPath, statePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename workflow state: %w", err)
	}

	return nil
}

// Load reads the state file for taskID. A missing file is not an error: it
// returns (nil, nil) so callers can treat "never run" the same as "no
// state yet".
func (p *StatePersister) Load(taskID string) (*WorkflowState, error) {
	data, err := os.ReadFile(p.statePath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflow state: %w", err)
	}

	var state WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse workflow state: %w", err)
	}
	return &state, nil
}

// Delete removes the state file for taskID, if any.
func (p *StatePersister) Delete(taskID string) error {
	if err := os.Remove(p.statePath(taskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete workflow state: %w", err)
	}
	return nil
}

// ListInterrupted scans the state directory for workflows left in a
// running (or pre-status-field legacy empty) state, e.g. by a daemon crash.
func (p *StatePersister) ListInterrupted() ([]*WorkflowState, error) {
	entries, err := os.ReadDir(p.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read workflow state dir: %w", err)
	}

	var interrupted []*WorkflowState
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}

		taskID := entry.Name()[:len(entry.Name())-len(".json")]
		state, err := p.Load(taskID)
		if err != nil {
			continue
		}
		if state != nil && (state.Status == WorkflowRunning || state.Status == "") {
			interrupted = append(interrupted, state)
		}
	}

	return interrupted, nil
}

// statePath returns the state file path for taskID.
func (p *StatePersister) statePath(taskID string) string {
	return filepath.Join(p.stateDir, taskID+".json")
}

// Exists reports whether a state file exists for taskID.
func (p *StatePersister) Exists(taskID string) bool {
	_, err := os.Stat(p.statePath(taskID))
	return err == nil
}
