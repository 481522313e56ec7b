package model

import (
	"encoding/json"
	"time"
)

// TaskInstance is one execution of a registered workflow. The cursor and
// step results form the durable checkpoint: steps whose name already has a
// result entry are skipped when the instance is re-run after a restart.
type TaskInstance struct {
	ID            string          `json:"id"`
	WorkflowName  string          `json:"workflow_name"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Status        string          `json:"status"`
	StatusMessage *string         `json:"status_message,omitempty"`
	Cursor        int             `json:"cursor"`
	WakeAt        *time.Time      `json:"wake_at,omitempty"`
	StepResults   StepResults     `json:"step_results"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// StepResults maps completed step names to their recorded results.
// Ordering is recoverable from the workflow definition's step list.
type StepResults map[string]json.RawMessage

const (
	TaskPending   = "pending"
	TaskSleeping  = "sleeping"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// Done reports whether the step named name has a recorded result.
func (r StepResults) Done(name string) bool {
	_, ok := r[name]
	return ok
}
