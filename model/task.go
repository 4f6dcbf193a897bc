package model

import "time"

// Scan task statuses
const (
	TaskStatusPending   = "pending"
	TaskStatusRunning   = "running"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
	TaskStatusCancelled = "cancelled"
)

// Scan task types
const (
	TaskTypeScanRange     = "scan_range"
	TaskTypeOrchestration = "orchestration"
)

// ScanTask is one row of the scan_tasks table, tracking a background scan or
// orchestration run submitted through the management API.
type ScanTask struct {
	ID          string                 `json:"id"`
	TaskType    string                 `json:"task_type"`
	Status      string                 `json:"status"`
	MinStars    *int                   `json:"min_stars,omitempty"`
	MaxStars    *int                   `json:"max_stars,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	Progress    map[string]interface{} `json:"progress,omitempty"`
}

// Terminal reports whether the task can no longer change state.
func (t *ScanTask) Terminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}
