package models

import (
	"encoding/json"
	"time"
)

type WorkflowStatus string

const (
	RunningWorkflowStatus   WorkflowStatus = "RUNNING"
	CompletedWorkflowStatus WorkflowStatus = "COMPLETED"
	FailedWorkflowStatus    WorkflowStatus = "FAILED"
	CancelledWorkflowStatus WorkflowStatus = "CANCELLED"
)

// Terminal reports whether no further steps may execute for this status.
func (s WorkflowStatus) Terminal() bool {
	return s == CompletedWorkflowStatus || s == FailedWorkflowStatus || s == CancelledWorkflowStatus
}

// WorkflowInstance is one execution of a named multi-step business process.
// It is owned exclusively by the workflow engine: created on ExecuteWorkflow
// and mutated only as steps complete.
type WorkflowInstance struct {
	ID            string          `json:"id" db:"id"`                       // UUID
	WorkflowType  string          `json:"workflow_type" db:"workflow_type"` // e.g. "RequestProcessing"
	Status        WorkflowStatus  `json:"status" db:"status"`               // terminal once it leaves RUNNING
	CurrentStep   int             `json:"current_step" db:"current_step"`   // 0..TotalSteps
	TotalSteps    int             `json:"total_steps" db:"total_steps"`     // fixed at planning time
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	InitiatedBy   string          `json:"initiated_by" db:"initiated_by"`   // user id
	Configuration json.RawMessage `json:"configuration" db:"configuration"` // opaque per-type config blob
	ErrorMsg      string          `json:"error,omitempty" db:"error_msg"`   // set when Status is FAILED
}

type StepStatus string

const (
	PendingStepStatus   StepStatus = "PENDING"
	CompletedStepStatus StepStatus = "COMPLETED"
	FailedStepStatus    StepStatus = "FAILED"
)

type StepType string

const (
	DataValidationStep     StepType = "DATA_VALIDATION"
	ResourceAllocationStep StepType = "RESOURCE_ALLOCATION"
	ServiceCallStep        StepType = "SERVICE_CALL"
	ApprovalStep           StepType = "APPROVAL"
	NotificationStep       StepType = "NOTIFICATION"
)

// WorkflowStep is an append-only record of one step execution within a
// workflow instance. Never mutated after write.
type WorkflowStep struct {
	ID         int64      `json:"id" db:"id"` // auto-increment
	WorkflowID string     `json:"workflow_id" db:"workflow_id"`
	Name       string     `json:"name" db:"name"` // e.g. "Validate request data"
	Type       StepType   `json:"type" db:"type"`
	Status     StepStatus `json:"status" db:"status"`
	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	ErrorMsg   string     `json:"error,omitempty" db:"error_msg"`
	ExecutedBy string     `json:"executed_by" db:"executed_by"`
}
