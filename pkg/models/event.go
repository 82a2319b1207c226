package models

import (
	"encoding/json"
	"time"
)

type EventType string

const (
	StepCompletedEvent      EventType = "STEP_COMPLETED"
	StepFailedEvent         EventType = "STEP_FAILED"
	WorkflowCompletedEvent  EventType = "WORKFLOW_COMPLETED"
	WorkflowFailedEvent     EventType = "WORKFLOW_FAILED"
	WorkflowCancelledEvent  EventType = "WORKFLOW_CANCELLED"
	AssetStatusChangedEvent EventType = "ASSET_STATUS_CHANGED"
	ProcurementCreatedEvent EventType = "PROCUREMENT_CREATED"
	RequestFulfilledEvent   EventType = "REQUEST_FULFILLED"
)

// HighPriority reports whether an event of this type must be processed
// out-of-band immediately after publishing instead of waiting for the
// backlog poller.
func (t EventType) HighPriority() bool {
	return t == WorkflowFailedEvent || t == StepFailedEvent
}

// WorkflowEvent is a durable domain event. Created by PublishEvent with
// Processed=false and mutated exactly once by MarkProcessed; never deleted.
//
// Invariant: Processed==true implies ProcessedAt and ProcessingResult are set.
type WorkflowEvent struct {
	ID               string          `json:"id" db:"id"`                     // UUID
	WorkflowID       string          `json:"workflow_id" db:"workflow_id"`   // empty for non-workflow events
	Type             EventType       `json:"type" db:"type"`
	Payload          json.RawMessage `json:"payload" db:"payload"`
	OccurredAt       time.Time       `json:"occurred_at" db:"occurred_at"`
	Processed        bool            `json:"processed" db:"processed"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty" db:"processed_at"`
	ProcessingResult string          `json:"processing_result,omitempty" db:"processing_result"`
	InitiatedBy      string          `json:"initiated_by" db:"initiated_by"`
}
