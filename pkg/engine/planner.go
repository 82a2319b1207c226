package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
)

// WorkflowRequest asks the engine to run one instance of a named process.
type WorkflowRequest struct {
	WorkflowType  string          `json:"workflow_type"`
	UserID        string          `json:"user_id"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// PlannedStep is one entry of an execution plan produced by the rules engine.
type PlannedStep struct {
	Name string          `json:"name"`
	Type models.StepType `json:"type"`
}

// DecisionRequest asks the rules engine for a recommendation.
type DecisionRequest struct {
	Subject string                 `json:"subject"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Decision is the rules engine's recommendation.
type Decision struct {
	Decision        string  `json:"decision"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Planner is the decision/rules engine collaborator. The orchestration core
// consumes it, it never implements the rules themselves.
type Planner interface {
	GenerateExecutionPlan(ctx context.Context, req WorkflowRequest) ([]PlannedStep, error)
	MakeDecision(ctx context.Context, req DecisionRequest) (Decision, error)
}

// StaticPlanner serves fixed per-type step plans. It stands in for the real
// rules engine in deployments that have not wired one and in tests.
type StaticPlanner struct {
	plans map[string][]PlannedStep
}

// NewStaticPlanner returns a planner loaded with the built-in plan table.
func NewStaticPlanner() *StaticPlanner {
	return &StaticPlanner{plans: map[string][]PlannedStep{
		"RequestProcessing": {
			{Name: "Validate request data", Type: models.DataValidationStep},
			{Name: "Allocate fulfillment resources", Type: models.ResourceAllocationStep},
			{Name: "Execute fulfillment", Type: models.ServiceCallStep},
			{Name: "Route for approval", Type: models.ApprovalStep},
			{Name: "Notify requester", Type: models.NotificationStep},
		},
		"AssetRepair": {
			{Name: "Validate repair request", Type: models.DataValidationStep},
			{Name: "Reserve maintenance slot", Type: models.ResourceAllocationStep},
			{Name: "Run repair recipe", Type: models.ServiceCallStep},
			{Name: "Notify asset owner", Type: models.NotificationStep},
		},
		"ProcurementCycle": {
			{Name: "Validate procurement data", Type: models.DataValidationStep},
			{Name: "Check budget allocation", Type: models.ResourceAllocationStep},
			{Name: "Create purchase order", Type: models.ServiceCallStep},
			{Name: "Route for approval", Type: models.ApprovalStep},
			{Name: "Register incoming stock", Type: models.ServiceCallStep},
			{Name: "Notify procurement owner", Type: models.NotificationStep},
		},
		"AutoFulfillment": {
			{Name: "Validate request data", Type: models.DataValidationStep},
			{Name: "Fulfill from stock", Type: models.ServiceCallStep},
			{Name: "Notify requester", Type: models.NotificationStep},
		},
	}}
}

// RegisterPlan adds or replaces the plan for a workflow type.
func (p *StaticPlanner) RegisterPlan(workflowType string, steps []PlannedStep) {
	p.plans[workflowType] = steps
}

func (p *StaticPlanner) GenerateExecutionPlan(ctx context.Context, req WorkflowRequest) ([]PlannedStep, error) {
	steps, ok := p.plans[req.WorkflowType]
	if !ok {
		return nil, fmt.Errorf("no execution plan for workflow type '%s'", req.WorkflowType)
	}
	out := make([]PlannedStep, len(steps))
	copy(out, steps)
	return out, nil
}

// MakeDecision applies the built-in deterministic rules. Confidence scores
// mirror the production rules engine's calibration.
func (p *StaticPlanner) MakeDecision(ctx context.Context, req DecisionRequest) (Decision, error) {
	switch req.Subject {
	case "auto_fulfill":
		if avail, ok := req.Context["stock_available"].(bool); ok && avail {
			return Decision{Decision: "FULFILL", ConfidenceScore: 0.92}, nil
		}
		return Decision{Decision: "PROCURE", ConfidenceScore: 0.78}, nil
	case "requires_approval":
		if cost, ok := req.Context["estimated_cost"].(float64); ok && cost < 100 {
			return Decision{Decision: "SKIP_APPROVAL", ConfidenceScore: 0.85}, nil
		}
		return Decision{Decision: "APPROVE_MANUALLY", ConfidenceScore: 0.9}, nil
	default:
		return Decision{}, fmt.Errorf("unknown decision subject '%s'", req.Subject)
	}
}
