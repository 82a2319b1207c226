package engine

import (
	"context"
	"encoding/json"
	"fmt"
)

// ValidationHandler returns the stock DATA_VALIDATION handler: the instance
// configuration must be absent or well-formed JSON.
func ValidationHandler() StepHandler {
	return StepHandlerFunc(func(ctx context.Context, sc StepContext) error {
		cfg := sc.Instance.Configuration
		if len(cfg) == 0 {
			return nil
		}
		if !json.Valid(cfg) {
			return fmt.Errorf("configuration of workflow %s is not valid JSON", sc.Instance.ID)
		}
		return nil
	})
}

// ApprovalHandler consults the rules engine; only an explicit rejection fails
// the step, manual-approval routing is recorded and the workflow continues.
func ApprovalHandler(planner Planner, logger Logger) StepHandler {
	return StepHandlerFunc(func(ctx context.Context, sc StepContext) error {
		var cfg map[string]interface{}
		if len(sc.Instance.Configuration) > 0 {
			if err := json.Unmarshal(sc.Instance.Configuration, &cfg); err != nil {
				return fmt.Errorf("cannot read configuration for approval: %v", err)
			}
		}
		decision, err := planner.MakeDecision(ctx, DecisionRequest{Subject: "requires_approval", Context: cfg})
		if err != nil {
			return err
		}
		if decision.Decision == "REJECT" {
			return fmt.Errorf("approval rejected (confidence %.2f)", decision.ConfidenceScore)
		}
		logger.Infof("Approval decision for workflow %s: %s (confidence %.2f)",
			sc.Instance.ID, decision.Decision, decision.ConfidenceScore)
		return nil
	})
}

// NoopHandler completes the step without side effects. Useful for step types
// whose real work happens elsewhere (for example manual resource allocation).
func NoopHandler() StepHandler {
	return StepHandlerFunc(func(ctx context.Context, sc StepContext) error { return nil })
}
