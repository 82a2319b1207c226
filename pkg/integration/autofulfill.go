package integration

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/engine"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
)

// AutoFulfillResult reports the outcome of an auto-fulfillment attempt.
type AutoFulfillResult struct {
	Success        bool    `json:"success"`
	Message        string  `json:"message,omitempty"`
	RequestID      int64   `json:"request_id"`
	Fulfilled      bool    `json:"fulfilled"`
	Decision       string  `json:"decision,omitempty"`
	Confidence     float64 `json:"confidence"`
	ProcurementIDs []int64 `json:"procurement_ids,omitempty"`
}

// AutoFulfillRequest satisfies a request without human approval when the
// rules engine allows it. When stock is insufficient the request is linked
// to generated procurement instead and parked as procurement-pending.
func (c *Coordinator) AutoFulfillRequest(ctx context.Context, requestID int64, userID string) *AutoFulfillResult {
	result := &AutoFulfillResult{RequestID: requestID}

	req, ok, err := c.requests.GetByID(ctx, requestID)
	if err != nil {
		result.Message = fmt.Sprintf("failed to load request %d: %v", requestID, err)
		return result
	}
	if !ok {
		result.Message = fmt.Sprintf("request %d not found", requestID)
		return result
	}
	if req.Status.Terminal() {
		result.Message = fmt.Sprintf("request %d is already %s", requestID, req.Status)
		return result
	}

	// Stock check drives the decision. Requests without a related asset
	// carry no parts requirement and are fulfillable directly.
	var parts []models.InventoryItem
	if req.AssetID != 0 {
		asset, ok, err := c.assets.GetByID(ctx, req.AssetID)
		if err != nil {
			result.Message = fmt.Sprintf("failed to load asset %d: %v", req.AssetID, err)
			return result
		}
		if ok {
			parts, err = c.inventory.PartsForCategory(ctx, asset.Category)
			if err != nil {
				result.Message = fmt.Sprintf("failed to determine parts: %v", err)
				return result
			}
		}
	}
	stockAvailable := true
	var missing []models.InventoryItem
	for _, part := range parts {
		available, err := c.inventory.CheckAvailability(ctx, part.ID, 1)
		if err != nil {
			result.Message = fmt.Sprintf("failed to check availability of part %d: %v", part.ID, err)
			return result
		}
		if !available {
			stockAvailable = false
			missing = append(missing, part)
		}
	}

	decision, err := c.planner.MakeDecision(ctx, engine.DecisionRequest{
		Subject: "auto_fulfill",
		Context: map[string]interface{}{"stock_available": stockAvailable},
	})
	if err != nil {
		result.Message = fmt.Sprintf("decision failed: %v", err)
		return result
	}
	result.Decision = decision.Decision
	result.Confidence = decision.ConfidenceScore

	if decision.Decision == "FULFILL" && decision.ConfidenceScore >= 0.8 {
		for _, part := range parts {
			if err := c.inventory.Reserve(ctx, part.ID, 1); err != nil {
				result.Message = fmt.Sprintf("failed to reserve part %d: %v", part.ID, err)
				return result
			}
		}
		if err := c.requests.UpdateStatus(ctx, req.ID, models.CompletedRequestStatus); err != nil {
			result.Message = fmt.Sprintf("failed to complete request %d: %v", req.ID, err)
			return result
		}
		c.publishEvent(ctx, userID, models.RequestFulfilledEvent, map[string]interface{}{
			"request_id": req.ID,
			"auto":       true,
		})
		c.auditLog(ctx, AuditEntry{
			Action: "AUTO_FULFILL", EntityType: "request", EntityID: req.ID, UserID: userID,
			Description: fmt.Sprintf("request %d auto-fulfilled (confidence %.2f)", req.ID, decision.ConfidenceScore),
		})
		result.Success = true
		result.Fulfilled = true
		result.Message = fmt.Sprintf("request %d auto-fulfilled", req.ID)
		return result
	}

	// Not fulfillable from stock: link the request to procurement.
	ids, _, err := c.GenerateProcurementFromRepair(ctx, req, missing, userID)
	if err != nil {
		result.Message = fmt.Sprintf("failed to generate procurement: %v", err)
		return result
	}
	if err := c.requests.UpdateStatus(ctx, req.ID, models.ProcurementPendingRequestStatus); err != nil {
		result.Message = fmt.Sprintf("failed to update request %d status: %v", req.ID, err)
		return result
	}
	c.auditLog(ctx, AuditEntry{
		Action: "LINK_PROCUREMENT", EntityType: "request", EntityID: req.ID, UserID: userID,
		Description: fmt.Sprintf("request %d linked to %d procurement request(s)", req.ID, len(ids)),
	})
	result.Success = true
	result.ProcurementIDs = ids
	result.Message = fmt.Sprintf("request %d routed to procurement", req.ID)
	return result
}

// stepConfig is the configuration blob a workflow instance carries when its
// service-call steps should run a coordinator recipe.
type stepConfig struct {
	Recipe    string `json:"recipe"`
	RequestID int64  `json:"request_id"`
}

// ServiceCallHandler bridges the workflow engine to the recipes: a
// SERVICE_CALL step reads the instance configuration and runs the named
// recipe. A recipe failure fails the step and, through the engine, the
// workflow.
func (c *Coordinator) ServiceCallHandler() engine.StepHandler {
	return engine.StepHandlerFunc(func(ctx context.Context, sc engine.StepContext) error {
		var cfg stepConfig
		if len(sc.Instance.Configuration) > 0 {
			if err := json.Unmarshal(sc.Instance.Configuration, &cfg); err != nil {
				return fmt.Errorf("invalid workflow configuration: %v", err)
			}
		}
		switch cfg.Recipe {
		case "":
			// No recipe bound; the step is a placeholder service call.
			return nil
		case "asset_repair":
			res := c.ExecuteRepairWorkflow(ctx, cfg.RequestID, sc.Instance.InitiatedBy)
			if !res.Success {
				return fmt.Errorf("repair recipe failed: %s", res.Message)
			}
			return nil
		case "auto_fulfill":
			res := c.AutoFulfillRequest(ctx, cfg.RequestID, sc.Instance.InitiatedBy)
			if !res.Success {
				return fmt.Errorf("auto-fulfill recipe failed: %s", res.Message)
			}
			return nil
		default:
			return fmt.Errorf("unknown recipe '%s'", cfg.Recipe)
		}
	})
}
