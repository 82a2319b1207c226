package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/engine"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
)

// Coordinator implements the pre-built cross-module recipes on top of the
// workflow engine, the event bus and the external CRUD services. All public
// operations return structured results; missing entities and business
// failures never surface as errors.
type Coordinator struct {
	assets      AssetService
	requests    RequestService
	inventory   InventoryService
	procurement ProcurementService
	locations   LocationService
	audit       AuditLogger
	planner     engine.Planner
	events      engine.EventPublisher
	logger      Logger
}

func NewCoordinator(
	assets AssetService,
	requests RequestService,
	inventory InventoryService,
	procurement ProcurementService,
	locations LocationService,
	audit AuditLogger,
	planner engine.Planner,
	events engine.EventPublisher,
	logger Logger,
) *Coordinator {
	return &Coordinator{
		assets:      assets,
		requests:    requests,
		inventory:   inventory,
		procurement: procurement,
		locations:   locations,
		audit:       audit,
		planner:     planner,
		events:      events,
		logger:      logger,
	}
}

// RepairWorkflowResult aggregates everything the repair recipe did.
type RepairWorkflowResult struct {
	Success                     bool     `json:"success"`
	Message                     string   `json:"message,omitempty"`
	RequestID                   int64    `json:"request_id"`
	AssetID                     int64    `json:"asset_id,omitempty"`
	Steps                       []string `json:"steps"`
	RequiresProcurement         bool     `json:"requires_procurement"`
	GeneratedProcurementIDs     []int64  `json:"generated_procurement_ids,omitempty"`
	TotalEstimatedCost          float64  `json:"total_estimated_cost"`
	TemporaryReplacementAssetID *int64   `json:"temporary_replacement_asset_id,omitempty"`
}

// ExecuteRepairWorkflow runs the asset-repair recipe: transition the request
// and its asset to in-progress states, reserve or procure spare parts, and
// stand up a temporary replacement when a like-category asset is available.
// Every step taken is listed in the result and audit-logged.
func (c *Coordinator) ExecuteRepairWorkflow(ctx context.Context, requestID int64, userID string) *RepairWorkflowResult {
	result := &RepairWorkflowResult{RequestID: requestID}

	req, ok, err := c.requests.GetByID(ctx, requestID)
	if err != nil {
		return c.repairFailure(result, fmt.Sprintf("failed to load request %d: %v", requestID, err))
	}
	if !ok {
		return c.repairFailure(result, fmt.Sprintf("request %d not found", requestID))
	}
	if req.AssetID == 0 {
		return c.repairFailure(result, fmt.Sprintf("request %d has no related asset", requestID))
	}

	asset, ok, err := c.assets.GetByID(ctx, req.AssetID)
	if err != nil {
		return c.repairFailure(result, fmt.Sprintf("failed to load asset %d: %v", req.AssetID, err))
	}
	if !ok {
		return c.repairFailure(result, fmt.Sprintf("asset %d not found", req.AssetID))
	}
	result.AssetID = asset.ID

	if err := c.requests.UpdateStatus(ctx, req.ID, models.InProgressRequestStatus); err != nil {
		return c.repairFailure(result, fmt.Sprintf("failed to update request %d status: %v", req.ID, err))
	}
	c.step(ctx, result, userID, "request", req.ID,
		"Updated request status to In Progress", string(req.Status), string(models.InProgressRequestStatus))

	if err := c.assets.UpdateStatus(ctx, asset.ID, models.UnderMaintenanceAssetStatus); err != nil {
		return c.repairFailure(result, fmt.Sprintf("failed to update asset %d status: %v", asset.ID, err))
	}
	c.step(ctx, result, userID, "asset", asset.ID,
		fmt.Sprintf("Updated asset %d status to Under Maintenance", asset.ID),
		string(asset.Status), string(models.UnderMaintenanceAssetStatus))
	c.publishEvent(ctx, userID, models.AssetStatusChangedEvent, map[string]interface{}{
		"asset_id": asset.ID,
		"status":   string(models.UnderMaintenanceAssetStatus),
	})

	// Spare parts: a deterministic rule keyed on the asset category decides
	// which parts the repair consumes. In-stock parts are reserved; the rest
	// go through procurement.
	parts, err := c.inventory.PartsForCategory(ctx, asset.Category)
	if err != nil {
		return c.repairFailure(result, fmt.Sprintf("failed to determine parts for category '%s': %v", asset.Category, err))
	}
	var toProcure []models.InventoryItem
	for _, part := range parts {
		available, err := c.inventory.CheckAvailability(ctx, part.ID, 1)
		if err != nil {
			return c.repairFailure(result, fmt.Sprintf("failed to check availability of part %d: %v", part.ID, err))
		}
		if available {
			if err := c.inventory.Reserve(ctx, part.ID, 1); err != nil {
				return c.repairFailure(result, fmt.Sprintf("failed to reserve part %d: %v", part.ID, err))
			}
			c.step(ctx, result, userID, "inventory", part.ID,
				fmt.Sprintf("Reserved spare part '%s' from stock", part.Name), "", "")
		} else {
			toProcure = append(toProcure, part)
		}
	}

	if len(toProcure) > 0 {
		ids, total, genErr := c.GenerateProcurementFromRepair(ctx, req, toProcure, userID)
		if genErr != nil {
			return c.repairFailure(result, fmt.Sprintf("failed to generate procurement: %v", genErr))
		}
		result.RequiresProcurement = true
		result.GeneratedProcurementIDs = ids
		result.TotalEstimatedCost = total
		c.step(ctx, result, userID, "request", req.ID,
			fmt.Sprintf("Generated %d procurement request(s), estimated cost %.2f", len(ids), total), "", "")
		if err := c.requests.UpdateStatus(ctx, req.ID, models.ProcurementPendingRequestStatus); err != nil {
			return c.repairFailure(result, fmt.Sprintf("failed to update request %d status: %v", req.ID, err))
		}
		c.step(ctx, result, userID, "request", req.ID,
			"Updated request status to Procurement Pending",
			string(models.InProgressRequestStatus), string(models.ProcurementPendingRequestStatus))
	}

	// Temporary replacement: first available like-category asset, no scoring.
	replacement, ok, err := c.assets.FindAvailableByCategory(ctx, asset.Category)
	if err != nil {
		return c.repairFailure(result, fmt.Sprintf("failed to look up replacement for category '%s': %v", asset.Category, err))
	}
	if ok && replacement.ID != asset.ID {
		steps, assignErr := c.AssignTemporaryReplacement(ctx, asset, replacement, userID)
		if assignErr != nil {
			return c.repairFailure(result, fmt.Sprintf("failed to assign temporary replacement: %v", assignErr))
		}
		result.TemporaryReplacementAssetID = &replacement.ID
		result.Steps = append(result.Steps, steps...)
	}

	result.Success = true
	result.Message = fmt.Sprintf("repair workflow executed for request %d", requestID)
	c.logger.Infof("Repair workflow for request %d finished: %d steps, procurement=%v", requestID, len(result.Steps), result.RequiresProcurement)
	return result
}

func (c *Coordinator) repairFailure(result *RepairWorkflowResult, msg string) *RepairWorkflowResult {
	result.Success = false
	result.Message = msg
	c.logger.Errorf("Repair workflow for request %d failed: %s", result.RequestID, msg)
	return result
}

// AssignTemporaryReplacement swaps the live asset's location with the
// replacement's and parks the original in a maintenance-role location (IT
// room as fallback). Exactly two movement records are written: original to
// maintenance, replacement to the original's location.
func (c *Coordinator) AssignTemporaryReplacement(ctx context.Context, asset, replacement models.Asset, userID string) ([]string, error) {
	var steps []string
	originalLocation := asset.LocationID

	maintenanceLocation, found, err := c.locations.FindByRole(ctx, models.MaintenanceLocationRole)
	if err != nil {
		return steps, err
	}
	if !found {
		maintenanceLocation, found, err = c.locations.FindByRole(ctx, models.ITLocationRole)
		if err != nil {
			return steps, err
		}
	}

	now := time.Now()
	var maintenanceLocationID int64
	if found {
		maintenanceLocationID = maintenanceLocation.ID
		if err := c.assets.UpdateLocation(ctx, asset.ID, maintenanceLocationID); err != nil {
			return steps, err
		}
	}
	if err := c.assets.RecordMovement(ctx, models.AssetMovement{
		AssetID:        asset.ID,
		FromLocationID: originalLocation,
		ToLocationID:   maintenanceLocationID,
		Reason:         "moved to maintenance for repair",
		MovedBy:        userID,
		MovedAt:        now,
	}); err != nil {
		return steps, err
	}
	steps = append(steps, fmt.Sprintf("Moved asset %d to maintenance location", asset.ID))

	if err := c.assets.UpdateLocation(ctx, replacement.ID, originalLocation); err != nil {
		return steps, err
	}
	if err := c.assets.UpdateStatus(ctx, replacement.ID, models.InUseAssetStatus); err != nil {
		return steps, err
	}
	if err := c.assets.RecordMovement(ctx, models.AssetMovement{
		AssetID:        replacement.ID,
		FromLocationID: replacement.LocationID,
		ToLocationID:   originalLocation,
		Reason:         fmt.Sprintf("temporary replacement for asset %d", asset.ID),
		MovedBy:        userID,
		MovedAt:        now,
	}); err != nil {
		return steps, err
	}
	steps = append(steps, fmt.Sprintf("Assigned asset %d as temporary replacement at location %d", replacement.ID, originalLocation))

	c.auditLog(ctx, AuditEntry{
		Action: "ASSIGN_TEMPORARY_REPLACEMENT", EntityType: "asset", EntityID: asset.ID, UserID: userID,
		Description: fmt.Sprintf("asset %d temporarily replaced by asset %d", asset.ID, replacement.ID),
	})
	return steps, nil
}

// RepairCompletionResult reports what CompleteRepair did.
type RepairCompletionResult struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message,omitempty"`
	RequestID int64    `json:"request_id"`
	Steps     []string `json:"steps"`
}

// CompleteRepair restores the repaired asset to IN_USE (optionally at a new
// location), returns the temporary replacement to a storage-role location
// when one was assigned, and marks the request completed.
func (c *Coordinator) CompleteRepair(ctx context.Context, requestID, replacementAssetID int64, relocateTo *int64, userID string) *RepairCompletionResult {
	result := &RepairCompletionResult{RequestID: requestID}

	req, ok, err := c.requests.GetByID(ctx, requestID)
	if err != nil || !ok {
		result.Message = fmt.Sprintf("request %d not found", requestID)
		if err != nil {
			result.Message = fmt.Sprintf("failed to load request %d: %v", requestID, err)
		}
		return result
	}
	asset, ok, err := c.assets.GetByID(ctx, req.AssetID)
	if err != nil || !ok {
		result.Message = fmt.Sprintf("asset %d not found", req.AssetID)
		if err != nil {
			result.Message = fmt.Sprintf("failed to load asset %d: %v", req.AssetID, err)
		}
		return result
	}

	if err := c.assets.UpdateStatus(ctx, asset.ID, models.InUseAssetStatus); err != nil {
		result.Message = fmt.Sprintf("failed to restore asset %d: %v", asset.ID, err)
		return result
	}
	result.Steps = append(result.Steps, fmt.Sprintf("Restored asset %d to In Use", asset.ID))

	if relocateTo != nil {
		if err := c.assets.UpdateLocation(ctx, asset.ID, *relocateTo); err != nil {
			result.Message = fmt.Sprintf("failed to relocate asset %d: %v", asset.ID, err)
			return result
		}
		if err := c.assets.RecordMovement(ctx, models.AssetMovement{
			AssetID:        asset.ID,
			FromLocationID: asset.LocationID,
			ToLocationID:   *relocateTo,
			Reason:         "returned from repair",
			MovedBy:        userID,
			MovedAt:        time.Now(),
		}); err != nil {
			result.Message = fmt.Sprintf("failed to record movement of asset %d: %v", asset.ID, err)
			return result
		}
		result.Steps = append(result.Steps, fmt.Sprintf("Relocated asset %d to location %d", asset.ID, *relocateTo))
	}

	if replacementAssetID != 0 {
		steps, err := c.ReturnTemporaryReplacement(ctx, replacementAssetID, userID)
		if err != nil {
			result.Message = fmt.Sprintf("failed to return temporary replacement %d: %v", replacementAssetID, err)
			return result
		}
		result.Steps = append(result.Steps, steps...)
	}

	if err := c.requests.UpdateStatus(ctx, req.ID, models.CompletedRequestStatus); err != nil {
		result.Message = fmt.Sprintf("failed to complete request %d: %v", req.ID, err)
		return result
	}
	result.Steps = append(result.Steps, "Updated request status to Completed")

	c.auditLog(ctx, AuditEntry{
		Action: "COMPLETE_REPAIR", EntityType: "request", EntityID: req.ID, UserID: userID,
		Description: fmt.Sprintf("repair of asset %d completed", asset.ID),
		OldValue:    string(req.Status), NewValue: string(models.CompletedRequestStatus),
	})
	result.Success = true
	result.Message = fmt.Sprintf("repair of request %d completed", requestID)
	return result
}

// ReturnTemporaryReplacement parks a replacement asset in a storage-role
// location and marks it available again.
func (c *Coordinator) ReturnTemporaryReplacement(ctx context.Context, replacementAssetID int64, userID string) ([]string, error) {
	var steps []string
	replacement, ok, err := c.assets.GetByID(ctx, replacementAssetID)
	if err != nil {
		return steps, err
	}
	if !ok {
		return steps, fmt.Errorf("replacement asset %d not found", replacementAssetID)
	}

	storageLocation, found, err := c.locations.FindByRole(ctx, models.StorageLocationRole)
	if err != nil {
		return steps, err
	}
	var storageLocationID int64
	if found {
		storageLocationID = storageLocation.ID
		if err := c.assets.UpdateLocation(ctx, replacement.ID, storageLocationID); err != nil {
			return steps, err
		}
	}
	if err := c.assets.UpdateStatus(ctx, replacement.ID, models.AvailableAssetStatus); err != nil {
		return steps, err
	}
	if err := c.assets.RecordMovement(ctx, models.AssetMovement{
		AssetID:        replacement.ID,
		FromLocationID: replacement.LocationID,
		ToLocationID:   storageLocationID,
		Reason:         "temporary replacement returned to storage",
		MovedBy:        userID,
		MovedAt:        time.Now(),
	}); err != nil {
		return steps, err
	}
	steps = append(steps, fmt.Sprintf("Returned temporary replacement %d to storage", replacement.ID))
	return steps, nil
}

// GenerateProcurementFromRepair creates one procurement request per needed
// part, linked back to the originating request, sums estimated costs and
// appends a note to the request description.
func (c *Coordinator) GenerateProcurementFromRepair(ctx context.Context, req models.Request, parts []models.InventoryItem, userID string) ([]int64, float64, error) {
	var ids []int64
	var total float64
	for _, part := range parts {
		id, err := c.procurement.CreateFromRequest(ctx, models.ProcurementRequest{
			ItemName:        part.Name,
			Quantity:        1,
			EstimatedCost:   part.UnitCost,
			Status:          models.DraftProcurementStatus,
			SourceRequestID: req.ID,
			CreatedBy:       userID,
			CreatedAt:       time.Now(),
		})
		if err != nil {
			return ids, total, err
		}
		ids = append(ids, id)
		total += part.UnitCost
		c.publishEvent(ctx, userID, models.ProcurementCreatedEvent, map[string]interface{}{
			"procurement_id": id,
			"request_id":     req.ID,
			"item":           part.Name,
		})
	}
	note := fmt.Sprintf("[repair] generated %d procurement request(s), estimated cost %.2f", len(ids), total)
	if err := c.requests.AppendDescription(ctx, req.ID, note); err != nil {
		return ids, total, err
	}
	return ids, total, nil
}

// step records one recipe step in the result and the audit trail.
func (c *Coordinator) step(ctx context.Context, result *RepairWorkflowResult, userID, entityType string, entityID int64, description, oldValue, newValue string) {
	result.Steps = append(result.Steps, description)
	c.auditLog(ctx, AuditEntry{
		Action: "REPAIR_WORKFLOW_STEP", EntityType: entityType, EntityID: entityID, UserID: userID,
		Description: description, OldValue: oldValue, NewValue: newValue,
	})
}

// auditLog is fire-and-forget: audit failures are logged, never propagated.
func (c *Coordinator) auditLog(ctx context.Context, entry AuditEntry) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, entry); err != nil {
		c.logger.Errorf("Audit write failed for %s on %s %d: %v", entry.Action, entry.EntityType, entry.EntityID, err)
	}
}

// publishEvent is best-effort: a bus failure is logged and the recipe
// continues.
func (c *Coordinator) publishEvent(ctx context.Context, userID string, t models.EventType, payload map[string]interface{}) {
	if c.events == nil {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Errorf("Failed to marshal %s payload: %v", t, err)
		return
	}
	if err := c.events.PublishEvent(ctx, models.WorkflowEvent{
		Type:        t,
		Payload:     body,
		InitiatedBy: userID,
	}); err != nil {
		c.logger.Errorf("Failed to publish %s event: %v", t, err)
	}
}
