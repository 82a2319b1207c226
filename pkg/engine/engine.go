package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/internal/metrics"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
)

// Logger defines the logging interface for the Engine.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// EventPublisher is the slice of the event bus the engine needs to emit
// lifecycle events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, e models.WorkflowEvent) error
}

// StepContext carries everything a handler needs to run one step.
type StepContext struct {
	Instance models.WorkflowInstance
	Step     PlannedStep
	Index    int // 1-based position in the plan
}

// StepHandler executes one step type. Compensate is invoked in reverse order
// for already-completed steps when a later step fails and compensation is
// enabled; most handlers leave it a no-op (manual remediation).
type StepHandler interface {
	Execute(ctx context.Context, sc StepContext) error
	Compensate(ctx context.Context, sc StepContext) error
}

// StepHandlerFunc adapts a function to a StepHandler with no-op compensation.
type StepHandlerFunc func(ctx context.Context, sc StepContext) error

func (f StepHandlerFunc) Execute(ctx context.Context, sc StepContext) error { return f(ctx, sc) }

func (f StepHandlerFunc) Compensate(ctx context.Context, sc StepContext) error { return nil }

// WorkflowExecutionResult is the structured outcome of ExecuteWorkflow and
// the cancel/resume operations. Public operations return this instead of
// leaking errors for business failures.
type WorkflowExecutionResult struct {
	Success    bool                  `json:"success"`
	Message    string                `json:"message"`
	WorkflowID string                `json:"workflow_id,omitempty"`
	Status     models.WorkflowStatus `json:"status,omitempty"`
	StepsRun   int                   `json:"steps_run"`
}

// StatusSnapshot is the read-only view served by GetWorkflowStatus.
type StatusSnapshot struct {
	Success        bool                   `json:"success"`
	Message        string                 `json:"message,omitempty"`
	Instance       models.WorkflowInstance `json:"instance,omitempty"`
	Progress       float64                `json:"progress"` // percent
	CompletedSteps []models.WorkflowStep  `json:"completed_steps,omitempty"`
	RecentEvents   []models.WorkflowEvent `json:"recent_events,omitempty"`
}

// Engine orchestrates workflow instances: it owns their persisted state and
// is the only component that mutates instances and steps. Steps of one
// instance run strictly in order; independent instances may run concurrently.
type Engine struct {
	store      storage.Store
	planner    Planner
	events     EventPublisher
	logger     Logger
	handlers   map[models.StepType]StepHandler
	compensate bool
	mu         sync.RWMutex
}

func New(store storage.Store, planner Planner, events EventPublisher, logger Logger) *Engine {
	return &Engine{
		store:    store,
		planner:  planner,
		events:   events,
		logger:   logger,
		handlers: make(map[models.StepType]StepHandler),
	}
}

// RegisterHandler binds a handler to a step type, replacing any previous one.
func (e *Engine) RegisterHandler(t models.StepType, h StepHandler) {
	e.mu.Lock()
	e.handlers[t] = h
	e.mu.Unlock()
	e.logger.Infof("Registered step handler for type '%s'", t)
}

// EnableCompensation turns on reverse-order Compensate calls for completed
// steps when a later step fails. Off by default.
func (e *Engine) EnableCompensation() {
	e.mu.Lock()
	e.compensate = true
	e.mu.Unlock()
}

func (e *Engine) handler(t models.StepType) (StepHandler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[t]
	return h, ok
}

// ExecuteWorkflow creates a new workflow instance and runs its plan to
// completion, failure, or cancellation. Business failures come back as a
// result with Success=false; only infrastructure faults return an error.
func (e *Engine) ExecuteWorkflow(ctx context.Context, req WorkflowRequest) (*WorkflowExecutionResult, error) {
	if req.WorkflowType == "" {
		return &WorkflowExecutionResult{Success: false, Message: "workflow type is required"}, nil
	}
	if req.UserID == "" {
		return &WorkflowExecutionResult{Success: false, Message: "user id is required"}, nil
	}

	plan, err := e.planner.GenerateExecutionPlan(ctx, req)
	if err != nil {
		return &WorkflowExecutionResult{Success: false, Message: fmt.Sprintf("planning failed: %v", err)}, nil
	}
	if len(plan) == 0 {
		return &WorkflowExecutionResult{Success: false, Message: fmt.Sprintf("empty execution plan for workflow type '%s'", req.WorkflowType)}, nil
	}

	instance := models.WorkflowInstance{
		ID:            newID(),
		WorkflowType:  req.WorkflowType,
		Status:        models.RunningWorkflowStatus,
		CurrentStep:   0,
		TotalSteps:    len(plan),
		StartedAt:     time.Now(),
		InitiatedBy:   req.UserID,
		Configuration: req.Configuration,
	}
	if err := e.saveInstance(instance); err != nil {
		return nil, errors.Wrap(err, "failed to create workflow instance")
	}
	e.logger.Infof("Started workflow %s of type '%s' with %d steps", instance.ID, req.WorkflowType, len(plan))
	metrics.WorkflowsStarted.WithLabelValues(req.WorkflowType).Inc()

	return e.runSteps(ctx, instance, plan, 1)
}

// runSteps executes plan entries [from..len(plan)], 1-indexed. Every step
// transition is persisted before the next step starts.
func (e *Engine) runSteps(ctx context.Context, instance models.WorkflowInstance, plan []PlannedStep, from int) (*WorkflowExecutionResult, error) {
	stepsRun := 0
	for i := from; i <= len(plan); i++ {
		// Cooperative cancellation: an in-flight step finishes, but no
		// subsequent step is scheduled once the instance leaves RUNNING.
		current, err := e.store.GetWorkflowInstance(instance.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to reload workflow %s", instance.ID)
		}
		if current.Status == models.CancelledWorkflowStatus {
			e.logger.Infof("Workflow %s cancelled before step %d, stopping", instance.ID, i)
			return &WorkflowExecutionResult{
				Success: false, Message: "workflow cancelled",
				WorkflowID: instance.ID, Status: models.CancelledWorkflowStatus, StepsRun: stepsRun,
			}, nil
		}

		planned := plan[i-1]
		stepErr := e.executeStep(ctx, instance, planned, i)
		stepsRun++
		if stepErr != nil {
			if failErr := e.handleWorkflowFailure(ctx, instance, plan, i, stepErr); failErr != nil {
				return nil, failErr
			}
			return &WorkflowExecutionResult{
				Success: false,
				Message: fmt.Sprintf("step %d '%s' failed: %v", i, planned.Name, stepErr),
				WorkflowID: instance.ID, Status: models.FailedWorkflowStatus, StepsRun: stepsRun,
			}, nil
		}

		if err := e.recordStepCompleted(instance, planned, i); err != nil {
			return nil, err
		}
		e.publish(ctx, instance, models.StepCompletedEvent, map[string]interface{}{
			"workflow_type": instance.WorkflowType,
			"step":          planned.Name,
			"step_index":    i,
		})
		metrics.StepsExecuted.WithLabelValues(string(planned.Type), "completed").Inc()
	}

	now := time.Now()
	if err := e.store.UpdateWorkflowInstance(instance.ID, models.CompletedWorkflowStatus, len(plan), "", &now); err != nil {
		return nil, errors.Wrapf(err, "failed to complete workflow %s", instance.ID)
	}
	e.publish(ctx, instance, models.WorkflowCompletedEvent, map[string]interface{}{
		"workflow_type": instance.WorkflowType,
		"total_steps":   len(plan),
	})
	metrics.WorkflowsFinished.WithLabelValues(instance.WorkflowType, "completed").Inc()
	e.logger.Infof("Workflow %s completed (%d steps)", instance.ID, len(plan))
	return &WorkflowExecutionResult{
		Success: true, Message: "workflow completed",
		WorkflowID: instance.ID, Status: models.CompletedWorkflowStatus, StepsRun: stepsRun,
	}, nil
}

// executeStep runs one handler. Panics and errors both surface as a step
// error; they are never allowed to escape the engine.
func (e *Engine) executeStep(ctx context.Context, instance models.WorkflowInstance, planned PlannedStep, index int) (stepErr error) {
	handler, ok := e.handler(planned.Type)
	if !ok {
		return fmt.Errorf("no handler registered for step type '%s'", planned.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			stepErr = fmt.Errorf("step handler panicked: %v", r)
		}
	}()
	sc := StepContext{Instance: instance, Step: planned, Index: index}
	return handler.Execute(ctx, sc)
}

// recordStepCompleted appends the step row and advances the instance cursor
// in one transaction, so a crash after step N leaves CurrentStep == N.
func (e *Engine) recordStepCompleted(instance models.WorkflowInstance, planned PlannedStep, index int) (err error) {
	txStore, err := e.store.Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				e.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			e.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()

	now := time.Now()
	if _, err = txStore.AppendWorkflowStep(models.WorkflowStep{
		WorkflowID: instance.ID,
		Name:       planned.Name,
		Type:       planned.Type,
		Status:     models.CompletedStepStatus,
		StartedAt:  now,
		FinishedAt: &now,
		ExecutedBy: instance.InitiatedBy,
	}); err != nil {
		return errors.Wrapf(err, "failed to record step %d for workflow %s", index, instance.ID)
	}
	// Preserve the live status: a cancellation that landed while the step
	// was executing must not be overwritten back to RUNNING.
	current, err := txStore.GetWorkflowInstance(instance.ID)
	if err != nil {
		return errors.Wrapf(err, "failed to reload workflow %s", instance.ID)
	}
	if err = txStore.UpdateWorkflowInstance(instance.ID, current.Status, index, current.ErrorMsg, current.FinishedAt); err != nil {
		return errors.Wrapf(err, "failed to advance workflow %s to step %d", instance.ID, index)
	}
	return nil
}

// handleWorkflowFailure records the failed step, marks the instance FAILED
// and publishes the failure event. Completed side effects stay in place
// unless compensation is enabled.
func (e *Engine) handleWorkflowFailure(ctx context.Context, instance models.WorkflowInstance, plan []PlannedStep, failedIndex int, stepErr error) error {
	now := time.Now()
	if _, err := e.store.AppendWorkflowStep(models.WorkflowStep{
		WorkflowID: instance.ID,
		Name:       plan[failedIndex-1].Name,
		Type:       plan[failedIndex-1].Type,
		Status:     models.FailedStepStatus,
		StartedAt:  now,
		FinishedAt: &now,
		ErrorMsg:   stepErr.Error(),
		ExecutedBy: instance.InitiatedBy,
	}); err != nil {
		return errors.Wrapf(err, "failed to record failed step for workflow %s", instance.ID)
	}
	if err := e.store.UpdateWorkflowInstance(instance.ID, models.FailedWorkflowStatus, failedIndex-1, stepErr.Error(), &now); err != nil {
		return errors.Wrapf(err, "failed to mark workflow %s as failed", instance.ID)
	}

	e.mu.RLock()
	compensate := e.compensate
	e.mu.RUnlock()
	if compensate {
		for i := failedIndex - 1; i >= 1; i-- {
			h, ok := e.handler(plan[i-1].Type)
			if !ok {
				continue
			}
			sc := StepContext{Instance: instance, Step: plan[i-1], Index: i}
			if compErr := h.Compensate(ctx, sc); compErr != nil {
				e.logger.Errorf("Compensation for step %d '%s' of workflow %s failed: %v", i, plan[i-1].Name, instance.ID, compErr)
			}
		}
	}

	e.publish(ctx, instance, models.WorkflowFailedEvent, map[string]interface{}{
		"workflow_type": instance.WorkflowType,
		"failed_step":   plan[failedIndex-1].Name,
		"step_index":    failedIndex,
		"error":         stepErr.Error(),
	})
	metrics.StepsExecuted.WithLabelValues(string(plan[failedIndex-1].Type), "failed").Inc()
	metrics.WorkflowsFinished.WithLabelValues(instance.WorkflowType, "failed").Inc()
	e.logger.Errorf("Workflow %s failed at step %d: %v", instance.ID, failedIndex, stepErr)
	return nil
}

// GetWorkflowStatus returns a read-only snapshot: progress percentage, the
// completed step list and the most recent events (bounded to the last 10).
// A missing workflow yields a failure snapshot, never an error.
func (e *Engine) GetWorkflowStatus(ctx context.Context, workflowID string) (*StatusSnapshot, error) {
	instance, err := e.store.GetWorkflowInstance(workflowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &StatusSnapshot{Success: false, Message: fmt.Sprintf("workflow %s not found", workflowID)}, nil
		}
		return nil, errors.Wrapf(err, "failed to load workflow %s", workflowID)
	}

	steps, err := e.store.ListWorkflowSteps(workflowID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load steps for workflow %s", workflowID)
	}
	var completed []models.WorkflowStep
	for _, s := range steps {
		if s.Status == models.CompletedStepStatus {
			completed = append(completed, s)
		}
	}

	events, err := e.store.ListRecentEvents(workflowID, 10)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load events for workflow %s", workflowID)
	}

	progress := 0.0
	if instance.TotalSteps > 0 {
		progress = float64(instance.CurrentStep) / float64(instance.TotalSteps) * 100
	}
	return &StatusSnapshot{
		Success:        true,
		Instance:       instance,
		Progress:       progress,
		CompletedSteps: completed,
		RecentEvents:   events,
	}, nil
}

// ListWorkflows returns every workflow instance, newest first.
func (e *Engine) ListWorkflows() ([]models.WorkflowInstance, error) {
	return e.store.ListWorkflowInstances()
}

// CancelWorkflow moves a running instance to CANCELLED. Any in-flight step
// is allowed to finish; no subsequent step will be scheduled.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID, userID string) (*WorkflowExecutionResult, error) {
	instance, err := e.store.GetWorkflowInstance(workflowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &WorkflowExecutionResult{Success: false, Message: fmt.Sprintf("workflow %s not found", workflowID)}, nil
		}
		return nil, errors.Wrapf(err, "failed to load workflow %s", workflowID)
	}
	if instance.Status.Terminal() {
		return &WorkflowExecutionResult{
			Success: false,
			Message: fmt.Sprintf("workflow %s is already %s", workflowID, instance.Status),
			WorkflowID: workflowID, Status: instance.Status,
		}, nil
	}

	now := time.Now()
	if err := e.store.UpdateWorkflowInstance(workflowID, models.CancelledWorkflowStatus, instance.CurrentStep, "", &now); err != nil {
		return nil, errors.Wrapf(err, "failed to cancel workflow %s", workflowID)
	}
	e.publish(ctx, instance, models.WorkflowCancelledEvent, map[string]interface{}{
		"workflow_type": instance.WorkflowType,
		"cancelled_by":  userID,
		"at_step":       instance.CurrentStep,
	})
	metrics.WorkflowsFinished.WithLabelValues(instance.WorkflowType, "cancelled").Inc()
	e.logger.Infof("Workflow %s cancelled by %s at step %d", workflowID, userID, instance.CurrentStep)
	return &WorkflowExecutionResult{
		Success: true, Message: "workflow cancelled",
		WorkflowID: workflowID, Status: models.CancelledWorkflowStatus,
	}, nil
}

// ResumeWorkflow re-enters RUNNING from a cancelled instance and continues
// from the step after the last durably completed one. Completed steps are
// never re-executed.
func (e *Engine) ResumeWorkflow(ctx context.Context, workflowID string) (*WorkflowExecutionResult, error) {
	instance, err := e.store.GetWorkflowInstance(workflowID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &WorkflowExecutionResult{Success: false, Message: fmt.Sprintf("workflow %s not found", workflowID)}, nil
		}
		return nil, errors.Wrapf(err, "failed to load workflow %s", workflowID)
	}
	if instance.Status != models.CancelledWorkflowStatus {
		return &WorkflowExecutionResult{
			Success: false,
			Message: fmt.Sprintf("workflow %s is %s, only cancelled workflows can be resumed", workflowID, instance.Status),
			WorkflowID: workflowID, Status: instance.Status,
		}, nil
	}

	plan, err := e.planner.GenerateExecutionPlan(ctx, WorkflowRequest{
		WorkflowType:  instance.WorkflowType,
		UserID:        instance.InitiatedBy,
		Configuration: instance.Configuration,
	})
	if err != nil {
		return &WorkflowExecutionResult{Success: false, Message: fmt.Sprintf("replanning failed: %v", err)}, nil
	}

	if err := e.store.UpdateWorkflowInstance(workflowID, models.RunningWorkflowStatus, instance.CurrentStep, "", nil); err != nil {
		return nil, errors.Wrapf(err, "failed to resume workflow %s", workflowID)
	}
	e.logger.Infof("Resumed workflow %s from step %d", workflowID, instance.CurrentStep+1)
	return e.runSteps(ctx, instance, plan, instance.CurrentStep+1)
}

func (e *Engine) saveInstance(instance models.WorkflowInstance) (err error) {
	txStore, err := e.store.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rollbackErr := txStore.Rollback(); rollbackErr != nil {
				e.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
			}
			return
		}
		if commitErr := txStore.Commit(); commitErr != nil {
			e.logger.Errorf("Failed to commit: %v", commitErr)
			err = commitErr
		}
	}()
	return txStore.SaveWorkflowInstance(instance)
}

// publish emits a lifecycle event. Publish failures are logged, never
// propagated: event delivery must not corrupt workflow bookkeeping.
func (e *Engine) publish(ctx context.Context, instance models.WorkflowInstance, t models.EventType, payload map[string]interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		e.logger.Errorf("Failed to marshal %s payload for workflow %s: %v", t, instance.ID, err)
		return
	}
	if err := e.events.PublishEvent(ctx, models.WorkflowEvent{
		WorkflowID:  instance.ID,
		Type:        t,
		Payload:     body,
		InitiatedBy: instance.InitiatedBy,
	}); err != nil {
		e.logger.Errorf("Failed to publish %s event for workflow %s: %v", t, instance.ID, err)
	}
}
