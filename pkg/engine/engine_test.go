package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/engine"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []models.WorkflowEvent
}

func (p *capturingPublisher) PublishEvent(ctx context.Context, e models.WorkflowEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *capturingPublisher) types() []models.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []models.EventType
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func okHandler() engine.StepHandler {
	return engine.StepHandlerFunc(func(ctx context.Context, sc engine.StepContext) error { return nil })
}

func registerAll(eng *engine.Engine, h engine.StepHandler) {
	for _, t := range []models.StepType{
		models.DataValidationStep,
		models.ResourceAllocationStep,
		models.ServiceCallStep,
		models.ApprovalStep,
		models.NotificationStep,
	} {
		eng.RegisterHandler(t, h)
	}
}

func newEngine() (*engine.Engine, storage.Store, *capturingPublisher, *engine.StaticPlanner) {
	store := storage.NewMockStore()
	publisher := &capturingPublisher{}
	planner := engine.NewStaticPlanner()
	eng := engine.New(store, planner, publisher, logger{})
	return eng, store, publisher, planner
}

func TestExecuteWorkflow_Completes(t *testing.T) {
	eng, store, publisher, _ := newEngine()
	registerAll(eng, okHandler())

	result, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{
		WorkflowType: "AssetRepair",
		UserID:       "user-1",
	})
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.CompletedWorkflowStatus, result.Status)
	assert.Equal(t, 4, result.StepsRun)

	wf, err := store.GetWorkflowInstance(result.WorkflowID)
	assert.NoError(t, err)
	assert.Equal(t, models.CompletedWorkflowStatus, wf.Status)
	assert.Equal(t, wf.TotalSteps, wf.CurrentStep)
	assert.NotNil(t, wf.FinishedAt)

	steps, err := store.ListWorkflowSteps(result.WorkflowID)
	assert.NoError(t, err)
	assert.Len(t, steps, 4)
	for _, s := range steps {
		assert.Equal(t, models.CompletedStepStatus, s.Status)
		assert.Equal(t, "user-1", s.ExecutedBy)
	}

	types := publisher.types()
	assert.Contains(t, types, models.WorkflowCompletedEvent)
	completed := 0
	for _, et := range types {
		if et == models.StepCompletedEvent {
			completed++
		}
	}
	assert.Equal(t, 4, completed)
}

func TestExecuteWorkflow_Validation(t *testing.T) {
	eng, _, _, _ := newEngine()
	registerAll(eng, okHandler())

	t.Run("MissingType", func(t *testing.T) {
		result, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{UserID: "user-1"})
		assert.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "workflow type")
	})

	t.Run("MissingUser", func(t *testing.T) {
		result, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{WorkflowType: "AssetRepair"})
		assert.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "user id")
	})

	t.Run("UnknownType", func(t *testing.T) {
		result, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{
			WorkflowType: "Unknown", UserID: "user-1",
		})
		assert.NoError(t, err)
		assert.False(t, result.Success)
		assert.Contains(t, result.Message, "planning failed")
	})
}

func TestExecuteWorkflow_FailureMidway(t *testing.T) {
	eng, store, publisher, _ := newEngine()
	registerAll(eng, okHandler())
	eng.RegisterHandler(models.ServiceCallStep, engine.StepHandlerFunc(
		func(ctx context.Context, sc engine.StepContext) error {
			return errors.New("downstream unavailable")
		}))

	// RequestProcessing fails at step 3, the service call.
	result, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{
		WorkflowType: "RequestProcessing",
		UserID:       "user-1",
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.FailedWorkflowStatus, result.Status)
	assert.Contains(t, result.Message, "downstream unavailable")

	wf, err := store.GetWorkflowInstance(result.WorkflowID)
	assert.NoError(t, err)
	assert.Equal(t, models.FailedWorkflowStatus, wf.Status)
	assert.Equal(t, 2, wf.CurrentStep)
	assert.Contains(t, wf.ErrorMsg, "downstream unavailable")

	steps, err := store.ListWorkflowSteps(result.WorkflowID)
	assert.NoError(t, err)
	assert.Len(t, steps, 3)
	assert.Equal(t, models.CompletedStepStatus, steps[0].Status)
	assert.Equal(t, models.CompletedStepStatus, steps[1].Status)
	assert.Equal(t, models.FailedStepStatus, steps[2].Status)
	assert.Contains(t, steps[2].ErrorMsg, "downstream unavailable")

	assert.Contains(t, publisher.types(), models.WorkflowFailedEvent)
}

func TestExecuteWorkflow_PanickingHandler(t *testing.T) {
	eng, store, _, _ := newEngine()
	registerAll(eng, engine.StepHandlerFunc(
		func(ctx context.Context, sc engine.StepContext) error {
			panic("boom")
		}))

	result, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{
		WorkflowType: "AutoFulfillment",
		UserID:       "user-1",
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "panicked")

	wf, err := store.GetWorkflowInstance(result.WorkflowID)
	assert.NoError(t, err)
	assert.Equal(t, models.FailedWorkflowStatus, wf.Status)
	assert.Equal(t, 0, wf.CurrentStep)
}

func TestExecuteWorkflow_MissingHandler(t *testing.T) {
	eng, store, _, _ := newEngine()

	result, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{
		WorkflowType: "AssetRepair",
		UserID:       "user-1",
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "no handler registered")

	steps, err := store.ListWorkflowSteps(result.WorkflowID)
	assert.NoError(t, err)
	assert.Len(t, steps, 1)
	assert.Equal(t, models.FailedStepStatus, steps[0].Status)
}

func TestExecuteWorkflow_Compensation(t *testing.T) {
	eng, _, _, planner := newEngine()
	eng.EnableCompensation()
	planner.RegisterPlan("Compensated", []engine.PlannedStep{
		{Name: "first", Type: models.ResourceAllocationStep},
		{Name: "second", Type: models.ResourceAllocationStep},
		{Name: "third", Type: models.ServiceCallStep},
	})

	var mu sync.Mutex
	var compensated []string
	eng.RegisterHandler(models.ResourceAllocationStep, compensatingHandler{
		execute: func(ctx context.Context, sc engine.StepContext) error { return nil },
		compensate: func(ctx context.Context, sc engine.StepContext) error {
			mu.Lock()
			compensated = append(compensated, sc.Step.Name)
			mu.Unlock()
			return nil
		},
	})
	eng.RegisterHandler(models.ServiceCallStep, engine.StepHandlerFunc(
		func(ctx context.Context, sc engine.StepContext) error {
			return errors.New("service down")
		}))

	result, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{
		WorkflowType: "Compensated",
		UserID:       "user-1",
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	// Reverse order of completion.
	assert.Equal(t, []string{"second", "first"}, compensated)
}

type compensatingHandler struct {
	execute    func(ctx context.Context, sc engine.StepContext) error
	compensate func(ctx context.Context, sc engine.StepContext) error
}

func (h compensatingHandler) Execute(ctx context.Context, sc engine.StepContext) error {
	return h.execute(ctx, sc)
}

func (h compensatingHandler) Compensate(ctx context.Context, sc engine.StepContext) error {
	return h.compensate(ctx, sc)
}

func TestGetWorkflowStatus(t *testing.T) {
	eng, _, _, _ := newEngine()
	registerAll(eng, okHandler())

	t.Run("Missing", func(t *testing.T) {
		snapshot, err := eng.GetWorkflowStatus(context.Background(), "no-such-id")
		assert.NoError(t, err)
		assert.False(t, snapshot.Success)
		assert.Contains(t, snapshot.Message, "not found")
	})

	t.Run("Completed", func(t *testing.T) {
		result, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{
			WorkflowType: "AssetRepair",
			UserID:       "user-1",
		})
		assert.NoError(t, err)
		assert.True(t, result.Success)

		snapshot, err := eng.GetWorkflowStatus(context.Background(), result.WorkflowID)
		assert.NoError(t, err)
		assert.True(t, snapshot.Success)
		assert.Equal(t, 100.0, snapshot.Progress)
		assert.Len(t, snapshot.CompletedSteps, 4)
	})
}

func TestCancelAndResume(t *testing.T) {
	eng, store, publisher, planner := newEngine()
	planner.RegisterPlan("LongRunning", []engine.PlannedStep{
		{Name: "step one", Type: models.ResourceAllocationStep},
		{Name: "step two", Type: models.ResourceAllocationStep},
		{Name: "step three", Type: models.ResourceAllocationStep},
		{Name: "step four", Type: models.ResourceAllocationStep},
	})

	cancelled := false
	eng.RegisterHandler(models.ResourceAllocationStep, engine.StepHandlerFunc(
		func(ctx context.Context, sc engine.StepContext) error {
			if sc.Index == 2 && !cancelled {
				cancelled = true
				res, err := eng.CancelWorkflow(ctx, sc.Instance.ID, "operator")
				assert.NoError(t, err)
				assert.True(t, res.Success)
			}
			return nil
		}))

	result, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{
		WorkflowType: "LongRunning",
		UserID:       "user-1",
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.CancelledWorkflowStatus, result.Status)
	// The in-flight step finished, nothing after it ran.
	assert.Equal(t, 2, result.StepsRun)

	steps, err := store.ListWorkflowSteps(result.WorkflowID)
	assert.NoError(t, err)
	assert.Len(t, steps, 2)
	assert.Contains(t, publisher.types(), models.WorkflowCancelledEvent)

	t.Run("CancelTerminal", func(t *testing.T) {
		res, err := eng.CancelWorkflow(context.Background(), result.WorkflowID, "operator")
		assert.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "already")
	})

	t.Run("Resume", func(t *testing.T) {
		res, err := eng.ResumeWorkflow(context.Background(), result.WorkflowID)
		assert.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, models.CompletedWorkflowStatus, res.Status)
		// Only the remaining steps ran.
		assert.Equal(t, 2, res.StepsRun)

		wf, err := store.GetWorkflowInstance(result.WorkflowID)
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedWorkflowStatus, wf.Status)
		assert.Equal(t, 4, wf.CurrentStep)

		steps, err := store.ListWorkflowSteps(result.WorkflowID)
		assert.NoError(t, err)
		assert.Len(t, steps, 4)
	})

	t.Run("ResumeNonCancelled", func(t *testing.T) {
		res, err := eng.ResumeWorkflow(context.Background(), result.WorkflowID)
		assert.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Message, "only cancelled workflows")
	})
}

func TestListWorkflows(t *testing.T) {
	eng, _, _, _ := newEngine()
	registerAll(eng, okHandler())

	for i := 0; i < 3; i++ {
		_, err := eng.ExecuteWorkflow(context.Background(), engine.WorkflowRequest{
			WorkflowType: "AutoFulfillment",
			UserID:       "user-1",
		})
		assert.NoError(t, err)
	}
	instances, err := eng.ListWorkflows()
	assert.NoError(t, err)
	assert.Len(t, instances, 3)
}

func TestValidationHandler(t *testing.T) {
	h := engine.ValidationHandler()

	t.Run("EmptyConfiguration", func(t *testing.T) {
		err := h.Execute(context.Background(), engine.StepContext{Instance: models.WorkflowInstance{ID: "wf-1"}})
		assert.NoError(t, err)
	})

	t.Run("ValidJSON", func(t *testing.T) {
		err := h.Execute(context.Background(), engine.StepContext{Instance: models.WorkflowInstance{
			ID: "wf-1", Configuration: json.RawMessage(`{"recipe":"asset_repair"}`),
		}})
		assert.NoError(t, err)
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		err := h.Execute(context.Background(), engine.StepContext{Instance: models.WorkflowInstance{
			ID: "wf-1", Configuration: json.RawMessage(`{"recipe":`),
		}})
		assert.Error(t, err)
	})
}

func TestStaticPlanner_MakeDecision(t *testing.T) {
	planner := engine.NewStaticPlanner()

	decision, err := planner.MakeDecision(context.Background(), engine.DecisionRequest{
		Subject: "auto_fulfill",
		Context: map[string]interface{}{"stock_available": true},
	})
	assert.NoError(t, err)
	assert.Equal(t, "FULFILL", decision.Decision)
	assert.GreaterOrEqual(t, decision.ConfidenceScore, 0.8)

	decision, err = planner.MakeDecision(context.Background(), engine.DecisionRequest{
		Subject: "auto_fulfill",
		Context: map[string]interface{}{"stock_available": false},
	})
	assert.NoError(t, err)
	assert.Equal(t, "PROCURE", decision.Decision)

	_, err = planner.MakeDecision(context.Background(), engine.DecisionRequest{Subject: "unknown"})
	assert.Error(t, err)
}
