package storage_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	internal_storage "github.com/gmaisuradze-adm/it-asset-management-sub001/internal/storage"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/internal/testutil"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
)

func newInstance() models.WorkflowInstance {
	return models.WorkflowInstance{
		ID:            uuid.NewString(),
		WorkflowType:  "AssetRepair",
		Status:        models.RunningWorkflowStatus,
		CurrentStep:   0,
		TotalSteps:    4,
		StartedAt:     time.Now(),
		InitiatedBy:   "user-1",
		Configuration: json.RawMessage(`{"recipe":"asset_repair","request_id":100}`),
	}
}

func newEvent() models.WorkflowEvent {
	return models.WorkflowEvent{
		ID:         uuid.NewString(),
		WorkflowID: "wf-1",
		Type:       models.StepCompletedEvent,
		Payload:    json.RawMessage(`{"step":"validate"}`),
		OccurredAt: time.Now(),
	}
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed store test in short mode")
	}
	td := testutil.SetupTestDB(t)
	defer td.Teardown(t)

	store, err := internal_storage.NewPostgresStore(td.ConnStr)
	assert.NoError(t, err)

	t.Run("WorkflowInstanceLifecycle", func(t *testing.T) {
		wi := newInstance()
		assert.NoError(t, store.SaveWorkflowInstance(wi))

		got, err := store.GetWorkflowInstance(wi.ID)
		assert.NoError(t, err)
		assert.Equal(t, wi.WorkflowType, got.WorkflowType)
		assert.Equal(t, models.RunningWorkflowStatus, got.Status)
		assert.JSONEq(t, string(wi.Configuration), string(got.Configuration))

		now := time.Now()
		assert.NoError(t, store.UpdateWorkflowInstance(wi.ID, models.CompletedWorkflowStatus, 4, "", &now))
		got, err = store.GetWorkflowInstance(wi.ID)
		assert.NoError(t, err)
		assert.Equal(t, models.CompletedWorkflowStatus, got.Status)
		assert.Equal(t, 4, got.CurrentStep)
		assert.NotNil(t, got.FinishedAt)

		_, err = store.GetWorkflowInstance("no-such-id")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, store.UpdateWorkflowInstance("no-such-id", models.FailedWorkflowStatus, 0, "", nil), storage.ErrNotFound)

		instances, err := store.ListWorkflowInstances()
		assert.NoError(t, err)
		assert.NotEmpty(t, instances)
	})

	t.Run("WorkflowSteps", func(t *testing.T) {
		wi := newInstance()
		assert.NoError(t, store.SaveWorkflowInstance(wi))

		now := time.Now()
		for _, name := range []string{"validate", "allocate"} {
			_, err := store.AppendWorkflowStep(models.WorkflowStep{
				WorkflowID: wi.ID,
				Name:       name,
				Type:       models.DataValidationStep,
				Status:     models.CompletedStepStatus,
				StartedAt:  now,
				FinishedAt: &now,
				ExecutedBy: "user-1",
			})
			assert.NoError(t, err)
		}

		steps, err := store.ListWorkflowSteps(wi.ID)
		assert.NoError(t, err)
		assert.Len(t, steps, 2)
		assert.Equal(t, "validate", steps[0].Name)
		assert.Equal(t, "allocate", steps[1].Name)
	})

	t.Run("EventClaim", func(t *testing.T) {
		e := newEvent()
		assert.NoError(t, store.SaveEvent(e))

		pending, err := store.ListPendingEvents(50)
		assert.NoError(t, err)
		found := false
		for _, p := range pending {
			if p.ID == e.ID {
				found = true
			}
		}
		assert.True(t, found)

		claimed, err := store.ClaimEvent(e.ID, time.Now())
		assert.NoError(t, err)
		assert.True(t, claimed)

		// The second claim loses.
		claimed, err = store.ClaimEvent(e.ID, time.Now())
		assert.NoError(t, err)
		assert.False(t, claimed)

		assert.NoError(t, store.SetEventResult(e.ID, "matched=1 sent=1 errors=0"))
		got, err := store.GetEvent(e.ID)
		assert.NoError(t, err)
		assert.True(t, got.Processed)
		assert.Equal(t, "matched=1 sent=1 errors=0", got.ProcessingResult)
	})

	t.Run("MarkEventProcessed", func(t *testing.T) {
		e := newEvent()
		assert.NoError(t, store.SaveEvent(e))

		ok, err := store.MarkEventProcessed(e.ID, "done", time.Now())
		assert.NoError(t, err)
		assert.True(t, ok)

		// Idempotent second call.
		ok, err = store.MarkEventProcessed(e.ID, "done again", time.Now())
		assert.NoError(t, err)
		assert.False(t, ok)

		_, err = store.MarkEventProcessed("no-such-event", "x", time.Now())
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("RecentEvents", func(t *testing.T) {
		workflowID := uuid.NewString()
		for i := 0; i < 3; i++ {
			e := newEvent()
			e.WorkflowID = workflowID
			e.OccurredAt = time.Now().Add(time.Duration(i) * time.Second)
			assert.NoError(t, store.SaveEvent(e))
		}
		events, err := store.ListRecentEvents(workflowID, 2)
		assert.NoError(t, err)
		assert.Len(t, events, 2)
		assert.True(t, events[0].OccurredAt.After(events[1].OccurredAt))
	})

	t.Run("SubscriptionLifecycle", func(t *testing.T) {
		now := time.Now()
		id, err := store.SaveSubscription(models.EventSubscription{
			Name:      "failures",
			EventType: models.WorkflowFailedEvent,
			Filter:    json.RawMessage(`{"workflow_type":"AssetRepair"}`),
			Notify:    json.RawMessage(`{"recipient":"ops-team"}`),
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		})
		assert.NoError(t, err)
		assert.NotZero(t, id)

		sub, err := store.GetSubscription(id)
		assert.NoError(t, err)
		assert.Equal(t, "failures", sub.Name)
		assert.JSONEq(t, `{"workflow_type":"AssetRepair"}`, string(sub.Filter))

		// Partial update touches only the provided fields.
		inactive := false
		description := "paused"
		assert.NoError(t, store.UpdateSubscription(id, models.SubscriptionUpdate{
			Active:      &inactive,
			Description: &description,
		}))
		sub, err = store.GetSubscription(id)
		assert.NoError(t, err)
		assert.False(t, sub.Active)
		assert.Equal(t, "paused", sub.Description)
		assert.Equal(t, "failures", sub.Name)

		active, err := store.ListActiveSubscriptions(models.WorkflowFailedEvent)
		assert.NoError(t, err)
		for _, s := range active {
			assert.NotEqual(t, id, s.ID)
		}

		assert.NoError(t, store.DeleteSubscription(id))
		_, err = store.GetSubscription(id)
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, store.DeleteSubscription(id), storage.ErrNotFound)
	})

	t.Run("NotificationStatusGuard", func(t *testing.T) {
		id, err := store.SaveNotification(models.Notification{
			Recipient: "user-1",
			Title:     "Repair scheduled",
			Type:      models.InAppNotification,
			Status:    models.CreatedNotificationStatus,
			CreatedAt: time.Now(),
		})
		assert.NoError(t, err)

		assert.NoError(t, store.UpdateNotificationStatus(id, models.DeliveredNotificationStatus, time.Now()))
		n, err := store.GetNotification(id)
		assert.NoError(t, err)
		assert.Equal(t, models.DeliveredNotificationStatus, n.Status)
		assert.NotNil(t, n.DeliveredAt)

		// Terminal status never changes again.
		assert.ErrorIs(t, store.UpdateNotificationStatus(id, models.FailedNotificationStatus, time.Now()), storage.ErrNotFound)

		notifications, err := store.ListNotifications("user-1")
		assert.NoError(t, err)
		assert.NotEmpty(t, notifications)
	})

	t.Run("TransactionRollback", func(t *testing.T) {
		wi := newInstance()

		tx, err := store.Begin()
		assert.NoError(t, err)
		assert.NoError(t, tx.SaveWorkflowInstance(wi))
		assert.NoError(t, tx.Rollback())

		_, err = store.GetWorkflowInstance(wi.ID)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("TransactionCommit", func(t *testing.T) {
		wi := newInstance()

		tx, err := store.Begin()
		assert.NoError(t, err)
		assert.NoError(t, tx.SaveWorkflowInstance(wi))
		_, err = tx.AppendWorkflowStep(models.WorkflowStep{
			WorkflowID: wi.ID,
			Name:       "validate",
			Type:       models.DataValidationStep,
			Status:     models.CompletedStepStatus,
			StartedAt:  time.Now(),
			ExecutedBy: "user-1",
		})
		assert.NoError(t, err)
		assert.NoError(t, tx.Commit())

		got, err := store.GetWorkflowInstance(wi.ID)
		assert.NoError(t, err)
		assert.Equal(t, wi.ID, got.ID)
		steps, err := store.ListWorkflowSteps(wi.ID)
		assert.NoError(t, err)
		assert.Len(t, steps, 1)
	})

	assert.NoError(t, store.Close())
}
