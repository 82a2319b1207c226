package eventbus_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/eventbus"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/notify"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/subscription"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

func newBus() (*eventbus.Bus, storage.Store, *subscription.Registry, *notify.Dispatcher) {
	store := storage.NewMockStore()
	registry := subscription.NewRegistry(store, logger{})
	dispatcher := notify.NewDispatcher(store, logger{})
	dispatcher.RegisterSender(models.InAppNotification, notify.SenderFunc(
		func(ctx context.Context, n models.Notification) error { return nil }))
	dispatcher.RegisterSender(models.EmailNotification, notify.SenderFunc(
		func(ctx context.Context, n models.Notification) error { return nil }))
	bus := eventbus.NewBus(store, registry, dispatcher, logger{})
	return bus, store, registry, dispatcher
}

func subscribe(t *testing.T, registry *subscription.Registry, name string, eventType models.EventType, filter string) int64 {
	t.Helper()
	sub := models.EventSubscription{
		Name:      name,
		EventType: eventType,
		Notify:    json.RawMessage(`{"recipient":"ops-team","title":"Event","message":"Something happened"}`),
	}
	if filter != "" {
		sub.Filter = json.RawMessage(filter)
	}
	id, err := registry.Create(sub)
	assert.NoError(t, err)
	return id
}

func TestPublishEvent_StampsAndPersists(t *testing.T) {
	bus, store, _, _ := newBus()

	err := bus.PublishEvent(context.Background(), models.WorkflowEvent{
		WorkflowID: "wf-1",
		Type:       models.StepCompletedEvent,
		Payload:    json.RawMessage(`{"step":"validate"}`),
	})
	assert.NoError(t, err)

	pending, err := bus.GetPendingEvents(10)
	assert.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.NotEmpty(t, pending[0].ID)
	assert.False(t, pending[0].OccurredAt.IsZero())
	assert.False(t, pending[0].Processed)

	_, err = store.GetEvent(pending[0].ID)
	assert.NoError(t, err)
}

func TestPublishEventBatch(t *testing.T) {
	bus, _, _, _ := newBus()

	events := make([]models.WorkflowEvent, 5)
	for i := range events {
		events[i] = models.WorkflowEvent{
			WorkflowID: "wf-1",
			Type:       models.StepCompletedEvent,
			Payload:    json.RawMessage(fmt.Sprintf(`{"step":%d}`, i)),
		}
	}
	assert.NoError(t, bus.PublishEventBatch(context.Background(), events))

	pending, err := bus.GetPendingEvents(10)
	assert.NoError(t, err)
	assert.Len(t, pending, 5)
}

func TestProcessEvent_DeliversToMatchingSubscriptions(t *testing.T) {
	bus, store, registry, _ := newBus()
	subscribe(t, registry, "repairs", models.AssetStatusChangedEvent, `{"status":"UNDER_MAINTENANCE"}`)
	subscribe(t, registry, "write-offs", models.AssetStatusChangedEvent, `{"status":"WRITTEN_OFF"}`)
	subscribe(t, registry, "procurement", models.ProcurementCreatedEvent, "")

	event := models.WorkflowEvent{
		ID:         "evt-1",
		Type:       models.AssetStatusChangedEvent,
		Payload:    json.RawMessage(`{"asset_id":7,"status":"UNDER_MAINTENANCE"}`),
		OccurredAt: time.Now(),
	}
	assert.NoError(t, store.SaveEvent(event))

	result := bus.ProcessEvent(context.Background(), event)
	assert.True(t, result.Processed)
	assert.False(t, result.AlreadyProcessed)
	assert.Equal(t, 1, result.MatchedSubscribers)
	assert.Equal(t, 1, result.NotificationsSent)
	assert.Empty(t, result.Errors)

	stored, err := store.GetEvent("evt-1")
	assert.NoError(t, err)
	assert.True(t, stored.Processed)
	assert.Contains(t, stored.ProcessingResult, "matched=1 sent=1")

	notifications, err := store.ListNotifications("ops-team")
	assert.NoError(t, err)
	assert.Len(t, notifications, 1)
	assert.Equal(t, models.DeliveredNotificationStatus, notifications[0].Status)
	assert.Equal(t, "event:evt-1", notifications[0].RelatedEntity)
}

func TestProcessEvent_AtMostOnce(t *testing.T) {
	bus, store, registry, _ := newBus()
	subscribe(t, registry, "all-steps", models.StepCompletedEvent, "")

	event := models.WorkflowEvent{
		ID:         "evt-1",
		Type:       models.StepCompletedEvent,
		Payload:    json.RawMessage(`{"step":"validate"}`),
		OccurredAt: time.Now(),
	}
	assert.NoError(t, store.SaveEvent(event))

	first := bus.ProcessEvent(context.Background(), event)
	assert.True(t, first.Processed)

	second := bus.ProcessEvent(context.Background(), event)
	assert.True(t, second.AlreadyProcessed)
	assert.False(t, second.Processed)
	assert.Zero(t, second.NotificationsSent)

	// Still exactly one notification for the matching subscription.
	notifications, err := store.ListNotifications("ops-team")
	assert.NoError(t, err)
	assert.Len(t, notifications, 1)
}

func TestProcessEvent_MalformedFilterIsIsolated(t *testing.T) {
	bus, store, registry, _ := newBus()
	subscribe(t, registry, "good", models.StepCompletedEvent, "")
	subscribe(t, registry, "broken", models.StepCompletedEvent, `{"step":`)

	event := models.WorkflowEvent{
		ID:         "evt-1",
		Type:       models.StepCompletedEvent,
		Payload:    json.RawMessage(`{"step":"validate"}`),
		OccurredAt: time.Now(),
	}
	assert.NoError(t, store.SaveEvent(event))

	result := bus.ProcessEvent(context.Background(), event)
	assert.True(t, result.Processed)
	assert.Equal(t, 1, result.MatchedSubscribers)
	assert.Equal(t, 1, result.NotificationsSent)
	assert.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "broken")
}

func TestProcessEventBatch_IsolatesFailures(t *testing.T) {
	bus, _, registry, _ := newBus()
	subscribe(t, registry, "steps", models.StepCompletedEvent, `{"step":"validate"}`)

	var events []models.WorkflowEvent
	for i := 0; i < 10; i++ {
		payload := `{"step":"validate"}`
		if i < 3 {
			payload = `{"step":` // malformed, filter evaluation fails
		}
		events = append(events, models.WorkflowEvent{
			Type:    models.StepCompletedEvent,
			Payload: json.RawMessage(payload),
		})
	}
	assert.NoError(t, bus.PublishEventBatch(context.Background(), events))

	pending, err := bus.GetPendingEvents(20)
	assert.NoError(t, err)
	assert.Len(t, pending, 10)

	result := bus.ProcessEventBatch(context.Background(), pending)
	assert.Equal(t, 10, result.ProcessedEvents+result.FailedEvents)
	assert.Equal(t, 3, result.FailedEvents)
	assert.Len(t, result.Errors, 3)

	// Every event is finalized regardless of per-subscription errors.
	remaining, err := bus.GetPendingEvents(20)
	assert.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestRegisterAction(t *testing.T) {
	bus, store, _, _ := newBus()

	var fired []string
	bus.RegisterAction(models.ProcurementCreatedEvent, func(ctx context.Context, e models.WorkflowEvent) error {
		fired = append(fired, e.ID)
		return nil
	})
	bus.RegisterAction(models.ProcurementCreatedEvent, func(ctx context.Context, e models.WorkflowEvent) error {
		return errors.New("side action broke")
	})
	bus.RegisterAction(models.ProcurementCreatedEvent, func(ctx context.Context, e models.WorkflowEvent) error {
		panic("side action panicked")
	})

	event := models.WorkflowEvent{
		ID:         "evt-1",
		Type:       models.ProcurementCreatedEvent,
		OccurredAt: time.Now(),
	}
	assert.NoError(t, store.SaveEvent(event))

	result := bus.ProcessEvent(context.Background(), event)
	assert.True(t, result.Processed)
	assert.Equal(t, []string{"evt-1"}, fired)
	assert.Len(t, result.Errors, 2)
}

func TestMarkProcessed_Idempotent(t *testing.T) {
	bus, _, _, _ := newBus()

	assert.NoError(t, bus.PublishEvent(context.Background(), models.WorkflowEvent{
		ID:   "evt-1",
		Type: models.StepCompletedEvent,
	}))

	ok, err := bus.MarkProcessed(context.Background(), "evt-1", "handled externally")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = bus.MarkProcessed(context.Background(), "evt-1", "handled again")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, err = bus.MarkProcessed(context.Background(), "no-such-event", "x")
	assert.Error(t, err)
}

func TestHighPriorityDispatch(t *testing.T) {
	bus, store, registry, _ := newBus()
	subscribe(t, registry, "failures", models.WorkflowFailedEvent, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus.Start(ctx)
	defer bus.Stop()

	assert.NoError(t, bus.PublishEvent(ctx, models.WorkflowEvent{
		ID:         "evt-fail",
		WorkflowID: "wf-1",
		Type:       models.WorkflowFailedEvent,
		Payload:    json.RawMessage(`{"error":"step 3 failed"}`),
	}))

	// The priority worker picks the event up without waiting for a poller.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		e, err := store.GetEvent("evt-fail")
		assert.NoError(t, err)
		if e.Processed && e.ProcessingResult != "claimed" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	e, err := store.GetEvent("evt-fail")
	assert.NoError(t, err)
	assert.True(t, e.Processed)
	assert.Contains(t, e.ProcessingResult, "matched=1 sent=1")
}

func TestRunPoller_DrainsBacklog(t *testing.T) {
	bus, store, _, _ := newBus()

	for i := 0; i < 4; i++ {
		assert.NoError(t, bus.PublishEvent(context.Background(), models.WorkflowEvent{
			ID:   fmt.Sprintf("evt-%d", i),
			Type: models.StepCompletedEvent,
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	go bus.RunPoller(ctx, 10*time.Millisecond, 50)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		pending, err := store.ListPendingEvents(10)
		assert.NoError(t, err)
		if len(pending) == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()

	pending, err := store.ListPendingEvents(10)
	assert.NoError(t, err)
	assert.Empty(t, pending)
}
