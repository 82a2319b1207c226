package notify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/notify"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

func TestSendNotification_Delivered(t *testing.T) {
	store := storage.NewMockStore()
	d := notify.NewDispatcher(store, logger{})

	var delivered []models.Notification
	d.RegisterSender(models.EmailNotification, notify.SenderFunc(
		func(ctx context.Context, n models.Notification) error {
			delivered = append(delivered, n)
			return nil
		}))

	result, err := d.SendNotification(context.Background(), notify.NotificationRequest{
		Recipient: "user-1",
		Title:     "Repair scheduled",
		Message:   "Your laptop is being repaired",
		Type:      models.EmailNotification,
	})
	assert.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.DeliveredNotificationStatus, result.Status)
	assert.Len(t, delivered, 1)
	assert.NotZero(t, delivered[0].ID)

	stored, err := store.GetNotification(result.NotificationID)
	assert.NoError(t, err)
	assert.Equal(t, models.DeliveredNotificationStatus, stored.Status)
	assert.NotNil(t, stored.DeliveredAt)
}

func TestSendNotification_SenderFailure(t *testing.T) {
	store := storage.NewMockStore()
	d := notify.NewDispatcher(store, logger{})
	d.RegisterSender(models.SMSNotification, notify.SenderFunc(
		func(ctx context.Context, n models.Notification) error {
			return errors.New("gateway timeout")
		}))

	result, err := d.SendNotification(context.Background(), notify.NotificationRequest{
		Recipient: "user-1",
		Message:   "hello",
		Type:      models.SMSNotification,
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.FailedNotificationStatus, result.Status)
	assert.Contains(t, result.Message, "gateway timeout")

	// The row never dangles in CREATED.
	stored, err := store.GetNotification(result.NotificationID)
	assert.NoError(t, err)
	assert.Equal(t, models.FailedNotificationStatus, stored.Status)
}

func TestSendNotification_SenderPanic(t *testing.T) {
	store := storage.NewMockStore()
	d := notify.NewDispatcher(store, logger{})
	d.RegisterSender(models.PushNotification, notify.SenderFunc(
		func(ctx context.Context, n models.Notification) error {
			panic("push provider exploded")
		}))

	result, err := d.SendNotification(context.Background(), notify.NotificationRequest{
		Recipient: "user-1",
		Type:      models.PushNotification,
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "panicked")

	stored, err := store.GetNotification(result.NotificationID)
	assert.NoError(t, err)
	assert.Equal(t, models.FailedNotificationStatus, stored.Status)
}

func TestSendNotification_NoSender(t *testing.T) {
	store := storage.NewMockStore()
	d := notify.NewDispatcher(store, logger{})

	result, err := d.SendNotification(context.Background(), notify.NotificationRequest{
		Recipient: "user-1",
		Type:      models.InAppNotification,
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "no sender registered")
	assert.Equal(t, models.FailedNotificationStatus, result.Status)
}

func TestSendNotification_Validation(t *testing.T) {
	d := notify.NewDispatcher(storage.NewMockStore(), logger{})

	result, err := d.SendNotification(context.Background(), notify.NotificationRequest{
		Type: models.InAppNotification,
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "recipient")

	result, err = d.SendNotification(context.Background(), notify.NotificationRequest{
		Recipient: "user-1",
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "notification type")
}

func TestSendNotificationBatch_IsolatesFailures(t *testing.T) {
	store := storage.NewMockStore()
	d := notify.NewDispatcher(store, logger{})
	d.RegisterSender(models.InAppNotification, notify.SenderFunc(
		func(ctx context.Context, n models.Notification) error { return nil }))
	d.RegisterSender(models.SMSNotification, notify.SenderFunc(
		func(ctx context.Context, n models.Notification) error {
			return errors.New("gateway down")
		}))

	batch, err := d.SendNotificationBatch(context.Background(), []notify.NotificationRequest{
		{Recipient: "user-1", Type: models.InAppNotification},
		{Recipient: "user-2", Type: models.SMSNotification},
		{Recipient: "user-3", Type: models.InAppNotification},
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, batch.Sent)
	assert.Equal(t, 1, batch.Failed)
	assert.Len(t, batch.Results, 3)
	assert.False(t, batch.Results[1].Success)
}

func TestSendNotification_CircuitBreakerOpens(t *testing.T) {
	store := storage.NewMockStore()
	d := notify.NewDispatcher(store, logger{})
	calls := 0
	d.RegisterSender(models.EmailNotification, notify.SenderFunc(
		func(ctx context.Context, n models.Notification) error {
			calls++
			return errors.New("relay unreachable")
		}))

	// gobreaker trips after more than five consecutive failures.
	for i := 0; i < 6; i++ {
		result, err := d.SendNotification(context.Background(), notify.NotificationRequest{
			Recipient: "user-1",
			Type:      models.EmailNotification,
		})
		assert.NoError(t, err)
		assert.False(t, result.Success)
	}

	callsBefore := calls
	result, err := d.SendNotification(context.Background(), notify.NotificationRequest{
		Recipient: "user-1",
		Type:      models.EmailNotification,
	})
	assert.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "circuit breaker is open")
	// The sender was not invoked while the breaker is open.
	assert.Equal(t, callsBefore, calls)
}
