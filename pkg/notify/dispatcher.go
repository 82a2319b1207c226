package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"

	"github.com/gmaisuradze-adm/it-asset-management-sub001/internal/metrics"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/models"
	"github.com/gmaisuradze-adm/it-asset-management-sub001/pkg/storage"
)

// Logger defines the logging interface for the Dispatcher.
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Sender delivers a notification through one external channel (mail relay,
// SMS gateway, in-app inbox, push provider).
type Sender interface {
	Send(ctx context.Context, n models.Notification) error
}

// SenderFunc adapts a function to a Sender.
type SenderFunc func(ctx context.Context, n models.Notification) error

func (f SenderFunc) Send(ctx context.Context, n models.Notification) error { return f(ctx, n) }

// NotificationRequest asks the dispatcher for one delivery.
type NotificationRequest struct {
	Recipient     string                  `json:"recipient"`
	Title         string                  `json:"title"`
	Message       string                  `json:"message"`
	Type          models.NotificationType `json:"type"`
	Priority      string                  `json:"priority,omitempty"`
	RelatedEntity string                  `json:"related_entity,omitempty"`
	Metadata      json.RawMessage         `json:"metadata,omitempty"`
}

// NotificationResult is the structured outcome of one delivery attempt.
type NotificationResult struct {
	Success        bool                      `json:"success"`
	Message        string                    `json:"message,omitempty"`
	NotificationID int64                     `json:"notification_id,omitempty"`
	Status         models.NotificationStatus `json:"status,omitempty"`
}

// BatchResult aggregates independent per-item outcomes.
type BatchResult struct {
	Sent    int                  `json:"sent"`
	Failed  int                  `json:"failed"`
	Results []NotificationResult `json:"results"`
}

// Dispatcher persists notifications and attempts delivery through the
// channel-specific sender. Outbound senders sit behind circuit breakers so a
// dead gateway fails fast instead of tying up event processing.
type Dispatcher struct {
	store   storage.Store
	logger  Logger
	senders map[models.NotificationType]Sender
	breaker map[models.NotificationType]*gobreaker.CircuitBreaker
	mu      sync.RWMutex
}

func NewDispatcher(store storage.Store, logger Logger) *Dispatcher {
	return &Dispatcher{
		store:   store,
		logger:  logger,
		senders: make(map[models.NotificationType]Sender),
		breaker: make(map[models.NotificationType]*gobreaker.CircuitBreaker),
	}
}

// RegisterSender binds a sender to a channel, replacing any previous one.
func (d *Dispatcher) RegisterSender(t models.NotificationType, s Sender) {
	d.mu.Lock()
	d.senders[t] = s
	d.breaker[t] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    fmt.Sprintf("notify-%s", t),
		Timeout: 30 * time.Second,
	})
	d.mu.Unlock()
	d.logger.Infof("Registered notification sender for channel '%s'", t)
}

func (d *Dispatcher) sender(t models.NotificationType) (Sender, *gobreaker.CircuitBreaker, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.senders[t]
	return s, d.breaker[t], ok
}

// SendNotification persists the notification in CREATED state, attempts
// delivery and always records the final status: a sender error or panic
// yields FAILED, never a dangling CREATED row. Infrastructure faults while
// persisting return an error; delivery failures come back in the result.
func (d *Dispatcher) SendNotification(ctx context.Context, req NotificationRequest) (*NotificationResult, error) {
	if req.Recipient == "" {
		return &NotificationResult{Success: false, Message: "recipient is required"}, nil
	}
	if req.Type == "" {
		return &NotificationResult{Success: false, Message: "notification type is required"}, nil
	}

	n := models.Notification{
		Recipient:     req.Recipient,
		Title:         req.Title,
		Message:       req.Message,
		Type:          req.Type,
		Priority:      req.Priority,
		Status:        models.CreatedNotificationStatus,
		CreatedAt:     time.Now(),
		RelatedEntity: req.RelatedEntity,
		Metadata:      req.Metadata,
	}
	id, err := d.store.SaveNotification(n)
	if err != nil {
		return nil, errors.Wrap(err, "failed to persist notification")
	}
	n.ID = id

	deliveryErr := d.deliver(ctx, n)

	status := models.DeliveredNotificationStatus
	if deliveryErr != nil {
		status = models.FailedNotificationStatus
	}
	if err := d.store.UpdateNotificationStatus(id, status, time.Now()); err != nil {
		return nil, errors.Wrapf(err, "failed to record notification %d status", id)
	}
	metrics.NotificationsSent.WithLabelValues(string(req.Type), string(status)).Inc()

	if deliveryErr != nil {
		d.logger.Errorf("Delivery of notification %d via %s failed: %v", id, req.Type, deliveryErr)
		return &NotificationResult{
			Success: false, Message: deliveryErr.Error(),
			NotificationID: id, Status: models.FailedNotificationStatus,
		}, nil
	}
	d.logger.Infof("Delivered notification %d to %s via %s", id, req.Recipient, req.Type)
	return &NotificationResult{
		Success: true, NotificationID: id, Status: models.DeliveredNotificationStatus,
	}, nil
}

// deliver runs the channel sender behind its breaker, converting panics into
// errors so the status write above always happens.
func (d *Dispatcher) deliver(ctx context.Context, n models.Notification) (err error) {
	s, cb, ok := d.sender(n.Type)
	if !ok {
		return fmt.Errorf("no sender registered for channel '%s'", n.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender for channel '%s' panicked: %v", n.Type, r)
		}
	}()
	_, err = cb.Execute(func() (interface{}, error) {
		return nil, s.Send(ctx, n)
	})
	return err
}

// SendNotificationBatch fires all sends independently; a single failure is
// captured per item and never fails the batch call itself.
func (d *Dispatcher) SendNotificationBatch(ctx context.Context, reqs []NotificationRequest) (*BatchResult, error) {
	batch := &BatchResult{Results: make([]NotificationResult, 0, len(reqs))}
	for _, req := range reqs {
		res, err := d.SendNotification(ctx, req)
		if err != nil {
			res = &NotificationResult{Success: false, Message: err.Error()}
		}
		if res.Success {
			batch.Sent++
		} else {
			batch.Failed++
		}
		batch.Results = append(batch.Results, *res)
	}
	return batch, nil
}
